package market

import (
	"fmt"
	"strings"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts any casing of BUY/SELL.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Outcome indexes the two tokens of a binary market.
type Outcome int

const (
	First Outcome = iota
	Second
)

func (o Outcome) String() string {
	if o == Second {
		return "token2"
	}
	return "token1"
}

// RiskParams is one named parameter set shared by any number of markets.
// Thresholds ending in Pct are percentages (-5 means -5%).
type RiskParams struct {
	StopLossPct         float64 `yaml:"stop_loss_threshold" json:"stop_loss_threshold"`
	SpreadThreshold     float64 `yaml:"spread_threshold" json:"spread_threshold"`
	VolatilityThreshold float64 `yaml:"volatility_threshold" json:"volatility_threshold"`
	TakeProfitPct       float64 `yaml:"take_profit_threshold" json:"take_profit_threshold"`
	SleepHours          float64 `yaml:"sleep_period" json:"sleep_period"`
}

// Market is a traded two-outcome market and its quoting parameters.
type Market struct {
	ConditionID string  `yaml:"condition_id" json:"condition_id"`
	Question    string  `yaml:"question" json:"question"`
	Token1      string  `yaml:"token1" json:"token1"`
	Token2      string  `yaml:"token2" json:"token2"`
	Answer1     string  `yaml:"answer1" json:"answer1"`
	Answer2     string  `yaml:"answer2" json:"answer2"`
	TickSize    float64 `yaml:"tick_size" json:"tick_size"`
	NegRisk     bool    `yaml:"neg_risk" json:"neg_risk"`

	MinSize   float64 `yaml:"min_size" json:"min_size"`
	TradeSize float64 `yaml:"trade_size" json:"trade_size"`
	MaxSize   float64 `yaml:"max_size" json:"max_size"`
	// MaxSpread is in cents.
	MaxSpread  float64 `yaml:"max_spread" json:"max_spread"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier,omitempty"`
	ParamType  string  `yaml:"param_type" json:"param_type"`

	// Reference quotes for the first outcome, used as a drift guard on buys.
	RefBestBid *float64 `yaml:"reference_best_bid" json:"reference_best_bid,omitempty"`
	RefBestAsk *float64 `yaml:"reference_best_ask" json:"reference_best_ask,omitempty"`
	// Volatility3h overrides the locally tracked 3h realized volatility.
	Volatility3h *float64 `yaml:"volatility_3h" json:"volatility_3h,omitempty"`
}

func (m *Market) Token(o Outcome) string {
	if o == Second {
		return m.Token2
	}
	return m.Token1
}

func (m *Market) Answer(o Outcome) string {
	if o == Second {
		return m.Answer2
	}
	return m.Answer1
}

// OutcomeOf reports which outcome token belongs to.
func (m *Market) OutcomeOf(token string) (Outcome, bool) {
	switch token {
	case m.Token1:
		return First, true
	case m.Token2:
		return Second, true
	}
	return First, false
}

// EffectiveMaxSize falls back to TradeSize when no MaxSize is configured.
func (m *Market) EffectiveMaxSize() float64 {
	if m.MaxSize > 0 {
		return m.MaxSize
	}
	return m.TradeSize
}

// ReferencePrice returns the configured reference bid for an outcome.
// The second outcome's reference is the complement of the first outcome's ask.
func (m *Market) ReferencePrice(o Outcome) (float64, bool) {
	if o == Second {
		if m.RefBestAsk == nil {
			return 0, false
		}
		return 1 - *m.RefBestAsk, true
	}
	if m.RefBestBid == nil {
		return 0, false
	}
	return *m.RefBestBid, true
}

// PositionSnapshot is one row of the exchange's authoritative position list.
type PositionSnapshot struct {
	Asset    string  `json:"asset"`
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avgPrice"`
}

// OrderSnapshot is one resting order as reported by the exchange.
type OrderSnapshot struct {
	ID           string  `json:"id,omitempty"`
	AssetID      string  `json:"asset_id"`
	Side         Side    `json:"side"`
	Price        float64 `json:"price"`
	OriginalSize float64 `json:"original_size"`
	SizeMatched  float64 `json:"size_matched"`
}

func (o OrderSnapshot) Remaining() float64 { return o.OriginalSize - o.SizeMatched }
