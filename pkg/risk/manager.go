// Package risk implements the per-market stop-loss and take-profit policy and
// the cooldown that follows a stop-loss.
package risk

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/pricing"
	"github.com/uhyunpark/polymaker/pkg/util"
)

type State int

const (
	Active State = iota
	RiskOff
)

func (s State) String() string {
	if s == RiskOff {
		return "risk_off"
	}
	return "active"
}

const (
	// takeProfitDeviationPct is how far the resting sell may sit from the
	// take-profit target before it is replaced.
	takeProfitDeviationPct = 2.0
	// takeProfitMinCover is the share of the position the resting sell must cover.
	takeProfitMinCover = 0.97
)

// Manager owns the Active/RiskOff state of every market. RiskOff is derived
// from the stored cooldown and ends on its own once sleep_till passes.
type Manager struct {
	store CooldownStore
	clock util.Clock
	log   *zap.SugaredLogger
}

func NewManager(store CooldownStore, clock util.Clock, log *zap.SugaredLogger) *Manager {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{store: store, clock: clock, log: log}
}

// State returns the market's state and its cooldown record, if any.
func (m *Manager) State(marketID string) (State, *Cooldown, error) {
	c, err := m.store.Load(marketID)
	if err != nil {
		return Active, nil, err
	}
	if c.Active(m.clock.Now()) {
		return RiskOff, c, nil
	}
	return Active, c, nil
}

// EnterRiskOff persists a cooldown lasting sleepHours from now.
func (m *Manager) EnterRiskOff(marketID, question, reason string, sleepHours float64) (Cooldown, error) {
	now := m.clock.Now()
	c := Cooldown{
		Time:      now,
		Question:  question,
		Message:   reason,
		SleepTill: now.Add(time.Duration(sleepHours * float64(time.Hour))),
	}
	if err := m.store.Save(marketID, c); err != nil {
		return Cooldown{}, fmt.Errorf("persist cooldown for %s: %w", marketID, err)
	}
	m.log.Warnw("risk_off_entered", "market", marketID, "sleep_till", c.SleepTill, "reason", reason)
	return c, nil
}

// Clear removes a market's cooldown record.
func (m *Manager) Clear(marketID string) error {
	if err := m.store.Delete(marketID); err != nil {
		return err
	}
	m.log.Infow("cooldown_cleared", "market", marketID)
	return nil
}

// List returns every stored cooldown when the store supports enumeration.
func (m *Manager) List() (map[string]Cooldown, error) {
	lister, ok := m.store.(CooldownLister)
	if !ok {
		return nil, fmt.Errorf("cooldown store cannot list records")
	}
	return lister.List()
}

type StopLossInput struct {
	AvgPrice   float64
	Mid        float64
	Spread     float64
	Volatility float64
	Params     market.RiskParams
}

type StopLossDecision struct {
	Fire   bool
	PnLPct float64
	Reason string
}

// EvaluateStopLoss fires when the position is losing more than the threshold
// while the spread is tight enough to exit near fair value, or when realized
// volatility exceeds its cap.
func EvaluateStopLoss(in StopLossInput) StopLossDecision {
	if in.AvgPrice <= 0 {
		return StopLossDecision{}
	}
	d := StopLossDecision{PnLPct: (in.Mid - in.AvgPrice) / in.AvgPrice * 100}

	lossHit := d.PnLPct < in.Params.StopLossPct && in.Spread <= in.Params.SpreadThreshold
	volHit := in.Volatility > in.Params.VolatilityThreshold
	if lossHit || volHit {
		d.Fire = true
		d.Reason = fmt.Sprintf("spread is %.4f and pnl is %.2f%% and 3 hour volatility is %.2f",
			in.Spread, d.PnLPct, in.Volatility)
	}
	return d
}

// TakeProfitPrice is avg × (1 + tpPct/100) rounded up to the tick precision.
func TakeProfitPrice(avg, tpPct float64, decimals int32) float64 {
	return pricing.RoundUp(avg+avg*tpPct/100, decimals)
}

// ShouldReplaceTakeProfit reports whether the resting sell drifted more than 2%
// from target or covers less than 97% of the position.
func ShouldReplaceTakeProfit(restingPrice, restingSize, target, position float64) bool {
	if target <= 0 {
		return false
	}
	if math.Abs(restingPrice-target)/target*100 > takeProfitDeviationPct {
		return true
	}
	return restingSize < position*takeProfitMinCover
}
