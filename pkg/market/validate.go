package market

import "fmt"

// Validate checks that a market carries everything a decision pass reads.
func (m *Market) Validate() error {
	if m.ConditionID == "" {
		return fmt.Errorf("condition id cannot be empty")
	}
	if m.Token1 == "" || m.Token2 == "" {
		return fmt.Errorf("market %s: both outcome tokens must be specified", m.ConditionID)
	}
	if m.Token1 == m.Token2 {
		return fmt.Errorf("market %s: outcome tokens must differ", m.ConditionID)
	}
	if m.TickSize <= 0 || m.TickSize >= 1 {
		return fmt.Errorf("market %s: tick size must be in (0, 1)", m.ConditionID)
	}
	if m.MinSize < 0 {
		return fmt.Errorf("market %s: min size cannot be negative", m.ConditionID)
	}
	if m.TradeSize <= 0 {
		return fmt.Errorf("market %s: trade size must be positive", m.ConditionID)
	}
	if m.MaxSize < 0 {
		return fmt.Errorf("market %s: max size cannot be negative", m.ConditionID)
	}
	if m.MaxSpread < 0 {
		return fmt.Errorf("market %s: max spread cannot be negative", m.ConditionID)
	}
	if m.ParamType == "" {
		return fmt.Errorf("market %s: param type must be specified", m.ConditionID)
	}
	return nil
}

// Validate checks a risk parameter set.
func (p RiskParams) Validate() error {
	if p.SpreadThreshold < 0 {
		return fmt.Errorf("spread threshold cannot be negative")
	}
	if p.VolatilityThreshold <= 0 {
		return fmt.Errorf("volatility threshold must be positive")
	}
	if p.TakeProfitPct < 0 {
		return fmt.Errorf("take profit threshold cannot be negative")
	}
	if p.SleepHours < 0 {
		return fmt.Errorf("sleep period cannot be negative")
	}
	return nil
}
