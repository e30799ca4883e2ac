package risk

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/util"
)

var defaultParams = market.RiskParams{
	StopLossPct:         -5,
	SpreadThreshold:     0.02,
	VolatilityThreshold: 80,
	TakeProfitPct:       2,
	SleepHours:          6,
}

func TestEvaluateStopLoss(t *testing.T) {
	tests := []struct {
		name     string
		in       StopLossInput
		wantFire bool
	}{
		{
			name:     "loss with tight spread",
			in:       StopLossInput{AvgPrice: 0.50, Mid: 0.45, Spread: 0.01, Params: defaultParams},
			wantFire: true,
		},
		{
			name:     "loss with wide spread",
			in:       StopLossInput{AvgPrice: 0.50, Mid: 0.45, Spread: 0.05, Params: defaultParams},
			wantFire: false,
		},
		{
			name:     "small loss",
			in:       StopLossInput{AvgPrice: 0.50, Mid: 0.49, Spread: 0.01, Params: defaultParams},
			wantFire: false,
		},
		{
			name:     "volatility alone",
			in:       StopLossInput{AvgPrice: 0.50, Mid: 0.55, Spread: 0.10, Volatility: 120, Params: defaultParams},
			wantFire: true,
		},
		{
			name:     "no average price",
			in:       StopLossInput{Mid: 0.10, Spread: 0.01, Volatility: 500, Params: defaultParams},
			wantFire: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := EvaluateStopLoss(tt.in)
			if d.Fire != tt.wantFire {
				t.Errorf("Fire = %v, want %v (pnl %.2f)", d.Fire, tt.wantFire, d.PnLPct)
			}
			if d.Fire && d.Reason == "" {
				t.Errorf("fired stop-loss must carry a reason")
			}
		})
	}

	d := EvaluateStopLoss(StopLossInput{AvgPrice: 0.50, Mid: 0.45, Spread: 0.01, Params: defaultParams})
	if math.Abs(d.PnLPct+10) > 1e-9 {
		t.Errorf("PnLPct = %v, want -10", d.PnLPct)
	}
}

func TestTakeProfit(t *testing.T) {
	if got := TakeProfitPrice(0.50, 2, 2); got != 0.51 {
		t.Errorf("TakeProfitPrice = %v, want 0.51", got)
	}
	if got := TakeProfitPrice(0.47, 3, 2); got != 0.49 {
		t.Errorf("TakeProfitPrice = %v, want 0.49 (0.4841 rounded up)", got)
	}

	tests := []struct {
		name        string
		price, size float64
		want        bool
	}{
		{"on target and covering", 0.51, 100, false},
		{"within 2 percent", 0.52, 100, false},
		{"deviates more than 2 percent", 0.53, 100, true},
		{"no resting order", 0, 0, true},
		{"undersized", 0.51, 96, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldReplaceTakeProfit(tt.price, tt.size, 0.51, 100); got != tt.want {
				t.Errorf("ShouldReplaceTakeProfit = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManagerStateMachine(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	clock := util.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	m := NewManager(store, clock, zaptest.NewLogger(t).Sugar())

	state, c, err := m.State("0xabc")
	if err != nil || state != Active || c != nil {
		t.Fatalf("fresh market = %v/%v/%v, want active with no record", state, c, err)
	}

	rec, err := m.EnterRiskOff("0xabc", "Will it rain?", "stop loss", 6)
	if err != nil {
		t.Fatalf("EnterRiskOff: %v", err)
	}
	if want := clock.Now().Add(6 * time.Hour); !rec.SleepTill.Equal(want) {
		t.Errorf("SleepTill = %v, want %v", rec.SleepTill, want)
	}

	clock.Advance(5 * time.Hour)
	if state, _, _ := m.State("0xabc"); state != RiskOff {
		t.Errorf("state = %v, want risk_off during cooldown", state)
	}

	clock.Advance(time.Hour)
	state, c, _ = m.State("0xabc")
	if state != Active {
		t.Errorf("state = %v, want active once sleep_till is reached", state)
	}
	if c == nil {
		t.Errorf("expired record should still be returned for inspection")
	}

	if err := m.Clear("0xabc"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, c, _ := m.State("0xabc"); c != nil {
		t.Errorf("record should be gone after Clear")
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if c, err := store.Load("missing"); err != nil || c != nil {
		t.Errorf("missing record = %v/%v, want nil/nil", c, err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Cooldown{Time: now, Message: "m", SleepTill: now.Add(time.Hour)}
	if err := store.Save("0xabc", rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "0xabc.json")); err != nil {
		t.Errorf("expected 0xabc.json on disk: %v", err)
	}

	got, err := store.Load("0xabc")
	if err != nil || got == nil {
		t.Fatalf("Load = %v/%v", got, err)
	}
	if !got.SleepTill.Equal(rec.SleepTill) || got.Message != "m" {
		t.Errorf("loaded %+v, want %+v", got, rec)
	}

	all, err := store.List()
	if err != nil || len(all) != 1 {
		t.Errorf("List = %v/%v, want one record", all, err)
	}

	if err := store.Delete("0xabc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete("0xabc"); err != nil {
		t.Errorf("deleting a missing record should not fail: %v", err)
	}
	if _, err := store.Load("../escape"); err == nil {
		t.Errorf("expected error for path-like market id")
	}
}

func TestVolatilityTracker(t *testing.T) {
	v := NewVolatilityTracker(3 * time.Hour)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	v.Observe("m", 0.50, start)
	v.Observe("m", 0.50, start.Add(time.Minute))
	if _, ok := v.Value("m"); ok {
		t.Fatalf("two samples should not produce a value")
	}

	v.Observe("m", 0.50, start.Add(2*time.Minute))
	if got, ok := v.Value("m"); !ok || got != 0 {
		t.Errorf("flat prices = %v/%v, want 0/true", got, ok)
	}

	v.Observe("m", 0.60, start.Add(2*time.Minute+30*time.Second))
	v.Observe("m", 0.50, start.Add(3*time.Minute))
	got, ok := v.Value("m")
	if !ok || got <= 0 {
		t.Errorf("volatile prices = %v/%v, want positive", got, ok)
	}

	// Samples older than the window are dropped.
	v.Observe("m", 0.50, start.Add(4*time.Hour))
	if _, ok := v.Value("m"); ok {
		t.Errorf("expected old samples to be pruned")
	}
}
