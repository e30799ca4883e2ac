package ledger

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/pending"
	"github.com/uhyunpark/polymaker/pkg/util"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func newTestPositions() (*Positions, *pending.Registry, *util.ManualClock) {
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	reg := pending.New()
	return NewPositions(clock, reg, 5*time.Second), reg, clock
}

func TestAveragePriceBlending(t *testing.T) {
	p, _, _ := newTestPositions()

	steps := []struct {
		side     market.Side
		size     float64
		price    float64
		wantSize float64
		wantAvg  float64
	}{
		{market.Buy, 10, 0.50, 10, 0.50},
		{market.Buy, 10, 0.60, 20, 0.55},
		{market.Sell, 5, 0.70, 15, 0.55},
		{market.Sell, 15, 0.40, 0, 0.55},
		{market.Buy, 4, 0.30, 4, 0.30},
	}
	for i, s := range steps {
		got := p.ApplyFill("tok", s.side, s.size, s.price)
		if !approx(got.Size, s.wantSize) || !approx(got.AvgPrice, s.wantAvg) {
			t.Errorf("step %d: position = %v @ %v, want %v @ %v", i, got.Size, got.AvgPrice, s.wantSize, s.wantAvg)
		}
	}
}

func TestFlipResetsAverage(t *testing.T) {
	p, _, _ := newTestPositions()
	p.ApplyFill("tok", market.Buy, 10, 0.50)
	got := p.ApplyFill("tok", market.Sell, 14, 0.62)
	if !approx(got.Size, -4) || !approx(got.AvgPrice, 0.62) {
		t.Errorf("flipped position = %v @ %v, want -4 @ 0.62", got.Size, got.AvgPrice)
	}
}

func TestReduceKeepsAverage(t *testing.T) {
	p, _, _ := newTestPositions()
	p.ApplyFill("tok", market.Buy, 30, 0.40)
	got := p.Reduce("tok", 25)
	if !approx(got.Size, 5) || !approx(got.AvgPrice, 0.40) {
		t.Errorf("after merge = %v @ %v, want 5 @ 0.40", got.Size, got.AvgPrice)
	}
}

func TestReconcileDefersWhilePending(t *testing.T) {
	p, reg, clock := newTestPositions()
	p.ApplyFill("tok", market.Buy, 10, 0.50)
	reg.Add(pending.Key{Token: "tok", Side: market.Buy}, "trade-1", clock.Now())

	clock.Advance(time.Minute)
	report := p.Reconcile([]market.PositionSnapshot{{Asset: "tok", Size: 3, AvgPrice: 0.48}})

	got := p.Get("tok")
	if got.Size != 10 {
		t.Errorf("size = %v, want local 10 while trade is pending", got.Size)
	}
	if got.AvgPrice != 0.48 {
		t.Errorf("avg = %v, want authoritative 0.48", got.AvgPrice)
	}
	if len(report.Deferred) != 1 || report.Deferred[0] != "tok" {
		t.Errorf("deferred = %v, want [tok]", report.Deferred)
	}

	reg.Remove(pending.Key{Token: "tok", Side: market.Buy}, "trade-1")
	p.Reconcile([]market.PositionSnapshot{{Asset: "tok", Size: 3, AvgPrice: 0.48}})
	if got := p.Get("tok").Size; got != 3 {
		t.Errorf("size = %v, want 3 once pending cleared", got)
	}
}

func TestReconcileGraceWindow(t *testing.T) {
	p, _, clock := newTestPositions()
	p.ApplyFill("tok", market.Buy, 10, 0.50)

	clock.Advance(4 * time.Second)
	p.Reconcile([]market.PositionSnapshot{{Asset: "tok", Size: 0, AvgPrice: 0}})
	if got := p.Get("tok").Size; got != 10 {
		t.Errorf("size = %v, want 10 inside grace window", got)
	}

	clock.Advance(2 * time.Second)
	report := p.Reconcile([]market.PositionSnapshot{{Asset: "tok", Size: 0, AvgPrice: 0}})
	if got := p.Get("tok").Size; got != 0 {
		t.Errorf("size = %v, want 0 after grace window", got)
	}
	if len(report.Updated) != 1 {
		t.Errorf("updated = %v, want [tok]", report.Updated)
	}
}

func TestReconcileCreatesUnknownTokens(t *testing.T) {
	p, _, _ := newTestPositions()
	p.Reconcile([]market.PositionSnapshot{{Asset: "new", Size: 12, AvgPrice: 0.33}})
	if got := p.Get("new"); got.Size != 12 || got.AvgPrice != 0.33 {
		t.Errorf("position = %+v, want 12 @ 0.33", got)
	}
}

func TestOverwriteIgnoresPending(t *testing.T) {
	p, reg, clock := newTestPositions()
	p.ApplyFill("tok", market.Buy, 10, 0.50)
	reg.Add(pending.Key{Token: "tok", Side: market.Sell}, "t", clock.Now())

	p.Overwrite([]market.PositionSnapshot{{Asset: "tok", Size: 2, AvgPrice: 0.41}})
	if got := p.Get("tok"); got.Size != 2 || got.AvgPrice != 0.41 {
		t.Errorf("position = %+v, want forced 2 @ 0.41", got)
	}
}

func TestMissingTokensGoFlat(t *testing.T) {
	p, reg, clock := newTestPositions()
	p.ApplyFill("tok", market.Buy, 10, 0.50)
	reg.Add(pending.Key{Token: "tok", Side: market.Buy}, "trade-1", clock.Now())
	clock.Advance(time.Minute)

	report := p.Reconcile(nil)
	if got := p.Get("tok").Size; got != 10 {
		t.Errorf("size = %v, want 10 while trade is pending", got)
	}
	if len(report.Deferred) != 1 {
		t.Errorf("deferred = %v, want [tok]", report.Deferred)
	}

	reg.Remove(pending.Key{Token: "tok", Side: market.Buy}, "trade-1")
	report = p.Reconcile(nil)
	if got := p.Get("tok"); got.Size != 0 || got.AvgPrice != 0.50 {
		t.Errorf("position = %+v, want 0 keeping avg 0.50", got)
	}
	if len(report.Updated) != 1 || report.Updated[0] != "tok" {
		t.Errorf("updated = %v, want [tok]", report.Updated)
	}
}

func TestOverwriteZeroesMissingTokens(t *testing.T) {
	p, reg, clock := newTestPositions()
	p.ApplyFill("a", market.Buy, 10, 0.50)
	p.ApplyFill("b", market.Buy, 4, 0.30)
	reg.Add(pending.Key{Token: "a", Side: market.Buy}, "t", clock.Now())

	changed := p.Overwrite([]market.PositionSnapshot{{Asset: "b", Size: 4, AvgPrice: 0.31}})
	if got := p.Get("a"); got.Size != 0 || got.AvgPrice != 0.50 {
		t.Errorf("a = %+v, want 0 keeping avg 0.50", got)
	}
	if len(changed) != 1 || changed[0] != "a" {
		t.Errorf("changed = %v, want [a]", changed)
	}
}

func TestConcurrentFillsAreAtomic(t *testing.T) {
	p, _, _ := newTestPositions()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.ApplyFill("tok", market.Buy, 1, 0.50)
		}()
	}
	wg.Wait()
	if got := p.Get("tok"); got.Size != 100 || !approx(got.AvgPrice, 0.50) {
		t.Errorf("position = %+v, want 100 @ 0.50", got)
	}
}

func TestOrdersSetAndGet(t *testing.T) {
	o := NewOrders()
	o.Set("tok", market.Buy, 0.45, 50)
	o.Set("tok", market.Sell, 0.55, 20)

	pair := o.Get("tok")
	if pair.Buy != (RestingOrder{0.45, 50}) || pair.Sell != (RestingOrder{0.55, 20}) {
		t.Errorf("pair = %+v", pair)
	}

	o.Set("tok", market.Sell, 0.55, 0)
	if got := o.Get("tok"); got.Sell != (RestingOrder{}) || got.Buy.Size != 50 {
		t.Errorf("fully matched sell should clear only the sell side, got %+v", got)
	}
	if got := o.Get("unknown"); got != (OrderPair{}) {
		t.Errorf("unknown token = %+v, want zero", got)
	}
}

func TestOrdersReplaceAllDuplicates(t *testing.T) {
	o := NewOrders()
	o.Set("stale", market.Buy, 0.1, 10)

	dups := o.ReplaceAll([]market.OrderSnapshot{
		{AssetID: "a", Side: market.Buy, Price: 0.40, OriginalSize: 50, SizeMatched: 10},
		{AssetID: "a", Side: market.Sell, Price: 0.60, OriginalSize: 30},
		{AssetID: "b", Side: market.Buy, Price: 0.20, OriginalSize: 10},
		{AssetID: "b", Side: market.Buy, Price: 0.21, OriginalSize: 10},
	})

	if len(dups) != 1 || dups[0] != "b" {
		t.Errorf("duplicates = %v, want [b]", dups)
	}
	if got := o.Get("a"); got.Buy != (RestingOrder{0.40, 40}) || got.Sell != (RestingOrder{0.60, 30}) {
		t.Errorf("a = %+v", got)
	}
	if got := o.Get("b"); got != (OrderPair{}) {
		t.Errorf("b = %+v, want zeroed", got)
	}
	if got := o.Get("stale"); got != (OrderPair{}) {
		t.Errorf("stale = %+v, want cleared by replace", got)
	}
}
