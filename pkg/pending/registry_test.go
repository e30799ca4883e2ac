package pending

import (
	"testing"
	"time"

	"github.com/uhyunpark/polymaker/pkg/market"
)

func TestAddRemove(t *testing.T) {
	r := New()
	now := time.Unix(1_700_000_000, 0)
	buy := Key{"tok", market.Buy}

	if !r.Add(buy, "t1", now) {
		t.Fatalf("first add should succeed")
	}
	if r.Add(buy, "t1", now.Add(time.Second)) {
		t.Errorf("duplicate id must not be added twice")
	}
	r.Add(buy, "t2", now)

	if got := r.Count(buy); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
	if !r.HasPending("tok") {
		t.Errorf("expected pending trades on tok")
	}
	if r.HasPending("other") {
		t.Errorf("unexpected pending trades on other")
	}

	if !r.Remove(buy, "t1") {
		t.Errorf("remove of pending id should report true")
	}
	if r.Remove(buy, "t1") {
		t.Errorf("second remove should report false")
	}
	r.Remove(buy, "t2")
	if r.HasPending("tok") || r.Total() != 0 {
		t.Errorf("registry should be empty, total=%d", r.Total())
	}
}

func TestHasPendingEitherSide(t *testing.T) {
	r := New()
	r.Add(Key{"tok", market.Sell}, "s1", time.Now())
	if !r.HasPending("tok") {
		t.Errorf("sell-side entry should count as pending for the token")
	}
}

func TestSweep(t *testing.T) {
	r := New()
	start := time.Unix(1_700_000_000, 0)
	r.Add(Key{"a", market.Buy}, "old", start)
	r.Add(Key{"b", market.Sell}, "older", start.Add(-5*time.Second))
	r.Add(Key{"a", market.Buy}, "fresh", start.Add(14*time.Second))

	expired := r.Sweep(15*time.Second, start.Add(20*time.Second))
	if len(expired) != 2 {
		t.Fatalf("expired = %d entries, want 2", len(expired))
	}
	if expired[0].ID != "older" || expired[1].ID != "old" {
		t.Errorf("expired order = %s,%s, want older,old", expired[0].ID, expired[1].ID)
	}
	if expired[0].Age != 25*time.Second {
		t.Errorf("age = %v, want 25s", expired[0].Age)
	}
	if r.HasPending("b") {
		t.Errorf("b should have no pending trades after sweep")
	}
	if got := r.Count(Key{"a", market.Buy}); got != 1 {
		t.Errorf("fresh entry should survive, count = %d", got)
	}
}
