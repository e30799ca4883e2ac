package book

import (
	"reflect"
	"testing"

	"github.com/uhyunpark/polymaker/pkg/market"
)

type delta struct {
	side  market.Side
	price float64
	size  float64
}

func TestSidesOrdering(t *testing.T) {
	s := NewStore()
	s.ApplySnapshot("a",
		[]Level{{0.40, 50}, {0.39, 200}, {0.41, 10}},
		[]Level{{0.45, 20}, {0.43, 30}, {0.44, 0}},
	)

	bids, asks, ok := s.Sides("a")
	if !ok {
		t.Fatalf("expected book to be ready")
	}

	wantBids := []Level{{0.41, 10}, {0.40, 50}, {0.39, 200}}
	wantAsks := []Level{{0.43, 30}, {0.45, 20}}
	if !reflect.DeepEqual(bids, wantBids) {
		t.Errorf("bids = %v, want %v", bids, wantBids)
	}
	if !reflect.DeepEqual(asks, wantAsks) {
		t.Errorf("asks = %v, want %v (zero-size level must be dropped)", asks, wantAsks)
	}
}

func TestReplayDeterminism(t *testing.T) {
	first := []Level{{0.50, 100}, {0.49, 80}}
	second := []Level{{0.48, 10}, {0.47, 25}}
	asks := []Level{{0.52, 60}}
	deltas := []delta{
		{market.Buy, 0.48, 0},
		{market.Buy, 0.46, 15},
		{market.Sell, 0.53, 40},
		{market.Sell, 0.52, 0},
		{market.Buy, 0.47, 30},
	}

	// Full history: an older snapshot, some deltas, a new snapshot, more deltas.
	replayed := NewStore()
	replayed.ApplySnapshot("a", first, asks)
	replayed.ApplyDelta("a", market.Buy, 0.50, 0)
	replayed.ApplyDelta("a", market.Sell, 0.60, 5)
	replayed.ApplySnapshot("a", second, asks)
	for _, d := range deltas {
		replayed.ApplyDelta("a", d.side, d.price, d.size)
	}

	// Direct reconstruction from the last snapshot only.
	direct := NewStore()
	direct.ApplySnapshot("a", second, asks)
	for _, d := range deltas {
		direct.ApplyDelta("a", d.side, d.price, d.size)
	}

	rb, ra, _ := replayed.Sides("a")
	db, da, _ := direct.Sides("a")
	if !reflect.DeepEqual(rb, db) || !reflect.DeepEqual(ra, da) {
		t.Errorf("replayed book %v/%v differs from direct %v/%v", rb, ra, db, da)
	}

	wantBids := []Level{{0.47, 30}, {0.46, 15}}
	if !reflect.DeepEqual(rb, wantBids) {
		t.Errorf("bids = %v, want %v", rb, wantBids)
	}
}

func TestDeltaIdempotence(t *testing.T) {
	s := NewStore()
	s.ApplySnapshot("a", []Level{{0.39, 100}}, nil)

	if !s.ApplyDelta("a", market.Buy, 0.40, 0) {
		t.Fatalf("delta on ready book should apply")
	}
	bids, _, _ := s.Sides("a")
	if want := []Level{{0.39, 100}}; !reflect.DeepEqual(bids, want) {
		t.Errorf("removing missing level changed book: %v", bids)
	}

	s.ApplyDelta("a", market.Buy, 0.40, 25)
	s.ApplyDelta("a", market.Buy, 0.40, 25)
	bids, _, _ = s.Sides("a")
	if want := []Level{{0.40, 25}, {0.39, 100}}; !reflect.DeepEqual(bids, want) {
		t.Errorf("bids = %v, want %v", bids, want)
	}

	s.ApplyDelta("a", market.Buy, 0.40, 0)
	bids, _, _ = s.Sides("a")
	if want := []Level{{0.39, 100}}; !reflect.DeepEqual(bids, want) {
		t.Errorf("bids = %v, want %v after removal", bids, want)
	}
}

func TestDeltaWithoutSnapshotIgnored(t *testing.T) {
	s := NewStore()
	if s.ApplyDelta("a", market.Buy, 0.40, 10) {
		t.Errorf("delta without snapshot should not apply")
	}
	if _, _, ok := s.Sides("a"); ok {
		t.Errorf("unknown asset should not be ready")
	}
}

func TestInvalidateRequiresFreshSnapshot(t *testing.T) {
	s := NewStore()
	s.ApplySnapshot("a", []Level{{0.40, 10}}, []Level{{0.42, 10}})
	s.ApplySnapshot("b", []Level{{0.30, 10}}, nil)
	s.InvalidateAll()

	if _, _, ok := s.Sides("a"); ok {
		t.Fatalf("book should not be ready after invalidation")
	}
	if s.ApplyDelta("a", market.Buy, 0.41, 5) {
		t.Errorf("delta after invalidation should be ignored")
	}

	s.ApplySnapshot("a", []Level{{0.38, 7}}, nil)
	bids, _, ok := s.Sides("a")
	if !ok || !reflect.DeepEqual(bids, []Level{{0.38, 7}}) {
		t.Errorf("bids = %v (ready=%v), want fresh snapshot", bids, ok)
	}
	if _, ready := s.UpdatedAt("b"); ready {
		t.Errorf("book b should still be invalidated")
	}
}
