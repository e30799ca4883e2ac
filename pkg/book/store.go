package book

import (
	"sort"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/uhyunpark/polymaker/pkg/market"
)

// Level is one aggregated price level.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Book is the local mirror of one asset's order book. A book is not ready
// until its first snapshot and becomes not ready again after Invalidate.
type Book struct {
	mu      sync.RWMutex
	bids    *btree.Map[float64, float64]
	asks    *btree.Map[float64, float64]
	ready   bool
	updated time.Time
}

func newBook() *Book {
	return &Book{
		bids: btree.NewMap[float64, float64](32),
		asks: btree.NewMap[float64, float64](32),
	}
}

func buildSide(levels []Level) *btree.Map[float64, float64] {
	side := btree.NewMap[float64, float64](32)
	for _, l := range levels {
		if l.Size > 0 {
			side.Set(l.Price, l.Size)
		}
	}
	return side
}

// Store keeps one Book per asset. Deltas for an asset must come from a single
// consumer so they apply in receipt order.
type Store struct {
	mu    sync.RWMutex
	books map[string]*Book
}

func NewStore() *Store {
	return &Store{books: make(map[string]*Book)}
}

func (s *Store) get(asset string) *Book {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[asset]
}

func (s *Store) getOrCreate(asset string) *Book {
	if b := s.get(asset); b != nil {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.books[asset]; ok {
		return b
	}
	b := newBook()
	s.books[asset] = b
	return b
}

// ApplySnapshot replaces both sides of the asset's book. Zero-size levels are
// dropped.
func (s *Store) ApplySnapshot(asset string, bids, asks []Level) {
	b := s.getOrCreate(asset)
	newBids, newAsks := buildSide(bids), buildSide(asks)

	b.mu.Lock()
	b.bids = newBids
	b.asks = newAsks
	b.ready = true
	b.updated = time.Now()
	b.mu.Unlock()
}

// ApplyDelta sets one level, deleting it when size <= 0. It returns false and
// changes nothing when the book has no trusted snapshot.
func (s *Store) ApplyDelta(asset string, side market.Side, price, size float64) bool {
	b := s.get(asset)
	if b == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return false
	}

	levels := b.asks
	if side == market.Buy {
		levels = b.bids
	}
	if size > 0 {
		levels.Set(price, size)
	} else {
		levels.Delete(price)
	}
	b.updated = time.Now()
	return true
}

// Invalidate marks an asset's book untrusted until the next snapshot.
func (s *Store) Invalidate(asset string) {
	if b := s.get(asset); b != nil {
		b.mu.Lock()
		b.ready = false
		b.mu.Unlock()
	}
}

func (s *Store) InvalidateAll() {
	for _, asset := range s.Assets() {
		s.Invalidate(asset)
	}
}

// Sides returns bids highest first and asks lowest first, read under one lock.
// ok is false when the asset has no trusted snapshot.
func (s *Store) Sides(asset string) (bids, asks []Level, ok bool) {
	b := s.get(asset)
	if b == nil {
		return nil, nil, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.ready {
		return nil, nil, false
	}

	bids = make([]Level, 0, b.bids.Len())
	b.bids.Reverse(func(price, size float64) bool {
		bids = append(bids, Level{Price: price, Size: size})
		return true
	})
	asks = make([]Level, 0, b.asks.Len())
	b.asks.Scan(func(price, size float64) bool {
		asks = append(asks, Level{Price: price, Size: size})
		return true
	})
	return bids, asks, true
}

// UpdatedAt reports the time of the last snapshot or delta.
func (s *Store) UpdatedAt(asset string) (time.Time, bool) {
	b := s.get(asset)
	if b == nil {
		return time.Time{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated, b.ready
}

func (s *Store) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.books))
	for asset := range s.books {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}
