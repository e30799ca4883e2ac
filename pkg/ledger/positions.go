// Package ledger keeps the local view of positions and resting orders.
//
// Positions move optimistically on trade events and are periodically
// reconciled against the exchange. Every mutation is atomic per token, so a
// decision pass reading a position never sees a half-applied fill.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/util"
)

type Position struct {
	Size     float64   `json:"size"`
	AvgPrice float64   `json:"avgPrice"`
	Updated  time.Time `json:"updated"`
}

// PendingChecker reports whether a token has matched trades that have not
// reached a terminal status.
type PendingChecker interface {
	HasPending(token string) bool
}

type positionEntry struct {
	mu       sync.Mutex
	pos      Position
	lastFill time.Time // last local (optimistic) update
}

type Positions struct {
	mu      sync.RWMutex
	entries map[string]*positionEntry

	clock   util.Clock
	pending PendingChecker
	grace   time.Duration
}

// NewPositions creates an empty ledger. Reconcile leaves a token's size alone
// while pending reports trades for it or its last local fill is younger than
// grace.
func NewPositions(clock util.Clock, pending PendingChecker, grace time.Duration) *Positions {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Positions{
		entries: make(map[string]*positionEntry),
		clock:   clock,
		pending: pending,
		grace:   grace,
	}
}

func (p *Positions) entry(token string) *positionEntry {
	p.mu.RLock()
	e, ok := p.entries[token]
	p.mu.RUnlock()
	if ok {
		return e
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[token]; ok {
		return e
	}
	e = &positionEntry{}
	p.entries[token] = e
	return e
}

// Get returns the current position; unknown tokens are flat.
func (p *Positions) Get(token string) Position {
	p.mu.RLock()
	e, ok := p.entries[token]
	p.mu.RUnlock()
	if !ok {
		return Position{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// ApplyFill applies an optimistic fill. Extending fills blend the average
// price by size, reducing fills keep it, and a fill that flips the sign resets
// it to the fill price.
func (p *Positions) ApplyFill(token string, side market.Side, size, price float64) Position {
	delta := size
	if side == market.Sell {
		delta = -size
	}

	now := p.clock.Now()
	e := p.entry(token)
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.pos.Size
	next := prev + delta

	switch {
	case delta == 0:
	case prev == 0:
		e.pos.AvgPrice = price
	case (prev > 0) == (delta > 0):
		absPrev, absDelta := abs(prev), abs(delta)
		e.pos.AvgPrice = (e.pos.AvgPrice*absPrev + price*absDelta) / (absPrev + absDelta)
	case next != 0 && (next > 0) != (prev > 0):
		e.pos.AvgPrice = price
	}

	e.pos.Size = next
	e.pos.Updated = now
	e.lastFill = now
	return e.pos
}

// Reduce lowers a position by amount without touching its average price.
// Used after collateral merges, which are not market fills.
func (p *Positions) Reduce(token string, amount float64) Position {
	return p.ApplyFill(token, market.Sell, amount, 0)
}

// ReconcileReport lists the tokens whose size was overwritten and those whose
// size was kept because local state is fresher.
type ReconcileReport struct {
	Updated  []string
	Deferred []string
}

// Reconcile merges an authoritative snapshot. Average prices are always taken
// from the snapshot; sizes only when no trade is pending for the token and the
// last local fill is older than the grace window. Known tokens missing from the
// snapshot are flat on the exchange and go to zero under the same rule,
// keeping their average price.
func (p *Positions) Reconcile(snapshot []market.PositionSnapshot) ReconcileReport {
	var report ReconcileReport
	now := p.clock.Now()
	seen := make(map[string]bool, len(snapshot))

	for _, s := range snapshot {
		seen[s.Asset] = true
		e := p.entry(s.Asset)

		e.mu.Lock()
		deferred := p.deferLocked(s.Asset, e, now)
		e.pos.AvgPrice = s.AvgPrice
		if deferred {
			report.Deferred = append(report.Deferred, s.Asset)
		} else {
			if e.pos.Size != s.Size {
				report.Updated = append(report.Updated, s.Asset)
			}
			e.pos.Size = s.Size
		}
		e.pos.Updated = now
		e.mu.Unlock()
	}

	for _, token := range p.missing(seen) {
		e := p.entry(token)
		e.mu.Lock()
		switch {
		case e.pos.Size == 0:
		case p.deferLocked(token, e, now):
			report.Deferred = append(report.Deferred, token)
		default:
			e.pos.Size = 0
			e.pos.Updated = now
			report.Updated = append(report.Updated, token)
		}
		e.mu.Unlock()
	}
	return report
}

// deferLocked reports whether the local size of token must survive a
// reconcile. Callers hold e.mu.
func (p *Positions) deferLocked(token string, e *positionEntry, now time.Time) bool {
	if p.pending != nil && p.pending.HasPending(token) {
		return true
	}
	return !e.lastFill.IsZero() && now.Sub(e.lastFill) < p.grace
}

// missing lists known tokens absent from seen, sorted.
func (p *Positions) missing(seen map[string]bool) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for tok := range p.entries {
		if !seen[tok] {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// Overwrite replaces size and average price for every token in the snapshot
// and zeroes every other known token, ignoring pending trades and the grace
// window. It returns the tokens whose size changed.
func (p *Positions) Overwrite(snapshot []market.PositionSnapshot) []string {
	now := p.clock.Now()
	seen := make(map[string]bool, len(snapshot))
	var changed []string

	for _, s := range snapshot {
		seen[s.Asset] = true
		e := p.entry(s.Asset)
		e.mu.Lock()
		if e.pos.Size != s.Size {
			changed = append(changed, s.Asset)
		}
		e.pos = Position{Size: s.Size, AvgPrice: s.AvgPrice, Updated: now}
		e.mu.Unlock()
	}

	for _, token := range p.missing(seen) {
		e := p.entry(token)
		e.mu.Lock()
		if e.pos.Size != 0 {
			changed = append(changed, token)
			e.pos.Size = 0
			e.pos.Updated = now
		}
		e.mu.Unlock()
	}
	return changed
}

// Snapshot copies every known position.
func (p *Positions) Snapshot() map[string]Position {
	p.mu.RLock()
	tokens := make([]string, 0, len(p.entries))
	for tok := range p.entries {
		tokens = append(tokens, tok)
	}
	p.mu.RUnlock()
	sort.Strings(tokens)

	out := make(map[string]Position, len(tokens))
	for _, tok := range tokens {
		out[tok] = p.Get(tok)
	}
	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
