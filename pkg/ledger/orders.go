package ledger

import (
	"sort"
	"sync"

	"github.com/uhyunpark/polymaker/pkg/market"
)

// RestingOrder is the last known price and unfilled size of our order on one
// side of a token. Zero values mean no order rests there.
type RestingOrder struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type OrderPair struct {
	Buy  RestingOrder `json:"buy"`
	Sell RestingOrder `json:"sell"`
}

func (p OrderPair) Side(s market.Side) RestingOrder {
	if s == market.Buy {
		return p.Buy
	}
	return p.Sell
}

// Orders is a decision input for churn damping, never a source of truth for
// fills.
type Orders struct {
	mu      sync.RWMutex
	byToken map[string]OrderPair
}

func NewOrders() *Orders {
	return &Orders{byToken: make(map[string]OrderPair)}
}

// Set records the resting order on one side of token.
func (o *Orders) Set(token string, side market.Side, price, size float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pair := o.byToken[token]
	ro := RestingOrder{Price: price, Size: size}
	if size <= 0 {
		ro = RestingOrder{}
	}
	if side == market.Buy {
		pair.Buy = ro
	} else {
		pair.Sell = ro
	}
	o.byToken[token] = pair
}

func (o *Orders) Get(token string) OrderPair {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.byToken[token]
}

// ReplaceAll rebuilds the ledger from the exchange's open orders. A token with
// more than one order on a side is zeroed and returned so the caller can
// cancel its orders.
func (o *Orders) ReplaceAll(snapshot []market.OrderSnapshot) (duplicates []string) {
	type count struct{ buy, sell int }
	counts := make(map[string]count)
	next := make(map[string]OrderPair)

	for _, s := range snapshot {
		c := counts[s.AssetID]
		pair := next[s.AssetID]
		ro := RestingOrder{Price: s.Price, Size: s.Remaining()}
		if s.Side == market.Buy {
			c.buy++
			pair.Buy = ro
		} else {
			c.sell++
			pair.Sell = ro
		}
		counts[s.AssetID] = c
		next[s.AssetID] = pair
	}

	for token, c := range counts {
		if c.buy > 1 || c.sell > 1 {
			duplicates = append(duplicates, token)
			next[token] = OrderPair{}
		}
	}
	sort.Strings(duplicates)

	o.mu.Lock()
	o.byToken = next
	o.mu.Unlock()
	return duplicates
}

func (o *Orders) Snapshot() map[string]OrderPair {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]OrderPair, len(o.byToken))
	for tok, pair := range o.byToken {
		out[tok] = pair
	}
	return out
}
