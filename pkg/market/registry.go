package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownMarket = errors.New("unknown market")
	ErrUnknownParams = errors.New("unknown parameter set")
)

// Registry holds the traded markets, their token pairing and the named risk
// parameter sets. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market    // condition id -> market
	byToken map[string]string     // token -> condition id
	reverse map[string]string     // token -> paired token
	params  map[string]RiskParams // param type -> params
}

func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*Market),
		byToken: make(map[string]string),
		reverse: make(map[string]string),
		params:  make(map[string]RiskParams),
	}
}

// Register adds a market. Returns error if the market or one of its tokens
// is already known.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}
	if m.Token1 == "" || m.Token2 == "" || m.Token1 == m.Token2 {
		return fmt.Errorf("market %s: needs two distinct tokens", m.ConditionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.ConditionID]; exists {
		return fmt.Errorf("market %s already registered", m.ConditionID)
	}
	for _, tok := range []string{m.Token1, m.Token2} {
		if owner, exists := r.byToken[tok]; exists {
			return fmt.Errorf("token %s already registered by market %s", tok, owner)
		}
	}

	r.markets[m.ConditionID] = m
	r.byToken[m.Token1] = m.ConditionID
	r.byToken[m.Token2] = m.ConditionID
	r.reverse[m.Token1] = m.Token2
	r.reverse[m.Token2] = m.Token1
	return nil
}

func (r *Registry) SetParams(name string, p RiskParams) {
	r.mu.Lock()
	r.params[name] = p
	r.mu.Unlock()
}

func (r *Registry) Params(name string) (RiskParams, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.params[name]
	if !ok {
		return RiskParams{}, fmt.Errorf("%w: %s", ErrUnknownParams, name)
	}
	return p, nil
}

func (r *Registry) Get(conditionID string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[conditionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, conditionID)
	}
	return m, nil
}

// ForToken returns the market that owns token.
func (r *Registry) ForToken(token string) (*Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byToken[token]
	if !ok {
		return nil, false
	}
	return r.markets[id], true
}

// Reverse returns the token of the complementary outcome.
func (r *Registry) Reverse(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rev, ok := r.reverse[token]
	return rev, ok
}

// List returns all markets ordered by condition id.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConditionID < out[j].ConditionID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// SubscriptionAssets lists the first outcome token of every market. The second
// outcome's book is derived from it.
func (r *Registry) SubscriptionAssets() []string {
	markets := r.List()
	out := make([]string, 0, len(markets))
	for _, m := range markets {
		out = append(out, m.Token1)
	}
	return out
}
