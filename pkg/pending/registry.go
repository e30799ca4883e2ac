// Package pending tracks trades that matched but have not reached a terminal
// status, so position reconciliation can hold off while fills are in flight.
package pending

import (
	"sort"
	"sync"
	"time"

	"github.com/uhyunpark/polymaker/pkg/market"
)

type Key struct {
	Token string
	Side  market.Side
}

// Expired describes an entry dropped by Sweep.
type Expired struct {
	Key Key
	ID  string
	Age time.Duration
}

type Registry struct {
	mu      sync.Mutex
	entries map[Key]map[string]time.Time
}

func New() *Registry {
	return &Registry{entries: make(map[Key]map[string]time.Time)}
}

// Add registers a trade id under key. It returns false if the id is already
// pending, leaving the original insertion time untouched.
func (r *Registry) Add(key Key, id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, ok := r.entries[key]
	if !ok {
		ids = make(map[string]time.Time)
		r.entries[key] = ids
	}
	if _, dup := ids[id]; dup {
		return false
	}
	ids[id] = now
	return true
}

// Remove drops a trade id and reports whether it was pending.
func (r *Registry) Remove(key Key, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, ok := r.entries[key]
	if !ok {
		return false
	}
	if _, ok := ids[id]; !ok {
		return false
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(r.entries, key)
	}
	return true
}

func (r *Registry) Count(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[key])
}

// HasPending reports whether either side of token has a trade in flight.
func (r *Registry) HasPending(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[Key{token, market.Buy}]) > 0 || len(r.entries[Key{token, market.Sell}]) > 0
}

func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ids := range r.entries {
		n += len(ids)
	}
	return n
}

// Sweep removes entries older than ttl and returns them oldest first.
func (r *Registry) Sweep(ttl time.Duration, now time.Time) []Expired {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Expired
	for key, ids := range r.entries {
		for id, at := range ids {
			if age := now.Sub(at); age > ttl {
				out = append(out, Expired{Key: key, ID: id, Age: age})
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			delete(r.entries, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Age != out[j].Age {
			return out[i].Age > out[j].Age
		}
		return out[i].ID < out[j].ID
	})
	return out
}
