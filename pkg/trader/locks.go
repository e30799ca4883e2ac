package trader

import "sync"

// Locks maps a market id to its decision mutex. A mutex is created on first
// use and kept for the life of the process.
type Locks struct {
	m sync.Map
}

func (l *Locks) For(marketID string) *sync.Mutex {
	if mu, ok := l.m.Load(marketID); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := l.m.LoadOrStore(marketID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
