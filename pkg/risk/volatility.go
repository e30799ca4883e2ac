package risk

import (
	"math"
	"sync"
	"time"
)

// annualization factor for per-minute returns: minutes per trading year.
var minuteAnnualization = math.Sqrt(60 * 24 * 252)

type midSample struct {
	minute time.Time
	mid    float64
}

// VolatilityTracker keeps one mid sample per minute per market and reports the
// annualized standard deviation of log returns over a trailing window.
type VolatilityTracker struct {
	mu      sync.Mutex
	window  time.Duration
	samples map[string][]midSample
}

func NewVolatilityTracker(window time.Duration) *VolatilityTracker {
	if window <= 0 {
		window = 3 * time.Hour
	}
	return &VolatilityTracker{window: window, samples: make(map[string][]midSample)}
}

// Observe records a mid for the minute containing at. A later observation in
// the same minute replaces the earlier one.
func (v *VolatilityTracker) Observe(marketID string, mid float64, at time.Time) {
	if mid <= 0 {
		return
	}
	minute := at.Truncate(time.Minute)

	v.mu.Lock()
	defer v.mu.Unlock()

	s := v.samples[marketID]
	if n := len(s); n > 0 && s[n-1].minute.Equal(minute) {
		s[n-1].mid = mid
	} else if n == 0 || minute.After(s[n-1].minute) {
		s = append(s, midSample{minute: minute, mid: mid})
	}

	cutoff := minute.Add(-v.window)
	drop := 0
	for drop < len(s) && s[drop].minute.Before(cutoff) {
		drop++
	}
	v.samples[marketID] = s[drop:]
}

// Value returns the annualized volatility and false when fewer
// than three samples are available.
func (v *VolatilityTracker) Value(marketID string) (float64, bool) {
	v.mu.Lock()
	s := append([]midSample(nil), v.samples[marketID]...)
	v.mu.Unlock()

	if len(s) < 3 {
		return 0, false
	}
	returns := make([]float64, 0, len(s)-1)
	for i := 1; i < len(s); i++ {
		returns = append(returns, math.Log(s[i].mid/s[i-1].mid))
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	return std * minuteAnnualization, true
}
