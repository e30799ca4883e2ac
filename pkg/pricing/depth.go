// Package pricing holds the stateless quote math: depth-filtered best prices,
// the per-outcome view of a binary market's book, and target quote prices.
package pricing

import "github.com/uhyunpark/polymaker/pkg/book"

// Level is an optional price level. Found is false when no level qualifies,
// which is distinct from a level at price zero.
type Level struct {
	Price float64
	Size  float64
	Found bool
}

func found(l book.Level) Level { return Level{Price: l.Price, Size: l.Size, Found: true} }

// complement maps a level of the first outcome onto the second outcome.
func (l Level) complement() Level {
	if !l.Found {
		return l
	}
	return Level{Price: 1 - l.Price, Size: l.Size, Found: true}
}

// Depth is the result of scanning one side of a book from the top.
type Depth struct {
	Best       Level // first level with size > minSize
	SecondBest Level // the level right after Best
	Top        Level // first level regardless of size
}

// FindBestWithDepth scans levels ordered best price first. Levels at or below
// minSize are noise for sizing purposes but still define Top.
func FindBestWithDepth(levels []book.Level, minSize float64) Depth {
	var d Depth
	if len(levels) == 0 {
		return d
	}
	d.Top = found(levels[0])
	for i, l := range levels {
		if l.Size > minSize {
			d.Best = found(l)
			if i+1 < len(levels) {
				d.SecondBest = found(levels[i+1])
			}
			break
		}
	}
	return d
}
