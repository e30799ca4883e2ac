package pricing

import (
	"github.com/uhyunpark/polymaker/pkg/book"
	"github.com/uhyunpark/polymaker/pkg/market"
)

// OutcomeView is the book as seen from one outcome token of a binary market.
type OutcomeView struct {
	BestBid, SecondBestBid, TopBid Level
	BestAsk, SecondBestAsk, TopAsk Level

	// Mid is the average of the best bid and ask; HasMid is false when either
	// is missing.
	Mid    float64
	HasMid bool

	// Resting size within the band around Mid on each side.
	BidBandSize float64
	AskBandSize float64
}

// Usable reports whether both sides have a level above the depth threshold.
func (v OutcomeView) Usable() bool {
	return v.BestBid.Found && v.BestAsk.Found
}

// Ratio is the bid/ask liquidity imbalance inside the band, 0 when the ask
// band is empty.
func (v OutcomeView) Ratio() float64 {
	if v.AskBandSize == 0 {
		return 0
	}
	return v.BidBandSize / v.AskBandSize
}

// QuoteOutcomeView builds the view for an outcome from the first outcome's
// book (bids highest first, asks lowest first). The second outcome's prices
// are complements of the first's with bid and ask roles swapped.
func QuoteOutcomeView(bids, asks []book.Level, outcome market.Outcome, minSize, bandPct float64) OutcomeView {
	b := FindBestWithDepth(bids, minSize)
	a := FindBestWithDepth(asks, minSize)

	v := OutcomeView{
		BestBid: b.Best, SecondBestBid: b.SecondBest, TopBid: b.Top,
		BestAsk: a.Best, SecondBestAsk: a.SecondBest, TopAsk: a.Top,
	}

	if v.Usable() {
		v.Mid = (v.BestBid.Price + v.BestAsk.Price) / 2
		v.HasMid = true
		upper := v.Mid * (1 + bandPct)
		lower := v.Mid * (1 - bandPct)
		for _, l := range bids {
			if l.Price >= v.BestBid.Price && l.Price <= upper {
				v.BidBandSize += l.Size
			}
		}
		for _, l := range asks {
			if l.Price >= lower && l.Price <= v.BestAsk.Price {
				v.AskBandSize += l.Size
			}
		}
	}

	if outcome == market.Second {
		v = v.complement()
	}
	return v
}

func (v OutcomeView) complement() OutcomeView {
	out := OutcomeView{
		BestBid:       v.BestAsk.complement(),
		SecondBestBid: v.SecondBestAsk.complement(),
		TopBid:        v.TopAsk.complement(),
		BestAsk:       v.BestBid.complement(),
		SecondBestAsk: v.SecondBestBid.complement(),
		TopAsk:        v.TopBid.complement(),
		HasMid:        v.HasMid,
		BidBandSize:   v.AskBandSize,
		AskBandSize:   v.BidBandSize,
	}
	if v.HasMid {
		out.Mid = 1 - v.Mid
	}
	return out
}
