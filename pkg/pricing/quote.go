package pricing

// DefaultImproveMultiplier is used when QuoteInputs.ImproveMultiplier is unset.
const DefaultImproveMultiplier = 1.5

type QuoteInputs struct {
	BestBid     float64
	BestBidSize float64
	TopBid      float64
	BestAsk     float64
	BestAskSize float64
	TopAsk      float64
	AvgPrice    float64
	TickSize    float64
	MinSize     float64
	// ImproveMultiplier × MinSize is the resting size a level needs before
	// the quote steps one tick inside it.
	ImproveMultiplier float64
}

// ComputeQuotePrices proposes a bid one tick above the best bid and an ask one
// tick below the best ask, then clamps them so they never cross the opposite
// top of book, never collapse to a zero-width quote, and never offer below the
// position's average entry price.
func ComputeQuotePrices(in QuoteInputs) (bid, ask float64) {
	mult := in.ImproveMultiplier
	if mult <= 0 {
		mult = DefaultImproveMultiplier
	}
	dec := TickDecimals(in.TickSize)
	threshold := in.MinSize * mult

	bid = Round(in.BestBid+in.TickSize, dec)
	ask = Round(in.BestAsk-in.TickSize, dec)

	if in.BestBidSize < threshold {
		bid = in.BestBid
	}
	if in.BestAskSize < threshold {
		ask = in.BestAsk
	}

	if bid >= in.TopAsk {
		bid = in.TopBid
	}
	if ask <= in.TopBid {
		ask = in.TopAsk
	}

	if bid == ask {
		bid = in.TopBid
		ask = in.TopAsk
	}

	if in.AvgPrice > 0 && ask <= in.AvgPrice {
		ask = in.AvgPrice
	}
	return bid, ask
}
