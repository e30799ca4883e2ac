package trader

// lowPriceThreshold is the bid below which the buy amount is scaled by the
// market's multiplier.
const lowPriceThreshold = 0.1

// minSizeSnap is the fraction of the exchange minimum above which an
// undersized buy is rounded up to the minimum instead of dropped.
const minSizeSnap = 0.7

type SizingInputs struct {
	Position      float64
	OtherPosition float64
	BidPrice      float64
	TradeSize     float64
	MaxSize       float64
	MinSize       float64
	Multiplier    float64
}

// BuySellAmounts sizes the next quotes for one outcome token.
//
// Below MaxSize the engine keeps buying TradeSize (capped at the room left)
// and only offers to sell once it holds at least one TradeSize. At or above
// MaxSize it always offers TradeSize for sale and keeps buying only while the
// combined exposure of both outcomes is under twice MaxSize.
func BuySellAmounts(in SizingInputs) (buy, sell float64) {
	maxSize := in.MaxSize
	if maxSize <= 0 {
		maxSize = in.TradeSize
	}

	if in.Position < maxSize {
		buy = min(in.TradeSize, maxSize-in.Position)
		if in.Position >= in.TradeSize {
			sell = min(in.Position, in.TradeSize)
		}
	} else {
		sell = min(in.Position, in.TradeSize)
		if in.Position+in.OtherPosition < maxSize*2 {
			buy = in.TradeSize
		}
	}

	if buy > minSizeSnap*in.MinSize && buy < in.MinSize {
		buy = in.MinSize
	}

	if in.BidPrice < lowPriceThreshold && buy > 0 && in.Multiplier > 0 {
		buy *= in.Multiplier
	}
	return buy, sell
}
