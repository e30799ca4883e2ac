package trader

import (
	"context"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/polymaker/pkg/gateway"
	"github.com/uhyunpark/polymaker/pkg/ledger"
	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/pricing"
	"github.com/uhyunpark/polymaker/pkg/risk"
)

const (
	// Buys are refreshed while position plus resting bid is under this share
	// of max size.
	refillFraction = 0.95
	// A resting bid larger than the target by this factor is resized.
	oversizeFactor = 1.01
	// Quoting stays inside this price range.
	minQuotePrice = 0.10
	maxQuotePrice = 0.90
)

// outcomeState is what a pass knows about one outcome token.
type outcomeState struct {
	m        *market.Market
	params   market.RiskParams
	outcome  market.Outcome
	token    string
	decimals int32

	view     pricing.OutcomeView
	bestBid  float64
	bestAsk  float64
	topBid   float64
	topAsk   float64
	mid      float64
	position float64
	avgPrice float64
	orders   ledger.OrderPair
}

func (c *Coordinator) pass(ctx context.Context, marketID string) (err error) {
	if c.passHook != nil {
		defer c.passHook(marketID)()
	}
	start := c.deps.Clock.Now()
	result := "ok"
	defer func() {
		if err != nil {
			result = "error"
		}
		c.deps.Metrics.ObservePass(result, c.deps.Clock.Now().Sub(start))
	}()

	m, err := c.deps.Registry.Get(marketID)
	if err != nil {
		return err
	}
	params, err := c.deps.Registry.Params(m.ParamType)
	if err != nil {
		return fmt.Errorf("market %s: %w", marketID, err)
	}

	if err := c.mergeIfPossible(ctx, m); err != nil {
		return err
	}

	bids, asks, ok := c.deps.Books.Sides(m.Token1)
	if !ok {
		result = "no_book"
		c.log.Debugw("book_not_ready", "market", marketID)
		return nil
	}
	if c.deps.Volatility != nil {
		if v := pricing.QuoteOutcomeView(bids, asks, market.First, c.cfg.DepthPrimary, c.cfg.BandPct); v.HasMid {
			c.deps.Volatility.Observe(marketID, v.Mid, c.deps.Clock.Now())
		}
	}

	for _, o := range []market.Outcome{market.First, market.Second} {
		if err := c.quoteOutcome(ctx, m, params, o); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) mergeIfPossible(ctx context.Context, m *market.Market) error {
	pos1 := c.deps.Positions.Get(m.Token1).Size
	pos2 := c.deps.Positions.Get(m.Token2).Size
	amount := math.Min(pos1, pos2)
	if amount <= c.cfg.MinMergeSize {
		return nil
	}

	raw := gateway.ScaleAmount(amount)
	receipt, err := c.deps.Gateway.MergePositions(ctx, raw, common.HexToHash(m.ConditionID), m.NegRisk)
	if err != nil {
		return fmt.Errorf("merge positions in %s: %w", m.ConditionID, err)
	}

	shares := gateway.UnscaleAmount(raw)
	c.deps.Positions.Reduce(m.Token1, shares)
	c.deps.Positions.Reduce(m.Token2, shares)
	c.log.Infow("positions_merged",
		"market", m.ConditionID,
		"amount", shares,
		"token1_before", pos1,
		"token2_before", pos2,
		"tx", receipt.TxHash.Hex(),
	)
	c.emit(Decision{Market: m.ConditionID, Action: ActionMerge, Size: shares, Reason: receipt.TxHash.Hex()})
	return nil
}

func (c *Coordinator) volatility(m *market.Market) float64 {
	if m.Volatility3h != nil {
		return *m.Volatility3h
	}
	if c.deps.Volatility == nil {
		return 0
	}
	v, _ := c.deps.Volatility.Value(m.ConditionID)
	return v
}

// view reads the outcome's book at the primary depth, falling back to the
// smaller depth when either side has no level above the primary threshold.
func (c *Coordinator) view(m *market.Market, o market.Outcome) (pricing.OutcomeView, bool) {
	bids, asks, ok := c.deps.Books.Sides(m.Token1)
	if !ok {
		return pricing.OutcomeView{}, false
	}
	v := pricing.QuoteOutcomeView(bids, asks, o, c.cfg.DepthPrimary, c.cfg.BandPct)
	if !v.Usable() {
		v = pricing.QuoteOutcomeView(bids, asks, o, c.cfg.DepthFallback, c.cfg.BandPct)
	}
	return v, v.Usable() && v.TopBid.Found && v.TopAsk.Found
}

func (c *Coordinator) quoteOutcome(ctx context.Context, m *market.Market, params market.RiskParams, o market.Outcome) error {
	token := m.Token(o)
	view, ok := c.view(m, o)
	if !ok {
		c.log.Debugw("no_usable_depth", "market", m.ConditionID, "token", token)
		return nil
	}

	dec := pricing.TickDecimals(m.TickSize)
	pos := c.deps.Positions.Get(token)
	s := outcomeState{
		m:        m,
		params:   params,
		outcome:  o,
		token:    token,
		decimals: dec,
		view:     view,
		bestBid:  pricing.Round(view.BestBid.Price, dec),
		bestAsk:  pricing.Round(view.BestAsk.Price, dec),
		topBid:   pricing.Round(view.TopBid.Price, dec),
		topAsk:   pricing.Round(view.TopAsk.Price, dec),
		position: pricing.RoundDown(pos.Size, 2),
		avgPrice: pos.AvgPrice,
		orders:   c.deps.Orders.Get(token),
	}
	s.mid = (s.topBid + s.topAsk) / 2

	bidPrice, askPrice := pricing.ComputeQuotePrices(pricing.QuoteInputs{
		BestBid:           s.bestBid,
		BestBidSize:       view.BestBid.Size,
		TopBid:            s.topBid,
		BestAsk:           s.bestAsk,
		BestAskSize:       view.BestAsk.Size,
		TopAsk:            s.topAsk,
		AvgPrice:          s.avgPrice,
		TickSize:          m.TickSize,
		MinSize:           m.MinSize,
		ImproveMultiplier: c.cfg.ImproveMultiplier,
	})
	bidPrice = pricing.Round(bidPrice, dec)
	askPrice = pricing.Round(askPrice, dec)

	other := c.deps.Positions.Get(m.Token(opposite(o))).Size
	buyAmount, sellAmount := BuySellAmounts(SizingInputs{
		Position:      s.position,
		OtherPosition: other,
		BidPrice:      bidPrice,
		TradeSize:     m.TradeSize,
		MaxSize:       m.EffectiveMaxSize(),
		MinSize:       m.MinSize,
		Multiplier:    m.Multiplier,
	})

	c.log.Debugw("outcome_quoted",
		"market", m.ConditionID,
		"answer", m.Answer(o),
		"position", s.position,
		"avg_price", s.avgPrice,
		"best_bid", s.bestBid,
		"best_ask", s.bestAsk,
		"bid_price", bidPrice,
		"ask_price", askPrice,
		"buy_amount", buyAmount,
		"sell_amount", sellAmount,
	)

	if sellAmount > 0 {
		if s.avgPrice == 0 {
			c.log.Debugw("skip_zero_avg_price", "market", m.ConditionID, "token", token)
			return nil
		}
		fired, err := c.checkStopLoss(ctx, s)
		if err != nil || fired {
			return err
		}
	}

	maxSize := m.EffectiveMaxSize()
	if s.position < maxSize && s.position < c.cfg.PositionCap && buyAmount > 0 && buyAmount >= m.MinSize {
		return c.manageBuy(ctx, s, bidPrice, buyAmount, maxSize)
	}
	if sellAmount > 0 {
		return c.manageTakeProfit(ctx, s, askPrice, sellAmount)
	}
	return nil
}

// checkStopLoss re-reads the book at primary depth and, when the stop fires,
// cancels the market, records the cooldown and sells the whole position at
// the best bid.
func (c *Coordinator) checkStopLoss(ctx context.Context, s outcomeState) (bool, error) {
	bids, asks, ok := c.deps.Books.Sides(s.m.Token1)
	if !ok {
		return false, nil
	}
	fresh := pricing.QuoteOutcomeView(bids, asks, s.outcome, c.cfg.DepthPrimary, c.cfg.BandPct)
	if !fresh.Usable() {
		return false, nil
	}

	mid := pricing.RoundUp((fresh.BestBid.Price+fresh.BestAsk.Price)/2, s.decimals)
	spread := pricing.Round(fresh.BestAsk.Price-fresh.BestBid.Price, 2)
	d := risk.EvaluateStopLoss(risk.StopLossInput{
		AvgPrice:   s.avgPrice,
		Mid:        mid,
		Spread:     spread,
		Volatility: c.volatility(s.m),
		Params:     s.params,
	})
	if !d.Fire {
		return false, nil
	}

	size := s.position
	price := pricing.Round(fresh.BestBid.Price, s.decimals)
	reason := fmt.Sprintf("selling %.2f because %s and ratio is %.2f", size, d.Reason, fresh.Ratio())
	c.log.Warnw("stop_loss_triggered",
		"market", s.m.ConditionID,
		"token", s.token,
		"size", size,
		"price", price,
		"pnl_pct", d.PnLPct,
		"spread", spread,
	)

	if err := c.cancelMarket(ctx, s.m, "stop_loss"); err != nil {
		return true, err
	}
	cooldown, err := c.deps.Risk.EnterRiskOff(s.m.ConditionID, s.m.Question, reason, s.params.SleepHours)
	if err != nil {
		return true, err
	}
	c.emit(Decision{Market: s.m.ConditionID, Token: s.token, Action: ActionRiskOff, Reason: reason, Time: cooldown.Time})

	if size <= 0 {
		return true, nil
	}
	// Every order in the market is gone, so the exit skips the replace check.
	return true, c.createOrder(ctx, s.m, s.token, market.Sell, price, size, "stop_loss")
}

func (c *Coordinator) manageBuy(ctx context.Context, s outcomeState, price, size, maxSize float64) error {
	state, cooldown, err := c.deps.Risk.State(s.m.ConditionID)
	if err != nil {
		return fmt.Errorf("read cooldown for %s: %w", s.m.ConditionID, err)
	}
	if state == risk.RiskOff {
		c.log.Debugw("buy_suppressed_risk_off", "market", s.m.ConditionID, "sleep_till", cooldown.SleepTill)
		return nil
	}

	vol := c.volatility(s.m)
	drift := 0.0
	if ref, ok := s.m.ReferencePrice(s.outcome); ok {
		drift = math.Abs(price - pricing.Round(ref, s.decimals))
	}
	if vol > s.params.VolatilityThreshold || drift >= c.cfg.MaxReferenceDrift {
		c.log.Infow("buy_pulled",
			"market", s.m.ConditionID,
			"token", s.token,
			"volatility", vol,
			"reference_drift", drift,
		)
		return c.cancelAsset(ctx, s.m, s.token, "volatility_or_drift")
	}

	reverse := c.deps.Positions.Get(s.m.Token(opposite(s.outcome)))
	if reverse.Size > s.m.MinSize {
		if s.orders.Buy.Size > c.cfg.MinMergeSize {
			return c.cancelAsset(ctx, s.m, s.token, "reverse_position")
		}
		return nil
	}

	if s.view.Ratio() < 0 {
		return c.cancelAsset(ctx, s.m, s.token, "negative_ratio")
	}

	resting := s.orders.Buy
	switch {
	case s.bestBid > resting.Price:
		return c.sendBuy(ctx, s, price, size, "better_price")
	case s.position+resting.Size < refillFraction*maxSize:
		return c.sendBuy(ctx, s, price, size, "refill")
	case resting.Size > size*oversizeFactor:
		return c.sendBuy(ctx, s, price, size, "oversized")
	}
	return nil
}

func (c *Coordinator) manageTakeProfit(ctx context.Context, s outcomeState, askPrice, size float64) error {
	target := risk.TakeProfitPrice(s.avgPrice, s.params.TakeProfitPct, s.decimals)
	price := pricing.RoundUp(math.Max(target, askPrice), s.decimals)

	resting := s.orders.Sell
	if !risk.ShouldReplaceTakeProfit(resting.Price, resting.Size, target, s.position) {
		return nil
	}
	return c.sendSell(ctx, s, price, size, "take_profit")
}

// needsReplace reports whether a resting order differs enough from the target
// to be worth cancelling and recreating.
func (c *Coordinator) needsReplace(resting ledger.RestingOrder, price, size float64) bool {
	if resting.Size <= 0 || resting.Price <= 0 {
		return true
	}
	return math.Abs(resting.Price-price) > c.cfg.PriceTolerance ||
		math.Abs(resting.Size-size) > size*c.cfg.SizeTolerance
}

func (c *Coordinator) sendBuy(ctx context.Context, s outcomeState, price, size float64, reason string) error {
	if !c.needsReplace(s.orders.Buy, price, size) {
		c.log.Debugw("keep_buy", "token", s.token, "price", price, "resting", s.orders.Buy.Price)
		return nil
	}
	if s.orders.Buy.Size > 0 || s.orders.Sell.Size > 0 {
		if err := c.cancelAsset(ctx, s.m, s.token, "replace_buy"); err != nil {
			return err
		}
	}

	floor := s.mid - s.m.MaxSpread/100
	if price < floor {
		c.log.Debugw("buy_below_incentive", "token", s.token, "price", price, "floor", floor)
		return nil
	}
	if price < minQuotePrice || price >= maxQuotePrice {
		c.log.Debugw("buy_out_of_range", "token", s.token, "price", price)
		return nil
	}
	return c.createOrder(ctx, s.m, s.token, market.Buy, price, size, reason)
}

func (c *Coordinator) sendSell(ctx context.Context, s outcomeState, price, size float64, reason string) error {
	if !c.needsReplace(s.orders.Sell, price, size) {
		c.log.Debugw("keep_sell", "token", s.token, "price", price, "resting", s.orders.Sell.Price)
		return nil
	}
	if s.orders.Sell.Size > 0 || s.orders.Buy.Size > 0 {
		if err := c.cancelAsset(ctx, s.m, s.token, "replace_sell"); err != nil {
			return err
		}
	}
	return c.createOrder(ctx, s.m, s.token, market.Sell, price, size, reason)
}

func (c *Coordinator) createOrder(ctx context.Context, m *market.Market, token string, side market.Side, price, size float64, reason string) error {
	ack, err := c.deps.Gateway.CreateOrder(ctx, gateway.OrderRequest{
		Token:   token,
		Side:    side,
		Price:   price,
		Size:    size,
		NegRisk: m.NegRisk,
	})
	if err != nil {
		return err
	}
	// Order events overwrite this once the exchange reports the order.
	c.deps.Orders.Set(token, side, price, size)
	c.log.Infow("order_created",
		"market", m.ConditionID,
		"token", token,
		"side", side,
		"price", price,
		"size", size,
		"order_id", ack.OrderID,
		"reason", reason,
	)
	c.emit(Decision{
		Market:  m.ConditionID,
		Token:   token,
		Action:  ActionCreateOrder,
		Side:    side,
		Price:   price,
		Size:    size,
		Reason:  reason,
		OrderID: ack.OrderID,
	})
	return nil
}

func (c *Coordinator) cancelAsset(ctx context.Context, m *market.Market, token, reason string) error {
	if err := c.deps.Gateway.CancelAllForAsset(ctx, token); err != nil {
		return err
	}
	c.deps.Orders.Set(token, market.Buy, 0, 0)
	c.deps.Orders.Set(token, market.Sell, 0, 0)
	c.log.Infow("orders_cancelled", "market", m.ConditionID, "token", token, "reason", reason)
	c.emit(Decision{Market: m.ConditionID, Token: token, Action: ActionCancelAsset, Reason: reason})
	return nil
}

func (c *Coordinator) cancelMarket(ctx context.Context, m *market.Market, reason string) error {
	if err := c.deps.Gateway.CancelAllForMarket(ctx, m.ConditionID); err != nil {
		return err
	}
	for _, token := range []string{m.Token1, m.Token2} {
		c.deps.Orders.Set(token, market.Buy, 0, 0)
		c.deps.Orders.Set(token, market.Sell, 0, 0)
	}
	c.log.Infow("market_orders_cancelled", "market", m.ConditionID, "reason", reason)
	c.emit(Decision{Market: m.ConditionID, Action: ActionCancelMarket, Reason: reason})
	return nil
}

func (c *Coordinator) emit(d Decision) {
	d.ID = uuid.NewString()
	if d.Time.IsZero() {
		d.Time = c.deps.Clock.Now()
	}
	c.deps.Metrics.ObserveDecision(d.MetricLabel())
	if c.deps.OnDecision != nil {
		c.deps.OnDecision(d)
	}
}

func opposite(o market.Outcome) market.Outcome {
	if o == market.First {
		return market.Second
	}
	return market.First
}
