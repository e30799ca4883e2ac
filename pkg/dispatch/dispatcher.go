// Package dispatch turns stream frames into store mutations and decision
// triggers. It never calls the exchange itself.
package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/polymaker/pkg/book"
	"github.com/uhyunpark/polymaker/pkg/ledger"
	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/metrics"
	"github.com/uhyunpark/polymaker/pkg/pending"
	"github.com/uhyunpark/polymaker/pkg/util"
)

// Trigger schedules a decision pass for a market.
type Trigger interface {
	Trigger(conditionID string)
}

// Reconciler refreshes positions from the exchange without waiting.
type Reconciler interface {
	ForceReconcile()
}

const (
	statusMatched   = "MATCHED"
	statusConfirmed = "CONFIRMED"
	statusFailed    = "FAILED"
	statusMined     = "MINED"

	orderCancellation = "CANCELLATION"
)

type Deps struct {
	Registry   *market.Registry
	Books      *book.Store
	Positions  *ledger.Positions
	Orders     *ledger.Orders
	Pending    *pending.Registry
	Trigger    Trigger
	Reconciler Reconciler
	// Wallet identifies our side of a trade's maker orders.
	Wallet  common.Address
	Clock   util.Clock
	Log     *zap.SugaredLogger
	Metrics *metrics.Metrics
}

type Dispatcher struct {
	Deps
}

func New(deps Deps) *Dispatcher {
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	return &Dispatcher{Deps: deps}
}

// HandleMarketFrame applies one market channel frame.
func (d *Dispatcher) HandleMarketFrame(data []byte) {
	items, err := splitFrame(data)
	if err != nil {
		d.Log.Warnw("malformed_market_frame", "error", err)
		return
	}
	for _, raw := range items {
		var ev marketEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			d.Log.Warnw("malformed_market_event", "error", err)
			continue
		}
		d.Metrics.ObserveEvent("market", ev.EventType)
		switch ev.EventType {
		case "book":
			d.handleBook(ev)
		case "price_change":
			d.handlePriceChange(ev)
		default:
			d.Log.Debugw("market_event_ignored", "event_type", ev.EventType)
		}
	}
}

// resolveBook maps an event key to the subscribed first-outcome token. The
// key is an asset id, or a condition id on payloads that omit it.
func (d *Dispatcher) resolveBook(key string) (*market.Market, bool) {
	if m, ok := d.Registry.ForToken(key); ok {
		if key != m.Token1 {
			// Second outcome books are derived from the first.
			return nil, false
		}
		return m, true
	}
	if m, err := d.Registry.Get(key); err == nil {
		return m, true
	}
	return nil, false
}

func (d *Dispatcher) bookKey(ev marketEvent) string {
	if ev.AssetID != "" {
		return ev.AssetID
	}
	return ev.Market
}

func (d *Dispatcher) handleBook(ev marketEvent) {
	m, ok := d.resolveBook(d.bookKey(ev))
	if !ok {
		d.Log.Debugw("book_for_unknown_asset", "asset", d.bookKey(ev))
		return
	}

	bids := make([]book.Level, 0, len(ev.Bids))
	for _, l := range ev.Bids {
		bids = append(bids, book.Level{Price: l.Price.Float64(), Size: l.Size.Float64()})
	}
	asks := make([]book.Level, 0, len(ev.Asks))
	for _, l := range ev.Asks {
		asks = append(asks, book.Level{Price: l.Price.Float64(), Size: l.Size.Float64()})
	}
	d.Books.ApplySnapshot(m.Token1, bids, asks)
	d.Trigger.Trigger(m.ConditionID)
}

func (d *Dispatcher) handlePriceChange(ev marketEvent) {
	changes := ev.Changes
	if len(changes) == 0 {
		changes = ev.PriceChanges
	}
	for _, ch := range changes {
		key := ch.AssetID
		if key == "" {
			key = d.bookKey(ev)
		}
		m, ok := d.resolveBook(key)
		if !ok {
			continue
		}
		side, err := market.ParseSide(ch.Side)
		if err != nil {
			d.Log.Warnw("malformed_price_change", "asset", key, "error", err)
			continue
		}
		if !d.Books.ApplyDelta(m.Token1, side, ch.Price.Float64(), ch.Size.Float64()) {
			d.Log.Debugw("delta_before_snapshot", "asset", m.Token1)
			continue
		}
		d.Trigger.Trigger(m.ConditionID)
	}
}

// HandleUserFrame applies one user channel frame.
func (d *Dispatcher) HandleUserFrame(data []byte) {
	items, err := splitFrame(data)
	if err != nil {
		d.Log.Warnw("malformed_user_frame", "error", err)
		return
	}
	for _, raw := range items {
		var ev userEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			d.Log.Warnw("malformed_user_event", "error", err)
			continue
		}
		d.Metrics.ObserveEvent("user", ev.EventType)

		m, ok := d.Registry.ForToken(ev.AssetID)
		if !ok {
			d.Log.Debugw("user_event_for_unknown_asset", "asset", ev.AssetID, "market", ev.Market)
			continue
		}
		side, err := market.ParseSide(ev.Side)
		if err != nil {
			d.Log.Warnw("malformed_user_event", "asset", ev.AssetID, "error", err)
			continue
		}

		switch ev.EventType {
		case "trade":
			d.handleTrade(m, side, ev)
		case "order":
			d.handleOrder(m, side, ev)
		default:
			d.Log.Debugw("user_event_ignored", "event_type", ev.EventType)
		}
	}
}

// fill is a trade as it affects our own inventory.
type fill struct {
	token string
	side  market.Side
	size  float64
	price float64
	maker bool
}

// resolveFill works out which token and side a trade moves for us. As taker
// the event is taken as is. As maker, size and price come from the last maker
// order that is ours, and each of our maker orders remaps the fill once: an
// order on the taker's outcome flips the side, any other swaps the token for
// its complement. Two orders on the same outcome therefore cancel out.
func (d *Dispatcher) resolveFill(side market.Side, ev userEvent) fill {
	f := fill{token: ev.AssetID, side: side, size: ev.Size.Float64(), price: ev.Price.Float64()}
	if d.Wallet == (common.Address{}) {
		return f
	}

	for i := range ev.MakerOrders {
		mo := &ev.MakerOrders[i]
		if !common.IsHexAddress(mo.MakerAddress) || common.HexToAddress(mo.MakerAddress) != d.Wallet {
			continue
		}
		f.maker = true
		f.size = mo.MatchedAmount.Float64()
		f.price = mo.Price.Float64()
		if mo.Outcome == ev.Outcome {
			f.side = f.side.Opposite()
		} else if rev, ok := d.Registry.Reverse(f.token); ok {
			f.token = rev
		}
	}
	return f
}

func (d *Dispatcher) handleTrade(m *market.Market, side market.Side, ev userEvent) {
	if ev.ID == "" {
		d.Log.Warnw("trade_without_id", "asset", ev.AssetID, "status", ev.Status)
		return
	}
	// Pending entries are keyed by the event as received, before any remap.
	key := pending.Key{Token: ev.AssetID, Side: side}
	status := strings.ToUpper(ev.Status)

	switch status {
	case statusMatched:
		f := d.resolveFill(side, ev)
		if !d.Pending.Add(key, ev.ID, d.Clock.Now()) {
			d.Log.Debugw("duplicate_match", "trade_id", ev.ID)
			break
		}
		pos := d.Positions.ApplyFill(f.token, f.side, f.size, f.price)
		d.Log.Infow("trade_matched",
			"trade_id", ev.ID,
			"market", m.ConditionID,
			"token", f.token,
			"side", f.side,
			"size", f.size,
			"price", f.price,
			"maker", f.maker,
			"position", pos.Size,
			"avg_price", pos.AvgPrice,
		)
		d.Trigger.Trigger(m.ConditionID)
	case statusConfirmed:
		d.Pending.Remove(key, ev.ID)
		d.Log.Infow("trade_confirmed", "trade_id", ev.ID, "market", m.ConditionID)
		d.Trigger.Trigger(m.ConditionID)
	case statusFailed:
		d.Pending.Remove(key, ev.ID)
		d.Log.Warnw("trade_failed", "trade_id", ev.ID, "market", m.ConditionID, "token", ev.AssetID)
		if d.Reconciler != nil {
			d.Reconciler.ForceReconcile()
		}
	case statusMined:
		d.Pending.Remove(key, ev.ID)
	default:
		d.Log.Warnw("unknown_trade_status", "trade_id", ev.ID, "status", ev.Status)
	}
	d.Metrics.SetPending(d.Pending.Total())
}

func (d *Dispatcher) handleOrder(m *market.Market, side market.Side, ev userEvent) {
	remaining := ev.OriginalSize.Float64() - ev.SizeMatched.Float64()
	if strings.EqualFold(ev.Type, orderCancellation) {
		remaining = 0
	}
	d.Orders.Set(ev.AssetID, side, ev.Price.Float64(), remaining)
	d.Log.Debugw("order_update",
		"market", m.ConditionID,
		"token", ev.AssetID,
		"side", side,
		"type", ev.Type,
		"remaining", remaining,
		"price", ev.Price.Float64(),
	)
	d.Trigger.Trigger(m.ConditionID)
}
