package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/polymaker/pkg/book"
	"github.com/uhyunpark/polymaker/pkg/ledger"
	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/pending"
	"github.com/uhyunpark/polymaker/pkg/util"
)

const (
	conditionID = "0xc0ffee"
	yesToken    = "1111"
	noToken     = "2222"
	ourWallet   = "0x00000000000000000000000000000000000000aa"
)

type recordingTrigger struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingTrigger) Trigger(id string) {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	r.mu.Unlock()
}

func (r *recordingTrigger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type countingReconciler struct{ n int }

func (c *countingReconciler) ForceReconcile() { c.n++ }

type fixture struct {
	d         *Dispatcher
	books     *book.Store
	positions *ledger.Positions
	orders    *ledger.Orders
	pending   *pending.Registry
	trigger   *recordingTrigger
	recon     *countingReconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := market.NewRegistry()
	if err := reg.Register(&market.Market{
		ConditionID: conditionID,
		Token1:      yesToken,
		Token2:      noToken,
		TickSize:    0.01,
		MinSize:     20,
		TradeSize:   50,
		ParamType:   "default",
	}); err != nil {
		t.Fatal(err)
	}

	clock := util.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	f := &fixture{
		books:   book.NewStore(),
		orders:  ledger.NewOrders(),
		pending: pending.New(),
		trigger: &recordingTrigger{},
		recon:   &countingReconciler{},
	}
	f.positions = ledger.NewPositions(clock, f.pending, 5*time.Second)
	f.d = New(Deps{
		Registry:   reg,
		Books:      f.books,
		Positions:  f.positions,
		Orders:     f.orders,
		Pending:    f.pending,
		Trigger:    f.trigger,
		Reconciler: f.recon,
		Wallet:     common.HexToAddress(ourWallet),
		Clock:      clock,
		Log:        zaptest.NewLogger(t).Sugar(),
	})
	return f
}

func TestBookAndPriceChange(t *testing.T) {
	f := newFixture(t)

	f.d.HandleMarketFrame([]byte(`[{"event_type":"book","market":"0xc0ffee","asset_id":"1111",
		"bids":[{"price":"0.48","size":"100"},{"price":"0.47","size":"200"}],
		"asks":[{"price":"0.52","size":"150"}]}]`))

	bids, asks, ok := f.books.Sides(yesToken)
	if !ok || len(bids) != 2 || len(asks) != 1 {
		t.Fatalf("book = %v/%v/%v", bids, asks, ok)
	}
	if bids[0].Price != 0.48 {
		t.Errorf("best bid = %v, want 0.48", bids[0].Price)
	}

	f.d.HandleMarketFrame([]byte(`{"event_type":"price_change","market":"0xc0ffee","asset_id":"1111",
		"changes":[{"side":"BUY","price":"0.48","size":"0"},{"side":"SELL","price":"0.51","size":"40"}]}`))

	bids, asks, _ = f.books.Sides(yesToken)
	if len(bids) != 1 || bids[0].Price != 0.47 {
		t.Errorf("bids after delete = %v, want only 0.47", bids)
	}
	if len(asks) != 2 || asks[0].Price != 0.51 {
		t.Errorf("asks after insert = %v, want 0.51 first", asks)
	}
	if got := f.trigger.count(); got != 3 {
		t.Errorf("triggers = %d, want 3 (one per book and per change)", got)
	}
}

func TestBookKeyedByMarket(t *testing.T) {
	f := newFixture(t)
	f.d.HandleMarketFrame([]byte(`{"event_type":"book","market":"0xc0ffee",
		"bids":[{"price":"0.40","size":"10"}],"asks":[{"price":"0.60","size":"10"}]}`))

	if _, _, ok := f.books.Sides(yesToken); !ok {
		t.Errorf("expected the condition id to resolve to the first token")
	}
}

func TestNewPriceChangeFormat(t *testing.T) {
	f := newFixture(t)
	f.books.ApplySnapshot(yesToken, []book.Level{{Price: 0.40, Size: 10}}, nil)

	f.d.HandleMarketFrame([]byte(`{"event_type":"price_change","market":"0xc0ffee",
		"price_changes":[{"asset_id":"1111","side":"BUY","price":"0.41","size":"25"}]}`))

	bids, _, _ := f.books.Sides(yesToken)
	if len(bids) != 2 || bids[0].Price != 0.41 {
		t.Errorf("bids = %v, want 0.41 on top", bids)
	}
}

func TestDeltaWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	f.d.HandleMarketFrame([]byte(`{"event_type":"price_change","asset_id":"1111",
		"changes":[{"side":"BUY","price":"0.41","size":"25"}]}`))

	if _, _, ok := f.books.Sides(yesToken); ok {
		t.Errorf("delta must not create a book")
	}
	if f.trigger.count() != 0 {
		t.Errorf("delta without snapshot should not trigger a pass")
	}
}

func TestSecondOutcomeBookIgnored(t *testing.T) {
	f := newFixture(t)
	f.d.HandleMarketFrame([]byte(`{"event_type":"book","asset_id":"2222",
		"bids":[{"price":"0.40","size":"10"}],"asks":[]}`))

	if _, _, ok := f.books.Sides(noToken); ok {
		t.Errorf("second outcome books are derived, not stored")
	}
	if _, _, ok := f.books.Sides(yesToken); ok {
		t.Errorf("second outcome book must not overwrite the first")
	}
}

func TestTakerTradeLifecycle(t *testing.T) {
	f := newFixture(t)
	matched := []byte(`{"event_type":"trade","market":"0xc0ffee","asset_id":"1111","side":"BUY",
		"id":"t1","status":"MATCHED","price":"0.50","size":"10","outcome":"Yes","maker_orders":[]}`)

	f.d.HandleUserFrame(matched)
	if pos := f.positions.Get(yesToken); pos.Size != 10 || pos.AvgPrice != 0.50 {
		t.Fatalf("position = %+v, want 10 @ 0.50", pos)
	}
	if !f.pending.HasPending(yesToken) {
		t.Fatalf("expected pending trade after MATCHED")
	}

	// A repeated MATCHED must not double count.
	f.d.HandleUserFrame(matched)
	if pos := f.positions.Get(yesToken); pos.Size != 10 {
		t.Errorf("duplicate MATCHED changed size to %v", pos.Size)
	}

	f.d.HandleUserFrame([]byte(`{"event_type":"trade","asset_id":"1111","side":"BUY","id":"t1","status":"CONFIRMED"}`))
	if f.pending.HasPending(yesToken) {
		t.Errorf("CONFIRMED should clear the pending entry")
	}
	if got := f.trigger.count(); got != 3 {
		t.Errorf("triggers = %d, want 3", got)
	}
}

func TestMakerSameOutcomeFlipsSide(t *testing.T) {
	f := newFixture(t)
	f.positions.Overwrite([]market.PositionSnapshot{{Asset: yesToken, Size: 30, AvgPrice: 0.40}})

	f.d.HandleUserFrame([]byte(`[{"event_type":"trade","asset_id":"1111","side":"BUY","id":"t2",
		"status":"MATCHED","price":"0.55","size":"100","outcome":"Yes",
		"maker_orders":[{"maker_address":"0x00000000000000000000000000000000000000AA",
			"matched_amount":"12","price":"0.45","outcome":"Yes"}]}]`))

	pos := f.positions.Get(yesToken)
	if pos.Size != 18 {
		t.Errorf("size = %v, want 18 (maker sold 12)", pos.Size)
	}
	if pos.AvgPrice != 0.40 {
		t.Errorf("avg price = %v, want unchanged 0.40", pos.AvgPrice)
	}
	if f.pending.Count(pending.Key{Token: yesToken, Side: market.Buy}) != 1 {
		t.Errorf("pending key must be the event's own token and side")
	}
}

func TestMakerOtherOutcomeRemapsToken(t *testing.T) {
	f := newFixture(t)

	f.d.HandleUserFrame([]byte(`{"event_type":"trade","asset_id":"1111","side":"BUY","id":"t3",
		"status":"MATCHED","price":"0.55","size":"100","outcome":"Yes",
		"maker_orders":[
			{"maker_address":"0x00000000000000000000000000000000000000bb","matched_amount":"50","price":"0.45","outcome":"No"},
			{"maker_address":"0x00000000000000000000000000000000000000aa","matched_amount":"20","price":"0.45","outcome":"No"}]}`))

	if pos := f.positions.Get(noToken); pos.Size != 20 || pos.AvgPrice != 0.45 {
		t.Errorf("no position = %+v, want 20 @ 0.45", pos)
	}
	if pos := f.positions.Get(yesToken); pos.Size != 0 {
		t.Errorf("yes position = %+v, want untouched", pos)
	}
	if !f.pending.HasPending(yesToken) || f.pending.HasPending(noToken) {
		t.Errorf("pending must stay on the event token")
	}
}

func TestMakerRemapPerOrder(t *testing.T) {
	tests := []struct {
		name     string
		outcomes [2]string
		token    string
		want     float64
	}{
		// Each order on the taker's outcome flips the side; two flips cancel.
		{"two on taker outcome", [2]string{"Yes", "Yes"}, yesToken, 20},
		// Each order on the other outcome swaps the token; two swaps cancel.
		{"two on other outcome", [2]string{"No", "No"}, yesToken, 20},
		// One swap then a flip lands on the complement as a sell.
		{"other then taker outcome", [2]string{"No", "Yes"}, noToken, -20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.d.HandleUserFrame([]byte(`{"event_type":"trade","asset_id":"1111","side":"BUY","id":"t6",
				"status":"MATCHED","price":"0.55","size":"100","outcome":"Yes",
				"maker_orders":[
					{"maker_address":"` + ourWallet + `","matched_amount":"10","price":"0.44","outcome":"` + tt.outcomes[0] + `"},
					{"maker_address":"` + ourWallet + `","matched_amount":"20","price":"0.45","outcome":"` + tt.outcomes[1] + `"}]}`))

			if got := f.positions.Get(tt.token).Size; got != tt.want {
				t.Errorf("%s size = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestFailedTradeForcesReconcile(t *testing.T) {
	f := newFixture(t)
	f.d.HandleUserFrame([]byte(`{"event_type":"trade","asset_id":"1111","side":"SELL","id":"t4","status":"MATCHED","price":"0.5","size":"5"}`))
	before := f.trigger.count()

	f.d.HandleUserFrame([]byte(`{"event_type":"trade","asset_id":"1111","side":"SELL","id":"t4","status":"FAILED"}`))

	if f.recon.n != 1 {
		t.Errorf("ForceReconcile calls = %d, want 1", f.recon.n)
	}
	if f.pending.HasPending(yesToken) {
		t.Errorf("FAILED should clear the pending entry")
	}
	if f.trigger.count() != before {
		t.Errorf("FAILED should not trigger a pass directly")
	}
}

func TestMinedClearsPendingOnly(t *testing.T) {
	f := newFixture(t)
	f.d.HandleUserFrame([]byte(`{"event_type":"trade","asset_id":"2222","side":"BUY","id":"t5","status":"MATCHED","price":"0.5","size":"5"}`))
	before := f.trigger.count()
	f.d.HandleUserFrame([]byte(`{"event_type":"trade","asset_id":"2222","side":"BUY","id":"t5","status":"MINED"}`))

	if f.pending.HasPending(noToken) {
		t.Errorf("MINED should clear the pending entry")
	}
	if f.trigger.count() != before {
		t.Errorf("MINED should not trigger a pass")
	}
}

func TestOrderEvents(t *testing.T) {
	f := newFixture(t)
	f.d.HandleUserFrame([]byte(`{"event_type":"order","asset_id":"1111","side":"BUY","type":"PLACEMENT",
		"original_size":"50","size_matched":"20","price":"0.49"}`))

	got := f.orders.Get(yesToken).Buy
	if got.Size != 30 || got.Price != 0.49 {
		t.Errorf("resting buy = %+v, want 30 @ 0.49", got)
	}

	f.d.HandleUserFrame([]byte(`{"event_type":"order","asset_id":"1111","side":"SELL","type":"PLACEMENT",
		"original_size":"40","size_matched":"0","price":"0.55"}`))
	if pair := f.orders.Get(yesToken); pair.Buy.Size != 30 || pair.Sell.Size != 40 {
		t.Errorf("sides must be tracked independently, got %+v", pair)
	}

	f.d.HandleUserFrame([]byte(`{"event_type":"order","asset_id":"1111","side":"BUY","type":"CANCELLATION",
		"original_size":"50","size_matched":"20","price":"0.49"}`))
	if got := f.orders.Get(yesToken).Buy; got.Size != 0 {
		t.Errorf("cancelled buy = %+v, want empty", got)
	}
	if f.trigger.count() != 3 {
		t.Errorf("triggers = %d, want 3", f.trigger.count())
	}
}

func TestMalformedAndUnknown(t *testing.T) {
	f := newFixture(t)
	f.d.HandleMarketFrame([]byte(`[{"event_type":`))
	f.d.HandleMarketFrame([]byte(`PONG`))
	f.d.HandleUserFrame([]byte(`{"event_type":"trade","asset_id":"9999","side":"BUY","id":"x","status":"MATCHED","size":"1","price":"0.5"}`))
	f.d.HandleUserFrame([]byte(`{"event_type":"trade","asset_id":"1111","side":"HOLD","id":"x","status":"MATCHED"}`))
	f.d.HandleUserFrame([]byte(`[{"event_type":"order","asset_id":"1111","side":"BUY","original_size":"abc"}]`))

	if f.trigger.count() != 0 || f.pending.Total() != 0 {
		t.Errorf("malformed or foreign events must not change state")
	}
}
