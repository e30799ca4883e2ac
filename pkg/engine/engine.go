// Package engine owns every shared store and wires the dispatcher, the
// coordinator and the periodic loops around them.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/polymaker/params"
	"github.com/uhyunpark/polymaker/pkg/book"
	"github.com/uhyunpark/polymaker/pkg/dispatch"
	"github.com/uhyunpark/polymaker/pkg/gateway"
	"github.com/uhyunpark/polymaker/pkg/ledger"
	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/metrics"
	"github.com/uhyunpark/polymaker/pkg/pending"
	"github.com/uhyunpark/polymaker/pkg/risk"
	"github.com/uhyunpark/polymaker/pkg/trader"
	"github.com/uhyunpark/polymaker/pkg/util"
)

type Options struct {
	Config     params.Engine
	Registry   *market.Registry
	Gateway    gateway.Gateway
	Cooldowns  risk.CooldownStore
	Wallet     common.Address
	Clock      util.Clock
	Log        *zap.SugaredLogger
	Metrics    *metrics.Metrics
	OnDecision func(trader.Decision)
}

// Engine is the process-wide context. Tests build as many as they like.
type Engine struct {
	Registry    *market.Registry
	Books       *book.Store
	Positions   *ledger.Positions
	Orders      *ledger.Orders
	Pending     *pending.Registry
	Risk        *risk.Manager
	Volatility  *risk.VolatilityTracker
	Coordinator *trader.Coordinator
	Dispatcher  *dispatch.Dispatcher

	cfg     params.Engine
	gw      gateway.Gateway
	clock   util.Clock
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	reconcileCh chan struct{}
}

func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine needs a market registry")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("engine needs a gateway")
	}
	if opts.Cooldowns == nil {
		return nil, fmt.Errorf("engine needs a cooldown store")
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}

	e := &Engine{
		Registry:    opts.Registry,
		Books:       book.NewStore(),
		Orders:      ledger.NewOrders(),
		Pending:     pending.New(),
		Volatility:  risk.NewVolatilityTracker(3 * time.Hour),
		cfg:         opts.Config,
		gw:          opts.Gateway,
		clock:       opts.Clock,
		log:         opts.Log,
		metrics:     opts.Metrics,
		reconcileCh: make(chan struct{}, 1),
	}
	e.Positions = ledger.NewPositions(opts.Clock, e.Pending, opts.Config.ReconcileGrace)
	e.Risk = risk.NewManager(opts.Cooldowns, opts.Clock, opts.Log.Named("risk"))

	e.Coordinator = trader.New(trader.Config{
		MinMergeSize:      opts.Config.MinMergeSize,
		DepthPrimary:      opts.Config.DepthPrimary,
		DepthFallback:     opts.Config.DepthFallback,
		BandPct:           opts.Config.BandPct,
		PositionCap:       opts.Config.PositionCap,
		PriceTolerance:    opts.Config.PriceTolerance,
		SizeTolerance:     opts.Config.SizeTolerance,
		MaxReferenceDrift: opts.Config.MaxReferenceDrift,
		ImproveMultiplier: opts.Config.ImproveMultiplier,
		PassPause:         opts.Config.PassPause,
	}, trader.Deps{
		Registry:   e.Registry,
		Books:      e.Books,
		Positions:  e.Positions,
		Orders:     e.Orders,
		Risk:       e.Risk,
		Volatility: e.Volatility,
		Gateway:    opts.Gateway,
		Clock:      opts.Clock,
		Log:        opts.Log.Named("trader"),
		Metrics:    opts.Metrics,
		OnDecision: opts.OnDecision,
	})

	e.Dispatcher = dispatch.New(dispatch.Deps{
		Registry:   e.Registry,
		Books:      e.Books,
		Positions:  e.Positions,
		Orders:     e.Orders,
		Pending:    e.Pending,
		Trigger:    e.Coordinator,
		Reconciler: e,
		Wallet:     opts.Wallet,
		Clock:      opts.Clock,
		Log:        opts.Log.Named("dispatch"),
		Metrics:    opts.Metrics,
	})
	return e, nil
}

// Bootstrap loads authoritative positions and open orders before any stream
// starts. Failure here is fatal to startup.
func (e *Engine) Bootstrap(ctx context.Context) error {
	positions, err := e.gw.GetAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	e.Positions.Overwrite(positions)

	if err := e.RefreshOrders(ctx); err != nil {
		return err
	}
	e.log.Infow("bootstrap_complete",
		"markets", e.Registry.Count(),
		"positions", len(positions),
	)
	return nil
}

// RefreshOrders rebuilds the order ledger from the exchange and cancels every
// token that has more than one order resting on a side.
func (e *Engine) RefreshOrders(ctx context.Context) error {
	orders, err := e.gw.GetAllOrders(ctx)
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	for _, token := range e.Orders.ReplaceAll(orders) {
		if err := e.gw.CancelAllForAsset(ctx, token); err != nil {
			e.log.Warnw("duplicate_cancel_failed", "token", token, "error", err)
			continue
		}
		e.log.Infow("duplicate_orders_cancelled", "token", token)
	}
	return nil
}

// Reconcile merges authoritative positions into the ledger. The exchange
// omits flat positions, so tokens missing from its list count as zero. A
// forced reconcile overwrites every size; otherwise tokens with pending trades
// or a recent local fill keep their local size. Markets whose sizes changed
// get a decision pass.
func (e *Engine) Reconcile(ctx context.Context, force bool) error {
	positions, err := e.gw.GetAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile positions: %w", err)
	}

	var changed []string
	if force {
		changed = e.Positions.Overwrite(positions)
		e.metrics.ObserveReconcile("forced")
	} else {
		report := e.Positions.Reconcile(positions)
		changed = report.Updated
		if len(report.Deferred) > 0 {
			e.log.Debugw("reconcile_deferred", "tokens", report.Deferred)
		}
		e.metrics.ObserveReconcile("periodic")
	}

	if err := e.RefreshOrders(ctx); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, token := range changed {
		m, ok := e.Registry.ForToken(token)
		if !ok || seen[m.ConditionID] {
			continue
		}
		seen[m.ConditionID] = true
		e.Coordinator.Trigger(m.ConditionID)
	}
	return nil
}

// ForceReconcile asks the reconcile loop for an immediate forced reconcile.
// Requests made while one is queued are folded into it.
func (e *Engine) ForceReconcile() {
	select {
	case e.reconcileCh <- struct{}{}:
	default:
	}
}

// Run starts the reconcile and sweep loops plus any extra runners (stream
// supervisors, the API server) and blocks until ctx ends or one fails.
func (e *Engine) Run(ctx context.Context, runners ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	e.Coordinator.Bind(ctx)

	g.Go(func() error { return e.reconcileLoop(ctx) })
	g.Go(func() error { return e.sweepLoop(ctx) })
	for _, run := range runners {
		run := run
		g.Go(func() error { return run(ctx) })
	}

	err := g.Wait()
	e.Coordinator.Wait()
	return err
}

func (e *Engine) reconcileLoop(ctx context.Context) error {
	interval := e.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		force := false
		select {
		case <-ctx.Done():
			return nil
		case <-e.clock.After(interval):
		case <-e.reconcileCh:
			force = true
		}
		if err := e.Reconcile(ctx, force); err != nil {
			e.log.Warnw("reconcile_failed", "forced", force, "error", err)
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) error {
	interval := e.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.clock.After(interval):
		}
		e.SweepPending()
	}
}

// SweepPending drops pending trades older than the configured TTL.
func (e *Engine) SweepPending() []pending.Expired {
	expired := e.Pending.Sweep(e.cfg.PendingTTL, e.clock.Now())
	for _, x := range expired {
		e.log.Warnw("pending_trade_expired",
			"token", x.Key.Token,
			"side", x.Key.Side,
			"trade_id", x.ID,
			"age", x.Age,
		)
	}
	e.metrics.SetPending(e.Pending.Total())
	return expired
}

// OnMarketConnect resets every book; deltas are ignored until fresh
// snapshots arrive.
func (e *Engine) OnMarketConnect() {
	e.Books.InvalidateAll()
}

// OnUserConnect schedules a forced reconcile since fills may have been missed
// while disconnected.
func (e *Engine) OnUserConnect() {
	e.ForceReconcile()
}
