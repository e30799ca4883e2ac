// Package trader runs decision passes: one market at a time, re-reading the
// current book and ledgers, and issuing gateway commands only when the resting
// orders differ materially from the target quotes.
package trader

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/polymaker/pkg/book"
	"github.com/uhyunpark/polymaker/pkg/gateway"
	"github.com/uhyunpark/polymaker/pkg/ledger"
	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/metrics"
	"github.com/uhyunpark/polymaker/pkg/pricing"
	"github.com/uhyunpark/polymaker/pkg/risk"
	"github.com/uhyunpark/polymaker/pkg/util"
)

type Config struct {
	MinMergeSize      float64
	DepthPrimary      float64
	DepthFallback     float64
	BandPct           float64
	PositionCap       float64
	PriceTolerance    float64
	SizeTolerance     float64
	MaxReferenceDrift float64
	ImproveMultiplier float64
	// PassPause is how long a pass keeps the market lock after finishing.
	PassPause time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinMergeSize:      20,
		DepthPrimary:      100,
		DepthFallback:     20,
		BandPct:           0.1,
		PositionCap:       250,
		PriceTolerance:    0.005,
		SizeTolerance:     0.1,
		MaxReferenceDrift: 0.05,
		ImproveMultiplier: pricing.DefaultImproveMultiplier,
		PassPause:         2 * time.Second,
	}
}

// Deps are the shared stores a pass reads and the gateway it writes to.
type Deps struct {
	Registry   *market.Registry
	Books      *book.Store
	Positions  *ledger.Positions
	Orders     *ledger.Orders
	Risk       *risk.Manager
	Volatility *risk.VolatilityTracker
	Gateway    gateway.Gateway
	Clock      util.Clock
	Log        *zap.SugaredLogger
	Metrics    *metrics.Metrics
	// OnDecision receives every command issued by a pass. It runs under the
	// market lock and must not block.
	OnDecision func(Decision)
}

type Coordinator struct {
	cfg  Config
	deps Deps
	log  *zap.SugaredLogger

	locks Locks
	slots sync.Map // market id -> chan struct{}, capacity one

	ctxMu sync.RWMutex
	ctx   context.Context
	wg    sync.WaitGroup

	// passHook wraps every pass body; tests use it to observe overlap.
	passHook func(marketID string) func()
}

func New(cfg Config, deps Deps) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	if cfg.ImproveMultiplier <= 0 {
		cfg.ImproveMultiplier = pricing.DefaultImproveMultiplier
	}
	return &Coordinator{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log,
		ctx:  context.Background(),
	}
}

// Bind sets the context that triggered passes run under. Once it is done,
// Trigger becomes a no-op.
func (c *Coordinator) Bind(ctx context.Context) {
	c.ctxMu.Lock()
	c.ctx = ctx
	c.ctxMu.Unlock()
}

func (c *Coordinator) context() context.Context {
	c.ctxMu.RLock()
	defer c.ctxMu.RUnlock()
	return c.ctx
}

func (c *Coordinator) slot(marketID string) chan struct{} {
	if s, ok := c.slots.Load(marketID); ok {
		return s.(chan struct{})
	}
	s, _ := c.slots.LoadOrStore(marketID, make(chan struct{}, 1))
	return s.(chan struct{})
}

// Trigger schedules a pass for the market. At most one pass waits behind the
// running one; further triggers fold into it. The waiting pass reads state
// when it starts, not when it was triggered.
func (c *Coordinator) Trigger(marketID string) {
	ctx := c.context()
	if ctx.Err() != nil {
		return
	}

	slot := c.slot(marketID)
	select {
	case slot <- struct{}{}:
	default:
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		mu := c.locks.For(marketID)
		mu.Lock()
		defer mu.Unlock()

		// Free the slot before reading any state so that events arriving
		// during this pass queue exactly one follow-up.
		<-slot

		if ctx.Err() != nil {
			return
		}
		if err := c.pass(ctx, marketID); err != nil {
			c.log.Warnw("pass_failed", "market", marketID, "error", err)
		}

		if c.cfg.PassPause > 0 {
			select {
			case <-c.deps.Clock.After(c.cfg.PassPause):
			case <-ctx.Done():
			}
		}
	}()
}

// Wait blocks until every triggered pass has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// RunPass runs one pass synchronously under the market lock, without the
// trailing pause.
func (c *Coordinator) RunPass(ctx context.Context, marketID string) error {
	mu := c.locks.For(marketID)
	mu.Lock()
	defer mu.Unlock()
	return c.pass(ctx, marketID)
}
