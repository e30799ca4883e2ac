package gateway

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/polymaker/pkg/market"
)

// Call is one request recorded by the paper gateway.
type Call struct {
	Method  string
	Token   string
	Market  string
	Side    market.Side
	Price   float64
	Size    float64
	OrderID string
}

// Paper is an in-memory exchange for dry runs and tests. Orders rest until
// cancelled; nothing ever fills unless Fill is called.
type Paper struct {
	mu        sync.Mutex
	orders    map[string]market.OrderSnapshot
	positions map[string]market.PositionSnapshot
	tokens    map[string]string // token -> condition id
	calls     []Call
	failNext  error
}

func NewPaper(reg *market.Registry) *Paper {
	p := &Paper{
		orders:    make(map[string]market.OrderSnapshot),
		positions: make(map[string]market.PositionSnapshot),
		tokens:    make(map[string]string),
	}
	if reg != nil {
		for _, m := range reg.List() {
			p.tokens[m.Token1] = m.ConditionID
			p.tokens[m.Token2] = m.ConditionID
		}
	}
	return p
}

var _ Gateway = (*Paper)(nil)

// FailNext makes the next call return err.
func (p *Paper) FailNext(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

func (p *Paper) takeFailure() error {
	err := p.failNext
	p.failNext = nil
	return err
}

// Calls returns a copy of the recorded requests.
func (p *Paper) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

func (p *Paper) ResetCalls() {
	p.mu.Lock()
	p.calls = nil
	p.mu.Unlock()
}

// SetPosition seeds the authoritative position for token.
func (p *Paper) SetPosition(token string, size, avgPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size <= 0 {
		delete(p.positions, token)
		return
	}
	p.positions[token] = market.PositionSnapshot{Asset: token, Size: size, AvgPrice: avgPrice}
}

func (p *Paper) CreateOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return OrderAck{}, err
	}
	if req.Price <= 0 || req.Price >= 1 || req.Size <= 0 {
		return OrderAck{}, fmt.Errorf("invalid order %.4f x %.2f: %w", req.Price, req.Size, ErrAPIFailure)
	}

	id := uuid.NewString()
	p.orders[id] = market.OrderSnapshot{
		ID:           id,
		AssetID:      req.Token,
		Side:         req.Side,
		Price:        req.Price,
		OriginalSize: req.Size,
	}
	p.calls = append(p.calls, Call{Method: "create", Token: req.Token, Side: req.Side, Price: req.Price, Size: req.Size, OrderID: id})
	return OrderAck{OrderID: id, Status: "live"}, nil
}

func (p *Paper) CancelAllForAsset(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return err
	}
	for id, o := range p.orders {
		if o.AssetID == token {
			delete(p.orders, id)
		}
	}
	p.calls = append(p.calls, Call{Method: "cancel_asset", Token: token})
	return nil
}

func (p *Paper) CancelAllForMarket(_ context.Context, conditionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return err
	}
	for id, o := range p.orders {
		if p.tokens[o.AssetID] == conditionID {
			delete(p.orders, id)
		}
	}
	p.calls = append(p.calls, Call{Method: "cancel_market", Market: conditionID})
	return nil
}

func (p *Paper) GetAllPositions(_ context.Context) ([]market.PositionSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]market.PositionSnapshot, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (p *Paper) GetAllOrders(_ context.Context) ([]market.OrderSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]market.OrderSnapshot, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MergePositions burns equal amounts of both outcomes of a known market.
func (p *Paper) MergePositions(_ context.Context, amount *big.Int, conditionID common.Hash, _ bool) (MergeReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return MergeReceipt{}, err
	}
	shares := UnscaleAmount(amount)
	for token, cond := range p.tokens {
		if common.HexToHash(cond) != conditionID {
			continue
		}
		if pos, ok := p.positions[token]; ok {
			pos.Size -= shares
			if pos.Size <= 0 {
				delete(p.positions, token)
			} else {
				p.positions[token] = pos
			}
		}
	}
	p.calls = append(p.calls, Call{Method: "merge", Market: conditionID.Hex(), Size: shares})

	id := uuid.New()
	return MergeReceipt{TxHash: common.BytesToHash(id[:])}, nil
}
