// Package gateway is the boundary to the exchange: order placement and
// cancellation, authoritative position and order snapshots, and collateral
// merges. Signing happens behind the relay, never in this process.
package gateway

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/polymaker/pkg/market"
)

var ErrAPIFailure = errors.New("exchange api failure")

// collateralDecimals is the fixed-point precision of outcome token amounts.
const collateralDecimals = 6

type OrderRequest struct {
	Token   string      `json:"token_id"`
	Side    market.Side `json:"side"`
	Price   float64     `json:"price"`
	Size    float64     `json:"size"`
	NegRisk bool        `json:"neg_risk"`
}

type OrderAck struct {
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
}

type MergeReceipt struct {
	TxHash common.Hash `json:"transactionHash"`
}

type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelAllForAsset(ctx context.Context, token string) error
	CancelAllForMarket(ctx context.Context, conditionID string) error
	GetAllPositions(ctx context.Context) ([]market.PositionSnapshot, error)
	GetAllOrders(ctx context.Context) ([]market.OrderSnapshot, error)
	MergePositions(ctx context.Context, amount *big.Int, conditionID common.Hash, negRisk bool) (MergeReceipt, error)
}

// ScaleAmount converts a share amount to its on-chain integer, truncating
// anything below the token precision.
func ScaleAmount(size float64) *big.Int {
	return decimal.NewFromFloat(size).Shift(collateralDecimals).Floor().BigInt()
}

// UnscaleAmount converts an on-chain integer amount back to shares.
func UnscaleAmount(raw *big.Int) float64 {
	return decimal.NewFromBigInt(raw, -collateralDecimals).InexactFloat64()
}
