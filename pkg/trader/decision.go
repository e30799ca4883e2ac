package trader

import (
	"time"

	"github.com/uhyunpark/polymaker/pkg/market"
)

type Action string

const (
	ActionCreateOrder  Action = "create_order"
	ActionCancelAsset  Action = "cancel_asset"
	ActionCancelMarket Action = "cancel_market"
	ActionMerge        Action = "merge"
	ActionRiskOff      Action = "risk_off"
)

// Decision is one command a pass sent to the gateway, or a risk transition.
type Decision struct {
	ID      string      `json:"id"`
	Market  string      `json:"market"`
	Token   string      `json:"token,omitempty"`
	Action  Action      `json:"action"`
	Side    market.Side `json:"side,omitempty"`
	Price   float64     `json:"price,omitempty"`
	Size    float64     `json:"size,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	OrderID string      `json:"order_id,omitempty"`
	Time    time.Time   `json:"time"`
}

// MetricLabel folds the side into order decisions.
func (d Decision) MetricLabel() string {
	if d.Action == ActionCreateOrder && d.Side != "" {
		if d.Side == market.Buy {
			return "create_buy"
		}
		return "create_sell"
	}
	return string(d.Action)
}
