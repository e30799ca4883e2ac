package api

import (
	"time"

	"github.com/uhyunpark/polymaker/pkg/book"
	"github.com/uhyunpark/polymaker/pkg/trader"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// MarketInfo is a market's configuration plus its current risk state.
type MarketInfo struct {
	ConditionID string  `json:"conditionId"`
	Question    string  `json:"question"`
	Token1      string  `json:"token1"`
	Token2      string  `json:"token2"`
	Answer1     string  `json:"answer1"`
	Answer2     string  `json:"answer2"`
	TickSize    float64 `json:"tickSize"`
	MinSize     float64 `json:"minSize"`
	TradeSize   float64 `json:"tradeSize"`
	MaxSize     float64 `json:"maxSize"`
	MaxSpread   float64 `json:"maxSpread"` // cents
	NegRisk     bool    `json:"negRisk"`
	ParamType   string  `json:"paramType"`
	State       string  `json:"state"` // "active" or "risk_off"
}

// BookSnapshot is the local mirror of one asset's book.
type BookSnapshot struct {
	Asset     string       `json:"asset"`
	Bids      []book.Level `json:"bids"` // Sorted high to low
	Asks      []book.Level `json:"asks"` // Sorted low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds of the last update
}

type PositionInfo struct {
	Token    string    `json:"token"`
	Market   string    `json:"market,omitempty"`
	Answer   string    `json:"answer,omitempty"`
	Size     float64   `json:"size"`
	AvgPrice float64   `json:"avgPrice"`
	Updated  time.Time `json:"updated"`
}

// OrderInfo is our resting order on one side of a token.
type OrderInfo struct {
	Token  string  `json:"token"`
	Market string  `json:"market,omitempty"`
	Side   string  `json:"side"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
}

type CooldownInfo struct {
	ConditionID string    `json:"conditionId"`
	Active      bool      `json:"active"`
	Message     string    `json:"message,omitempty"`
	Time        time.Time `json:"time,omitempty"`
	SleepTill   time.Time `json:"sleepTill,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Markets int    `json:"markets"`
	Pending int    `json:"pending"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string      `json:"type"` // "decision"
	Data interface{} `json:"data"` // Type-specific payload
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["decisions", "decisions:0x..."]
}

// DecisionUpdate is broadcast for every command the engine sends.
type DecisionUpdate struct {
	Type string          `json:"type"` // "decision"
	Data trader.Decision `json:"data"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
