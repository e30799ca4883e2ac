package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/util"
)

// Relay talks to a signing relay that owns the exchange credentials and keys,
// and to the public data API for positions.
type Relay struct {
	httpClient *http.Client
	relayURL   string
	dataURL    string
	wallet     common.Address
	apiKey     string
}

type RelayConfig struct {
	RelayURL   string
	DataAPIURL string
	Wallet     common.Address
	APIKey     string
	Timeout    time.Duration
}

func NewRelay(cfg RelayConfig) *Relay {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Relay{
		httpClient: &http.Client{Timeout: timeout},
		relayURL:   strings.TrimRight(cfg.RelayURL, "/"),
		dataURL:    strings.TrimRight(cfg.DataAPIURL, "/"),
		wallet:     cfg.Wallet,
		apiKey:     cfg.APIKey,
	}
}

var _ Gateway = (*Relay)(nil)

func (r *Relay) doRequest(req *http.Request, result interface{}) error {
	if r.apiKey != "" {
		req.Header.Set("POLY_API_KEY", r.apiKey)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("API error %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), ErrAPIFailure)
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (r *Relay) send(ctx context.Context, method, reqURL string, payload, result interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return r.doRequest(req, result)
}

func (r *Relay) CreateOrder(ctx context.Context, o OrderRequest) (OrderAck, error) {
	var ack OrderAck
	if err := r.send(ctx, http.MethodPost, r.relayURL+"/order", o, &ack); err != nil {
		return OrderAck{}, fmt.Errorf("create %s order on %s: %w", o.Side, o.Token, err)
	}
	return ack, nil
}

func (r *Relay) CancelAllForAsset(ctx context.Context, token string) error {
	if err := r.send(ctx, http.MethodDelete, r.relayURL+"/orders/asset/"+url.PathEscape(token), nil, nil); err != nil {
		return fmt.Errorf("cancel orders on %s: %w", token, err)
	}
	return nil
}

func (r *Relay) CancelAllForMarket(ctx context.Context, conditionID string) error {
	if err := r.send(ctx, http.MethodDelete, r.relayURL+"/orders/market/"+url.PathEscape(conditionID), nil, nil); err != nil {
		return fmt.Errorf("cancel orders in market %s: %w", conditionID, err)
	}
	return nil
}

type positionRow struct {
	Asset    string             `json:"asset"`
	Size     util.StringFloat64 `json:"size"`
	AvgPrice util.StringFloat64 `json:"avgPrice"`
}

func (r *Relay) GetAllPositions(ctx context.Context) ([]market.PositionSnapshot, error) {
	params := url.Values{}
	params.Set("user", r.wallet.Hex())
	params.Set("sizeThreshold", "0")

	var rows []positionRow
	if err := r.send(ctx, http.MethodGet, r.dataURL+"/positions?"+params.Encode(), nil, &rows); err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	out := make([]market.PositionSnapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, market.PositionSnapshot{
			Asset:    row.Asset,
			Size:     row.Size.Float64(),
			AvgPrice: row.AvgPrice.Float64(),
		})
	}
	return out, nil
}

type orderRow struct {
	ID           string             `json:"id"`
	AssetID      string             `json:"asset_id"`
	Side         string             `json:"side"`
	Price        util.StringFloat64 `json:"price"`
	OriginalSize util.StringFloat64 `json:"original_size"`
	SizeMatched  util.StringFloat64 `json:"size_matched"`
}

func (r *Relay) GetAllOrders(ctx context.Context) ([]market.OrderSnapshot, error) {
	var rows []orderRow
	if err := r.send(ctx, http.MethodGet, r.relayURL+"/orders", nil, &rows); err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}

	out := make([]market.OrderSnapshot, 0, len(rows))
	for _, row := range rows {
		side, err := market.ParseSide(row.Side)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", row.ID, err)
		}
		out = append(out, market.OrderSnapshot{
			ID:           row.ID,
			AssetID:      row.AssetID,
			Side:         side,
			Price:        row.Price.Float64(),
			OriginalSize: row.OriginalSize.Float64(),
			SizeMatched:  row.SizeMatched.Float64(),
		})
	}
	return out, nil
}

type mergeRequest struct {
	Amount      string `json:"amount"`
	ConditionID string `json:"condition_id"`
	NegRisk     bool   `json:"neg_risk"`
}

func (r *Relay) MergePositions(ctx context.Context, amount *big.Int, conditionID common.Hash, negRisk bool) (MergeReceipt, error) {
	req := mergeRequest{Amount: amount.String(), ConditionID: conditionID.Hex(), NegRisk: negRisk}
	var receipt MergeReceipt
	if err := r.send(ctx, http.MethodPost, r.relayURL+"/merge", req, &receipt); err != nil {
		return MergeReceipt{}, fmt.Errorf("merge %s in %s: %w", amount, conditionID.Hex(), err)
	}
	return receipt, nil
}
