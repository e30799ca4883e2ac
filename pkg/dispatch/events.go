package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/polymaker/pkg/util"
)

type wireLevel struct {
	Price util.StringFloat64 `json:"price"`
	Size  util.StringFloat64 `json:"size"`
}

type wireChange struct {
	AssetID string             `json:"asset_id"`
	Side    string             `json:"side"`
	Price   util.StringFloat64 `json:"price"`
	Size    util.StringFloat64 `json:"size"`
}

// marketEvent covers both market channel kinds. Older payloads carry the
// deltas under "changes", newer ones under "price_changes" with a per-change
// asset id.
type marketEvent struct {
	EventType    string       `json:"event_type"`
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []wireLevel  `json:"bids"`
	Asks         []wireLevel  `json:"asks"`
	Changes      []wireChange `json:"changes"`
	PriceChanges []wireChange `json:"price_changes"`
}

type makerOrder struct {
	MakerAddress  string             `json:"maker_address"`
	MatchedAmount util.StringFloat64 `json:"matched_amount"`
	Price         util.StringFloat64 `json:"price"`
	Outcome       string             `json:"outcome"`
}

type userEvent struct {
	EventType string             `json:"event_type"`
	Market    string             `json:"market"`
	AssetID   string             `json:"asset_id"`
	Side      string             `json:"side"`
	ID        string             `json:"id"`
	Status    string             `json:"status"`
	Price     util.StringFloat64 `json:"price"`
	Size      util.StringFloat64 `json:"size"`
	Outcome   string             `json:"outcome"`

	MakerOrders []makerOrder `json:"maker_orders"`

	Type         string             `json:"type"`
	OriginalSize util.StringFloat64 `json:"original_size"`
	SizeMatched  util.StringFloat64 `json:"size_matched"`
}

// splitFrame returns the elements of a frame that is either a JSON array or
// a single object. Anything else (keepalive text) yields no elements.
func splitFrame(data []byte) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		return items, nil
	case '{':
		return []json.RawMessage{json.RawMessage(data)}, nil
	}
	return nil, nil
}
