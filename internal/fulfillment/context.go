package fulfillment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopfront/fulfillment/internal/domain"
)

// MetadataKey is where the serialized fulfillment context rides inside the
// provider session's string-keyed metadata map.
const MetadataKey = "fulfillment_context"

// ContextVersion is bumped whenever the item shape changes, so in-flight
// sessions created before a deploy don't silently break parsing.
const ContextVersion = 1

// ErrContextInvalid means the metadata carried a context but it could not be
// parsed. Kept distinct from "no items": an unparseable context is a bug or a
// version skew, an empty item list is a semantically unusable event.
var ErrContextInvalid = errors.New("fulfillment context is not parseable")

// Context is everything the stateless webhook needs to reconstruct the order
// without re-querying the cart: the items snapshot, the owner and the totals
// computed at session-creation time.
type Context struct {
	Version     int                  `json:"version"`
	UserID      string               `json:"user_id"`
	Items       []domain.PaymentItem `json:"items"`
	TotalAmount float64              `json:"total_amount"`
	ItemsCount  int                  `json:"items_count"`
}

// EncodeMetadata merges the caller's metadata with the serialized context.
// The flat legacy keys are written alongside the versioned blob because the
// post-redirect confirmation page still reads them.
func EncodeMetadata(req *domain.PaymentSessionRequest, totalAmount float64) (map[string]string, error) {
	fc := Context{
		Version:     ContextVersion,
		UserID:      req.UserID,
		Items:       req.Items,
		TotalAmount: totalAmount,
		ItemsCount:  len(req.Items),
	}

	blob, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fulfillment context: %w", err)
	}
	itemsJSON, err := json.Marshal(req.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal items: %w", err)
	}

	meta := make(map[string]string, len(req.Metadata)+5)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta[MetadataKey] = string(blob)
	meta["userId"] = req.UserID
	meta["items"] = string(itemsJSON)
	meta["totalAmount"] = strconv.FormatFloat(totalAmount, 'f', 2, 64)
	meta["itemsCount"] = strconv.Itoa(len(req.Items))
	return meta, nil
}

// DecodeMetadata reads the context back out of webhook metadata. The
// versioned blob wins; sessions created before it existed fall back to the
// flat legacy keys.
func DecodeMetadata(meta map[string]string) (*Context, error) {
	if blob, ok := meta[MetadataKey]; ok {
		var fc Context
		if err := json.Unmarshal([]byte(blob), &fc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextInvalid, err)
		}
		if fc.Version > ContextVersion {
			return nil, fmt.Errorf("%w: unsupported version %d", ErrContextInvalid, fc.Version)
		}
		return &fc, nil
	}

	// Legacy flat keys.
	fc := Context{UserID: meta["userId"]}
	if itemsJSON, ok := meta["items"]; ok {
		if err := json.Unmarshal([]byte(itemsJSON), &fc.Items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextInvalid, err)
		}
	}
	if raw, ok := meta["totalAmount"]; ok {
		if total, err := strconv.ParseFloat(raw, 64); err == nil {
			fc.TotalAmount = total
		}
	}
	fc.ItemsCount = len(fc.Items)
	return &fc, nil
}
