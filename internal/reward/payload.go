// Package reward issues and tracks reward claims against the XP ledger.
//
// A claim takes its uniqueness slot at insert time and only then reaches out
// for anything external (a discount code). A claim whose code generation
// fails stays pending and retryable; it is never reported issued without a
// code attached.
package reward

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reward types in the catalog. The payload JSON shape depends on the type.
const (
	TypeDiscountCode = "discount_code"
	TypeEarlyAccess  = "early_access"
	TypePhysicalItem = "physical_item"
)

// Payload is the decoded, type-specific reward body. Exactly the fields for
// the reward's type are meaningful; the rest stay zero.
type Payload struct {
	// Discount codes.
	PercentOff int    `json:"percent_off,omitempty"`
	CodePrefix string `json:"code_prefix,omitempty"`

	// Early access.
	ContentID   string `json:"content_id,omitempty"`
	WindowHours int    `json:"window_hours,omitempty"`

	// Physical items.
	SKU string `json:"sku,omitempty"`
}

// ParsePayload decodes and validates a catalog payload for the given reward
// type. Unknown fields are rejected so a typo in config fails the sync
// instead of silently shipping a zero-valued reward.
func ParsePayload(rewardType, raw string) (Payload, error) {
	var p Payload
	if raw == "" {
		raw = "{}"
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("reward payload: %w", err)
	}
	switch rewardType {
	case TypeDiscountCode:
		if p.PercentOff < 1 || p.PercentOff > 100 {
			return Payload{}, fmt.Errorf("discount_code payload: percent_off %d out of range 1-100", p.PercentOff)
		}
	case TypeEarlyAccess:
		if p.ContentID == "" {
			return Payload{}, fmt.Errorf("early_access payload: content_id is required")
		}
		if p.WindowHours < 0 {
			return Payload{}, fmt.Errorf("early_access payload: negative window_hours")
		}
	case TypePhysicalItem:
		if p.SKU == "" {
			return Payload{}, fmt.Errorf("physical_item payload: sku is required")
		}
	default:
		return Payload{}, fmt.Errorf("unknown reward type %q", rewardType)
	}
	return p, nil
}
