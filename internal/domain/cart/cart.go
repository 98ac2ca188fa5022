// Package cart holds the cart data model and the Store that keeps the local
// cart in step with the marketplace backend.
package cart

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ItemType enumerates the kinds of marketplace items that can be bought.
type ItemType string

const (
	// TypeTemplate is a full site or page template.
	TypeTemplate ItemType = "template"
	// TypeComponent is a single reusable UI component.
	TypeComponent ItemType = "component"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	return t == TypeTemplate || t == TypeComponent
}

// ErrInvalidItem is returned when an item fails local validation before any
// request is sent.
var ErrInvalidItem = errors.New("invalid cart item")

// Item is a single purchasable entry in a cart.
type Item struct {
	ItemID     string   `json:"item_id"`
	ItemType   ItemType `json:"item_type"`
	PriceMinor int64    `json:"price"`
	Title      string   `json:"title"`
}

// Key identifies an item within a cart. A cart holds at most one item per key.
type Key struct {
	ItemID   string
	ItemType ItemType
}

// Key returns the identity of the item.
func (i Item) Key() Key {
	return Key{ItemID: i.ItemID, ItemType: i.ItemType}
}

// String renders the key as "type:id".
func (k Key) String() string {
	return string(k.ItemType) + ":" + k.ItemID
}

// Validate checks the item constraints that do not need the backend.
func (i Item) Validate() error {
	if i.ItemID == "" {
		return errors.Wrap(ErrInvalidItem, "item id is empty")
	}
	if !i.ItemType.Valid() {
		return errors.Wrapf(ErrInvalidItem, "unknown item type %q", i.ItemType)
	}
	if i.PriceMinor < 0 {
		return errors.Wrapf(ErrInvalidItem, "negative price %d", i.PriceMinor)
	}
	return nil
}

// Cart is an immutable view of a cart. Total is always the sum of item prices;
// construct values with New so the invariant holds.
type Cart struct {
	items []Item
	total int64
}

// New builds a Cart from items, dropping repeated (id, type) pairs after the
// first occurrence and recomputing the total.
func New(items []Item) Cart {
	if len(items) == 0 {
		return Cart{}
	}
	seen := make(map[Key]struct{}, len(items))
	out := make([]Item, 0, len(items))
	var total int64
	for _, it := range items {
		if _, ok := seen[it.Key()]; ok {
			continue
		}
		seen[it.Key()] = struct{}{}
		out = append(out, it)
		total += it.PriceMinor
	}
	return Cart{items: out, total: total}
}

// Items returns a copy of the cart items.
func (c Cart) Items() []Item {
	if len(c.items) == 0 {
		return nil
	}
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Total returns the sum of item prices in minor units.
func (c Cart) Total() int64 { return c.total }

// Count returns the number of items in the cart.
func (c Cart) Count() int { return len(c.items) }

// IsEmpty reports whether the cart has no items.
func (c Cart) IsEmpty() bool { return len(c.items) == 0 }

// FormatMinor renders an amount in minor units as a major-unit decimal string
// with two fractional digits, e.g. 999 -> "9.99".
func FormatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
