// Package checkout sequences order creation, the gateway session and purchase
// verification into a single purchase operation.
package checkout

import (
	"context"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/gateway"
)

// Mode distinguishes single-item purchases from whole-cart checkouts.
type Mode string

const (
	ModeItem Mode = "item"
	ModeCart Mode = "cart"
)

// Target is what a checkout attempt pays for: one item, or a cart snapshot.
type Target struct {
	Mode Mode
	Item cart.Item
	Cart cart.Cart
}

// ItemTarget targets a single item.
func ItemTarget(item cart.Item) Target {
	return Target{Mode: ModeItem, Item: item}
}

// CartTarget targets a cart snapshot.
func CartTarget(c cart.Cart) Target {
	return Target{Mode: ModeCart, Cart: c}
}

// Key identifies the target for the in-flight guard. All cart checkouts of one
// session share a key.
func (t Target) Key() string {
	if t.Mode == ModeCart {
		return string(ModeCart)
	}
	return string(ModeItem) + ":" + t.Item.Key().String()
}

// AmountMinor is the locally expected charge for the target.
func (t Target) AmountMinor() int64 {
	if t.Mode == ModeCart {
		return t.Cart.Total()
	}
	return t.Item.PriceMinor
}

// Items lists the items covered by the target.
func (t Target) Items() []cart.Item {
	if t.Mode == ModeCart {
		return t.Cart.Items()
	}
	return []cart.Item{t.Item}
}

// OrderRequest asks the backend for a payment order.
type OrderRequest struct {
	// AttemptID is unique per checkout attempt and lets the backend drop a
	// resubmitted request.
	AttemptID string
	Target    Target
}

// PaymentOrder is a single-use order created by the backend for one attempt.
type PaymentOrder struct {
	OrderID     string
	AmountMinor int64
	Currency    string
	GatewayKey  string
	Target      Target
}

// Receipt is the verification payload assembled from a completed gateway
// session.
type Receipt struct {
	PaymentID string
	OrderID   string
	Signature string
	Target    Target
}

// PaymentsAPI is the backend side of checkout.
type PaymentsAPI interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*PaymentOrder, error)
	VerifyPurchase(ctx context.Context, r Receipt) error
}

// Gateway is the payment gateway bridge.
type Gateway interface {
	EnsureLoaded(ctx context.Context) bool
	OpenSession(ctx context.Context, cfg gateway.Config) (gateway.Result, error)
}

// Status is the terminal, non-error result of an attempt.
type Status string

const (
	StatusGranted Status = "granted"
	// StatusAborted means the user dismissed the gateway; nothing was charged.
	StatusAborted Status = "aborted"
)

// Outcome is returned by a checkout attempt that did not fail.
type Outcome struct {
	Status  Status
	Order   *PaymentOrder
	Receipt *Receipt
}

// Granted reports whether access was granted.
func (o *Outcome) Granted() bool {
	return o != nil && o.Status == StatusGranted
}

// Reconciliation is a completed-but-unverified payment kept for support.
type Reconciliation struct {
	ID          string
	Receipt     Receipt
	AmountMinor int64
	Currency    string
	Reason      string
	CreatedAt   time.Time
}

// ReconciliationLog stores payments that need out-of-band resolution.
type ReconciliationLog interface {
	Record(ctx context.Context, r Reconciliation) error
	Pending(ctx context.Context) ([]Reconciliation, error)
	// Resolve marks an entry as handled. It returns
	// ErrReconciliationNotFound for unknown or already resolved ids.
	Resolve(ctx context.Context, id string) error
}
