package marketplace

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
)

var _ checkout.PaymentsAPI = (*Client)(nil)

const (
	pathItemOrder  = "/payments/create-item-order"
	pathItemVerify = "/payments/verify-item-purchase"
)

type itemRef struct {
	ItemID   string        `json:"item_id"`
	ItemType cart.ItemType `json:"item_type"`
}

type cartOrderRequest struct {
	ExpectedTotal int64 `json:"expected_total"`
}

type orderResponse struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Key      string `json:"key"`
}

type verifyRequest struct {
	PaymentID string    `json:"payment_id"`
	OrderID   string    `json:"order_id"`
	Signature string    `json:"signature"`
	ItemID    string    `json:"item_id,omitempty"`
	ItemType  string    `json:"item_type,omitempty"`
	Items     []itemRef `json:"items,omitempty"`
}

// CreateOrder creates a payment order for the request target.
func (c *Client) CreateOrder(ctx context.Context, req checkout.OrderRequest) (*checkout.PaymentOrder, error) {
	if req.AttemptID != "" {
		ctx = WithIdempotencyKey(ctx, req.AttemptID)
	}

	var (
		path string
		body any
	)
	switch req.Target.Mode {
	case checkout.ModeItem:
		path = pathItemOrder
		body = itemRef{ItemID: req.Target.Item.ItemID, ItemType: req.Target.Item.ItemType}
	case checkout.ModeCart:
		path = pathCartOrder
		body = cartOrderRequest{ExpectedTotal: req.Target.Cart.Total()}
	default:
		return nil, errors.Errorf("unknown checkout mode %q", req.Target.Mode)
	}

	var resp orderResponse
	if err := c.Do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	if resp.OrderID == "" {
		return nil, &APIError{Kind: KindServer, Status: http.StatusOK, Message: "order response without order_id"}
	}

	return &checkout.PaymentOrder{
		OrderID:     resp.OrderID,
		AmountMinor: resp.Amount,
		Currency:    resp.Currency,
		GatewayKey:  resp.Key,
		Target:      req.Target,
	}, nil
}

// VerifyPurchase sends the gateway receipt for server-side signature checks.
// Success means access was granted.
func (c *Client) VerifyPurchase(ctx context.Context, r checkout.Receipt) error {
	req := verifyRequest{
		PaymentID: r.PaymentID,
		OrderID:   r.OrderID,
		Signature: r.Signature,
	}

	path := pathItemVerify
	switch r.Target.Mode {
	case checkout.ModeItem:
		req.ItemID = r.Target.Item.ItemID
		req.ItemType = string(r.Target.Item.ItemType)
	case checkout.ModeCart:
		path = pathCartVerify
		for _, it := range r.Target.Cart.Items() {
			req.Items = append(req.Items, itemRef{ItemID: it.ItemID, ItemType: it.ItemType})
		}
	default:
		return errors.Errorf("unknown checkout mode %q", r.Target.Mode)
	}

	return c.Do(ctx, http.MethodPost, path, req, nil)
}
