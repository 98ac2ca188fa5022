package marketplace

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

var _ cart.Remote = (*Client)(nil)

// Backend cart endpoints.
const (
	pathCart       = "/cart"
	pathCartAdd    = "/cart/add"
	pathCartItem   = "/cart/item/"
	pathCartOrder  = "/cart/checkout"
	pathCartVerify = "/cart/checkout/verify"
)

// cartResponse is the canonical cart as returned by every cart endpoint.
type cartResponse struct {
	Items []cart.Item `json:"items"`
	Total *int64      `json:"total,omitempty"`
}

func (r cartResponse) toCart(ctx context.Context) cart.Cart {
	c := cart.New(r.Items)
	if r.Total != nil && *r.Total != c.Total() {
		zctx.From(ctx).Warn("Server cart total differs from item sum",
			zap.Int64("server_total", *r.Total),
			zap.Int64("item_sum", c.Total()),
		)
	}
	return c
}

// GetCart fetches the canonical cart.
func (c *Client) GetCart(ctx context.Context) (cart.Cart, error) {
	var resp cartResponse
	if err := c.Do(ctx, http.MethodGet, pathCart, nil, &resp); err != nil {
		return cart.Cart{}, err
	}
	return resp.toCart(ctx), nil
}

// AddToCart adds item and returns the resulting cart.
func (c *Client) AddToCart(ctx context.Context, item cart.Item) (cart.Cart, error) {
	var resp cartResponse
	if err := c.Do(ctx, http.MethodPost, pathCartAdd, item, &resp); err != nil {
		return cart.Cart{}, err
	}
	return resp.toCart(ctx), nil
}

// RemoveFromCart removes the item and returns the resulting cart.
func (c *Client) RemoveFromCart(ctx context.Context, itemID string) (cart.Cart, error) {
	var resp cartResponse
	if err := c.Do(ctx, http.MethodDelete, pathCartItem+url.PathEscape(itemID), nil, &resp); err != nil {
		return cart.Cart{}, err
	}
	return resp.toCart(ctx), nil
}

// ClearCart empties the cart. A response without a body means an empty cart.
func (c *Client) ClearCart(ctx context.Context) (cart.Cart, error) {
	var resp cartResponse
	if err := c.Do(ctx, http.MethodDelete, pathCart, nil, &resp); err != nil {
		return cart.Cart{}, err
	}
	return resp.toCart(ctx), nil
}
