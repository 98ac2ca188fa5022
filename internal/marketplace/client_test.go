package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/marketplace/marketplacetest"
)

func staticToken(token string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) {
		return token, nil
	})
}

// respond starts a server answering every request with status and body.
func respond(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		if body != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestDo_Headers(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: srv.URL}, staticToken("tok"))
	ctx := WithIdempotencyKey(WithRequestID(context.Background(), "req-1"), "idem-1")

	require.NoError(t, c.Do(ctx, http.MethodPost, "/x", map[string]int{"a": 1}, nil))
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "req-1", got.Get("X-Request-ID"))
	assert.Equal(t, "idem-1", got.Get("Idempotency-Key"))
}

func TestDo_NoTokenMakesNoCall(t *testing.T) {
	srv, calls := respond(t, http.StatusOK, `{}`)

	tests := []struct {
		name   string
		tokens TokenSource
	}{
		{"Empty", staticToken("")},
		{"SourceError", TokenFunc(func(context.Context) (string, error) {
			return "", errors.New("keychain locked")
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(Config{BaseURL: srv.URL}, tt.tokens)
			err := c.Do(context.Background(), http.MethodGet, "/cart", nil, nil)

			require.ErrorIs(t, err, ErrUnauthenticated)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Zero(t, apiErr.Status)
		})
	}
	assert.Zero(t, calls.Load())
}

func TestDo_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		message string
	}{
		{"Unauthorized", http.StatusUnauthorized, `{"detail":"Not authenticated"}`, ErrUnauthenticated, "Not authenticated"},
		{"Forbidden", http.StatusForbidden, `{"message":"Not yours"}`, ErrForbidden, "Not yours"},
		{"NotFound", http.StatusNotFound, `{"detail":"Item not in cart"}`, ErrNotFound, "Item not in cart"},
		{"Conflict", http.StatusConflict, ``, ErrConflict, ""},
		{"Rejected", http.StatusUnprocessableEntity, `{"detail":"Invalid signature"}`, ErrRejected, "Invalid signature"},
		{"Server", http.StatusBadGateway, `<html>bad gateway</html>`, ErrServer, "<html>bad gateway</html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := respond(t, tt.status, tt.body)
			c := NewClient(Config{BaseURL: srv.URL}, staticToken("tok"))

			err := c.Do(context.Background(), http.MethodGet, "/cart", nil, nil)
			require.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestDo_StructuredDetail(t *testing.T) {
	srv, _ := respond(t, http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","item_id"],"msg":"field required"}]}`)
	c := NewClient(Config{BaseURL: srv.URL}, staticToken("tok"))

	err := c.Do(context.Background(), http.MethodPost, "/cart/add", struct{}{}, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindRejected, apiErr.Kind)
	assert.JSONEq(t, `[{"loc":["body","item_id"],"msg":"field required"}]`, string(apiErr.Details))
}

func TestDo_MalformedBody(t *testing.T) {
	srv, _ := respond(t, http.StatusOK, `{"items": [`)
	c := NewClient(Config{BaseURL: srv.URL}, staticToken("tok"))

	var out cartResponse
	err := c.Do(context.Background(), http.MethodGet, "/cart", nil, &out)
	require.ErrorIs(t, err, ErrServer)
}

func TestDo_Network(t *testing.T) {
	srv, _ := respond(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url}, staticToken("tok"))
	err := c.Do(context.Background(), http.MethodGet, "/cart", nil, nil)
	require.ErrorIs(t, err, ErrNetwork)
}

func TestNewClient_AddsScheme(t *testing.T) {
	c := NewClient(Config{BaseURL: "backend:8000/"}, staticToken("tok"))
	assert.Equal(t, "http://backend:8000", c.baseURL)
}

var (
	template  = cart.Item{ItemID: "tpl-1", ItemType: cart.TypeTemplate, Title: "Landing"}
	component = cart.Item{ItemID: "cmp-1", ItemType: cart.TypeComponent, Title: "Navbar"}
)

func TestCartEndpoints(t *testing.T) {
	ctx := context.Background()
	backend := marketplacetest.NewServer(t, "tok")
	backend.SetPrice(component.Key(), 1500)
	c := NewClient(Config{BaseURL: backend.URL()}, staticToken("tok"))

	got, err := c.GetCart(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())

	_, err = c.AddToCart(ctx, template)
	require.NoError(t, err)
	got, err = c.AddToCart(ctx, component)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count())
	assert.Equal(t, marketplacetest.DefaultPrice+1500, got.Total())

	got, err = c.RemoveFromCart(ctx, template.ItemID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count())

	_, err = c.RemoveFromCart(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	got, err = c.ClearCart(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
	assert.Empty(t, backend.Cart())
}

func TestPayments_ItemOrder(t *testing.T) {
	ctx := context.Background()
	backend := marketplacetest.NewServer(t, "tok")
	c := NewClient(Config{BaseURL: backend.URL()}, staticToken("tok"))

	req := checkout.OrderRequest{AttemptID: "attempt-1", Target: checkout.ItemTarget(template)}
	order, err := c.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, marketplacetest.DefaultPrice, order.AmountMinor)
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, backend.GatewayKey, order.GatewayKey)

	// Retrying with the same attempt id must not create a second order.
	again, err := c.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, again.OrderID)
	assert.Len(t, backend.Orders(), 1)

	reqs := backend.Requests()
	assert.Equal(t, "attempt-1", reqs[0].Header.Get("Idempotency-Key"))

	err = c.VerifyPurchase(ctx, checkout.Receipt{
		PaymentID: "pay_1",
		OrderID:   order.OrderID,
		Signature: marketplacetest.Signature(order.OrderID, "pay_1"),
		Target:    order.Target,
	})
	require.NoError(t, err)
	assert.True(t, backend.Orders()[0].Verified)

	var body map[string]string
	last := backend.Requests()[len(backend.Requests())-1]
	require.NoError(t, json.Unmarshal(last.Body, &body))
	assert.Equal(t, "/payments/verify-item-purchase", last.Path)
	assert.Equal(t, template.ItemID, body["item_id"])
	assert.Equal(t, string(template.ItemType), body["item_type"])
}

func TestPayments_CartOrder(t *testing.T) {
	ctx := context.Background()
	backend := marketplacetest.NewServer(t, "tok")
	backend.SeedCart(
		cart.Item{ItemID: "tpl-1", ItemType: cart.TypeTemplate, PriceMinor: 999},
		cart.Item{ItemID: "cmp-1", ItemType: cart.TypeComponent, PriceMinor: 999},
	)
	c := NewClient(Config{BaseURL: backend.URL()}, staticToken("tok"))

	snapshot, err := c.GetCart(ctx)
	require.NoError(t, err)

	order, err := c.CreateOrder(ctx, checkout.OrderRequest{AttemptID: "a-1", Target: checkout.CartTarget(snapshot)})
	require.NoError(t, err)
	assert.Equal(t, int64(1998), order.AmountMinor)

	reqs := backend.Requests()
	assert.JSONEq(t, `{"expected_total":1998}`, string(reqs[len(reqs)-1].Body))

	err = c.VerifyPurchase(ctx, checkout.Receipt{
		PaymentID: "pay_2",
		OrderID:   order.OrderID,
		Signature: "forged",
		Target:    order.Target,
	})
	require.ErrorIs(t, err, ErrRejected)
	assert.Len(t, backend.Cart(), 2, "an unverified checkout keeps the server cart")
}

func TestPayments_MissingOrderID(t *testing.T) {
	srv, _ := respond(t, http.StatusOK, `{"amount":100}`)
	c := NewClient(Config{BaseURL: srv.URL}, staticToken("tok"))

	_, err := c.CreateOrder(context.Background(), checkout.OrderRequest{Target: checkout.ItemTarget(template)})
	require.ErrorIs(t, err, ErrServer)
}
