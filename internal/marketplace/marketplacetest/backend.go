// Package marketplacetest provides an in-memory marketplace backend for
// tests.
package marketplacetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

// DefaultPrice is charged for items missing from the catalog.
const DefaultPrice int64 = 999

// Signature returns the signature the backend accepts for a payment.
func Signature(orderID, paymentID string) string {
	return "sig:" + orderID + ":" + paymentID
}

// Request is a recorded call to the backend.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Order is a payment order created by the backend.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Items    []cart.Item
	Cart     bool
	Verified bool
}

// Backend is a fake marketplace REST backend.
type Backend struct {
	// Token is the accepted bearer token.
	Token string
	// GatewayKey is returned with every order.
	GatewayKey string

	srv *httptest.Server

	mu          sync.Mutex
	catalog     map[cart.Key]int64
	items       []cart.Item
	orders      map[string]*Order
	idempotency map[string]string
	failures    map[string]failure
	requests    []Request
}

type failure struct {
	status int
	body   string
}

// NewServer starts a Backend accepting token. It is closed on test cleanup.
func NewServer(t testing.TB, token string) *Backend {
	t.Helper()

	b := &Backend{
		Token:       token,
		GatewayKey:  "rzp_test_key",
		catalog:     make(map[cart.Key]int64),
		orders:      make(map[string]*Order),
		idempotency: make(map[string]string),
		failures:    make(map[string]failure),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

// URL is the base URL of the backend.
func (b *Backend) URL() string {
	return b.srv.URL
}

// SetPrice sets the canonical price of an item.
func (b *Backend) SetPrice(k cart.Key, price int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalog[k] = price
}

// SeedCart replaces the server-side cart.
func (b *Backend) SeedCart(items ...cart.Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append([]cart.Item(nil), items...)
}

// Cart returns the server-side cart items.
func (b *Backend) Cart() []cart.Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]cart.Item(nil), b.items...)
}

// Fail makes every request to "METHOD /path" respond with status and a JSON
// detail. A zero status removes the failure.
func (b *Backend) Fail(route string, status int, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, route)
		return
	}
	body, _ := json.Marshal(map[string]string{"detail": detail})
	b.failures[route] = failure{status: status, body: string(body)}
}

// Orders returns created orders in creation order.
func (b *Backend) Orders() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Order, 0, len(b.orders))
	for i := 1; i <= len(b.orders); i++ {
		if o, ok := b.orders[orderID(i)]; ok {
			out = append(out, *o)
		}
	}
	return out
}

// Requests returns every recorded request.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// Calls counts requests to "METHOD /path". An empty route counts all.
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, r := range b.requests {
		if route == "" || r.Method+" "+r.Path == route {
			n++
		}
	}
	return n
}

func orderID(n int) string {
	return fmt.Sprintf("order_%d", n)
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		var raw json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&raw)
		body = raw
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Body:   body,
	})

	if r.Header.Get("Authorization") != "Bearer "+b.Token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		return
	}
	if f, ok := b.failures[r.Method+" "+r.URL.Path]; ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.body))
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/cart":
		b.writeCart(w)
	case r.Method == http.MethodPost && r.URL.Path == "/cart/add":
		b.addItem(w, body)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/cart/item/"):
		b.removeItem(w, strings.TrimPrefix(r.URL.Path, "/cart/item/"))
	case r.Method == http.MethodDelete && r.URL.Path == "/cart":
		b.items = nil
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && r.URL.Path == "/cart/checkout":
		b.createOrder(w, r, nil)
	case r.Method == http.MethodPost && r.URL.Path == "/payments/create-item-order":
		var ref itemRef
		if err := json.Unmarshal(body, &ref); err != nil {
			writeDetail(w, http.StatusBadRequest, "malformed body")
			return
		}
		b.createOrder(w, r, &ref)
	case r.Method == http.MethodPost && (r.URL.Path == "/cart/checkout/verify" || r.URL.Path == "/payments/verify-item-purchase"):
		b.verify(w, body)
	default:
		writeDetail(w, http.StatusNotFound, "Not Found")
	}
}

type itemRef struct {
	ItemID   string        `json:"item_id"`
	ItemType cart.ItemType `json:"item_type"`
}

func (b *Backend) price(k cart.Key) int64 {
	if p, ok := b.catalog[k]; ok {
		return p
	}
	return DefaultPrice
}

func (b *Backend) writeCart(w http.ResponseWriter) {
	items := b.items
	if items == nil {
		items = []cart.Item{}
	}
	var total int64
	for _, it := range items {
		total += it.PriceMinor
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (b *Backend) addItem(w http.ResponseWriter, body []byte) {
	var it cart.Item
	if err := json.Unmarshal(body, &it); err != nil || it.ItemID == "" || !it.ItemType.Valid() {
		writeDetail(w, http.StatusBadRequest, "invalid item")
		return
	}
	for _, cur := range b.items {
		if cur.Key() == it.Key() {
			b.writeCart(w)
			return
		}
	}
	it.PriceMinor = b.price(it.Key())
	b.items = append(b.items, it)
	b.writeCart(w)
}

func (b *Backend) removeItem(w http.ResponseWriter, id string) {
	for i, it := range b.items {
		if it.ItemID == id {
			b.items = append(b.items[:i:i], b.items[i+1:]...)
			b.writeCart(w)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Item not in cart")
}

func (b *Backend) createOrder(w http.ResponseWriter, r *http.Request, ref *itemRef) {
	key := r.Header.Get("Idempotency-Key")
	if id, ok := b.idempotency[key]; ok && key != "" {
		b.writeOrder(w, b.orders[id])
		return
	}

	o := &Order{ID: orderID(len(b.orders) + 1), Currency: "INR"}
	if ref == nil {
		if len(b.items) == 0 {
			writeDetail(w, http.StatusBadRequest, "Cart is empty")
			return
		}
		o.Cart = true
		o.Items = append([]cart.Item(nil), b.items...)
	} else {
		k := cart.Key{ItemID: ref.ItemID, ItemType: ref.ItemType}
		o.Items = []cart.Item{{ItemID: ref.ItemID, ItemType: ref.ItemType, PriceMinor: b.price(k)}}
	}
	for _, it := range o.Items {
		o.Amount += it.PriceMinor
	}
	b.orders[o.ID] = o
	if key != "" {
		b.idempotency[key] = o.ID
	}
	b.writeOrder(w, o)
}

func (b *Backend) writeOrder(w http.ResponseWriter, o *Order) {
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": o.ID,
		"amount":   o.Amount,
		"currency": o.Currency,
		"key":      b.GatewayKey,
	})
}

func (b *Backend) verify(w http.ResponseWriter, body []byte) {
	var req struct {
		PaymentID string `json:"payment_id"`
		OrderID   string `json:"order_id"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	o, ok := b.orders[req.OrderID]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Order not found")
		return
	}
	if req.Signature != Signature(req.OrderID, req.PaymentID) {
		writeDetail(w, http.StatusBadRequest, "Invalid payment signature")
		return
	}
	o.Verified = true
	if o.Cart {
		b.items = nil
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
