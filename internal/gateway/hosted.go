package gateway

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

var _ SDK = (*HostedSDK)(nil)

// SessionInfo describes an open hosted session, as shown to the UI so it can
// send the user to the gateway page.
type SessionInfo struct {
	OrderID     string    `json:"order_id"`
	Key         string    `json:"key"`
	AmountMinor int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description,omitempty"`
	CheckoutURL string    `json:"checkout_url,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
}

type hostedSession struct {
	info SessionInfo
	opts Options
}

// HostedSDK drives a hosted-checkout gateway. Opening a checkout registers a
// session; the UI relays the gateway's verdict back with Complete or Dismiss.
// Each session resolves at most once.
type HostedSDK struct {
	checkoutURL string
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*hostedSession
}

// NewHostedSDK creates a HostedSDK. checkoutURL, when set, is the gateway page
// the user is sent to; the order id is appended as the order_id query param.
func NewHostedSDK(checkoutURL string) *HostedSDK {
	return &HostedSDK{
		checkoutURL: checkoutURL,
		now:         time.Now,
		sessions:    make(map[string]*hostedSession),
	}
}

// NewCheckout implements SDK.
func (h *HostedSDK) NewCheckout(opts Options) (Checkout, error) {
	if opts.Key == "" {
		return nil, errors.New("gateway key is required")
	}
	if opts.OrderID == "" {
		return nil, errors.New("order id is required")
	}
	if opts.Handler == nil || opts.OnDismiss == nil {
		return nil, errors.New("both handler and dismiss callbacks are required")
	}
	return &hostedCheckout{sdk: h, opts: opts}, nil
}

type hostedCheckout struct {
	sdk  *HostedSDK
	opts Options
}

func (c *hostedCheckout) Open(ctx context.Context) error {
	h := c.sdk
	orderID := c.opts.OrderID

	h.mu.Lock()
	if _, ok := h.sessions[orderID]; ok {
		h.mu.Unlock()
		return ErrDuplicateSession
	}
	s := &hostedSession{
		opts: c.opts,
		info: SessionInfo{
			OrderID:     orderID,
			Key:         c.opts.Key,
			AmountMinor: c.opts.AmountMinor,
			Currency:    c.opts.Currency,
			Description: c.opts.Description,
			CheckoutURL: h.CheckoutURL(orderID),
			OpenedAt:    h.now(),
		},
	}
	h.sessions[orderID] = s
	h.mu.Unlock()

	context.AfterFunc(ctx, func() {
		h.forget(orderID, s)
	})
	return nil
}

// CheckoutURL returns the gateway page for orderID, or an empty string when
// no checkout page is configured.
func (h *HostedSDK) CheckoutURL(orderID string) string {
	if h.checkoutURL == "" {
		return ""
	}
	u, err := url.Parse(h.checkoutURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("order_id", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

// take removes and returns the open session for orderID.
func (h *HostedSDK) take(orderID string) (*hostedSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[orderID]
	if ok {
		delete(h.sessions, orderID)
	}
	return s, ok
}

// forget drops the session if it is still the one registered for orderID.
func (h *HostedSDK) forget(orderID string, s *hostedSession) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.sessions[orderID]; ok && cur == s {
		delete(h.sessions, orderID)
	}
}

// Complete resolves the session for orderID as paid.
func (h *HostedSDK) Complete(orderID, paymentID, signature string) error {
	if paymentID == "" {
		return errors.New("payment id is required")
	}
	s, ok := h.take(orderID)
	if !ok {
		return ErrUnknownSession
	}
	s.opts.Handler(Payment{
		PaymentID: paymentID,
		OrderID:   orderID,
		Signature: signature,
	})
	return nil
}

// Dismiss resolves the session for orderID as cancelled by the user.
func (h *HostedSDK) Dismiss(orderID string) error {
	s, ok := h.take(orderID)
	if !ok {
		return ErrUnknownSession
	}
	s.opts.OnDismiss()
	return nil
}

// Session returns the open session for orderID.
func (h *HostedSDK) Session(orderID string) (SessionInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[orderID]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info, true
}

// Sessions lists open sessions, oldest first.
func (h *HostedSDK) Sessions() []SessionInfo {
	h.mu.Lock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.info)
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}
