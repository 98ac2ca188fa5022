package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/marketplace"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

type purchaseRequest struct {
	Item cart.Item `json:"item"`
}

type runFunc func(ctx context.Context, opts ...checkout.AttemptOption) (*checkout.Outcome, error)

// CheckoutCart starts a checkout of the whole cart and returns 202 with the
// attempt to poll.
func (h *Handler) CheckoutCart(w http.ResponseWriter, r *http.Request) {
	if !h.session.Authenticated() {
		writeError(w, r, marketplace.ErrUnauthenticated)
		return
	}
	snap := h.session.Snapshot()
	if snap.Count == 0 {
		writeError(w, r, checkout.ErrEmptyCart)
		return
	}
	target := checkout.CartTarget(cart.New(snap.Items))
	h.start(w, r, target, h.session.Checkout)
}

// PurchaseItem starts a direct purchase of one item and returns 202 with the
// attempt to poll.
func (h *Handler) PurchaseItem(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, badRequest(errors.Wrap(err, "decode body")))
		return
	}
	if err := req.Item.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if !h.session.Authenticated() {
		writeError(w, r, marketplace.ErrUnauthenticated)
		return
	}
	item := req.Item
	h.start(w, r, checkout.ItemTarget(item), func(ctx context.Context, opts ...checkout.AttemptOption) (*checkout.Outcome, error) {
		return h.session.PurchaseSingleItem(ctx, item, opts...)
	})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request, target checkout.Target, run runFunc) {
	at, ok := h.attempts.Start(target.Mode, target.Key())
	if !ok {
		writeError(w, r, errors.Wrapf(checkout.ErrConflict, "attempt %s", at.ID))
		return
	}

	lg := zctx.From(r.Context()).With(zap.String("attempt", at.ID))
	ctx := zctx.Base(h.baseCtx, lg)
	if id := httpmiddleware.RequestIDFromContext(r.Context()); id != "" {
		ctx = marketplace.WithRequestID(ctx, id)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		out, err := run(ctx, checkout.OnOrderCreated(func(o checkout.PaymentOrder) {
			h.attempts.AwaitPayment(at.ID, OrderView{
				OrderID:      o.OrderID,
				Amount:       o.AmountMinor,
				AmountString: cart.FormatMinor(o.AmountMinor),
				Currency:     o.Currency,
				GatewayKey:   o.GatewayKey,
				CheckoutURL:  h.checkoutURL(o.OrderID),
			})
		}))
		h.attempts.Finish(at.ID, out, err)

		if err != nil {
			lg.Info("Checkout attempt failed", zap.Error(err))
		}
	}()

	w.Header().Set("Location", "/api/attempts/"+at.ID)
	writeJSON(w, r, http.StatusAccepted, at)
}

func (h *Handler) checkoutURL(orderID string) string {
	if h.hosted == nil {
		return ""
	}
	return h.hosted.CheckoutURL(orderID)
}

// GetAttempt reports the progress of a checkout attempt.
func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	at, ok := h.attempts.Get(chi.URLParam(r, "attemptID"))
	if !ok {
		writeError(w, r, errAttemptNotFound)
		return
	}
	writeJSON(w, r, http.StatusOK, at)
}

// ListReconciliations lists payments that were charged but never verified.
func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	pending, err := h.recon.Pending(r.Context())
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list reconciliations"))
		return
	}
	out := make([]reconciliationView, len(pending))
	for i, rec := range pending {
		out[i] = newReconciliationView(rec)
	}
	writeJSON(w, r, http.StatusOK, out)
}

// ResolveReconciliation marks a reconciliation handled.
func (h *Handler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	if err := h.recon.Resolve(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reconciliationView struct {
	ID        string        `json:"id"`
	PaymentID string        `json:"payment_id"`
	OrderID   string        `json:"order_id"`
	Mode      checkout.Mode `json:"mode"`
	Target    string        `json:"target"`
	Items     []cart.Item   `json:"items"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Reason    string        `json:"reason"`
	CreatedAt time.Time     `json:"created_at"`
}

func newReconciliationView(r checkout.Reconciliation) reconciliationView {
	t := r.Receipt.Target
	return reconciliationView{
		ID:        r.ID,
		PaymentID: r.Receipt.PaymentID,
		OrderID:   r.Receipt.OrderID,
		Mode:      t.Mode,
		Target:    t.Key(),
		Items:     t.Items(),
		Amount:    r.AmountMinor,
		Currency:  r.Currency,
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt,
	}
}
