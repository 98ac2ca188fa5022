// Package handler serves the storefront companion HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/gateway"
	"github.com/xenking/storefront-checkout/internal/storefront"
)

// Deps are the collaborators of Handler.
type Deps struct {
	Session         *storefront.Session
	Hosted          *gateway.HostedSDK
	Reconciliations checkout.ReconciliationLog
	Attempts        *Attempts
}

// Handler maps HTTP requests onto the storefront session. Checkout attempts
// run in background goroutines bound to the server lifetime, not to the
// request that started them.
type Handler struct {
	session  *storefront.Session
	hosted   *gateway.HostedSDK
	recon    checkout.ReconciliationLog
	attempts *Attempts

	baseCtx context.Context
	wg      sync.WaitGroup

	streams     context.Context
	stopStreams context.CancelFunc
}

// New creates a Handler. baseCtx bounds background checkout attempts.
func New(baseCtx context.Context, deps Deps) *Handler {
	attempts := deps.Attempts
	if attempts == nil {
		attempts = NewAttempts(0)
	}
	streams, stopStreams := context.WithCancel(context.Background())
	return &Handler{
		session:  deps.Session,
		hosted:   deps.Hosted,
		recon:    deps.Reconciliations,
		attempts: attempts,
		baseCtx:  baseCtx,

		streams:     streams,
		stopStreams: stopStreams,
	}
}

// CloseStreams ends every open event stream. http.Server.Shutdown does not
// wait for them to finish on their own.
func (h *Handler) CloseStreams() {
	h.stopStreams()
}

// Wait blocks until every background checkout attempt has returned.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// Router builds the chi router of the API.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.GetSession)
		r.Post("/session", h.SignIn)
		r.Delete("/session", h.SignOut)

		r.Get("/cart", h.GetCart)
		r.Get("/cart/events", h.CartEvents)
		r.Post("/cart/items", h.AddToCart)
		r.Delete("/cart/items/{itemID}", h.RemoveFromCart)
		r.Delete("/cart", h.ClearCart)
		r.Post("/cart/checkout", h.CheckoutCart)

		r.Post("/purchases", h.PurchaseItem)
		r.Get("/attempts/{attemptID}", h.GetAttempt)
		r.Get("/owned", h.GetOwned)

		r.Get("/reconciliation", h.ListReconciliations)
		r.Post("/reconciliation/{id}/resolve", h.ResolveReconciliation)
	})

	r.Route("/gateway/sessions", func(r chi.Router) {
		r.Get("/", h.ListGatewaySessions)
		r.Get("/{orderID}", h.GetGatewaySession)
		r.Post("/{orderID}/complete", h.CompleteGatewaySession)
		r.Post("/{orderID}/dismiss", h.DismissGatewaySession)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusNotFound, ErrorBody{
			Code: http.StatusNotFound, Reason: "not_found", Message: "route not found",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusMethodNotAllowed, ErrorBody{
			Code: http.StatusMethodNotAllowed, Reason: "method_not_allowed", Message: "method not allowed",
		})
	})

	return r
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(r.Context()).Debug("Write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody(err)
	lg := zctx.From(r.Context())
	if body.Code >= http.StatusInternalServerError {
		lg.Warn("Request failed", zap.Int("status", body.Code), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", body.Code), zap.Error(err))
	}
	writeJSON(w, r, body.Code, body)
}
