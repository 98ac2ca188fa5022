package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/gateway"
)

type completeRequest struct {
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// ListGatewaySessions lists hosted payment sessions waiting for the user.
func (h *Handler) ListGatewaySessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.hosted.Sessions())
}

// GetGatewaySession returns one open hosted session.
func (h *Handler) GetGatewaySession(w http.ResponseWriter, r *http.Request) {
	info, ok := h.hosted.Session(chi.URLParam(r, "orderID"))
	if !ok {
		writeError(w, r, gateway.ErrUnknownSession)
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

// CompleteGatewaySession relays a successful payment from the gateway page.
func (h *Handler) CompleteGatewaySession(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, badRequest(errors.Wrap(err, "decode body")))
		return
	}
	if req.PaymentID == "" {
		writeJSON(w, r, http.StatusBadRequest, badRequest(errors.New("payment_id is required")))
		return
	}
	if err := h.hosted.Complete(chi.URLParam(r, "orderID"), req.PaymentID, req.Signature); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DismissGatewaySession relays the user closing the gateway page.
func (h *Handler) DismissGatewaySession(w http.ResponseWriter, r *http.Request) {
	if err := h.hosted.Dismiss(chi.URLParam(r, "orderID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
