package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/gateway"
	"github.com/xenking/storefront-checkout/internal/marketplace"
)

var errAttemptNotFound = errors.New("attempt not found")

// ErrorBody is the JSON error payload of every failed request.
type ErrorBody struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	reason string
}

// Ordered from most to least specific; a checkout conflict also wraps the cart
// sentinel and a verification failure may wrap a marketplace error.
var errorMappings = []errorMapping{
	{checkout.ErrConflict, http.StatusConflict, "checkout_in_progress"},
	{cart.ErrCheckoutInProgress, http.StatusConflict, "checkout_in_progress"},
	{cart.ErrSignedOut, http.StatusConflict, "signed_out"},
	{checkout.ErrVerificationFailed, http.StatusBadGateway, "verification_failed"},
	{checkout.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
	{gateway.ErrSessionInterrupted, http.StatusServiceUnavailable, "payment_interrupted"},
	{checkout.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
	{cart.ErrInvalidItem, http.StatusBadRequest, "invalid_item"},
	{checkout.ErrReconciliationNotFound, http.StatusNotFound, "not_found"},
	{gateway.ErrUnknownSession, http.StatusNotFound, "unknown_session"},
	{errAttemptNotFound, http.StatusNotFound, "not_found"},
	{marketplace.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{marketplace.ErrForbidden, http.StatusForbidden, "forbidden"},
	{marketplace.ErrNotFound, http.StatusNotFound, "not_found"},
	{marketplace.ErrConflict, http.StatusConflict, "conflict"},
	{marketplace.ErrRejected, http.StatusUnprocessableEntity, "rejected"},
	{marketplace.ErrServer, http.StatusBadGateway, "upstream_error"},
	{marketplace.ErrNetwork, http.StatusBadGateway, "upstream_unreachable"},
}

func errorBody(err error) ErrorBody {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return ErrorBody{Code: m.status, Reason: m.reason, Message: err.Error()}
		}
	}
	return ErrorBody{
		Code:    http.StatusInternalServerError,
		Reason:  "internal",
		Message: err.Error(),
	}
}

// badRequest is returned for malformed request bodies.
func badRequest(err error) ErrorBody {
	return ErrorBody{
		Code:    http.StatusBadRequest,
		Reason:  "bad_request",
		Message: err.Error(),
	}
}
