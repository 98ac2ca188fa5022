package checkout

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/gateway"
)

var (
	// ErrGatewayUnavailable is returned when the gateway SDK could not be
	// loaded or a session could not be opened.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrVerificationFailed means the gateway reported a completed payment
	// but the backend did not confirm it. The user may have been charged.
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrConflict is returned when another attempt for the same target is
	// already in flight.
	ErrConflict = errors.New("checkout already in progress")
	// ErrEmptyCart is returned for a bulk checkout of an empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrReconciliationNotFound is returned when resolving an unknown entry.
	ErrReconciliationNotFound = errors.New("reconciliation not found")
)

// Phase names the step of the checkout that failed.
type Phase string

const (
	PhaseGateway      Phase = "gateway"
	PhaseOrder        Phase = "order"
	PhasePayment      Phase = "payment"
	PhaseVerification Phase = "verification"
)

// PhaseError reports a failed checkout attempt together with the phase it
// failed in. Order and Receipt are set when the attempt got that far.
type PhaseError struct {
	Phase   Phase
	Order   *PaymentOrder
	Receipt *Receipt
	Err     error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("checkout %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// MayHaveCharged reports whether money may have moved without access being
// granted. Such failures need reconciliation rather than a retry.
func (e *PhaseError) MayHaveCharged() bool {
	switch e.Phase {
	case PhaseVerification:
		return true
	case PhasePayment:
		return errors.Is(e.Err, gateway.ErrSessionInterrupted)
	default:
		return false
	}
}
