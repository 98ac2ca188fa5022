// Package gateway bridges the callback-style payment gateway SDK into a
// single awaitable session result.
package gateway

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrNotLoaded is returned when a session is opened before the SDK was
	// loaded.
	ErrNotLoaded = errors.New("gateway sdk not loaded")
	// ErrSessionInterrupted is returned when the caller stopped waiting on an
	// open session. The gateway outcome is unknown.
	ErrSessionInterrupted = errors.New("gateway session interrupted")
	// ErrUnknownSession is returned when a callback targets a session that is
	// not open (never opened, or already resolved).
	ErrUnknownSession = errors.New("unknown gateway session")
	// ErrDuplicateSession is returned when a second session is opened for an
	// order that already has one.
	ErrDuplicateSession = errors.New("gateway session already open")
)

// Config describes one payment session.
type Config struct {
	Key         string
	OrderID     string
	AmountMinor int64
	Currency    string
	Description string
}

// Payment is what the gateway hands back on success.
type Payment struct {
	PaymentID string
	OrderID   string
	Signature string
}

// SessionStatus tags a Result.
type SessionStatus string

const (
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
)

// Result is the single resolution of a gateway session. Payment is set only
// when Status is StatusCompleted.
type Result struct {
	Status  SessionStatus
	Payment Payment
}

// Completed builds a completed Result.
func Completed(p Payment) Result {
	return Result{Status: StatusCompleted, Payment: p}
}

// Cancelled builds a cancelled Result.
func Cancelled() Result {
	return Result{Status: StatusCancelled}
}

// Options are the constructor options of a gateway checkout. Handler runs
// when the payment succeeds and OnDismiss when the user closes the gateway.
type Options struct {
	Config
	Handler   func(Payment)
	OnDismiss func()
}

// Checkout is a constructed, not yet opened, gateway checkout.
type Checkout interface {
	// Open shows the gateway to the user. It returns once the gateway is
	// displayed; the outcome arrives through the Options callbacks. The
	// session is abandoned when ctx is done.
	Open(ctx context.Context) error
}

// SDK is the loaded gateway library.
type SDK interface {
	NewCheckout(opts Options) (Checkout, error)
}

// Loader loads the gateway SDK.
type Loader interface {
	Load(ctx context.Context) (SDK, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (SDK, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (SDK, error) { return f(ctx) }
