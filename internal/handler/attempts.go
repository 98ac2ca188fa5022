package handler

import (
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
)

// AttemptStatus is the progress of a background checkout attempt.
type AttemptStatus string

const (
	AttemptPending         AttemptStatus = "pending"
	AttemptAwaitingPayment AttemptStatus = "awaiting_payment"
	AttemptGranted         AttemptStatus = "granted"
	AttemptAborted         AttemptStatus = "aborted"
	AttemptFailed          AttemptStatus = "failed"
)

// Done reports whether the attempt reached a final status.
func (s AttemptStatus) Done() bool {
	switch s {
	case AttemptGranted, AttemptAborted, AttemptFailed:
		return true
	default:
		return false
	}
}

// OrderView is the gateway order shown to the UI while payment is pending.
type OrderView struct {
	OrderID      string `json:"order_id"`
	Amount       int64  `json:"amount"`
	AmountString string `json:"amount_display"`
	Currency     string `json:"currency"`
	GatewayKey   string `json:"key"`
	CheckoutURL  string `json:"checkout_url,omitempty"`
}

// Attempt is the externally visible state of one checkout attempt.
type Attempt struct {
	ID             string        `json:"id"`
	Mode           checkout.Mode `json:"mode"`
	Target         string        `json:"target"`
	Status         AttemptStatus `json:"status"`
	Order          *OrderView    `json:"order,omitempty"`
	PaymentID      string        `json:"payment_id,omitempty"`
	Phase          string        `json:"phase,omitempty"`
	Error          *ErrorBody    `json:"error,omitempty"`
	MayHaveCharged bool          `json:"may_have_charged,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Attempts tracks checkout attempts started over HTTP. Finished attempts are
// kept for retention so the UI can read the final status.
type Attempts struct {
	retention time.Duration
	now       func() time.Time

	mu    sync.Mutex
	items map[string]*Attempt
}

// NewAttempts creates a tracker. A zero retention keeps attempts forever.
func NewAttempts(retention time.Duration) *Attempts {
	return &Attempts{
		retention: retention,
		now:       time.Now,
		items:     make(map[string]*Attempt),
	}
}

// Start registers a pending attempt for target. It reports false when an
// unfinished attempt for the same target exists.
func (a *Attempts) Start(mode checkout.Mode, target string) (Attempt, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pruneLocked()
	for _, at := range a.items {
		if at.Target == target && !at.Status.Done() {
			return *at, false
		}
	}

	now := a.now()
	at := &Attempt{
		ID:        uuid.NewString(),
		Mode:      mode,
		Target:    target,
		Status:    AttemptPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.items[at.ID] = at
	return *at, true
}

// Get returns a copy of the attempt with id.
func (a *Attempts) Get(id string) (Attempt, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	at, ok := a.items[id]
	if !ok {
		return Attempt{}, false
	}
	return *at, true
}

// AwaitPayment moves a pending attempt to awaiting_payment.
func (a *Attempts) AwaitPayment(id string, order OrderView) {
	a.update(id, func(at *Attempt) {
		if at.Status != AttemptPending {
			return
		}
		at.Status = AttemptAwaitingPayment
		at.Order = &order
	})
}

// Finish records the result of the attempt.
func (a *Attempts) Finish(id string, out *checkout.Outcome, err error) {
	a.update(id, func(at *Attempt) {
		if err != nil {
			at.Status = AttemptFailed
			body := errorBody(err)
			at.Error = &body

			var pe *checkout.PhaseError
			if errors.As(err, &pe) {
				at.Phase = string(pe.Phase)
				at.MayHaveCharged = pe.MayHaveCharged()
				if pe.Receipt != nil {
					at.PaymentID = pe.Receipt.PaymentID
				}
			}
			return
		}
		if out.Granted() {
			at.Status = AttemptGranted
			if out.Receipt != nil {
				at.PaymentID = out.Receipt.PaymentID
			}
			return
		}
		at.Status = AttemptAborted
	})
}

func (a *Attempts) update(id string, fn func(*Attempt)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	at, ok := a.items[id]
	if !ok {
		return
	}
	fn(at)
	at.UpdatedAt = a.now()
}

func (a *Attempts) pruneLocked() {
	if a.retention <= 0 {
		return
	}
	cutoff := a.now().Add(-a.retention)
	for id, at := range a.items {
		if at.Status.Done() && at.UpdatedAt.Before(cutoff) {
			delete(a.items, id)
		}
	}
}
