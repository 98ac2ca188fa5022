package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/gateway"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReconciliationLog sets where unverified payments are recorded.
func WithReconciliationLog(l ReconciliationLog) Option {
	return func(o *Orchestrator) { o.recon = l }
}

// WithTracerProvider sets the tracer provider for attempt spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp.Tracer("checkout") }
}

// WithMeterProvider sets the meter provider for attempt counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Orchestrator) { o.meter = mp.Meter("checkout") }
}

// WithDefaultCurrency sets the currency used when the backend order carries
// none.
func WithDefaultCurrency(currency string) Option {
	return func(o *Orchestrator) {
		o.currency = currency
	}
}

// AttemptOption configures a single attempt.
type AttemptOption func(*attempt)

// OnOrderCreated registers fn to be called once the payment order exists and
// before the gateway session is opened.
func OnOrderCreated(fn func(PaymentOrder)) AttemptOption {
	return func(a *attempt) { a.onOrder = fn }
}

type attempt struct {
	id      string
	target  Target
	onOrder func(PaymentOrder)
}

// Orchestrator runs checkout attempts.
type Orchestrator struct {
	api      PaymentsAPI
	gateway  Gateway
	recon    ReconciliationLog
	guard    *Guard
	tracer   trace.Tracer
	meter    metric.Meter
	results  metric.Int64Counter
	now      func() time.Time
	currency string
}

// New creates an Orchestrator.
func New(api PaymentsAPI, gw Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:     api,
		gateway: gw,
		recon:   NewMemoryLog(),
		guard:   NewGuard(),
		tracer:  otel.GetTracerProvider().Tracer("checkout"),
		meter:   otel.GetMeterProvider().Meter("checkout"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	results, err := o.meter.Int64Counter("checkout.attempts",
		metric.WithDescription("Checkout attempts by mode and result"),
	)
	if err != nil {
		otel.Handle(err)
	}
	o.results = results
	return o
}

// PurchaseItem buys a single item.
func (o *Orchestrator) PurchaseItem(ctx context.Context, item cart.Item, opts ...AttemptOption) (*Outcome, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	return o.run(ctx, ItemTarget(item), opts)
}

// CheckoutCart buys every item of the cart snapshot c.
func (o *Orchestrator) CheckoutCart(ctx context.Context, c cart.Cart, opts ...AttemptOption) (*Outcome, error) {
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}
	return o.run(ctx, CartTarget(c), opts)
}

func (o *Orchestrator) run(ctx context.Context, t Target, opts []AttemptOption) (*Outcome, error) {
	key := t.Key()
	if !o.guard.Acquire(key) {
		o.count(ctx, t, "conflict", "")
		return nil, errors.Wrap(ErrConflict, key)
	}
	defer o.guard.Release(key)

	a := &attempt{id: uuid.New().String(), target: t}
	for _, opt := range opts {
		opt(a)
	}

	ctx, span := o.tracer.Start(ctx, "checkout."+string(t.Mode), trace.WithAttributes(
		attribute.String("checkout.attempt_id", a.id),
		attribute.String("checkout.target", key),
	))
	defer span.End()

	lg := zctx.From(ctx).With(
		zap.String("attempt_id", a.id),
		zap.String("mode", string(t.Mode)),
		zap.String("target", key),
	)
	ctx = zctx.Base(ctx, lg)

	out, err := o.attempt(ctx, a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var pe *PhaseError
		phase := ""
		if errors.As(err, &pe) {
			phase = string(pe.Phase)
		}
		o.count(ctx, t, "failed", phase)
		return nil, err
	}

	span.SetAttributes(attribute.String("checkout.status", string(out.Status)))
	o.count(ctx, t, string(out.Status), "")
	return out, nil
}

func (o *Orchestrator) attempt(ctx context.Context, a *attempt) (*Outcome, error) {
	lg := zctx.From(ctx)

	if !o.gateway.EnsureLoaded(ctx) {
		return nil, &PhaseError{Phase: PhaseGateway, Err: ErrGatewayUnavailable}
	}

	order, err := o.api.CreateOrder(ctx, OrderRequest{AttemptID: a.id, Target: a.target})
	if err != nil {
		lg.Warn("Payment order creation failed", zap.Error(err))
		return nil, &PhaseError{Phase: PhaseOrder, Err: err}
	}
	order.Target = a.target
	if order.Currency == "" {
		order.Currency = o.currency
	}
	lg = lg.With(zap.String("order_id", order.OrderID))
	ctx = zctx.Base(ctx, lg)

	if order.AmountMinor != a.target.AmountMinor() {
		lg.Warn("Order amount differs from local total",
			zap.Int64("order_amount", order.AmountMinor),
			zap.Int64("local_amount", a.target.AmountMinor()),
		)
	}

	if a.onOrder != nil {
		a.onOrder(*order)
	}

	res, err := o.gateway.OpenSession(ctx, gateway.Config{
		Key:         order.GatewayKey,
		OrderID:     order.OrderID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Description: describe(a.target),
	})
	if err != nil {
		if !errors.Is(err, gateway.ErrSessionInterrupted) {
			err = fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
		}
		lg.Warn("Gateway session failed", zap.Error(err))
		return nil, &PhaseError{Phase: PhasePayment, Order: order, Err: err}
	}

	if res.Status != gateway.StatusCompleted {
		lg.Info("Payment cancelled by user")
		return &Outcome{Status: StatusAborted, Order: order}, nil
	}

	receipt := Receipt{
		PaymentID: res.Payment.PaymentID,
		OrderID:   res.Payment.OrderID,
		Signature: res.Payment.Signature,
		Target:    a.target,
	}
	lg = lg.With(zap.String("payment_id", receipt.PaymentID))

	// The charge may have happened: from here on the caller cannot cancel.
	verifyCtx := zctx.Base(context.WithoutCancel(ctx), lg)
	if err := o.api.VerifyPurchase(verifyCtx, receipt); err != nil {
		lg.Error("Payment verification failed, reconciliation needed", zap.Error(err))
		o.reconcile(verifyCtx, order, receipt, err)
		return nil, &PhaseError{
			Phase:   PhaseVerification,
			Order:   order,
			Receipt: &receipt,
			Err:     fmt.Errorf("%w: %w", ErrVerificationFailed, err),
		}
	}

	lg.Info("Purchase verified")
	return &Outcome{Status: StatusGranted, Order: order, Receipt: &receipt}, nil
}

func (o *Orchestrator) reconcile(ctx context.Context, order *PaymentOrder, r Receipt, cause error) {
	rec := Reconciliation{
		ID:          uuid.New().String(),
		Receipt:     r,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Reason:      cause.Error(),
		CreatedAt:   o.now(),
	}
	if err := o.recon.Record(ctx, rec); err != nil {
		zctx.From(ctx).Error("Failed to record reconciliation",
			zap.String("reconciliation_id", rec.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) count(ctx context.Context, t Target, result, phase string) {
	if o.results == nil {
		return
	}
	o.results.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(t.Mode)),
		attribute.String("result", result),
		attribute.String("phase", phase),
	))
}

func describe(t Target) string {
	if t.Mode == ModeCart {
		return "Cart checkout"
	}
	if t.Item.Title != "" {
		return t.Item.Title
	}
	return t.Item.ItemID
}
