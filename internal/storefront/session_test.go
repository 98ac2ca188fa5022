package storefront

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/auth"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/gateway"
	"github.com/xenking/storefront-checkout/internal/marketplace"
	"github.com/xenking/storefront-checkout/internal/marketplace/marketplacetest"
)

// --- Mock implementations ---

// autoGateway pays or dismisses every session immediately.
type autoGateway struct {
	dismiss   bool
	signature func(orderID, paymentID string) string
}

func (g *autoGateway) EnsureLoaded(context.Context) bool { return true }

func (g *autoGateway) OpenSession(_ context.Context, cfg gateway.Config) (gateway.Result, error) {
	if g.dismiss {
		return gateway.Cancelled(), nil
	}
	sign := marketplacetest.Signature
	if g.signature != nil {
		sign = g.signature
	}
	return gateway.Completed(gateway.Payment{
		PaymentID: "pay_" + cfg.OrderID,
		OrderID:   cfg.OrderID,
		Signature: sign(cfg.OrderID, "pay_"+cfg.OrderID),
	}), nil
}

// gatedGateway holds every session open until release is closed, or until
// the attempt is cancelled when interruptible is set.
type gatedGateway struct {
	interruptible bool
	opened        chan struct{}
	release       chan struct{}
}

func newGatedGateway(interruptible bool) *gatedGateway {
	return &gatedGateway{
		interruptible: interruptible,
		opened:        make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
}

func (g *gatedGateway) EnsureLoaded(context.Context) bool { return true }

func (g *gatedGateway) OpenSession(ctx context.Context, cfg gateway.Config) (gateway.Result, error) {
	g.opened <- struct{}{}
	if g.interruptible {
		select {
		case <-ctx.Done():
			return gateway.Result{}, errors.Wrap(gateway.ErrSessionInterrupted, ctx.Err().Error())
		case <-g.release:
		}
	} else {
		<-g.release
	}
	return gateway.Completed(gateway.Payment{
		PaymentID: "pay_" + cfg.OrderID,
		OrderID:   cfg.OrderID,
		Signature: marketplacetest.Signature(cfg.OrderID, "pay_"+cfg.OrderID),
	}), nil
}

type attemptResult struct {
	out *checkout.Outcome
	err error
}

func waitOpened(t *testing.T, g *gatedGateway) {
	t.Helper()
	select {
	case <-g.opened:
	case <-time.After(time.Second):
		t.Fatal("payment session was not opened")
	}
}

func waitResult(t *testing.T, done <-chan attemptResult) attemptResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(time.Second):
		t.Fatal("attempt did not return")
		return attemptResult{}
	}
}

// --- Helpers ---

const token = "session-token"

var (
	template  = cart.Item{ItemID: "tpl-1", ItemType: cart.TypeTemplate, Title: "Landing"}
	component = cart.Item{ItemID: "cmp-1", ItemType: cart.TypeComponent, Title: "Navbar"}
)

func newSession(t *testing.T, gw checkout.Gateway) (*Session, *marketplacetest.Backend) {
	t.Helper()
	backend := marketplacetest.NewServer(t, token)
	tokens := auth.NewSessionToken()
	client := marketplace.NewClient(marketplace.Config{BaseURL: backend.URL()}, tokens)
	orch := checkout.New(client, gw)
	return NewSession(tokens, client, orch, cart.Options{}), backend
}

// --- Tests ---

func TestSession_CartCheckout(t *testing.T) {
	ctx := context.Background()
	s, backend := newSession(t, &autoGateway{})

	require.NoError(t, s.SignIn(ctx, "Bearer "+token))
	require.NoError(t, s.AddToCart(ctx, template))
	require.NoError(t, s.AddToCart(ctx, component))

	snap := s.Snapshot()
	require.Equal(t, 2, snap.Count)
	require.Equal(t, int64(1998), snap.Total)

	out, err := s.Checkout(ctx)
	require.NoError(t, err)
	assert.True(t, out.Granted())

	snap = s.Snapshot()
	assert.Zero(t, snap.Count)
	assert.Zero(t, snap.Total)
	assert.Empty(t, backend.Cart())

	assert.True(t, s.IsOwned(template.Key()))
	assert.True(t, s.IsOwned(component.Key()))
	assert.Equal(t, []cart.Key{component.Key(), template.Key()}, s.Owned())
	assert.NoError(t, s.LastError())
}

func TestSession_CheckoutDismissedKeepsCart(t *testing.T) {
	ctx := context.Background()
	s, backend := newSession(t, &autoGateway{dismiss: true})

	require.NoError(t, s.SignIn(ctx, token))
	require.NoError(t, s.AddToCart(ctx, template))

	out, err := s.Checkout(ctx)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusAborted, out.Status)

	assert.Equal(t, 1, s.Snapshot().Count)
	assert.Empty(t, s.Owned())
	assert.Zero(t, backend.Calls("POST /cart/checkout/verify"))
}

func TestSession_CheckoutVerificationFailed(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t, &autoGateway{signature: func(string, string) string { return "forged" }})

	require.NoError(t, s.SignIn(ctx, token))
	require.NoError(t, s.AddToCart(ctx, template))

	_, err := s.Checkout(ctx)
	require.ErrorIs(t, err, checkout.ErrVerificationFailed)
	require.ErrorIs(t, err, marketplace.ErrRejected)
	assert.ErrorIs(t, s.LastError(), checkout.ErrVerificationFailed)

	snap := s.Snapshot()
	assert.Equal(t, cart.StateError, snap.State)
	assert.Equal(t, 1, snap.Count, "cart is kept for the retry")
	assert.False(t, s.IsOwned(template.Key()))
}

func TestSession_PurchaseSingleItem(t *testing.T) {
	ctx := context.Background()
	s, backend := newSession(t, &autoGateway{})
	backend.SetPrice(template.Key(), 4900)

	require.NoError(t, s.SignIn(ctx, token))
	require.NoError(t, s.AddToCart(ctx, component))

	out, err := s.PurchaseSingleItem(ctx, template)
	require.NoError(t, err)
	assert.True(t, out.Granted())
	assert.Equal(t, int64(4900), out.Order.AmountMinor)
	assert.True(t, s.IsOwned(template.Key()))

	// Buying outside the cart leaves the cart alone.
	assert.Equal(t, 1, s.Snapshot().Count)
}

func TestSession_Unauthenticated(t *testing.T) {
	ctx := context.Background()
	s, backend := newSession(t, &autoGateway{})

	assert.False(t, s.Authenticated())
	require.ErrorIs(t, s.SyncCart(ctx), marketplace.ErrUnauthenticated)
	require.ErrorIs(t, s.AddToCart(ctx, template), marketplace.ErrUnauthenticated)

	_, err := s.PurchaseSingleItem(ctx, template)
	require.ErrorIs(t, err, marketplace.ErrUnauthenticated)

	var pe *checkout.PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, checkout.PhaseOrder, pe.Phase)

	assert.Zero(t, backend.Calls(""), "no request leaves without a token")
}

func TestSession_SignOutClearsState(t *testing.T) {
	ctx := context.Background()
	s, backend := newSession(t, &autoGateway{})
	backend.SeedCart(cart.Item{ItemID: "tpl-9", ItemType: cart.TypeTemplate, PriceMinor: 100})

	require.NoError(t, s.SignIn(ctx, token))
	_, err := s.PurchaseSingleItem(ctx, template)
	require.NoError(t, err)
	require.Equal(t, 1, s.Snapshot().Count)

	s.SignOut()

	assert.False(t, s.Authenticated())
	assert.Zero(t, s.Snapshot().Count)
	assert.Empty(t, s.Owned())
	assert.NoError(t, s.LastError())
}

func TestSession_SignOutInterruptsCartCheckout(t *testing.T) {
	ctx := context.Background()
	gw := newGatedGateway(true)
	s, backend := newSession(t, gw)

	require.NoError(t, s.SignIn(ctx, token))
	require.NoError(t, s.AddToCart(ctx, template))

	done := make(chan attemptResult, 1)
	go func() {
		out, err := s.Checkout(ctx)
		done <- attemptResult{out, err}
	}()
	waitOpened(t, gw)

	s.SignOut()

	r := waitResult(t, done)
	require.ErrorIs(t, r.err, gateway.ErrSessionInterrupted)
	assert.Nil(t, r.out)
	assert.Zero(t, backend.Calls("POST /cart/checkout/verify"))
	assert.NoError(t, s.LastError(), "the interrupted attempt belongs to the ended session")

	signInCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.SignIn(signInCtx, token), "sign in is not blocked by the interrupted checkout")
	assert.Equal(t, 1, s.Snapshot().Count)
}

func TestSession_LatePurchaseAfterSignOut(t *testing.T) {
	ctx := context.Background()
	gw := newGatedGateway(false)
	s, backend := newSession(t, gw)

	require.NoError(t, s.SignIn(ctx, token))

	done := make(chan attemptResult, 1)
	go func() {
		out, err := s.PurchaseSingleItem(ctx, template)
		done <- attemptResult{out, err}
	}()
	waitOpened(t, gw)

	s.SignOut()
	require.ErrorIs(t, s.SignIn(ctx, "other-token"), marketplace.ErrUnauthenticated)

	close(gw.release)
	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.True(t, r.out.Granted(), "the payment is still verified for the user who made it")

	var verify []marketplacetest.Request
	for _, req := range backend.Requests() {
		if req.Path == "/payments/verify-item-purchase" {
			verify = append(verify, req)
		}
	}
	require.Len(t, verify, 1)
	assert.Equal(t, "Bearer "+token, verify[0].Header.Get("Authorization"))

	assert.False(t, s.IsOwned(template.Key()), "the next session does not inherit the purchase")
	assert.Empty(t, s.Owned())
	assert.ErrorIs(t, s.LastError(), marketplace.ErrUnauthenticated)
}
