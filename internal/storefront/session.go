// Package storefront exposes the cart and checkout operations of one signed-in
// user to the UI layer.
package storefront

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/auth"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
)

// Orchestrator runs checkout attempts.
type Orchestrator interface {
	PurchaseItem(ctx context.Context, item cart.Item, opts ...checkout.AttemptOption) (*checkout.Outcome, error)
	CheckoutCart(ctx context.Context, c cart.Cart, opts ...checkout.AttemptOption) (*checkout.Outcome, error)
}

// Session ties the cart store, the checkout orchestrator and the owned-items
// library to the lifetime of one authenticated session.
//
// Every SignIn and SignOut starts a new generation. Checkout attempts of an
// older generation are interrupted, and whatever they still return is not
// applied to the current one.
type Session struct {
	tokens   *auth.SessionToken
	store    *cart.Store
	checkout Orchestrator

	mu      sync.RWMutex
	gen     uint64
	life    context.Context
	end     context.CancelFunc
	owned   map[cart.Key]struct{}
	lastErr error
}

// NewSession creates a signed-out Session.
func NewSession(tokens *auth.SessionToken, remote cart.Remote, orch Orchestrator, opts cart.Options) *Session {
	life, end := context.WithCancel(context.Background())
	return &Session{
		tokens:   tokens,
		store:    cart.NewStore(remote, opts),
		checkout: orch,
		life:     life,
		end:      end,
		owned:    make(map[cart.Key]struct{}),
	}
}

// SignIn starts a session with token and loads the cart.
func (s *Session) SignIn(ctx context.Context, token string) error {
	gen := s.restart(token)
	s.store.SignOut()
	return s.record(gen, s.store.SignIn(ctx))
}

// SignOut ends the session and drops all session state.
func (s *Session) SignOut() {
	s.restart("")
	s.store.SignOut()
}

// restart ends the current generation and installs token for the next one.
func (s *Session) restart(token string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.end()
	s.gen++
	s.life, s.end = context.WithCancel(context.Background())
	s.tokens.Set(token)
	s.owned = make(map[cart.Key]struct{})
	s.lastErr = nil
	return s.gen
}

func (s *Session) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// bind derives a context for a checkout attempt. It is cancelled when the
// current generation ends and pins the generation's token, so a payment that
// completes late is verified for the user who made it.
func (s *Session) bind(ctx context.Context) (context.Context, uint64, context.CancelFunc) {
	s.mu.RLock()
	gen, life := s.gen, s.life
	ctx = s.tokens.Pin(ctx)
	s.mu.RUnlock()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(life, cancel)
	return ctx, gen, func() {
		stop()
		cancel()
	}
}

// Authenticated reports whether the session has a usable token.
func (s *Session) Authenticated() bool {
	return s.tokens.Authenticated()
}

// Snapshot returns the current cart view.
func (s *Session) Snapshot() cart.Snapshot {
	return s.store.Snapshot()
}

// Subscribe streams cart snapshots, see cart.Store.Subscribe.
func (s *Session) Subscribe() (<-chan cart.Snapshot, func()) {
	return s.store.Subscribe()
}

// SyncCart re-fetches the cart from the backend.
func (s *Session) SyncCart(ctx context.Context) error {
	return s.record(s.generation(), s.store.Sync(ctx))
}

// AddToCart adds item to the cart.
func (s *Session) AddToCart(ctx context.Context, item cart.Item) error {
	return s.record(s.generation(), s.store.Add(ctx, item))
}

// RemoveFromCart removes the item with itemID from the cart.
func (s *Session) RemoveFromCart(ctx context.Context, itemID string) error {
	return s.record(s.generation(), s.store.Remove(ctx, itemID))
}

// ClearCart empties the cart.
func (s *Session) ClearCart(ctx context.Context) error {
	return s.record(s.generation(), s.store.Clear(ctx))
}

// Checkout pays for the whole cart. Items of a granted checkout become owned.
// Signing out interrupts it.
func (s *Session) Checkout(ctx context.Context, opts ...checkout.AttemptOption) (*checkout.Outcome, error) {
	ctx, gen, done := s.bind(ctx)
	defer done()

	var outcome *checkout.Outcome
	_, err := s.store.Checkout(ctx, func(ctx context.Context, c cart.Cart) (cart.Outcome, error) {
		out, err := s.checkout.CheckoutCart(ctx, c, opts...)
		if err != nil {
			return nil, err
		}
		outcome = out
		return out, nil
	})
	if errors.Is(err, cart.ErrCheckoutInProgress) {
		err = fmt.Errorf("%w: %w", checkout.ErrConflict, err)
	}
	if err != nil {
		return nil, s.record(gen, err)
	}

	if outcome.Granted() && outcome.Receipt != nil {
		s.markOwned(gen, outcome.Receipt.Target.Items()...)
	}
	return outcome, s.record(gen, nil)
}

// PurchaseSingleItem buys item directly, outside the cart. A granted purchase
// marks the item owned. Signing out interrupts it.
func (s *Session) PurchaseSingleItem(ctx context.Context, item cart.Item, opts ...checkout.AttemptOption) (*checkout.Outcome, error) {
	ctx, gen, done := s.bind(ctx)
	defer done()

	out, err := s.checkout.PurchaseItem(ctx, item, opts...)
	if err != nil {
		return nil, s.record(gen, err)
	}
	if out.Granted() {
		s.markOwned(gen, item)
	}
	return out, s.record(gen, nil)
}

// IsOwned reports whether the item was bought in this session.
func (s *Session) IsOwned(k cart.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.owned[k]
	return ok
}

// Owned lists the items bought in this session.
func (s *Session) Owned() []cart.Key {
	s.mu.RLock()
	out := make([]cart.Key, 0, len(s.owned))
	for k := range s.owned {
		out = append(out, k)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// LastError returns the error of the most recent operation, or nil if it
// succeeded.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Session) markOwned(gen uint64, items ...cart.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	for _, it := range items {
		s.owned[it.Key()] = struct{}{}
	}
}

// record stores err as the last error of generation gen and returns it.
func (s *Session) record(gen uint64, err error) error {
	s.mu.Lock()
	if gen == s.gen {
		s.lastErr = err
	}
	s.mu.Unlock()
	return err
}
