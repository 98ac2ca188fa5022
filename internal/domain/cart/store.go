package cart

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// State is the lifecycle state of a Store.
type State string

const (
	StateEmpty    State = "empty"
	StateSynced   State = "synced"
	StateMutating State = "mutating"
	StateError    State = "error"
)

// ErrCheckoutInProgress is returned when a cart checkout is requested while
// another one is still running.
var ErrCheckoutInProgress = errors.New("cart checkout already in progress")

// ErrSignedOut is returned by a checkout whose session ended before it got
// hold of the cart.
var ErrSignedOut = errors.New("signed out")

// Remote is the backend side of the cart. Every call returns the canonical
// cart as stored by the server after the operation.
type Remote interface {
	GetCart(ctx context.Context) (Cart, error)
	AddToCart(ctx context.Context, item Item) (Cart, error)
	RemoveFromCart(ctx context.Context, itemID string) (Cart, error)
	ClearCart(ctx context.Context) (Cart, error)
}

// Outcome is the result of a bulk checkout as seen by the Store.
type Outcome interface {
	Granted() bool
}

// CheckoutFunc runs a bulk checkout of a cart snapshot.
type CheckoutFunc func(ctx context.Context, c Cart) (Outcome, error)

// Snapshot is a read-only view of the Store handed to UI readers.
type Snapshot struct {
	State State
	Items []Item
	Count int
	Total int64
	// Err is the last operation error; the cart fields still hold the last
	// known-good cart when it is set.
	Err error
}

// Options tune Store behaviour.
type Options struct {
	// ResyncAfterCheckout re-fetches the cart after a granted checkout instead
	// of resetting it locally.
	ResyncAfterCheckout bool
}

// Store owns the local cart of one authenticated session.
//
// Mutations are serialized: a second mutation waits for the first to finish
// (or for its own context to expire). Results that arrive after SignOut are
// discarded.
type Store struct {
	remote Remote
	opts   Options
	sem    *semaphore.Weighted

	mu      sync.RWMutex
	state   State
	cart    Cart
	lastErr error
	gen     uint64
	lease   *checkoutLease
	subs    map[int]chan Snapshot
	nextSub int
}

// checkoutLease holds the mutation lock for one checkout. SignOut releases it
// early, so the next session does not wait on a payment the previous user
// left open.
type checkoutLease struct {
	sem *semaphore.Weighted
	gen uint64

	mu       sync.Mutex
	held     bool
	released bool
}

func (l *checkoutLease) acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		l.sem.Release(1)
		return ErrSignedOut
	}
	l.held = true
	return nil
}

func (l *checkoutLease) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.released = true
	if l.held {
		l.held = false
		l.sem.Release(1)
	}
}

// NewStore creates an empty Store.
func NewStore(remote Remote, opts Options) *Store {
	return &Store{
		remote: remote,
		opts:   opts,
		sem:    semaphore.NewWeighted(1),
		state:  StateEmpty,
		subs:   make(map[int]chan Snapshot),
	}
}

// Snapshot returns the current view of the cart.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		State: s.state,
		Items: s.cart.Items(),
		Count: s.cart.Count(),
		Total: s.cart.Total(),
		Err:   s.lastErr,
	}
}

// Subscribe returns a channel that receives a Snapshot after every state
// change. Only the latest snapshot is kept for slow readers. The returned
// function unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// notifyLocked must be called with s.mu held for writing.
func (s *Store) notifyLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// SignIn performs the initial sync of a freshly authenticated session.
func (s *Store) SignIn(ctx context.Context) error {
	return s.Sync(ctx)
}

// Sync replaces the local cart with the server's canonical cart.
func (s *Store) Sync(ctx context.Context) error {
	return s.mutate(ctx, "sync", s.remote.GetCart)
}

// Add puts an item into the cart. Adding an item that is already present is
// not an error; the server's cart is adopted as-is either way.
func (s *Store) Add(ctx context.Context, item Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, "add", func(ctx context.Context) (Cart, error) {
		return s.remote.AddToCart(ctx, item)
	})
}

// Remove deletes the item with the given id from the cart.
func (s *Store) Remove(ctx context.Context, itemID string) error {
	if itemID == "" {
		return errors.Wrap(ErrInvalidItem, "item id is empty")
	}
	return s.mutate(ctx, "remove", func(ctx context.Context) (Cart, error) {
		return s.remote.RemoveFromCart(ctx, itemID)
	})
}

// Clear empties the cart with a single backend call.
func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, "clear", s.remote.ClearCart)
}

// SignOut drops the local cart. Any operation still in flight will not
// repopulate it, and a running checkout no longer holds the cart.
func (s *Store) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lease != nil {
		s.lease.release()
		s.lease = nil
	}
	s.gen++
	s.state = StateEmpty
	s.cart = Cart{}
	s.lastErr = nil
	s.notifyLocked()
}

func (s *Store) mutate(ctx context.Context, op string, fn func(ctx context.Context) (Cart, error)) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "wait for cart")
	}
	defer s.sem.Release(1)

	gen := s.begin()
	c, err := fn(ctx)
	if err != nil {
		zctx.From(ctx).Warn("Cart operation failed", zap.String("op", op), zap.Error(err))
		s.fail(gen, err)
		return errors.Wrap(err, op)
	}
	s.adopt(gen, c)
	return nil
}

func (s *Store) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateMutating
	s.notifyLocked()
	return s.gen
}

func (s *Store) adopt(gen uint64, c Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}
	s.cart = c
	s.state = StateSynced
	s.lastErr = nil
	s.notifyLocked()
}

func (s *Store) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}
	s.state = StateError
	s.lastErr = err
	s.notifyLocked()
}

func (s *Store) reset(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}
	s.cart = Cart{}
	s.state = StateEmpty
	s.lastErr = nil
	s.notifyLocked()
}

// restore returns the store to Synced without touching the cart.
func (s *Store) restore(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}
	s.state = StateSynced
	s.lastErr = nil
	s.notifyLocked()
}

// Checkout pays for the whole cart with run. The cart stays locked for the
// duration of the payment so that what is charged is what was shown, or until
// SignOut. On a granted outcome the cart is reset (or re-synced, see
// Options); on any other result the cart is left as it was. Results that
// arrive after SignOut are discarded.
func (s *Store) Checkout(ctx context.Context, run CheckoutFunc) (Outcome, error) {
	s.mu.Lock()
	if s.lease != nil {
		s.mu.Unlock()
		return nil, ErrCheckoutInProgress
	}
	lease := &checkoutLease{sem: s.sem, gen: s.gen}
	s.lease = lease
	s.mu.Unlock()

	defer func() {
		lease.release()
		s.mu.Lock()
		if s.lease == lease {
			s.lease = nil
		}
		s.mu.Unlock()
	}()

	if err := lease.acquire(ctx); err != nil {
		return nil, errors.Wrap(err, "wait for cart")
	}

	gen := lease.gen
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil, errors.Wrap(ErrSignedOut, "wait for cart")
	}
	snapshot := s.cart
	s.state = StateMutating
	s.notifyLocked()
	s.mu.Unlock()

	out, err := run(ctx, snapshot)
	if err != nil {
		s.fail(gen, err)
		return nil, err
	}
	if !out.Granted() {
		s.restore(gen)
		return out, nil
	}

	if !s.opts.ResyncAfterCheckout {
		s.reset(gen)
		return out, nil
	}

	c, syncErr := s.remote.GetCart(context.WithoutCancel(ctx))
	if syncErr != nil {
		zctx.From(ctx).Warn("Cart resync after checkout failed, resetting locally", zap.Error(syncErr))
		s.reset(gen)
		return out, nil
	}
	s.adopt(gen, c)
	return out, nil
}
