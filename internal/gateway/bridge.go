package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type loadedSDK struct {
	sdk SDK
}

// Bridge loads the SDK at most once per process and runs sessions on it.
type Bridge struct {
	loader Loader
	group  singleflight.Group
	loaded atomic.Pointer[loadedSDK]
}

// NewBridge creates a Bridge that loads the SDK with loader on first use.
func NewBridge(loader Loader) *Bridge {
	return &Bridge{loader: loader}
}

// Loaded reports whether the SDK has been loaded.
func (b *Bridge) Loaded() bool {
	return b.loaded.Load() != nil
}

// EnsureLoaded loads the SDK if needed. Concurrent callers share one load.
// It returns false when loading failed; a failed load is not remembered, so a
// later call tries again. Once loaded, the SDK is never replaced.
func (b *Bridge) EnsureLoaded(ctx context.Context) bool {
	if b.Loaded() {
		return true
	}

	ch := b.group.DoChan("load", func() (any, error) {
		if l := b.loaded.Load(); l != nil {
			return l, nil
		}
		// Shared by every waiter, so one caller going away must not cancel it.
		sdk, err := b.loader.Load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		l := &loadedSDK{sdk: sdk}
		if !b.loaded.CompareAndSwap(nil, l) {
			return b.loaded.Load(), nil
		}
		return l, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			zctx.From(ctx).Warn("Gateway SDK failed to load", zap.Error(res.Err))
			return false
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// OpenSession opens a gateway checkout for cfg and waits for its single
// outcome. There is no timeout: the gateway UI owns the session. If ctx is
// done first, ErrSessionInterrupted is returned.
func (b *Bridge) OpenSession(ctx context.Context, cfg Config) (Result, error) {
	l := b.loaded.Load()
	if l == nil {
		return Result{}, ErrNotLoaded
	}

	results := make(chan Result, 1)
	var once sync.Once
	resolve := func(r Result) {
		once.Do(func() { results <- r })
	}

	co, err := l.sdk.NewCheckout(Options{
		Config: cfg,
		Handler: func(p Payment) {
			if p.OrderID == "" {
				p.OrderID = cfg.OrderID
			}
			resolve(Completed(p))
		},
		OnDismiss: func() {
			resolve(Cancelled())
		},
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "create checkout")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := co.Open(sessionCtx); err != nil {
		return Result{}, errors.Wrap(err, "open checkout")
	}

	select {
	case r := <-results:
		return r, nil
	case <-ctx.Done():
		// A callback may have raced with cancellation.
		select {
		case r := <-results:
			return r, nil
		default:
		}
		return Result{}, fmt.Errorf("%w: %w", ErrSessionInterrupted, ctx.Err())
	}
}
