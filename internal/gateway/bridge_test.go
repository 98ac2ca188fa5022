package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

// scriptedSDK opens checkouts that run script with the registered callbacks.
type scriptedSDK struct {
	script func(ctx context.Context, opts Options)
	opened atomic.Int32
}

func (s *scriptedSDK) NewCheckout(opts Options) (Checkout, error) {
	return checkoutFunc(func(ctx context.Context) error {
		s.opened.Add(1)
		go s.script(ctx, opts)
		return nil
	}), nil
}

type checkoutFunc func(ctx context.Context) error

func (f checkoutFunc) Open(ctx context.Context) error { return f(ctx) }

func loaderFor(sdk SDK) (*atomic.Int32, Loader) {
	var loads atomic.Int32
	return &loads, LoaderFunc(func(context.Context) (SDK, error) {
		loads.Add(1)
		return sdk, nil
	})
}

var testConfig = Config{Key: "rzp_key", OrderID: "order_1", AmountMinor: 999, Currency: "INR"}

// --- Tests ---

func TestBridge_ConcurrentLoadsShareOne(t *testing.T) {
	release := make(chan struct{})
	var loads atomic.Int32
	b := NewBridge(LoaderFunc(func(context.Context) (SDK, error) {
		loads.Add(1)
		<-release
		return &scriptedSDK{}, nil
	}))

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = b.EnsureLoaded(context.Background())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.True(t, b.EnsureLoaded(context.Background()))
	assert.Equal(t, int32(1), loads.Load(), "loaded sdk is reused")
}

func TestBridge_FailedLoadIsRetried(t *testing.T) {
	var loads atomic.Int32
	b := NewBridge(LoaderFunc(func(context.Context) (SDK, error) {
		if loads.Add(1) == 1 {
			return nil, errors.New("script blocked")
		}
		return &scriptedSDK{}, nil
	}))

	assert.False(t, b.EnsureLoaded(context.Background()))
	assert.False(t, b.Loaded())
	assert.True(t, b.EnsureLoaded(context.Background()))
	assert.True(t, b.Loaded())
	assert.Equal(t, int32(2), loads.Load())
}

func TestBridge_LoadOutlivesCaller(t *testing.T) {
	release := make(chan struct{})
	b := NewBridge(LoaderFunc(func(ctx context.Context) (SDK, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &scriptedSDK{}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, b.EnsureLoaded(ctx))

	close(release)
	require.Eventually(t, b.Loaded, time.Second, time.Millisecond)
}

func TestBridge_OpenBeforeLoad(t *testing.T) {
	b := NewBridge(LoaderFunc(func(context.Context) (SDK, error) { return &scriptedSDK{}, nil }))
	_, err := b.OpenSession(context.Background(), testConfig)
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestBridge_OpenSession(t *testing.T) {
	tests := []struct {
		name   string
		script func(ctx context.Context, opts Options)
		want   Result
	}{
		{
			name: "Completed",
			script: func(_ context.Context, opts Options) {
				opts.Handler(Payment{PaymentID: "pay_1", Signature: "sig"})
			},
			want: Completed(Payment{PaymentID: "pay_1", OrderID: "order_1", Signature: "sig"}),
		},
		{
			name: "Cancelled",
			script: func(_ context.Context, opts Options) {
				opts.OnDismiss()
			},
			want: Cancelled(),
		},
		{
			name: "FirstOutcomeWins",
			script: func(_ context.Context, opts Options) {
				opts.OnDismiss()
				opts.Handler(Payment{PaymentID: "late"})
				opts.OnDismiss()
			},
			want: Cancelled(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, loader := loaderFor(&scriptedSDK{script: tt.script})
			b := NewBridge(loader)
			require.True(t, b.EnsureLoaded(context.Background()))

			res, err := b.OpenSession(context.Background(), testConfig)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
		})
	}
}

func TestBridge_OpenSessionInterrupted(t *testing.T) {
	sdk := &scriptedSDK{script: func(ctx context.Context, _ Options) {}}
	_, loader := loaderFor(sdk)
	b := NewBridge(loader)
	require.True(t, b.EnsureLoaded(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.OpenSession(ctx, testConfig)
	require.ErrorIs(t, err, ErrSessionInterrupted)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridge_OpenSessionWithHosted(t *testing.T) {
	hosted := NewHostedSDK("")
	_, loader := loaderFor(hosted)
	b := NewBridge(loader)
	require.True(t, b.EnsureLoaded(context.Background()))

	done := make(chan Result, 1)
	go func() {
		res, err := b.OpenSession(context.Background(), testConfig)
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool {
		_, ok := hosted.Session("order_1")
		return ok
	}, time.Second, time.Millisecond)
	require.NoError(t, hosted.Complete("order_1", "pay_9", "sig"))

	res := <-done
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "pay_9", res.Payment.PaymentID)

	_, ok := hosted.Session("order_1")
	assert.False(t, ok)
}
