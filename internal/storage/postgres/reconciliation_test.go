//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
)

func setupRepository(t *testing.T) *ReconciliationRepository {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("storefront"),
		tcpostgres.WithUsername("storefront"),
		tcpostgres.WithPassword("storefront"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, RunMigrations(ctx, pool))
	require.NoError(t, pool.Ping(ctx))

	return NewReconciliationRepository(pool)
}

func TestReconciliationRepository(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tpl := cart.Item{ItemID: "tpl-1", ItemType: cart.TypeTemplate, PriceMinor: 4900, Title: "Landing"}
	cmp := cart.Item{ItemID: "cmp-1", ItemType: cart.TypeComponent, PriceMinor: 999, Title: "Navbar"}

	item := checkout.Reconciliation{
		ID: "rec-item",
		Receipt: checkout.Receipt{
			PaymentID: "pay_1",
			OrderID:   "order_1",
			Signature: "sig",
			Target:    checkout.ItemTarget(tpl),
		},
		AmountMinor: 4900,
		Currency:    "INR",
		Reason:      "request rejected: Invalid payment signature",
		CreatedAt:   base.Add(time.Minute),
	}
	bulk := checkout.Reconciliation{
		ID: "rec-cart",
		Receipt: checkout.Receipt{
			PaymentID: "pay_2",
			OrderID:   "order_2",
			Target:    checkout.CartTarget(cart.New([]cart.Item{tpl, cmp})),
		},
		AmountMinor: 5899,
		Currency:    "INR",
		CreatedAt:   base,
	}

	require.NoError(t, repo.Record(ctx, item))
	require.NoError(t, repo.Record(ctx, bulk))

	dup := item
	dup.ID = "rec-dup"
	require.NoError(t, repo.Record(ctx, dup), "duplicate payment is ignored")

	pending, err := repo.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	assert.Equal(t, "rec-cart", pending[0].ID, "oldest first")
	assert.Equal(t, checkout.ModeCart, pending[0].Receipt.Target.Mode)
	assert.Equal(t, "cart", pending[0].Receipt.Target.Key())
	assert.Len(t, pending[0].Receipt.Target.Items(), 2)

	got := pending[1]
	assert.Equal(t, "rec-item", got.ID)
	assert.Equal(t, "pay_1", got.Receipt.PaymentID)
	assert.Equal(t, "order_1", got.Receipt.OrderID)
	assert.Equal(t, "sig", got.Receipt.Signature)
	assert.Equal(t, "item:template:tpl-1", got.Receipt.Target.Key())
	assert.Equal(t, []cart.Item{tpl}, got.Receipt.Target.Items())
	assert.Equal(t, int64(4900), got.AmountMinor)
	assert.Equal(t, "INR", got.Currency)
	assert.True(t, base.Add(time.Minute).Equal(got.CreatedAt))

	require.NoError(t, repo.Resolve(ctx, "rec-item"))
	require.ErrorIs(t, repo.Resolve(ctx, "rec-item"), checkout.ErrReconciliationNotFound)
	require.ErrorIs(t, repo.Resolve(ctx, "missing"), checkout.ErrReconciliationNotFound)

	pending, err = repo.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "rec-cart", pending[0].ID)
}
