package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
)

var _ checkout.ReconciliationLog = (*ReconciliationRepository)(nil)

// ReconciliationRepository implements checkout.ReconciliationLog backed by
// PostgreSQL.
type ReconciliationRepository struct {
	pool *pgxpool.Pool
}

// NewReconciliationRepository returns a ReconciliationRepository that uses the
// given pool.
func NewReconciliationRepository(pool *pgxpool.Pool) *ReconciliationRepository {
	return &ReconciliationRepository{pool: pool}
}

const insertReconciliation = `
INSERT INTO payment_reconciliations
    (id, payment_id, order_id, signature, mode, target_key, items, amount, currency, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (payment_id) DO NOTHING`

// Record stores r. Recording the same payment twice keeps the first entry.
func (r *ReconciliationRepository) Record(ctx context.Context, rec checkout.Reconciliation) error {
	items, err := json.Marshal(rec.Receipt.Target.Items())
	if err != nil {
		return fmt.Errorf("marshaling target items: %w", err)
	}

	_, err = r.pool.Exec(ctx, insertReconciliation,
		rec.ID,
		rec.Receipt.PaymentID,
		rec.Receipt.OrderID,
		rec.Receipt.Signature,
		string(rec.Receipt.Target.Mode),
		rec.Receipt.Target.Key(),
		items,
		rec.AmountMinor,
		rec.Currency,
		rec.Reason,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting reconciliation %q: %w", rec.ID, err)
	}
	return nil
}

const selectPending = `
SELECT id, payment_id, order_id, signature, mode, items, amount, currency, reason, created_at
FROM payment_reconciliations
WHERE resolved_at IS NULL
ORDER BY created_at`

// Pending returns unresolved reconciliations, oldest first.
func (r *ReconciliationRepository) Pending(ctx context.Context) ([]checkout.Reconciliation, error) {
	rows, err := r.pool.Query(ctx, selectPending)
	if err != nil {
		return nil, fmt.Errorf("listing reconciliations: %w", err)
	}

	out, err := pgx.CollectRows(rows, scanReconciliation)
	if err != nil {
		return nil, fmt.Errorf("scanning reconciliations: %w", err)
	}
	return out, nil
}

// Resolve marks the reconciliation as handled.
func (r *ReconciliationRepository) Resolve(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payment_reconciliations SET resolved_at = now() WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("resolving reconciliation %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reconciliation %q: %w", id, checkout.ErrReconciliationNotFound)
	}
	return nil
}

func scanReconciliation(row pgx.CollectableRow) (checkout.Reconciliation, error) {
	var (
		rec   checkout.Reconciliation
		mode  string
		items []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.Receipt.PaymentID,
		&rec.Receipt.OrderID,
		&rec.Receipt.Signature,
		&mode,
		&items,
		&rec.AmountMinor,
		&rec.Currency,
		&rec.Reason,
		&rec.CreatedAt,
	)
	if err != nil {
		return rec, err
	}

	var list []cart.Item
	if err := json.Unmarshal(items, &list); err != nil {
		return rec, fmt.Errorf("decoding items of %q: %w", rec.ID, err)
	}
	rec.Receipt.Target = targetFromRow(checkout.Mode(mode), list)
	return rec, nil
}

func targetFromRow(mode checkout.Mode, items []cart.Item) checkout.Target {
	if mode == checkout.ModeItem && len(items) > 0 {
		return checkout.ItemTarget(items[0])
	}
	return checkout.CartTarget(cart.New(items))
}
