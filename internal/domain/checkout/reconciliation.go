package checkout

import (
	"context"
	"sort"
	"sync"
)

var _ ReconciliationLog = (*MemoryLog)(nil)

// MemoryLog is an in-process ReconciliationLog.
type MemoryLog struct {
	mu       sync.Mutex
	entries  []Reconciliation
	resolved map[string]struct{}
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{resolved: make(map[string]struct{})}
}

// Record implements ReconciliationLog. Recording the same payment twice keeps
// the first entry.
func (l *MemoryLog) Record(_ context.Context, r Reconciliation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.Receipt.PaymentID == r.Receipt.PaymentID {
			return nil
		}
	}
	l.entries = append(l.entries, r)
	return nil
}

// Pending implements ReconciliationLog. Entries are returned oldest first.
func (l *MemoryLog) Pending(_ context.Context) ([]Reconciliation, error) {
	l.mu.Lock()
	out := make([]Reconciliation, 0, len(l.entries))
	for _, e := range l.entries {
		if _, ok := l.resolved[e.ID]; !ok {
			out = append(out, e)
		}
	}
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Resolve implements ReconciliationLog.
func (l *MemoryLog) Resolve(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.resolved[id]; ok {
		return ErrReconciliationNotFound
	}
	for _, e := range l.entries {
		if e.ID == id {
			l.resolved[id] = struct{}{}
			return nil
		}
	}
	return ErrReconciliationNotFound
}
