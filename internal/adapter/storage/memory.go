package storage

import (
	"context"
	"sync"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// MemorySnapshotStore keeps snapshots in process. Used when no Redis is configured.
type MemorySnapshotStore struct {
	mu    sync.Mutex
	items map[string][]domain.Item
}

var _ port.SnapshotRepository = (*MemorySnapshotStore)(nil)

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{items: make(map[string][]domain.Item)}
}

func (m *MemorySnapshotStore) Save(_ context.Context, clientID string, items []domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(items) == 0 {
		delete(m.items, clientID)
		return nil
	}
	m.items[clientID] = append([]domain.Item(nil), items...)
	return nil
}

func (m *MemorySnapshotStore) Take(_ context.Context, clientID string) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items[clientID]
	delete(m.items, clientID)
	return items, nil
}

func (m *MemorySnapshotStore) Delete(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, clientID)
	return nil
}

// MemoryCheckoutLog keeps checkout attempts in process. Used when no MySQL is configured.
type MemoryCheckoutLog struct {
	mu       sync.Mutex
	intents  map[string]domain.TransactionIntent
	outcomes map[string]domain.CommitOutcome
}

var _ port.CheckoutRepository = (*MemoryCheckoutLog)(nil)

func NewMemoryCheckoutLog() *MemoryCheckoutLog {
	return &MemoryCheckoutLog{
		intents:  make(map[string]domain.TransactionIntent),
		outcomes: make(map[string]domain.CommitOutcome),
	}
}

func (m *MemoryCheckoutLog) RecordIntent(_ context.Context, _ string, intent domain.TransactionIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.intents[intent.Token] = intent
	return nil
}

func (m *MemoryCheckoutLog) RecordOutcome(_ context.Context, outcome domain.CommitOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.outcomes[outcome.Token]; ok {
		return ErrOutcomeRecorded
	}
	m.outcomes[outcome.Token] = outcome
	return nil
}

func (m *MemoryCheckoutLog) FindOutcome(_ context.Context, token string) (*domain.CommitOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.outcomes[token]
	if !ok {
		return nil, nil
	}
	return &o, nil
}
