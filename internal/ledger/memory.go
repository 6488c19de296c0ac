package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store for local runs and tests.
//
// Scopes are serialized through a single writer slot; a scope stages its
// writes and applies them atomically on Commit, so readers outside the scope
// only ever see committed state.
type MemoryStore struct {
	writer   chan struct{}
	mu       sync.RWMutex
	accounts map[string]decimal.Decimal
	records  []TransferRecord
}

// NewMemoryStore returns a store holding a copy of seed.
func NewMemoryStore(seed map[string]decimal.Decimal) *MemoryStore {
	accounts := make(map[string]decimal.Decimal, len(seed))
	for id, bal := range seed {
		accounts[id] = bal
	}
	return &MemoryStore{
		writer:   make(chan struct{}, 1),
		accounts: accounts,
	}
}

func (m *MemoryStore) Balance(_ context.Context, accountID string) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bal, ok := m.accounts[accountID]
	return bal, ok, nil
}

func (m *MemoryStore) PartialTotal(_ context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, bal := range m.accounts {
		total = total.Add(bal)
	}
	return total, nil
}

func (m *MemoryStore) Records(_ context.Context) ([]TransferRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TransferRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryStore) Begin(ctx context.Context) (Scope, error) {
	select {
	case m.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memoryScope{store: m, staged: make(map[string]decimal.Decimal)}, nil
}

type memoryScope struct {
	store   *MemoryStore
	staged  map[string]decimal.Decimal
	pending []TransferRecord
	done    bool
}

func (s *memoryScope) Balance(_ context.Context, accountID string) (decimal.Decimal, bool, error) {
	if s.done {
		return decimal.Zero, false, ErrScopeDone
	}
	if bal, ok := s.staged[accountID]; ok {
		return bal, true, nil
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	bal, ok := s.store.accounts[accountID]
	return bal, ok, nil
}

func (s *memoryScope) SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) (bool, error) {
	if _, found, err := s.Balance(ctx, accountID); err != nil || !found {
		return false, err
	}
	s.staged[accountID] = balance
	return true, nil
}

func (s *memoryScope) AppendRecord(_ context.Context, rec TransferRecord) (bool, error) {
	if s.done {
		return false, ErrScopeDone
	}
	s.pending = append(s.pending, rec)
	return true, nil
}

func (s *memoryScope) Commit() error {
	if s.done {
		return ErrScopeDone
	}
	s.store.mu.Lock()
	for id, bal := range s.staged {
		s.store.accounts[id] = bal
	}
	s.store.records = append(s.store.records, s.pending...)
	s.store.mu.Unlock()
	s.finish()
	return nil
}

func (s *memoryScope) Rollback() error {
	if s.done {
		return ErrScopeDone
	}
	s.finish()
	return nil
}

func (s *memoryScope) finish() {
	s.done = true
	s.staged = nil
	s.pending = nil
	<-s.store.writer
}
