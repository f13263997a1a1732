package circulation

import (
	"context"
	"sort"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// MemoryStore is a LoanStore for tests and single-process deployments. The
// active-loan index is checked and written under the same lock as the loan
// itself.
type MemoryStore struct {
	mu     sync.RWMutex
	loans  map[uuid.UUID]Loan
	active map[uuid.UUID]uuid.UUID // copy -> loan
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans:  make(map[uuid.UUID]Loan),
		active: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *MemoryStore) Create(_ context.Context, l *Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.IsActive() {
		if _, held := m.active[l.CopyID]; held {
			return ErrCopyAlreadyOnLoan
		}
		m.active[l.CopyID] = l.ID
	}
	l.Version = 1
	m.loans[l.ID] = cloneLoan(l)
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	out := cloneLoan(&l)
	return &out, nil
}

func (m *MemoryStore) FindActiveByCopyID(ctx context.Context, copyID uuid.UUID) (*Loan, error) {
	m.mu.RLock()
	id, ok := m.active[copyID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrLoanNotFound
	}
	return m.FindByID(ctx, id)
}

func (m *MemoryStore) Save(_ context.Context, l *Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.loans[l.ID]
	if !ok {
		return ErrLoanNotFound
	}
	if cur.Version != l.Version {
		return ErrConcurrentUpdate
	}
	if cur.IsActive() && !l.IsActive() {
		delete(m.active, l.CopyID)
	}
	l.Version++
	m.loans[l.ID] = cloneLoan(l)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, l *Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.loans[l.ID]
	if !ok {
		return ErrLoanNotFound
	}
	if cur.Version != l.Version {
		return ErrConcurrentUpdate
	}
	if m.active[cur.CopyID] == cur.ID {
		delete(m.active, cur.CopyID)
	}
	delete(m.loans, l.ID)
	return nil
}

func (m *MemoryStore) ListByBorrower(_ context.Context, borrowerID uuid.UUID) ([]*Loan, error) {
	return m.list(0, func(l *Loan) bool { return l.BorrowerID == borrowerID }), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status LoanStatus) ([]*Loan, error) {
	return m.list(0, func(l *Loan) bool { return l.Status == status }), nil
}

func (m *MemoryStore) ListOpenDueBefore(_ context.Context, day civil.Date, limit int) ([]*Loan, error) {
	return m.list(limit, func(l *Loan) bool {
		return l.Status == StatusOpen && l.DueDate.Date().Before(day)
	}), nil
}

func (m *MemoryStore) ListPendingCopySync(_ context.Context, maxAttempts, limit int) ([]*Loan, error) {
	return m.list(limit, func(l *Loan) bool {
		return l.CopySync.Pending() && (maxAttempts <= 0 || l.SyncAttempts < maxAttempts)
	}), nil
}

// list returns matching loans oldest first. limit <= 0 means no limit.
func (m *MemoryStore) list(limit int, match func(*Loan) bool) []*Loan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Loan
	for _, l := range m.loans {
		if match(&l) {
			cp := cloneLoan(&l)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
