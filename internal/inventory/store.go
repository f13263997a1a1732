package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// CopyStore persists copies. Save and Delete are optimistic: they fail with
// ErrConcurrentUpdate when the stored version differs from c.Version, and
// Save increments c.Version on success.
type CopyStore interface {
	Create(ctx context.Context, c *Copy) error
	FindByID(ctx context.Context, id uuid.UUID) (*Copy, error)
	ExistsByBarcode(ctx context.Context, barcode Barcode) (bool, error)
	Save(ctx context.Context, c *Copy) error
	Delete(ctx context.Context, c *Copy) error
	ListByItem(ctx context.Context, itemID uuid.UUID) ([]*Copy, error)
}

// MemoryStore is a CopyStore for tests and single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	copies   map[uuid.UUID]Copy
	barcodes map[Barcode]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		copies:   make(map[uuid.UUID]Copy),
		barcodes: make(map[Barcode]uuid.UUID),
	}
}

func (m *MemoryStore) Create(_ context.Context, c *Copy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.barcodes[c.Barcode]; taken {
		return ErrDuplicateBarcode
	}
	c.Version = 1
	m.copies[c.ID] = clone(c)
	m.barcodes[c.Barcode] = c.ID
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Copy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.copies[id]
	if !ok {
		return nil, ErrCopyNotFound
	}
	out := clone(&c)
	return &out, nil
}

func (m *MemoryStore) ExistsByBarcode(_ context.Context, barcode Barcode) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.barcodes[barcode]
	return ok, nil
}

func (m *MemoryStore) Save(_ context.Context, c *Copy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.copies[c.ID]
	if !ok {
		return ErrCopyNotFound
	}
	if cur.Version != c.Version {
		return ErrConcurrentUpdate
	}
	c.Version++
	m.copies[c.ID] = clone(c)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, c *Copy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.copies[c.ID]
	if !ok {
		return ErrCopyNotFound
	}
	if cur.Version != c.Version {
		return ErrConcurrentUpdate
	}
	delete(m.copies, c.ID)
	delete(m.barcodes, cur.Barcode)
	return nil
}

func (m *MemoryStore) ListByItem(_ context.Context, itemID uuid.UUID) ([]*Copy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Copy
	for _, c := range m.copies {
		if c.ItemID == itemID {
			cp := clone(&c)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Barcode < out[j].Barcode
	})
	return out, nil
}

func clone(c *Copy) Copy {
	out := *c
	if c.ShelfLocation != nil {
		loc := *c.ShelfLocation
		out.ShelfLocation = &loc
	}
	return out
}
