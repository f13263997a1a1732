// internal/inventory/service.go
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the inventory service.
type Service interface {
	AcquireCopy(ctx context.Context, req AcquireCopyRequest) (*Copy, error)
	GetCopy(ctx context.Context, id uuid.UUID) (*Copy, error)
	ListCopiesByItem(ctx context.Context, itemID uuid.UUID, availableOnly bool) ([]*Copy, error)
	Availability(ctx context.Context, itemID uuid.UUID) (*Availability, error)
	ChangeCopyStatus(ctx context.Context, id uuid.UUID, target CopyStatus, reason string) error
	RelocateCopy(ctx context.Context, id uuid.UUID, location *ShelfLocation) error
	RemoveCopy(ctx context.Context, id uuid.UUID, reason string) error

	// MarkLoaned and MarkReturned back the circulation gate. Both are
	// idempotent.
	MarkLoaned(ctx context.Context, id uuid.UUID) error
	MarkReturned(ctx context.Context, id uuid.UUID) error
}

// ItemLookup confirms that a catalog item exists.
type ItemLookup interface {
	ItemExists(ctx context.Context, itemID uuid.UUID) (bool, error)
}

type AcquireCopyRequest struct {
	ItemID        uuid.UUID
	Barcode       string
	ShelfLocation string
	AcquiredAt    time.Time
}
