// internal/inventory/implementation.go
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"lendingcore/internal/events"
)

// service implements the Service interface.
type service struct {
	store  CopyStore
	items  ItemLookup
	sink   events.Sink
	log    *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*service)

// WithItemLookup makes AcquireCopy verify the catalog item first.
func WithItemLookup(l ItemLookup) Option { return func(s *service) { s.items = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

// NewService creates a new inventory service instance.
func NewService(store CopyStore, sink events.Sink, log *zap.Logger, opts ...Option) Service {
	s := &service{
		store:  store,
		sink:   sink,
		log:    log.With(zap.String("component", "inventory")),
		tracer: otel.Tracer("lendingcore/inventory"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AcquireCopy registers a new physical copy. The barcode must be unused.
func (s *service) AcquireCopy(ctx context.Context, req AcquireCopyRequest) (*Copy, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.acquire_copy",
		trace.WithAttributes(attribute.String("item.id", req.ItemID.String())))
	defer span.End()

	barcode, err := ParseBarcode(req.Barcode)
	if err != nil {
		return nil, err
	}
	var loc *ShelfLocation
	if req.ShelfLocation != "" {
		l, err := ParseShelfLocation(req.ShelfLocation)
		if err != nil {
			return nil, err
		}
		loc = &l
	}

	if s.items != nil {
		ok, err := s.items.ItemExists(ctx, req.ItemID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, req.ItemID)
		}
	}

	taken, err := s.store.ExistsByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateBarcode, barcode)
	}

	now := s.now()
	acquiredAt := req.AcquiredAt
	if acquiredAt.IsZero() {
		acquiredAt = now
	}
	c, evs := Acquire(req.ItemID, barcode, acquiredAt, now)
	if loc != nil {
		evs = append(evs, c.Relocate(loc, now)...)
	}

	if err := s.store.Create(ctx, c); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("copy.id", c.ID.String()))
	s.log.Info("copy acquired", zap.Stringer("copy_id", c.ID), zap.String("barcode", barcode.String()))
	s.dispatch(ctx, evs)
	return c, nil
}

func (s *service) GetCopy(ctx context.Context, id uuid.UUID) (*Copy, error) {
	return s.store.FindByID(ctx, id)
}

func (s *service) ListCopiesByItem(ctx context.Context, itemID uuid.UUID, availableOnly bool) ([]*Copy, error) {
	copies, err := s.store.ListByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !availableOnly {
		return copies, nil
	}
	out := copies[:0]
	for _, c := range copies {
		if c.IsAvailable() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *service) Availability(ctx context.Context, itemID uuid.UUID) (*Availability, error) {
	copies, err := s.store.ListByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	a := Summarize(itemID, copies)
	return &a, nil
}

func (s *service) ChangeCopyStatus(ctx context.Context, id uuid.UUID, target CopyStatus, reason string) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	return s.mutate(ctx, "inventory.change_status", id, func(c *Copy, now time.Time) ([]events.Event, error) {
		return c.ChangeStatus(target, reason, now)
	})
}

func (s *service) RelocateCopy(ctx context.Context, id uuid.UUID, location *ShelfLocation) error {
	return s.mutate(ctx, "inventory.relocate", id, func(c *Copy, now time.Time) ([]events.Event, error) {
		return c.Relocate(location, now), nil
	})
}

func (s *service) MarkLoaned(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, "inventory.mark_loaned", id, func(c *Copy, now time.Time) ([]events.Event, error) {
		return c.MarkLoaned(now)
	})
}

func (s *service) MarkReturned(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, "inventory.mark_returned", id, func(c *Copy, now time.Time) ([]events.Event, error) {
		return c.MarkReturned(now)
	})
}

// RemoveCopy deletes a copy that is neither LOANED nor RESERVED.
func (s *service) RemoveCopy(ctx context.Context, id uuid.UUID, reason string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.remove_copy",
		trace.WithAttributes(attribute.String("copy.id", id.String())))
	defer span.End()

	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	evs, err := c.Remove(reason, s.now())
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, c); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			return fmt.Errorf("remove copy %s: %w", id, err)
		}
		return err
	}

	s.log.Info("copy removed", zap.Stringer("copy_id", id), zap.String("barcode", c.Barcode.String()))
	s.dispatch(ctx, evs)
	return nil
}

// mutate loads the copy, applies fn and saves it, retrying from a fresh
// read when another writer got there first. A call that produces no events
// changed nothing and is not saved.
func (s *service) mutate(ctx context.Context, op string, id uuid.UUID, fn func(*Copy, time.Time) ([]events.Event, error)) error {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("copy.id", id.String())))
	defer span.End()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 100 * time.Millisecond

	evs, err := backoff.Retry(ctx, func() ([]events.Event, error) {
		c, err := s.store.FindByID(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		evs, err := fn(c, s.now())
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if len(evs) == 0 {
			return nil, nil
		}
		if err := s.store.Save(ctx, c); err != nil {
			if errors.Is(err, ErrConcurrentUpdate) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return evs, nil
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(4))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.dispatch(ctx, evs)
	return nil
}

// dispatch hands events to the sink. State is already committed, so a sink
// failure is logged rather than returned.
func (s *service) dispatch(ctx context.Context, evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	if err := s.sink.Publish(ctx, evs...); err != nil {
		s.log.Error("publish events failed", zap.Int("count", len(evs)), zap.Error(err))
	}
}
