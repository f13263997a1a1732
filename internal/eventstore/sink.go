package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lendingcore/internal/events"
)

type appender interface {
	CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error)
	Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, recs []Record) error
}

// Sink appends published domain events to the log. Events of the same
// aggregate are appended together; a version race with another writer is
// retried against the new head.
type Sink struct {
	store    appender
	log      *zap.Logger
	source   string
	maxTries uint
}

func NewSink(store *Store, log *zap.Logger, source string) *Sink {
	return newSink(store, log, source)
}

func newSink(store appender, log *zap.Logger, source string) *Sink {
	return &Sink{
		store:    store,
		log:      log.With(zap.String("component", "eventstore-sink")),
		source:   source,
		maxTries: 5,
	}
}

func (s *Sink) Publish(ctx context.Context, evs ...events.Event) error {
	type batch struct {
		aggregateType string
		recs          []Record
	}
	var order []uuid.UUID
	batches := make(map[uuid.UUID]*batch)

	for _, ev := range evs {
		env, err := events.Seal(ev)
		if err != nil {
			return err
		}
		b, ok := batches[env.AggregateID]
		if !ok {
			b = &batch{aggregateType: env.AggregateType}
			batches[env.AggregateID] = b
			order = append(order, env.AggregateID)
		}
		b.recs = append(b.recs, Record{
			AggregateID:   env.AggregateID,
			AggregateType: env.AggregateType,
			EventType:     env.Type,
			EventData:     env.Data,
			Metadata:      Metadata{"source": s.source},
			OccurredAt:    env.OccurredAt,
		})
	}

	var errs []error
	for _, id := range order {
		b := batches[id]
		if err := s.appendWithRetry(ctx, id, b.aggregateType, b.recs); err != nil {
			s.log.Error("append events failed",
				zap.Stringer("aggregate_id", id),
				zap.Int("count", len(b.recs)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("append events for %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) appendWithRetry(ctx context.Context, id uuid.UUID, aggregateType string, recs []Record) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		version, err := s.store.CurrentVersion(ctx, id)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err = s.store.Append(ctx, id, aggregateType, version, recs)
		if errors.Is(err, ErrConcurrencyConflict) {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(s.maxTries))
	return err
}
