package eventstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"lendingcore/internal/events"
)

// EnvelopePublisher forwards serialized events, e.g. events.RedisPublisher.
type EnvelopePublisher interface {
	PublishEnvelope(ctx context.Context, env events.Envelope) error
}

type streamer interface {
	Stream(ctx context.Context, fromID int64, batchSize int) ([]Record, error)
	LoadCursor(ctx context.Context, name string) (int64, error)
	SaveCursor(ctx context.Context, name string, position int64) error
}

// Relay forwards the log to a publisher in log order, at least once. The
// cursor only advances past events that were published.
type Relay struct {
	store     streamer
	pub       EnvelopePublisher
	log       *zap.Logger
	name      string
	batchSize int
}

func NewRelay(store *Store, pub EnvelopePublisher, log *zap.Logger, name string, batchSize int) *Relay {
	return newRelay(store, pub, log, name, batchSize)
}

func newRelay(store streamer, pub EnvelopePublisher, log *zap.Logger, name string, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		store:     store,
		pub:       pub,
		log:       log.With(zap.String("component", "relay"), zap.String("cursor", name)),
		name:      name,
		batchSize: batchSize,
	}
}

// RunOnce relays one batch and reports how many events went out.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	from, err := r.store.LoadCursor(ctx, r.name)
	if err != nil {
		return 0, err
	}

	recs, err := r.store.Stream(ctx, from, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	last := from
	for _, rec := range recs {
		if err := r.pub.PublishEnvelope(ctx, ToEnvelope(rec)); err != nil {
			if sent > 0 {
				if serr := r.store.SaveCursor(ctx, r.name, last); serr != nil {
					r.log.Warn("save cursor after partial batch", zap.Error(serr))
				}
			}
			return sent, fmt.Errorf("relay event %d: %w", rec.ID, err)
		}
		last = rec.ID
		sent++
	}

	if sent > 0 {
		if err := r.store.SaveCursor(ctx, r.name, last); err != nil {
			return sent, err
		}
		r.log.Debug("relayed events", zap.Int("count", sent), zap.Int64("position", last))
	}
	return sent, nil
}

// ToEnvelope converts a stored record back into its wire form.
func ToEnvelope(rec Record) events.Envelope {
	return events.Envelope{
		Type:          rec.EventType,
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		OccurredAt:    rec.OccurredAt.UTC(),
		Data:          rec.EventData,
	}
}
