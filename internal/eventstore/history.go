package eventstore

import (
	"context"

	"github.com/google/uuid"

	"lendingcore/internal/events"
)

// History returns every event recorded for an aggregate, oldest first.
func (s *Store) History(ctx context.Context, aggregateID uuid.UUID) ([]events.Envelope, error) {
	recs, err := s.Load(ctx, aggregateID, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]events.Envelope, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ToEnvelope(rec))
	}
	return out, nil
}
