// Package eventstore is the durable, append-only log of lending events.
// Aggregate state lives in the loan and copy tables; the log is the audit
// trail and the source the relay forwards to downstream consumers.
package eventstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

//go:embed schema.sql
var schema string

// appendLockKey is the transaction-scoped advisory lock every append holds.
// Ids come from a sequence, so without it a transaction holding id N could
// commit after one holding N+1 and a reader of Stream would skip N for good.
const appendLockKey int64 = 0x6c656e64696e67

// Record is one stored event with its position in the log.
type Record struct {
	ID            int64           `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	EventType     string          `json:"event_type" db:"event_type"`
	EventData     json.RawMessage `json:"event_data" db:"event_data"`
	Metadata      Metadata        `json:"metadata" db:"metadata"`
	Version       int             `json:"version" db:"version"`
	OccurredAt    time.Time       `json:"occurred_at" db:"occurred_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Metadata is free-form context stored next to an event (correlation ids,
// the service that wrote it).
type Metadata map[string]string

func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
}

// Store provides optimistic, per-aggregate versioned appends on Postgres.
type Store struct {
	db     *sqlx.DB
	tracer trace.Tracer
	now    func() time.Time
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("lendingcore/eventstore"),
		now:    time.Now,
	}
}

// Migrate creates the event and cursor tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate event store: %w", err)
	}
	return nil
}

// Append atomically appends records with optimistic concurrency control.
// expectedVersion is the aggregate's current version; the records receive
// expectedVersion+1, expectedVersion+2, ...
func (s *Store) Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, recs []Record) error {
	ctx, span := s.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(recs)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	if len(recs) == 0 {
		return nil
	}

	// Read committed: the version read below must see the commit of the
	// writer that held the lock before us, which a serializable snapshot
	// taken at the lock statement would not.
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return fmt.Errorf("lock event log: %w", err)
	}

	var currentVersion int
	if err := tx.GetContext(ctx, &currentVersion, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, aggregateID); err != nil {
		return fmt.Errorf("query current version: %w", err)
	}

	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	createdAt := s.now().UTC()
	for i, rec := range recs {
		version := expectedVersion + i + 1
		metadataJSON, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		occurredAt := rec.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = createdAt
		}

		var eventID int64
		err = stmt.QueryRowxContext(ctx,
			aggregateID,
			aggregateType,
			rec.EventType,
			[]byte(rec.EventData),
			metadataJSON,
			version,
			occurredAt.UTC(),
			createdAt,
		).Scan(&eventID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.Int("event.version", version),
			attribute.String("event.type", rec.EventType),
		))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// Load returns the events of one aggregate in version order. toVersion <= 0
// means no upper bound.
func (s *Store) Load(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Record, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, occurred_at, created_at
		FROM events
		WHERE aggregate_id = $1
		AND version >= $2
	`
	args := []any{aggregateID, fromVersion}
	if toVersion > 0 {
		query += " AND version <= $3"
		args = append(args, toVersion)
	}
	query += " ORDER BY version ASC"

	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(recs)))
	return recs, nil
}

// CurrentVersion returns the latest version for an aggregate, 0 if it has
// no events yet.
func (s *Store) CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.current_version",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	var version int
	if err := s.db.GetContext(ctx, &version, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, aggregateID); err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}

	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

// Stream returns up to batchSize events with an id greater than fromID, in
// log order.
func (s *Store) Stream(ctx context.Context, fromID int64, batchSize int) ([]Record, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, occurred_at, created_at
		FROM events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, fromID, batchSize); err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}

	span.SetAttributes(attribute.Int("events.streamed", len(recs)))
	return recs, nil
}

// LoadCursor returns the last relayed event id for a named consumer.
func (s *Store) LoadCursor(ctx context.Context, name string) (int64, error) {
	var pos int64
	err := s.db.GetContext(ctx, &pos, `SELECT position FROM relay_cursors WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor %s: %w", name, err)
	}
	return pos, nil
}

// SaveCursor moves a consumer's cursor forward. It never moves backwards.
func (s *Store) SaveCursor(ctx context.Context, name string, position int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_cursors (name, position, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET position = EXCLUDED.position,
		    updated_at = EXCLUDED.updated_at
		WHERE relay_cursors.position < EXCLUDED.position
	`, name, position, s.now().UTC())
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", name, err)
	}
	return nil
}
