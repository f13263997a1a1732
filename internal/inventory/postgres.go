package inventory

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// PostgresStore is the CopyStore backed by the copies table.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate copies: %w", err)
	}
	return nil
}

type copyRow struct {
	ID            uuid.UUID      `db:"id"`
	ItemID        uuid.UUID      `db:"item_id"`
	Barcode       string         `db:"barcode"`
	ShelfLocation sql.NullString `db:"shelf_location"`
	Status        string         `db:"status"`
	AcquiredAt    time.Time      `db:"acquired_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	Version       int            `db:"version"`
}

func toRow(c *Copy) copyRow {
	row := copyRow{
		ID:         c.ID,
		ItemID:     c.ItemID,
		Barcode:    c.Barcode.String(),
		Status:     c.Status.String(),
		AcquiredAt: c.AcquiredAt.UTC(),
		CreatedAt:  c.CreatedAt.UTC(),
		UpdatedAt:  c.UpdatedAt.UTC(),
		Version:    c.Version,
	}
	if c.ShelfLocation != nil {
		row.ShelfLocation = sql.NullString{String: c.ShelfLocation.String(), Valid: true}
	}
	return row
}

func (r copyRow) toCopy() (*Copy, error) {
	c := &Copy{
		ID:         r.ID,
		ItemID:     r.ItemID,
		Barcode:    Barcode(r.Barcode),
		Status:     CopyStatus(r.Status),
		AcquiredAt: r.AcquiredAt,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Version:    r.Version,
	}
	if r.ShelfLocation.Valid {
		loc, err := ParseShelfLocation(r.ShelfLocation.String)
		if err != nil {
			return nil, fmt.Errorf("copy %s: stored location: %w", r.ID, err)
		}
		c.ShelfLocation = &loc
	}
	return c, nil
}

const copyColumns = `id, item_id, barcode, shelf_location, status, acquired_at, created_at, updated_at, version`

func (s *PostgresStore) Create(ctx context.Context, c *Copy) error {
	c.Version = 1
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO copies (`+copyColumns+`)
		VALUES (:id, :item_id, :barcode, :shelf_location, :status, :acquired_at, :created_at, :updated_at, :version)
	`, toRow(c))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateBarcode, c.Barcode)
		}
		return fmt.Errorf("insert copy: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Copy, error) {
	var row copyRow
	err := s.db.GetContext(ctx, &row, `SELECT `+copyColumns+` FROM copies WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCopyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find copy: %w", err)
	}
	return row.toCopy()
}

func (s *PostgresStore) ExistsByBarcode(ctx context.Context, barcode Barcode) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM copies WHERE barcode = $1)`, barcode.String()); err != nil {
		return false, fmt.Errorf("check barcode: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Save(ctx context.Context, c *Copy) error {
	row := toRow(c)
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE copies
		SET shelf_location = :shelf_location,
		    status = :status,
		    updated_at = :updated_at,
		    version = version + 1
		WHERE id = :id AND version = :version
	`, row)
	if err != nil {
		return fmt.Errorf("update copy: %w", err)
	}
	if err := s.expectOne(ctx, res, c.ID); err != nil {
		return err
	}
	c.Version++
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, c *Copy) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM copies
		WHERE id = $1 AND version = $2 AND status NOT IN ('LOANED', 'RESERVED')
	`, c.ID, c.Version)
	if err != nil {
		return fmt.Errorf("delete copy: %w", err)
	}
	return s.expectOne(ctx, res, c.ID)
}

// expectOne distinguishes a missing row from a version mismatch.
func (s *PostgresStore) expectOne(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM copies WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("check copy: %w", err)
	}
	if !exists {
		return ErrCopyNotFound
	}
	return ErrConcurrentUpdate
}

func (s *PostgresStore) ListByItem(ctx context.Context, itemID uuid.UUID) ([]*Copy, error) {
	var rows []copyRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+copyColumns+` FROM copies WHERE item_id = $1 ORDER BY barcode`, itemID); err != nil {
		return nil, fmt.Errorf("list copies: %w", err)
	}
	out := make([]*Copy, 0, len(rows))
	for _, row := range rows {
		c, err := row.toCopy()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
