package circulation

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// PostgresStore is the LoanStore backed by the loans table. The partial
// unique index uq_loans_active_copy enforces one active loan per copy.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate loans: %w", err)
	}
	return nil
}

type loanRow struct {
	ID           uuid.UUID           `db:"id"`
	BorrowerID   uuid.UUID           `db:"borrower_id"`
	CopyID       uuid.UUID           `db:"copy_id"`
	Status       string              `db:"status"`
	DueDate      time.Time           `db:"due_date"`
	ReturnedAt   sql.NullTime        `db:"returned_at"`
	FineAmount   decimal.NullDecimal `db:"fine_amount"`
	FineCurrency sql.NullString      `db:"fine_currency"`
	CopySync     string              `db:"copy_sync"`
	SyncAttempts int                 `db:"sync_attempts"`
	SyncError    string              `db:"sync_error"`
	CreatedAt    time.Time           `db:"created_at"`
	UpdatedAt    time.Time           `db:"updated_at"`
	Version      int                 `db:"version"`
}

func toLoanRow(l *Loan) loanRow {
	row := loanRow{
		ID:           l.ID,
		BorrowerID:   l.BorrowerID,
		CopyID:       l.CopyID,
		Status:       l.Status.String(),
		DueDate:      l.DueDate.In(time.UTC),
		CopySync:     string(l.CopySync),
		SyncAttempts: l.SyncAttempts,
		SyncError:    l.SyncError,
		CreatedAt:    l.CreatedAt.UTC(),
		UpdatedAt:    l.UpdatedAt.UTC(),
		Version:      l.Version,
	}
	if l.ReturnedAt != nil {
		row.ReturnedAt = sql.NullTime{Time: l.ReturnedAt.UTC(), Valid: true}
	}
	if l.Fine != nil {
		row.FineAmount = decimal.NullDecimal{Decimal: l.Fine.Amount(), Valid: true}
		row.FineCurrency = sql.NullString{String: l.Fine.Currency(), Valid: true}
	}
	return row
}

func (r loanRow) toLoan() (*Loan, error) {
	l := &Loan{
		ID:           r.ID,
		BorrowerID:   r.BorrowerID,
		CopyID:       r.CopyID,
		Status:       LoanStatus(r.Status),
		DueDate:      DueDate(civil.DateOf(r.DueDate)),
		CopySync:     CopySync(r.CopySync),
		SyncAttempts: r.SyncAttempts,
		SyncError:    r.SyncError,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Version:      r.Version,
	}
	if r.ReturnedAt.Valid {
		t := r.ReturnedAt.Time
		l.ReturnedAt = &t
	}
	if r.FineAmount.Valid {
		fine, err := NewMoney(r.FineAmount.Decimal, r.FineCurrency.String)
		if err != nil {
			return nil, fmt.Errorf("loan %s: stored fine: %w", r.ID, err)
		}
		l.Fine = &fine
	}
	return l, nil
}

const loanColumns = `id, borrower_id, copy_id, status, due_date, returned_at, fine_amount, fine_currency,
	copy_sync, sync_attempts, sync_error, created_at, updated_at, version`

func (s *PostgresStore) Create(ctx context.Context, l *Loan) error {
	l.Version = 1
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES (:id, :borrower_id, :copy_id, :status, :due_date, :returned_at, :fine_amount, :fine_currency,
			:copy_sync, :sync_attempts, :sync_error, :created_at, :updated_at, :version)
	`, toLoanRow(l))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "uq_loans_active_copy" {
			return fmt.Errorf("%w: copy %s", ErrCopyAlreadyOnLoan, l.CopyID)
		}
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Loan, error) {
	return s.get(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
}

func (s *PostgresStore) FindActiveByCopyID(ctx context.Context, copyID uuid.UUID) (*Loan, error) {
	return s.get(ctx, `SELECT `+loanColumns+` FROM loans WHERE copy_id = $1 AND status IN ('OPEN', 'OVERDUE')`, copyID)
}

func (s *PostgresStore) get(ctx context.Context, query string, args ...any) (*Loan, error) {
	var row loanRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find loan: %w", err)
	}
	return row.toLoan()
}

func (s *PostgresStore) Save(ctx context.Context, l *Loan) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE loans
		SET status = :status,
		    due_date = :due_date,
		    returned_at = :returned_at,
		    fine_amount = :fine_amount,
		    fine_currency = :fine_currency,
		    copy_sync = :copy_sync,
		    sync_attempts = :sync_attempts,
		    sync_error = :sync_error,
		    updated_at = :updated_at,
		    version = version + 1
		WHERE id = :id AND version = :version
	`, toLoanRow(l))
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	if err := s.expectOne(ctx, res, l.ID); err != nil {
		return err
	}
	l.Version++
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, l *Loan) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM loans WHERE id = $1 AND version = $2`, l.ID, l.Version)
	if err != nil {
		return fmt.Errorf("delete loan: %w", err)
	}
	return s.expectOne(ctx, res, l.ID)
}

func (s *PostgresStore) expectOne(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM loans WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("check loan: %w", err)
	}
	if !exists {
		return ErrLoanNotFound
	}
	return ErrConcurrentUpdate
}

func (s *PostgresStore) ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*Loan, error) {
	return s.list(ctx, `SELECT `+loanColumns+` FROM loans WHERE borrower_id = $1 ORDER BY created_at, id`, borrowerID)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status LoanStatus) ([]*Loan, error) {
	return s.list(ctx, `SELECT `+loanColumns+` FROM loans WHERE status = $1 ORDER BY created_at, id`, status.String())
}

func (s *PostgresStore) ListOpenDueBefore(ctx context.Context, day civil.Date, limit int) ([]*Loan, error) {
	return s.list(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE status = 'OPEN' AND due_date < $1
		ORDER BY due_date, id
		LIMIT $2
	`, day.String(), nullLimit(limit))
}

func (s *PostgresStore) ListPendingCopySync(ctx context.Context, maxAttempts, limit int) ([]*Loan, error) {
	if maxAttempts <= 0 {
		maxAttempts = int(^uint32(0) >> 1)
	}
	return s.list(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE copy_sync <> 'NONE' AND sync_attempts < $1
		ORDER BY updated_at, id
		LIMIT $2
	`, maxAttempts, nullLimit(limit))
}

// nullLimit turns a non-positive limit into LIMIT NULL, which is no limit.
func nullLimit(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Loan, error) {
	var rows []loanRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	out := make([]*Loan, 0, len(rows))
	for _, row := range rows {
		l, err := row.toLoan()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}
