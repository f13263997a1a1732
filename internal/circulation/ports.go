package circulation

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// EligibilityGate answers whether a borrower may take a new loan. Validate
// returns ErrBorrowerNotFound, ErrBorrowerNotEligible or ErrGateUnavailable.
type EligibilityGate interface {
	Exists(ctx context.Context, borrowerID uuid.UUID) (bool, error)
	CanBorrow(ctx context.Context, borrowerID uuid.UUID) (bool, error)
	Validate(ctx context.Context, borrowerID uuid.UUID) error
}

// CopyAvailabilityGate is the inventory service as circulation sees it.
// Validate returns ErrCopyNotFound, ErrCopyNotAvailable or
// ErrGateUnavailable. The notifications are idempotent on the inventory
// side and may be re-sent freely.
type CopyAvailabilityGate interface {
	Exists(ctx context.Context, copyID uuid.UUID) (bool, error)
	IsAvailable(ctx context.Context, copyID uuid.UUID) (bool, error)
	Validate(ctx context.Context, copyID uuid.UUID) error
	NotifyLoaned(ctx context.Context, copyID uuid.UUID) Notification
	NotifyReturned(ctx context.Context, copyID uuid.UUID) Notification
}

type Outcome int

const (
	// OutcomeDelivered: the copy side applied (or already had) the change.
	OutcomeDelivered Outcome = iota
	// OutcomeRejected: the copy side answered and refused.
	OutcomeRejected
	// OutcomeTimeout: no answer in time. The change may or may not have landed.
	OutcomeTimeout
	// OutcomeFailed: transport error, breaker open, or an unexpected reply.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "failed"
	}
}

// Notification is the result of telling the copy side about a loan change.
type Notification struct {
	Outcome Outcome
	Err     error
}

func Delivered() Notification { return Notification{Outcome: OutcomeDelivered} }

func Rejected(err error) Notification { return Notification{Outcome: OutcomeRejected, Err: err} }

func TimedOut(err error) Notification { return Notification{Outcome: OutcomeTimeout, Err: err} }

func Failed(err error) Notification { return Notification{Outcome: OutcomeFailed, Err: err} }

func (n Notification) Delivered() bool { return n.Outcome == OutcomeDelivered }

// LoanStore persists loans. Create fails with ErrCopyAlreadyOnLoan when the
// copy already has an OPEN or OVERDUE loan; the check and the insert are one
// atomic step. Save and Delete are optimistic on Version.
type LoanStore interface {
	Create(ctx context.Context, l *Loan) error
	FindByID(ctx context.Context, id uuid.UUID) (*Loan, error)
	// FindActiveByCopyID returns ErrLoanNotFound when the copy is free.
	FindActiveByCopyID(ctx context.Context, copyID uuid.UUID) (*Loan, error)
	Save(ctx context.Context, l *Loan) error
	Delete(ctx context.Context, l *Loan) error
	ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*Loan, error)
	ListByStatus(ctx context.Context, status LoanStatus) ([]*Loan, error)
	// ListOpenDueBefore returns OPEN loans due strictly before day.
	ListOpenDueBefore(ctx context.Context, day civil.Date, limit int) ([]*Loan, error)
	// ListPendingCopySync returns loans with an outstanding copy
	// notification that has failed fewer than maxAttempts times.
	ListPendingCopySync(ctx context.Context, maxAttempts, limit int) ([]*Loan, error)
}
