// internal/circulation/domain.go
package circulation

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"lendingcore/internal/events"
)

// CopySync is a copy-side notification the loan still owes the inventory
// service. It is persisted with the loan so a crash or an unreachable
// inventory never loses it.
type CopySync string

const (
	SyncNone         CopySync = "NONE"
	SyncMarkLoaned   CopySync = "MARK_LOANED"
	SyncMarkReturned CopySync = "MARK_RETURNED"
)

func (s CopySync) Pending() bool { return s == SyncMarkLoaned || s == SyncMarkReturned }

// Loan is one borrower holding one copy.
type Loan struct {
	ID           uuid.UUID  `json:"id"`
	BorrowerID   uuid.UUID  `json:"borrower_id"`
	CopyID       uuid.UUID  `json:"copy_id"`
	Status       LoanStatus `json:"status"`
	DueDate      DueDate    `json:"due_date"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty"`
	Fine         *Money     `json:"fine,omitempty"`
	CopySync     CopySync   `json:"copy_sync"`
	SyncAttempts int        `json:"sync_attempts"`
	SyncError    string     `json:"sync_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int        `json:"version"`
}

// OpenLoan starts a loan due loanDays after the calendar day of now. The
// caller supplies now in the library's time zone.
func OpenLoan(borrowerID, copyID uuid.UUID, loanDays int, now time.Time) (*Loan, []events.Event) {
	l := &Loan{
		ID:         uuid.New(),
		BorrowerID: borrowerID,
		CopyID:     copyID,
		Status:     StatusOpen,
		DueDate:    DueIn(civil.DateOf(now), loanDays),
		CopySync:   SyncMarkLoaned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return l, []events.Event{LoanOpened{
		LoanID:     l.ID,
		BorrowerID: borrowerID,
		CopyID:     copyID,
		DueDate:    l.DueDate,
		At:         now,
	}}
}

func (l *Loan) IsActive() bool { return l.Status.IsActive() }

// IsOverdue is true for OVERDUE loans and for OPEN loans past their due
// date that the sweep has not reached yet.
func (l *Loan) IsOverdue(today civil.Date) bool {
	return l.Status == StatusOverdue || (l.Status == StatusOpen && l.DueDate.IsOverdue(today))
}

func (l *Loan) DaysOverdue(today civil.Date) int {
	if !l.IsActive() {
		return 0
	}
	return l.DueDate.DaysOverdue(today)
}

// CalculateFine records the fine owed as of today. A returned loan keeps
// the fine it was closed with.
func (l *Loan) CalculateFine(calc FineCalculator, now time.Time) (Money, []events.Event) {
	if !l.IsActive() {
		if l.Fine != nil {
			return *l.Fine, nil
		}
		return Zero(calc.Currency()), nil
	}

	days := l.DaysOverdue(civil.DateOf(now))
	fine := calc.Fine(days)
	if l.Fine != nil && l.Fine.Equal(fine) {
		return fine, nil
	}
	l.Fine = &fine
	l.UpdatedAt = now
	if fine.IsZero() {
		return fine, nil
	}
	return fine, []events.Event{FineCalculated{
		LoanID:      l.ID,
		BorrowerID:  l.BorrowerID,
		Fine:        fine,
		DaysOverdue: days,
		At:          now,
	}}
}

// Return closes the loan and leaves a mark-returned obligation for the
// copy side.
func (l *Loan) Return(now time.Time) ([]events.Event, error) {
	if l.Status == StatusReturned {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyReturned, l.ID)
	}
	next, err := l.Status.Transition(StatusReturned)
	if err != nil {
		return nil, err
	}

	prev := l.Status
	returnedAt := now
	l.Status = next
	l.ReturnedAt = &returnedAt
	l.UpdatedAt = now
	l.requireSync(SyncMarkReturned)

	return []events.Event{LoanReturned{
		LoanID:         l.ID,
		BorrowerID:     l.BorrowerID,
		CopyID:         l.CopyID,
		PreviousStatus: prev,
		ReturnedAt:     returnedAt,
		Fine:           l.Fine,
		At:             now,
	}}, nil
}

// MarkOverdue is strict: it fails on a loan that is already OVERDUE, already
// returned, or not yet past its due date.
func (l *Loan) MarkOverdue(now time.Time) ([]events.Event, error) {
	today := civil.DateOf(now)
	switch {
	case l.Status == StatusOverdue:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOverdue, l.ID)
	case l.Status == StatusReturned:
		_, err := l.Status.Transition(StatusOverdue)
		return nil, err
	case !l.DueDate.IsOverdue(today):
		return nil, fmt.Errorf("%w: %s is due %s", ErrNotYetOverdue, l.ID, l.DueDate)
	}

	next, err := l.Status.Transition(StatusOverdue)
	if err != nil {
		return nil, err
	}
	l.Status = next
	l.UpdatedAt = now

	return []events.Event{LoanOverdue{
		LoanID:      l.ID,
		BorrowerID:  l.BorrowerID,
		CopyID:      l.CopyID,
		DueDate:     l.DueDate,
		DaysOverdue: l.DueDate.DaysOverdue(today),
		At:          now,
	}}, nil
}

func (l *Loan) requireSync(s CopySync) {
	l.CopySync = s
	l.SyncAttempts = 0
	l.SyncError = ""
}

// SyncDelivered clears the copy-side obligation.
func (l *Loan) SyncDelivered(now time.Time) {
	l.requireSync(SyncNone)
	l.UpdatedAt = now
}

// RequireCopyReturn owes the copy side a mark-returned again, e.g. after a
// stale mark-loaned reached it once the loan was closed.
func (l *Loan) RequireCopyReturn(now time.Time) {
	l.requireSync(SyncMarkReturned)
	l.UpdatedAt = now
}

// SyncFailed keeps the obligation and records why it is still open.
func (l *Loan) SyncFailed(cause error, now time.Time) {
	l.SyncAttempts++
	if cause != nil {
		l.SyncError = cause.Error()
	}
	l.UpdatedAt = now
}

func cloneLoan(l *Loan) Loan {
	out := *l
	if l.ReturnedAt != nil {
		t := *l.ReturnedAt
		out.ReturnedAt = &t
	}
	if l.Fine != nil {
		f := *l.Fine
		out.Fine = &f
	}
	return out
}
