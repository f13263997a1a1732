package circulation

import (
	"time"

	"github.com/google/uuid"
)

const AggregateType = "loan"

type LoanOpened struct {
	LoanID     uuid.UUID `json:"loan_id"`
	BorrowerID uuid.UUID `json:"borrower_id"`
	CopyID     uuid.UUID `json:"copy_id"`
	DueDate    DueDate   `json:"due_date"`
	At         time.Time `json:"occurred_at"`
}

type LoanReturned struct {
	LoanID         uuid.UUID  `json:"loan_id"`
	BorrowerID     uuid.UUID  `json:"borrower_id"`
	CopyID         uuid.UUID  `json:"copy_id"`
	PreviousStatus LoanStatus `json:"previous_status"`
	ReturnedAt     time.Time  `json:"returned_at"`
	Fine           *Money     `json:"fine,omitempty"`
	At             time.Time  `json:"occurred_at"`
}

type LoanOverdue struct {
	LoanID      uuid.UUID `json:"loan_id"`
	BorrowerID  uuid.UUID `json:"borrower_id"`
	CopyID      uuid.UUID `json:"copy_id"`
	DueDate     DueDate   `json:"due_date"`
	DaysOverdue int       `json:"days_overdue"`
	At          time.Time `json:"occurred_at"`
}

// FineCalculated is only raised for a non-zero fine.
type FineCalculated struct {
	LoanID      uuid.UUID `json:"loan_id"`
	BorrowerID  uuid.UUID `json:"borrower_id"`
	Fine        Money     `json:"fine"`
	DaysOverdue int       `json:"days_overdue"`
	At          time.Time `json:"occurred_at"`
}

func (e LoanOpened) EventType() string      { return "LoanOpened" }
func (e LoanOpened) AggregateID() uuid.UUID { return e.LoanID }
func (e LoanOpened) AggregateType() string  { return AggregateType }
func (e LoanOpened) OccurredAt() time.Time  { return e.At }

func (e LoanReturned) EventType() string      { return "LoanReturned" }
func (e LoanReturned) AggregateID() uuid.UUID { return e.LoanID }
func (e LoanReturned) AggregateType() string  { return AggregateType }
func (e LoanReturned) OccurredAt() time.Time  { return e.At }

func (e LoanOverdue) EventType() string      { return "LoanOverdue" }
func (e LoanOverdue) AggregateID() uuid.UUID { return e.LoanID }
func (e LoanOverdue) AggregateType() string  { return AggregateType }
func (e LoanOverdue) OccurredAt() time.Time  { return e.At }

func (e FineCalculated) EventType() string      { return "FineCalculated" }
func (e FineCalculated) AggregateID() uuid.UUID { return e.LoanID }
func (e FineCalculated) AggregateType() string  { return AggregateType }
func (e FineCalculated) OccurredAt() time.Time  { return e.At }
