// internal/circulation/service.go
package circulation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service defines the interface for the circulation service.
type Service interface {
	Checkout(ctx context.Context, req CheckoutRequest) (uuid.UUID, error)
	ReturnLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	MarkOverdue(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	CalculateFine(ctx context.Context, loanID uuid.UUID) (Money, error)

	// SweepOverdue moves every OPEN loan past its due date to OVERDUE and
	// reports how many it moved. Running it twice is harmless.
	SweepOverdue(ctx context.Context) (int, error)
	// ReconcileCopies re-sends outstanding copy notifications.
	ReconcileCopies(ctx context.Context) (ReconcileReport, error)

	GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error)
	ListLoansByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*Loan, error)
	ListOpenLoans(ctx context.Context) ([]*Loan, error)
	ListOverdueLoans(ctx context.Context) ([]OverdueLoan, error)
}

// CheckoutRequest is built with NewCheckoutRequest. LoanDays zero means the
// service default.
type CheckoutRequest struct {
	BorrowerID uuid.UUID
	CopyID     uuid.UUID
	LoanDays   int
}

type CheckoutOption func(*CheckoutRequest) error

// WithLoanDays overrides the loan period. n must be at least 1.
func WithLoanDays(n int) CheckoutOption {
	return func(r *CheckoutRequest) error {
		if n < 1 {
			return fmt.Errorf("%w: %d", ErrInvalidLoanPeriod, n)
		}
		r.LoanDays = n
		return nil
	}
}

func NewCheckoutRequest(borrowerID, copyID uuid.UUID, opts ...CheckoutOption) (CheckoutRequest, error) {
	if borrowerID == uuid.Nil {
		return CheckoutRequest{}, fmt.Errorf("%w: borrower id is required", ErrInvalidRequest)
	}
	if copyID == uuid.Nil {
		return CheckoutRequest{}, fmt.Errorf("%w: copy id is required", ErrInvalidRequest)
	}
	req := CheckoutRequest{BorrowerID: borrowerID, CopyID: copyID}
	for _, opt := range opts {
		if err := opt(&req); err != nil {
			return CheckoutRequest{}, err
		}
	}
	return req, nil
}

// OverdueLoan pairs a loan with how late it is today.
type OverdueLoan struct {
	*Loan
	DaysOverdue int `json:"days_overdue"`
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Checked   int `json:"checked"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	// Parked loans used up their attempts and need an operator.
	Parked int `json:"parked"`
}
