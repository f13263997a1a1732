package circulation

import "lendingcore/internal/apperr"

var (
	ErrLoanNotFound     = apperr.NotFound("loan_not_found", "loan not found")
	ErrBorrowerNotFound = apperr.NotFound("borrower_not_found", "borrower not found")
	ErrCopyNotFound     = apperr.NotFound("copy_not_found", "copy not found")

	ErrCopyNotAvailable  = apperr.Conflict("copy_not_available", "copy is not available for loan")
	ErrCopyAlreadyOnLoan = apperr.Conflict("copy_already_on_loan", "copy already has an active loan")
	ErrInvalidTransition = apperr.Conflict("invalid_transition", "invalid loan status transition")
	ErrAlreadyReturned   = apperr.Conflict("already_returned", "loan is already returned")
	ErrAlreadyOverdue    = apperr.Conflict("already_overdue", "loan is already marked overdue")
	ErrConcurrentUpdate  = apperr.Conflict("concurrent_update", "loan was modified concurrently")

	ErrBorrowerNotEligible = apperr.Unprocessable("borrower_not_eligible", "borrower is not eligible to borrow")
	ErrNotYetOverdue       = apperr.Unprocessable("not_yet_overdue", "loan is not yet overdue")

	ErrInvalidLoanPeriod = apperr.Validation("invalid_loan_period", "loan period must be at least one day")
	ErrInvalidRequest    = apperr.Validation("invalid_request", "invalid request")
	ErrNegativeAmount    = apperr.Validation("negative_amount", "money amount must not be negative")
	ErrCurrencyMismatch  = apperr.Validation("currency_mismatch", "currencies differ")

	// ErrGateUnavailable means a collaborator could not answer. Checkout fails
	// closed on it.
	ErrGateUnavailable = apperr.Unavailable("gate_unavailable", "collaborating service unavailable")
)
