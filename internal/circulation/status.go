package circulation

import (
	"fmt"
	"strings"
)

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	StatusOpen     LoanStatus = "OPEN"
	StatusOverdue  LoanStatus = "OVERDUE"
	StatusReturned LoanStatus = "RETURNED"
)

var AllLoanStatuses = []LoanStatus{StatusOpen, StatusOverdue, StatusReturned}

var loanTransitions = map[LoanStatus][]LoanStatus{
	StatusOpen:     {StatusReturned, StatusOverdue},
	StatusOverdue:  {StatusReturned},
	StatusReturned: nil,
}

func ParseLoanStatus(s string) (LoanStatus, error) {
	st := LoanStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown loan status %q", ErrInvalidRequest, s)
	}
	return st, nil
}

func (s LoanStatus) Valid() bool {
	_, ok := loanTransitions[s]
	return ok
}

func (s LoanStatus) String() string { return string(s) }

// IsActive is true while the loan holds its copy.
func (s LoanStatus) IsActive() bool { return s == StatusOpen || s == StatusOverdue }

func (s LoanStatus) Terminal() bool { return len(loanTransitions[s]) == 0 }

func (s LoanStatus) CanTransitionTo(target LoanStatus) bool {
	for _, allowed := range loanTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Transition returns target when allowed and a *TransitionError otherwise.
func (s LoanStatus) Transition(target LoanStatus) (LoanStatus, error) {
	if !s.CanTransitionTo(target) {
		return s, &TransitionError{From: s, To: target}
	}
	return target, nil
}

// TransitionError matches ErrInvalidTransition under errors.Is.
type TransitionError struct {
	From LoanStatus
	To   LoanStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid loan status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
