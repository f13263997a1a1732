package inventory

import (
	"fmt"
	"strings"
)

// CopyStatus is the lifecycle state of one physical copy.
type CopyStatus string

const (
	StatusAvailable CopyStatus = "AVAILABLE"
	StatusLoaned    CopyStatus = "LOANED"
	StatusReserved  CopyStatus = "RESERVED"
	StatusLost      CopyStatus = "LOST"
	StatusDamaged   CopyStatus = "DAMAGED"
	StatusWithdrawn CopyStatus = "WITHDRAWN"
)

// AllStatuses lists every copy status in declaration order.
var AllStatuses = []CopyStatus{
	StatusAvailable, StatusLoaned, StatusReserved, StatusLost, StatusDamaged, StatusWithdrawn,
}

var copyTransitions = map[CopyStatus][]CopyStatus{
	StatusAvailable: {StatusLoaned, StatusReserved, StatusLost, StatusDamaged, StatusWithdrawn},
	StatusLoaned:    {StatusAvailable, StatusLost, StatusDamaged},
	StatusReserved:  {StatusAvailable, StatusLoaned, StatusLost},
	StatusLost:      {StatusAvailable, StatusWithdrawn},
	StatusDamaged:   {StatusAvailable, StatusWithdrawn},
	StatusWithdrawn: nil,
}

var statusDescriptions = map[CopyStatus]string{
	StatusAvailable: "Available for loan",
	StatusLoaned:    "Currently on loan",
	StatusReserved:  "Reserved for a member",
	StatusLost:      "Reported lost",
	StatusDamaged:   "Damaged, needs repair",
	StatusWithdrawn: "Withdrawn from circulation",
}

// ParseCopyStatus accepts any letter case.
func ParseCopyStatus(s string) (CopyStatus, error) {
	st := CopyStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s CopyStatus) Valid() bool {
	_, ok := copyTransitions[s]
	return ok
}

func (s CopyStatus) String() string { return string(s) }

func (s CopyStatus) Description() string { return statusDescriptions[s] }

// AvailableForLoan is true only for AVAILABLE.
func (s CopyStatus) AvailableForLoan() bool { return s == StatusAvailable }

func (s CopyStatus) Terminal() bool { return len(copyTransitions[s]) == 0 }

func (s CopyStatus) CanTransitionTo(target CopyStatus) bool {
	for _, allowed := range copyTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Transition returns target when the move is allowed, a *TransitionError
// otherwise. It never mutates anything.
func (s CopyStatus) Transition(target CopyStatus) (CopyStatus, error) {
	if !s.CanTransitionTo(target) {
		return s, &TransitionError{From: s, To: target}
	}
	return target, nil
}

// TransitionError reports a rejected status change. It matches
// ErrInvalidTransition under errors.Is.
type TransitionError struct {
	From CopyStatus
	To   CopyStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid copy status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
