package circulation

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// DefaultLoanDays is the loan period when neither the request nor the
// configuration names one.
const DefaultLoanDays = 14

// DueDate is the calendar day a loan must be back by. A loan returned on
// its due date is on time.
type DueDate civil.Date

// DueIn returns the date days after from.
func DueIn(from civil.Date, days int) DueDate {
	return DueDate(from.AddDays(days))
}

func ParseDueDate(s string) (DueDate, error) {
	d, err := civil.ParseDate(s)
	if err != nil {
		return DueDate{}, fmt.Errorf("%w: due date %q", ErrInvalidRequest, s)
	}
	return DueDate(d), nil
}

func (d DueDate) Date() civil.Date { return civil.Date(d) }

func (d DueDate) String() string { return civil.Date(d).String() }

// IsOverdue reports whether today is strictly after the due date.
func (d DueDate) IsOverdue(today civil.Date) bool {
	return today.After(d.Date())
}

func (d DueDate) DaysOverdue(today civil.Date) int {
	return max(0, today.DaysSince(d.Date()))
}

func (d DueDate) DaysUntilDue(today civil.Date) int {
	return max(0, d.Date().DaysSince(today))
}

// Extend pushes the due date back by days, which must be positive.
func (d DueDate) Extend(days int) (DueDate, error) {
	if days < 1 {
		return d, fmt.Errorf("%w: extend by %d days", ErrInvalidLoanPeriod, days)
	}
	return DueDate(d.Date().AddDays(days)), nil
}

// In returns midnight of the due date in loc.
func (d DueDate) In(loc *time.Location) time.Time {
	return d.Date().In(loc)
}

func (d DueDate) MarshalText() ([]byte, error) { return d.Date().MarshalText() }

func (d *DueDate) UnmarshalText(b []byte) error {
	var c civil.Date
	if err := c.UnmarshalText(b); err != nil {
		return err
	}
	*d = DueDate(c)
	return nil
}
