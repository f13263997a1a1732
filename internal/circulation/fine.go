package circulation

import "fmt"

// FineCalculator charges a flat rate per overdue day.
type FineCalculator struct {
	DailyRate Money
}

// NewFineCalculator parses the configured rate, e.g. ("5.00", "TRY").
func NewFineCalculator(dailyRate, currency string) (FineCalculator, error) {
	rate, err := ParseMoney(dailyRate, currency)
	if err != nil {
		return FineCalculator{}, fmt.Errorf("daily fine rate: %w", err)
	}
	return FineCalculator{DailyRate: rate}, nil
}

// DefaultFineCalculator charges 5.00 TRY a day.
func DefaultFineCalculator() FineCalculator {
	calc, _ := NewFineCalculator("5.00", DefaultCurrency)
	return calc
}

func (c FineCalculator) Currency() string { return c.DailyRate.Currency() }

// Fine is zero for daysOverdue <= 0 and never decreases as days grow.
func (c FineCalculator) Fine(daysOverdue int) Money {
	return c.DailyRate.Mul(int64(daysOverdue))
}
