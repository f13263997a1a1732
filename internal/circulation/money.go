package circulation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "TRY"

// Money is a non-negative amount in one currency, held at two decimal
// places. The zero value is not usable; build one with NewMoney.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney rounds half-up to two places.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return Money{}, fmt.Errorf("%w: currency %q", ErrInvalidRequest, currency)
	}
	if amount.IsNegative() {
		return Money{}, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	return Money{amount: amount.Round(2), currency: currency}, nil
}

// ParseMoney reads a decimal string such as "5.00".
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: amount %q", ErrInvalidRequest, amount)
	}
	return NewMoney(d, currency)
}

func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: strings.ToUpper(currency)}
}

func (m Money) Amount() decimal.Decimal { return m.amount }

func (m Money) Currency() string { return m.currency }

func (m Money) IsZero() bool { return m.amount.IsZero() }

func (m Money) Add(o Money) (Money, error) {
	if m.currency != o.currency {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.currency, o.currency)
	}
	return Money{amount: m.amount.Add(o.amount), currency: m.currency}, nil
}

// Mul scales by a whole number of units, such as days.
func (m Money) Mul(n int64) Money {
	if n <= 0 {
		return Zero(m.currency)
	}
	return Money{amount: m.amount.Mul(decimal.NewFromInt(n)).Round(2), currency: m.currency}
}

// Equal is false for amounts in different currencies.
func (m Money) Equal(o Money) bool {
	return m.currency == o.currency && m.amount.Equal(o.amount)
}

func (m Money) GreaterThan(o Money) bool {
	return m.currency == o.currency && m.amount.GreaterThan(o.amount)
}

func (m Money) String() string {
	return m.amount.StringFixed(2) + " " + m.currency
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.StringFixed(2), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := ParseMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
