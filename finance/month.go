package finance

import (
	"fmt"
	"time"
)

// DisplayDateLayout is the DD/MM/YYYY form used by the domain model.
const DisplayDateLayout = "02/01/2006"

// MonthKey identifies a calendar month. Its string form is YYYY-MM, the key
// stored in Transaction.PaidMonths.
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthKeyOf returns the month containing t.
func MonthKeyOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// ParseMonthKey parses a YYYY-MM key.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return MonthKey{}, fmt.Errorf("invalid month key %q: %w", s, err)
	}
	return MonthKeyOf(t), nil
}

// MonthOf returns the month of a DD/MM/YYYY date.
func MonthOf(displayDate string) (MonthKey, error) {
	t, err := time.Parse(DisplayDateLayout, displayDate)
	if err != nil {
		return MonthKey{}, fmt.Errorf("invalid date %q: %w", displayDate, err)
	}
	return MonthKeyOf(t), nil
}

func (m MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Before reports whether m is earlier than o.
func (m MonthKey) Before(o MonthKey) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// AddMonths moves m by n months (n may be negative).
func (m MonthKey) AddMonths(n int) MonthKey {
	t := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return MonthKeyOf(t)
}
