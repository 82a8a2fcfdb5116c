package finance

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// MonthSummary aggregates the transactions that fall in one month.
type MonthSummary struct {
	Month           string          `json:"month"`
	Income          decimal.Decimal `json:"income"`
	Revenue         decimal.Decimal `json:"revenue"`
	Expenses        decimal.Decimal `json:"expenses"`
	PaidExpenses    decimal.Decimal `json:"paidExpenses"`
	PendingExpenses decimal.Decimal `json:"pendingExpenses"`
	Remaining       decimal.Decimal `json:"remaining"`
	RemainingPct    decimal.Decimal `json:"remainingPct"`
	BelowThreshold  bool            `json:"belowThreshold"`
	Count           int             `json:"count"`
	// BySpender is the month's expense total per spender id.
	BySpender map[string]decimal.Decimal `json:"bySpender"`
}

// OccursIn reports whether t counts towards month. Fixed transactions recur
// every month from the month of their date on; all others count only in the
// month of their date. Deleted or undated transactions never count.
func (t Transaction) OccursIn(month MonthKey) bool {
	if t.IsDeleted {
		return false
	}
	start, err := MonthOf(t.Date)
	if err != nil {
		return false
	}
	if t.IsFixed {
		return !month.Before(start)
	}
	return start == month
}

// Summarize computes the month summary. Income is the household salary plus
// any revenue transaction of the month; the alert fires when what is left
// falls under threshold percent of income.
func Summarize(txs []Transaction, users Users, month MonthKey, threshold decimal.Decimal) MonthSummary {
	s := MonthSummary{Month: month.String(), BySpender: map[string]decimal.Decimal{}}
	for _, t := range txs {
		if !t.OccursIn(month) {
			continue
		}
		s.Count++
		switch t.Type {
		case TransactionExpense:
			s.Expenses = s.Expenses.Add(t.Amount)
			s.BySpender[t.SpenderID] = s.BySpender[t.SpenderID].Add(t.Amount)
			if t.PaidFor(month) {
				s.PaidExpenses = s.PaidExpenses.Add(t.Amount)
			} else {
				s.PendingExpenses = s.PendingExpenses.Add(t.Amount)
			}
		default:
			s.Revenue = s.Revenue.Add(t.Amount)
		}
	}

	s.Income = users.TotalIncome().Add(s.Revenue)
	s.Remaining = s.Income.Sub(s.Expenses)
	if s.Income.IsPositive() {
		s.RemainingPct = s.Remaining.Div(s.Income).Mul(hundred).Round(2)
		s.BelowThreshold = s.RemainingPct.LessThan(threshold)
	}
	return s
}
