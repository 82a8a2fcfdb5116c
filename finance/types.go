// Package finance holds the household domain model shared by the
// reconciliation layer and its readers: users, transactions, goals,
// shopping items and family settings.
package finance

import (
	"slices"

	"github.com/shopspring/decimal"
)

func init() {
	// Persisted documents carry amounts as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// TransactionType is the direction of a transaction. Amounts are unsigned.
type TransactionType string

const (
	TransactionExpense TransactionType = "expense"
	TransactionRevenue TransactionType = "revenue"
)

// UserKey identifies one of the two household members.
type UserKey string

const (
	UserA UserKey = "A"
	UserB UserKey = "B"
)

// Valid reports whether k names a household member.
func (k UserKey) Valid() bool {
	return k == UserA || k == UserB
}

// User is a household member.
type User struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Avatar string          `json:"avatar"`
	Income decimal.Decimal `json:"income"`
}

// Users is the pair of household members as persisted at the users path.
type Users struct {
	A User `json:"A"`
	B User `json:"B"`
}

// Get returns the user stored under key.
func (u Users) Get(key UserKey) (User, bool) {
	switch key {
	case UserA:
		return u.A, true
	case UserB:
		return u.B, true
	}
	return User{}, false
}

// With returns a copy of u with the user under key replaced.
func (u Users) With(key UserKey, user User) Users {
	switch key {
	case UserA:
		u.A = user
	case UserB:
		u.B = user
	}
	return u
}

// KeyFor maps a user id to its household key.
func (u Users) KeyFor(id string) (UserKey, bool) {
	switch id {
	case u.A.ID:
		return UserA, true
	case u.B.ID:
		return UserB, true
	}
	return "", false
}

// TotalIncome is the household income.
func (u Users) TotalIncome() decimal.Decimal {
	return u.A.Income.Add(u.B.Income)
}

// UserPatch carries the fields of a partial user update. Nil fields are kept.
type UserPatch struct {
	Name   *string          `json:"name,omitempty"`
	Avatar *string          `json:"avatar,omitempty"`
	Income *decimal.Decimal `json:"income,omitempty"`
}

// Apply merges the patch into user.
func (p UserPatch) Apply(user User) User {
	if p.Name != nil {
		user.Name = *p.Name
	}
	if p.Avatar != nil {
		user.Avatar = *p.Avatar
	}
	if p.Income != nil {
		user.Income = *p.Income
	}
	return user
}

// Installments describes a purchase split over monthly payments.
type Installments struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Valid reports whether both counters are positive and current <= total.
func (i Installments) Valid() bool {
	return i.Current > 0 && i.Total > 0 && i.Current <= i.Total
}

// Transaction is the domain view of a persisted transaction document.
type Transaction struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Amount       decimal.Decimal `json:"amount"`
	Category     string          `json:"category"`
	Date         string          `json:"date"` // DD/MM/YYYY
	SpenderID    string          `json:"spenderId"`
	Emoji        string          `json:"emoji"`
	Type         TransactionType `json:"type"`
	IsPaid       bool            `json:"isPaid"`
	IsFixed      bool            `json:"isFixed"`
	PaidMonths   []string        `json:"paidMonths"`
	Installments *Installments   `json:"installments,omitempty"`
	IsDeleted    bool            `json:"isDeleted,omitempty"`
}

// PaidFor reports the paid status for month. Fixed transactions track it
// per month; all others use the single IsPaid flag.
func (t Transaction) PaidFor(month MonthKey) bool {
	if t.IsFixed {
		return slices.Contains(t.PaidMonths, month.String())
	}
	return t.IsPaid
}

// TogglePaidMonth returns PaidMonths with month added, or removed when it
// was already present. The receiver is not modified.
func (t Transaction) TogglePaidMonth(month string) []string {
	if slices.Contains(t.PaidMonths, month) {
		out := make([]string, 0, len(t.PaidMonths))
		for _, m := range t.PaidMonths {
			if m != month {
				out = append(out, m)
			}
		}
		return out
	}
	out := make([]string, 0, len(t.PaidMonths)+1)
	out = append(out, t.PaidMonths...)
	return append(out, month)
}

// Clone returns a deep copy.
func (t Transaction) Clone() Transaction {
	t.PaidMonths = slices.Clone(t.PaidMonths)
	if t.PaidMonths == nil {
		t.PaidMonths = []string{}
	}
	if t.Installments != nil {
		inst := *t.Installments
		t.Installments = &inst
	}
	return t
}

// Goal is a savings goal.
type Goal struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	TargetAmount  decimal.Decimal `json:"targetAmount"`
	CurrentAmount decimal.Decimal `json:"currentAmount"`
	ImageURL      string          `json:"imageUrl"`
	Color         string          `json:"color"`
	PurchaseURL   string          `json:"purchaseUrl,omitempty"`
	IsDeleted     bool            `json:"isDeleted,omitempty"`
}

// Progress returns current/target as a percentage. It may exceed 100.
func (g Goal) Progress() decimal.Decimal {
	if g.TargetAmount.IsZero() {
		return decimal.Zero
	}
	return g.CurrentAmount.Div(g.TargetAmount).Mul(decimal.NewFromInt(100))
}

// ShoppingItem is an entry of the shared shopping list.
type ShoppingItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	IsDeleted bool   `json:"isDeleted,omitempty"`
}

// FamilySettings groups the two independently persisted scalars.
type FamilySettings struct {
	FamilyName     string          `json:"familyName"`
	AlertThreshold decimal.Decimal `json:"alertThreshold"`
}
