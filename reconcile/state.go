package reconcile

import (
	"slices"

	"github.com/c360studio/nossacarteira/finance"
	"github.com/shopspring/decimal"
)

// State is the in-memory household model. The coordinator owns it; readers
// only ever receive copies from Snapshot.
type State struct {
	Users          finance.Users          `json:"users"`
	Goals          []finance.Goal         `json:"goals"`
	ShoppingItems  []finance.ShoppingItem `json:"shoppingItems"`
	Transactions   []finance.Transaction  `json:"transactions"`
	FamilyName     string                 `json:"familyName"`
	AlertThreshold decimal.Decimal        `json:"alertThreshold"`
}

// DefaultState is the state before any delivery and after logout.
func DefaultState() State {
	return State{
		Users:          finance.DefaultUsers(),
		Goals:          []finance.Goal{},
		ShoppingItems:  []finance.ShoppingItem{},
		Transactions:   []finance.Transaction{},
		FamilyName:     finance.DefaultFamilyName,
		AlertThreshold: finance.DefaultAlertThreshold,
	}
}

// Clone returns a deep copy. Nil collections come back empty.
func (s State) Clone() State {
	out := s
	out.Goals = cloneOrEmpty(s.Goals)
	out.ShoppingItems = cloneOrEmpty(s.ShoppingItems)
	out.Transactions = make([]finance.Transaction, len(s.Transactions))
	for i, tx := range s.Transactions {
		out.Transactions[i] = tx.Clone()
	}
	return out
}

// Goal returns the goal with id.
func (s State) Goal(id string) (finance.Goal, bool) {
	i := slices.IndexFunc(s.Goals, func(g finance.Goal) bool { return g.ID == id })
	if i < 0 {
		return finance.Goal{}, false
	}
	return s.Goals[i], true
}

// Transaction returns the transaction with id.
func (s State) Transaction(id string) (finance.Transaction, bool) {
	i := slices.IndexFunc(s.Transactions, func(t finance.Transaction) bool { return t.ID == id })
	if i < 0 {
		return finance.Transaction{}, false
	}
	return s.Transactions[i].Clone(), true
}

// Settings returns the two family scalars together.
func (s State) Settings() finance.FamilySettings {
	return finance.FamilySettings{FamilyName: s.FamilyName, AlertThreshold: s.AlertThreshold}
}

func cloneOrEmpty[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// upsert replaces the element with the same id in place, or appends it.
func upsert[T any](items []T, item T, id func(T) string) []T {
	key := id(item)
	out := cloneOrEmpty(items)
	if i := slices.IndexFunc(out, func(v T) bool { return id(v) == key }); i >= 0 {
		out[i] = item
		return out
	}
	return append(out, item)
}

// remove drops every element with id.
func remove[T any](items []T, key string, id func(T) string) ([]T, bool) {
	out := make([]T, 0, len(items))
	for _, v := range items {
		if id(v) != key {
			out = append(out, v)
		}
	}
	return out, len(out) != len(items)
}

func goalIDOf(g finance.Goal) string { return g.ID }
func shoppingItemIDOf(i finance.ShoppingItem) string { return i.ID }
