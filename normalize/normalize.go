// Package normalize maps transaction documents between the persisted schema
// (Portuguese field names, ISO dates) and the finance domain model.
//
// The persisted field names are a compatibility contract with existing
// records and must not change.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/nossacarteira/finance"
	"github.com/shopspring/decimal"
)

// Persisted field names.
const (
	FieldTitle        = "descricao"
	FieldAmount       = "valor"
	FieldCategory     = "categoria"
	FieldDate         = "data"
	FieldUserID       = "userId"
	FieldEmoji        = "emoji"
	FieldType         = "tipo"
	FieldPaid         = "pago"
	FieldFixed        = "isFixed"
	FieldPaidMonths   = "paidMonths"
	FieldInstallments = "installments"
)

// Persisted values of the tipo field.
const (
	TypeExpense = "despesa"
	TypeRevenue = "receita"
)

// Fallbacks applied when a persisted document omits a field.
const (
	DefaultTitle    = "Sem título"
	DefaultCategory = "Geral"
	DefaultSpender  = "unknown"
)

const isoDateLayout = "2006-01-02"

// ErrMalformedDate is returned when a domain date is not a valid DD/MM/YYYY date.
var ErrMalformedDate = errors.New("malformed transaction date")

// nowFunc supplies the date used when a persisted document has none.
var nowFunc = time.Now

// ToDomain converts a persisted document into a domain transaction. Every
// optional field is defaulted; unexpected shapes fall back to the default
// instead of failing.
func ToDomain(id string, fields map[string]any) finance.Transaction {
	txType := finance.TransactionRevenue
	if str(fields[FieldType]) == TypeExpense {
		txType = finance.TransactionExpense
	}

	tx := finance.Transaction{
		ID:           id,
		Title:        strOr(fields[FieldTitle], DefaultTitle),
		Amount:       amount(fields[FieldAmount]),
		Category:     strOr(fields[FieldCategory], DefaultCategory),
		Date:         displayDate(fields[FieldDate]),
		SpenderID:    strOr(fields[FieldUserID], DefaultSpender),
		Emoji:        strOr(fields[FieldEmoji], finance.TypeEmoji(txType)),
		Type:         txType,
		IsPaid:       boolean(fields[FieldPaid]),
		IsFixed:      boolean(fields[FieldFixed]),
		PaidMonths:   stringSlice(fields[FieldPaidMonths]),
		Installments: installments(fields[FieldInstallments]),
		IsDeleted:    boolean(fields["isDeleted"]),
	}
	return tx
}

// ToPersisted converts a domain transaction into the persisted field set
// written on create and on edit. Missing installments are written as an
// explicit null so an edit clears them.
func ToPersisted(tx finance.Transaction) (map[string]any, error) {
	date, err := PersistedDate(tx.Date)
	if err != nil {
		return nil, err
	}

	paidMonths := tx.PaidMonths
	if paidMonths == nil {
		paidMonths = []string{}
	}

	var inst any
	if tx.Installments != nil {
		inst = map[string]any{
			"current": tx.Installments.Current,
			"total":   tx.Installments.Total,
		}
	}

	return map[string]any{
		FieldTitle:        tx.Title,
		FieldAmount:       tx.Amount.InexactFloat64(),
		FieldCategory:     tx.Category,
		FieldDate:         date,
		FieldUserID:       tx.SpenderID,
		FieldEmoji:        tx.Emoji,
		FieldType:         persistedType(tx.Type),
		FieldPaid:         tx.IsPaid,
		FieldFixed:        tx.IsFixed,
		FieldPaidMonths:   paidMonths,
		FieldInstallments: inst,
	}, nil
}

// PersistedDate rewrites a DD/MM/YYYY date as YYYY-MM-DD.
func PersistedDate(display string) (string, error) {
	t, err := time.Parse(finance.DisplayDateLayout, display)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrMalformedDate, display)
	}
	return t.Format(isoDateLayout), nil
}

// PaidPatch is the partial update that flips a one-off transaction.
func PaidPatch(paid bool) map[string]any {
	return map[string]any{FieldPaid: paid}
}

// PaidMonthsPatch is the partial update that replaces the paid months of a
// fixed transaction.
func PaidMonthsPatch(months []string) map[string]any {
	if months == nil {
		months = []string{}
	}
	return map[string]any{FieldPaidMonths: months}
}

func persistedType(t finance.TransactionType) string {
	if t == finance.TransactionExpense {
		return TypeExpense
	}
	return TypeRevenue
}

// displayDate rewrites three-part dashed dates to DD/MM/YYYY, zero-padding
// numeric day and month parts. Any other string passes through untouched;
// an absent date becomes today.
func displayDate(v any) string {
	s := str(v)
	if s == "" {
		return nowFunc().Format(finance.DisplayDateLayout)
	}
	if parts := strings.Split(s, "-"); len(parts) == 3 {
		return pad2(parts[2]) + "/" + pad2(parts[1]) + "/" + parts[0]
	}
	return s
}

// pad2 left-pads a one-digit number to two digits.
func pad2(part string) string {
	if len(part) == 1 && part[0] >= '0' && part[0] <= '9' {
		return "0" + part
	}
	return part
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strOr(v any, fallback string) string {
	if s := str(v); s != "" {
		return s
	}
	return fallback
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func amount(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case json.Number:
		if d, err := decimal.NewFromString(n.String()); err == nil {
			return d
		}
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(n)); err == nil {
			return d
		}
	}
	return decimal.Zero
}

func integer(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func stringSlice(v any) []string {
	out := []string{}
	switch items := v.(type) {
	case []string:
		out = append(out, items...)
	case []any:
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func installments(v any) *finance.Installments {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	current, ok := integer(m["current"])
	if !ok {
		return nil
	}
	total, ok := integer(m["total"])
	if !ok {
		return nil
	}
	inst := finance.Installments{Current: current, Total: total}
	if !inst.Valid() {
		return nil
	}
	return &inst
}
