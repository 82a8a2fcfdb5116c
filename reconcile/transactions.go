package reconcile

import (
	"context"
	"fmt"

	"github.com/c360studio/nossacarteira/confirm"
	"github.com/c360studio/nossacarteira/finance"
	"github.com/c360studio/nossacarteira/normalize"
)

// ToggleTransactionPaid flips the paid status of a transaction. For a fixed
// transaction with a month, the month's membership in paidMonths is toggled;
// otherwise the single paid flag is. The state is not touched: the document
// subscription delivers the change. An unknown id is ignored.
func (c *Coordinator) ToggleTransactionPaid(ctx context.Context, id, month string) error {
	if month != "" {
		if _, err := finance.ParseMonthKey(month); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidMonth, month)
		}
	}

	c.mu.Lock()
	att, err := c.sessionLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	tx, ok := c.state.Transaction(id)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("Toggle for unknown transaction ignored", "id", id)
		return nil
	}

	patch := normalize.PaidPatch(!tx.IsPaid)
	if tx.IsFixed && month != "" {
		patch = normalize.PaidMonthsPatch(tx.TogglePaidMonth(month))
	}

	c.document("patch", id, func() error {
		return att.documents.PatchDocument(ctx, id, patch)
	})
	return nil
}

// UpsertTransaction normalizes tx and creates it, or patches the existing
// document when isEdit is set. The state is updated by the document
// subscription, not here. The document id is returned; it is empty when the
// create failed remotely.
func (c *Coordinator) UpsertTransaction(ctx context.Context, tx finance.Transaction, isEdit bool) (string, error) {
	if isEdit && tx.ID == "" {
		return "", fmt.Errorf("%w: edit without id", ErrNotFound)
	}
	if tx.Type == "" {
		tx.Type = finance.TransactionExpense
	}
	if tx.Emoji == "" {
		tx.Emoji = finance.DefaultEmoji(tx.Category, tx.Type)
	}

	fields, err := normalize.ToPersisted(tx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	att, err := c.sessionLocked()
	c.mu.Unlock()
	if err != nil {
		return "", err
	}

	if isEdit {
		c.document("patch", tx.ID, func() error {
			return att.documents.PatchDocument(ctx, tx.ID, fields)
		})
		return tx.ID, nil
	}

	var id string
	c.document("create", "", func() error {
		var err error
		id, err = att.documents.CreateDocument(ctx, fields)
		return err
	})
	return id, nil
}

// DeleteTransaction asks for confirmation; once confirmed the document is
// deleted.
func (c *Coordinator) DeleteTransaction(id string) error {
	c.mu.Lock()
	att, err := c.sessionLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.confirmer.Request(confirm.Prompt{
		Title:    "Excluir Lançamento?",
		Message:  "Esta ação removerá o registro permanentemente do banco de dados.",
		Severity: confirm.SeverityDanger,
	}, func(ctx context.Context) error {
		if !c.stillAttached(att) {
			return ErrNoSession
		}

		c.document("delete", id, func() error {
			return att.documents.DeleteDocument(ctx, id)
		})
		return nil
	})
	return nil
}
