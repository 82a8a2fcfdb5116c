package reconcile

import (
	"context"

	"github.com/c360studio/nossacarteira/confirm"
	"github.com/c360studio/nossacarteira/finance"
	"github.com/c360studio/nossacarteira/storage"
	"github.com/google/uuid"
)

// SaveShoppingItem inserts or replaces item by id and writes the shopping
// list. An item without an id gets a new one, which is returned.
func (c *Coordinator) SaveShoppingItem(ctx context.Context, item finance.ShoppingItem) (string, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	c.mu.Lock()
	att, err := c.sessionLocked()
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.state.ShoppingItems = upsert(c.state.ShoppingItems, item, shoppingItemIDOf)
	items := cloneOrEmpty(c.state.ShoppingItems)
	c.mu.Unlock()

	c.writeWhole(ctx, att, storage.PathShoppingItems, items)
	return item.ID, nil
}

// ToggleShoppingItem flips the completed flag of an item.
func (c *Coordinator) ToggleShoppingItem(ctx context.Context, id string) error {
	c.mu.Lock()
	att, err := c.sessionLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	found := false
	items := cloneOrEmpty(c.state.ShoppingItems)
	for i := range items {
		if items[i].ID == id {
			items[i].Completed = !items[i].Completed
			found = true
		}
	}
	if !found {
		c.mu.Unlock()
		return ErrNotFound
	}
	c.state.ShoppingItems = items
	items = cloneOrEmpty(items)
	c.mu.Unlock()

	c.writeWhole(ctx, att, storage.PathShoppingItems, items)
	return nil
}

// DeleteShoppingItem asks for confirmation; once confirmed the item is
// removed and the shopping list written.
func (c *Coordinator) DeleteShoppingItem(id string) error {
	c.mu.Lock()
	att, err := c.sessionLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	var item finance.ShoppingItem
	found := false
	for _, it := range c.state.ShoppingItems {
		if it.ID == id {
			item, found = it, true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return ErrNotFound
	}

	c.confirmer.Request(confirm.Prompt{
		Title:    "Remover Item?",
		Message:  "\"" + item.Text + "\" sairá da lista de compras.",
		Severity: confirm.SeverityWarning,
	}, func(ctx context.Context) error {
		c.mu.Lock()
		if c.att != att {
			c.mu.Unlock()
			return ErrNoSession
		}
		var removed bool
		c.state.ShoppingItems, removed = remove(c.state.ShoppingItems, id, shoppingItemIDOf)
		items := cloneOrEmpty(c.state.ShoppingItems)
		c.mu.Unlock()

		if removed {
			c.writeWhole(ctx, att, storage.PathShoppingItems, items)
		}
		return nil
	})
	return nil
}
