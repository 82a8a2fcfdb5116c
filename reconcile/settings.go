package reconcile

import (
	"context"

	"github.com/c360studio/nossacarteira/finance"
	"github.com/c360studio/nossacarteira/storage"
	"github.com/shopspring/decimal"
)

// UpdateUser merges patch into the user under key and writes the users path.
func (c *Coordinator) UpdateUser(ctx context.Context, key finance.UserKey, patch finance.UserPatch) error {
	if !key.Valid() {
		return ErrUnknownUser
	}

	c.mu.Lock()
	att, err := c.sessionLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	user, _ := c.state.Users.Get(key)
	c.state.Users = c.state.Users.With(key, patch.Apply(user))
	users := c.state.Users
	c.mu.Unlock()

	c.writeWhole(ctx, att, storage.PathUsers, users)
	return nil
}

// UpdateFamilySettings sets the family name and alert threshold. Each is
// written to its own path.
func (c *Coordinator) UpdateFamilySettings(ctx context.Context, name string, threshold decimal.Decimal) error {
	c.mu.Lock()
	att, err := c.sessionLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state.FamilyName = name
	c.state.AlertThreshold = threshold
	c.mu.Unlock()

	c.writeConcurrently(ctx, att, map[string]any{
		storage.PathFamilyName:     name,
		storage.PathAlertThreshold: threshold,
	})
	return nil
}

// Overrides replace values pushed by ForceFullResync. Nil fields push the
// current state.
type Overrides struct {
	Users          *finance.Users   `json:"users,omitempty"`
	FamilyName     *string          `json:"familyName,omitempty"`
	AlertThreshold *decimal.Decimal `json:"alertThreshold,omitempty"`
}

// ForceFullResync re-pushes every whole-value path from the state. The
// writes run concurrently and independently; a failed path does not stop
// the others. Overridden values are pushed without touching the state; the
// subscriptions bring them back.
func (c *Coordinator) ForceFullResync(ctx context.Context, overrides Overrides) error {
	c.mu.Lock()
	att, err := c.sessionLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	snap := c.state.Clone()
	c.mu.Unlock()

	users := snap.Users
	if overrides.Users != nil {
		users = *overrides.Users
	}
	name := snap.FamilyName
	if overrides.FamilyName != nil {
		name = *overrides.FamilyName
	}
	threshold := snap.AlertThreshold
	if overrides.AlertThreshold != nil {
		threshold = *overrides.AlertThreshold
	}

	c.logger.Info("Forcing full resync")
	c.writeConcurrently(ctx, att, map[string]any{
		storage.PathGoals:          snap.Goals,
		storage.PathShoppingItems:  snap.ShoppingItems,
		storage.PathUsers:          users,
		storage.PathFamilyName:     name,
		storage.PathAlertThreshold: threshold,
	})
	return nil
}
