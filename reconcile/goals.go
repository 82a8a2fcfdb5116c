package reconcile

import (
	"context"

	"github.com/c360studio/nossacarteira/confirm"
	"github.com/c360studio/nossacarteira/finance"
	"github.com/c360studio/nossacarteira/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaveGoal inserts or replaces goal by id and writes the goal collection.
// A goal without an id gets a new one, which is returned.
func (c *Coordinator) SaveGoal(ctx context.Context, goal finance.Goal) (string, error) {
	if goal.ID == "" {
		goal.ID = uuid.New().String()
	}

	c.mu.Lock()
	att, err := c.sessionLocked()
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.state.Goals = upsert(c.state.Goals, goal, goalIDOf)
	goals := cloneOrEmpty(c.state.Goals)
	c.mu.Unlock()

	c.writeWhole(ctx, att, storage.PathGoals, goals)
	return goal.ID, nil
}

// ContributeToGoal adds amount to the goal's current amount. A negative
// amount withdraws. The result is not clamped.
func (c *Coordinator) ContributeToGoal(ctx context.Context, goalID string, amount decimal.Decimal) error {
	c.mu.Lock()
	att, err := c.sessionLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	goal, ok := c.state.Goal(goalID)
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	goal.CurrentAmount = goal.CurrentAmount.Add(amount)
	c.state.Goals = upsert(c.state.Goals, goal, goalIDOf)
	goals := cloneOrEmpty(c.state.Goals)
	c.mu.Unlock()

	c.writeWhole(ctx, att, storage.PathGoals, goals)
	return nil
}

// DeleteGoal asks for confirmation; once confirmed the goal is removed and
// the goal collection written.
func (c *Coordinator) DeleteGoal(goalID string) error {
	c.mu.Lock()
	att, err := c.sessionLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	goal, ok := c.state.Goal(goalID)
	c.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	c.confirmer.Request(confirm.Prompt{
		Title:    "Excluir Meta?",
		Message:  "A meta \"" + goal.Title + "\" será removida.",
		Severity: confirm.SeverityDanger,
	}, func(ctx context.Context) error {
		c.mu.Lock()
		if c.att != att {
			c.mu.Unlock()
			return ErrNoSession
		}
		var removed bool
		c.state.Goals, removed = remove(c.state.Goals, goalID, goalIDOf)
		goals := cloneOrEmpty(c.state.Goals)
		c.mu.Unlock()

		if removed {
			c.writeWhole(ctx, att, storage.PathGoals, goals)
		}
		return nil
	})
	return nil
}
