// Package confirm implements the two-step guard in front of destructive
// mutations. A request opens a prompt holding the action to run; the action
// runs only when the prompt is confirmed. One prompt is open at a time and a
// new request replaces the open one.
package confirm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Severity selects how the prompt is presented.
type Severity string

const (
	SeverityDanger  Severity = "danger"
	SeverityWarning Severity = "warning"
)

// ErrNoPrompt is returned by Confirm when nothing is pending.
var ErrNoPrompt = errors.New("no confirmation pending")

// Prompt is what the user is asked to confirm.
type Prompt struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Action runs on confirmation.
type Action func(ctx context.Context) error

type pending struct {
	prompt Prompt
	action Action
	gen    uint64

	// running is set while the action executes so a second Confirm cannot
	// run it again.
	running bool
}

// Gate holds at most one pending prompt.
type Gate struct {
	mu      sync.Mutex
	current *pending
	gen     uint64
	logger  *slog.Logger
}

// NewGate creates an empty gate.
func NewGate(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{logger: logger}
}

// Request opens prompt with action, replacing any open prompt.
func (g *Gate) Request(prompt Prompt, action Action) {
	if prompt.Severity == "" {
		prompt.Severity = SeverityDanger
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil {
		g.logger.Debug("Replacing pending confirmation", "title", g.current.prompt.Title)
	}
	g.gen++
	g.current = &pending{prompt: prompt, action: action, gen: g.gen}
}

// Pending returns the open prompt, if any.
func (g *Gate) Pending() (Prompt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return Prompt{}, false
	}
	return g.current.prompt, true
}

// Confirm runs the pending action and then closes the prompt. When a newer
// request replaced the prompt while the action ran, the newer prompt stays
// open. The action's error is returned.
func (g *Gate) Confirm(ctx context.Context) error {
	g.mu.Lock()
	p := g.current
	if p == nil || p.running {
		g.mu.Unlock()
		return ErrNoPrompt
	}
	p.running = true
	g.mu.Unlock()

	var err error
	if p.action != nil {
		err = p.action(ctx)
	}

	g.mu.Lock()
	if g.current != nil && g.current.gen == p.gen {
		g.current = nil
	}
	g.mu.Unlock()
	return err
}

// Cancel closes the open prompt without running its action.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = nil
}
