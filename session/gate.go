package session

import (
	"context"
	"log/slog"
	"sync"
)

// State is what the gate exposes to the rest of the agent.
type State struct {
	Identity *Identity `json:"identity"`
	Loading  bool      `json:"loading"`
}

// Ready reports whether a session is established.
func (s State) Ready() bool {
	return !s.Loading && s.Identity != nil
}

// Hooks run on session transitions. Both are optional.
type Hooks struct {
	// OnLogin runs on a transition into a session.
	OnLogin func(Identity)
	// OnLogout runs on a transition out of a session. It must tear down
	// everything OnLogin set up.
	OnLogout func()
}

// Gate derives the session state from an Authenticator and drives the login
// and logout hooks. Switching straight from one identity to another runs
// the logout hook before the login hook.
type Gate struct {
	auth   Authenticator
	hooks  Hooks
	logger *slog.Logger

	mu    sync.Mutex
	state State
	unsub func()

	// hookMu keeps hook invocations in transition order.
	hookMu sync.Mutex

	listenerMu sync.Mutex
	listeners  map[uint64]func(State)
	nextID     uint64
}

// NewGate creates a gate in the loading state.
func NewGate(auth Authenticator, hooks Hooks, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		auth:      auth,
		hooks:     hooks,
		logger:    logger,
		state:     State{Loading: true},
		listeners: make(map[uint64]func(State)),
	}
}

// Start subscribes to the authenticator. Calling it again has no effect.
func (g *Gate) Start() {
	g.mu.Lock()
	if g.unsub != nil {
		g.mu.Unlock()
		return
	}
	g.unsub = func() {}
	g.mu.Unlock()

	unsub := g.auth.OnSessionChange(g.handle)

	g.mu.Lock()
	g.unsub = unsub
	g.mu.Unlock()
}

// Stop unsubscribes and, when a session is open, runs the logout hook.
func (g *Gate) Stop() {
	g.mu.Lock()
	unsub := g.unsub
	g.unsub = nil
	g.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	g.handle(nil)
}

// State returns the current session state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{Identity: copyIdentity(g.state.Identity), Loading: g.state.Loading}
}

// SignOut asks the authenticator to end the session. The logout hook runs
// when the authenticator reports the change.
func (g *Gate) SignOut(ctx context.Context) error {
	return g.auth.SignOut(ctx)
}

// OnChange registers fn for every state change.
func (g *Gate) OnChange(fn func(State)) func() {
	g.listenerMu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.listenerMu.Lock()
			delete(g.listeners, id)
			g.listenerMu.Unlock()
		})
	}
}

func (g *Gate) handle(next *Identity) {
	g.hookMu.Lock()
	defer g.hookMu.Unlock()

	g.mu.Lock()
	prev := g.state.Identity
	wasLoading := g.state.Loading
	g.state = State{Identity: copyIdentity(next)}
	g.mu.Unlock()

	if sameIdentity(prev, next) {
		if wasLoading {
			g.notify()
		}
		return
	}

	if prev != nil {
		g.logger.Info("Session closed", "user", prev.UserID)
		if g.hooks.OnLogout != nil {
			g.hooks.OnLogout()
		}
	}
	if next != nil {
		g.logger.Info("Session opened", "user", next.UserID, "household", next.Household)
		if g.hooks.OnLogin != nil {
			g.hooks.OnLogin(*next)
		}
	}
	g.notify()
}

func (g *Gate) notify() {
	state := g.State()

	g.listenerMu.Lock()
	fns := make([]func(State), 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.listenerMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
