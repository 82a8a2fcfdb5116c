// Package reconcile keeps the in-memory household state consistent with the
// remote store.
//
// Remote deliveries replace whole collections in the state; user intents
// update the state first and then persist, while the sync tracker shows the
// write in progress. Remote write failures are logged and never rolled back,
// so local and remote state may diverge until the next successful write or a
// forced resync.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360studio/nossacarteira/confirm"
	"github.com/c360studio/nossacarteira/finance"
	"github.com/c360studio/nossacarteira/normalize"
	"github.com/c360studio/nossacarteira/storage"
	"github.com/shopspring/decimal"
)

// Errors returned by the coordinator. Remote write failures are never
// returned; only faults in the request itself are.
var (
	ErrNoSession    = errors.New("no active session")
	ErrUnknownUser  = errors.New("unknown household member")
	ErrNotFound     = errors.New("record not found")
	ErrInvalidMonth = errors.New("invalid month key")
)

// PathTransactions labels document writes in the sync metrics.
const PathTransactions = "transactions"

// CollectionStore holds the whole-value paths.
type CollectionStore interface {
	Subscribe(ctx context.Context, path string, onValue func([]byte)) (func(), error)
	WriteWhole(ctx context.Context, path string, value any) error
}

// DocumentStore holds the transaction documents.
type DocumentStore interface {
	SubscribeDocuments(ctx context.Context, onSnapshot func([]storage.Document)) (func(), error)
	CreateDocument(ctx context.Context, fields map[string]any) (string, error)
	PatchDocument(ctx context.Context, id string, fields map[string]any) error
	DeleteDocument(ctx context.Context, id string) error
}

// Tracker reflects remote writes in the sync indicator.
type Tracker interface {
	Track(path string, fn func() error) error
}

// Confirmer guards destructive intents.
type Confirmer interface {
	Request(prompt confirm.Prompt, action confirm.Action)
}

// attachment is one session's view of the remote store.
type attachment struct {
	epoch       uint64
	collections CollectionStore
	documents   DocumentStore
	cancel      context.CancelFunc
	unsubs      []func()
}

// Coordinator owns the state and applies every mutation to it.
type Coordinator struct {
	tracker   Tracker
	confirmer Confirmer
	logger    *slog.Logger

	mu    sync.Mutex
	state State
	// epoch changes on every Attach and Detach; deliveries carry the epoch
	// they were subscribed under and are dropped once it is stale.
	epoch uint64
	att   *attachment
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a detached coordinator holding the default state.
func New(tracker Tracker, confirmer Confirmer, opts ...Option) *Coordinator {
	c := &Coordinator{
		tracker:   tracker,
		confirmer: confirmer,
		logger:    slog.Default(),
		state:     DefaultState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach opens the session's subscriptions: the five whole-value paths and
// the transaction documents. An existing attachment is detached first.
func (c *Coordinator) Attach(ctx context.Context, collections CollectionStore, documents DocumentStore) error {
	c.Detach()

	subCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.epoch++
	att := &attachment{
		epoch:       c.epoch,
		collections: collections,
		documents:   documents,
		cancel:      cancel,
	}
	c.att = att
	c.mu.Unlock()

	// Subscribing happens outside the lock since a store may deliver the
	// initial value before Subscribe returns.
	var unsubs []func()
	fail := func(err error) error {
		for _, u := range unsubs {
			u()
		}
		c.Detach()
		return err
	}

	for _, path := range storage.Paths {
		unsub, err := collections.Subscribe(subCtx, path, c.collectionHandler(att.epoch, path))
		if err != nil {
			return fail(fmt.Errorf("subscribe %s: %w", path, err))
		}
		unsubs = append(unsubs, unsub)
	}

	unsub, err := documents.SubscribeDocuments(subCtx, c.documentsHandler(att.epoch))
	if err != nil {
		return fail(fmt.Errorf("subscribe transactions: %w", err))
	}
	unsubs = append(unsubs, unsub)

	c.mu.Lock()
	if c.att != att {
		// Detached while subscribing.
		c.mu.Unlock()
		for _, u := range unsubs {
			u()
		}
		return ErrNoSession
	}
	att.unsubs = unsubs
	c.mu.Unlock()

	c.logger.Info("Reconciliation attached", "epoch", att.epoch)
	return nil
}

// Detach tears down every subscription and resets the state to defaults.
// Deliveries still in flight are discarded. Safe to call when detached.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	att := c.att
	c.att = nil
	c.epoch++
	c.state = DefaultState()
	c.mu.Unlock()

	if att == nil {
		return
	}
	att.cancel()
	for _, u := range att.unsubs {
		u()
	}
	c.logger.Info("Reconciliation detached", "epoch", att.epoch)
}

// Attached reports whether a session is attached.
func (c *Coordinator) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.att != nil
}

// Snapshot returns a deep copy of the state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Summary computes the month summary from the current state.
func (c *Coordinator) Summary(month finance.MonthKey) finance.MonthSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return finance.Summarize(c.state.Transactions, c.state.Users, month, c.state.AlertThreshold)
}

// collectionHandler decodes deliveries for path into the state. Absent or
// undecodable values keep the current state.
func (c *Coordinator) collectionHandler(epoch uint64, path string) func([]byte) {
	return func(data []byte) {
		if len(data) == 0 || string(data) == "null" {
			return
		}

		var apply func(*State)
		var err error
		switch path {
		case storage.PathGoals:
			var goals []finance.Goal
			if err = json.Unmarshal(data, &goals); err == nil {
				apply = func(s *State) { s.Goals = cloneOrEmpty(goals) }
			}
		case storage.PathShoppingItems:
			var items []finance.ShoppingItem
			if err = json.Unmarshal(data, &items); err == nil {
				apply = func(s *State) { s.ShoppingItems = cloneOrEmpty(items) }
			}
		case storage.PathUsers:
			var users finance.Users
			if err = json.Unmarshal(data, &users); err == nil {
				apply = func(s *State) { s.Users = users }
			}
		case storage.PathFamilyName:
			var name string
			if err = json.Unmarshal(data, &name); err == nil {
				apply = func(s *State) { s.FamilyName = name }
			}
		case storage.PathAlertThreshold:
			var threshold decimal.Decimal
			if err = json.Unmarshal(data, &threshold); err == nil {
				apply = func(s *State) { s.AlertThreshold = threshold }
			}
		default:
			return
		}
		if err != nil {
			c.logger.Warn("Ignoring undecodable delivery", "path", path, "error", err)
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epoch != epoch {
			return
		}
		apply(&c.state)
	}
}

func (c *Coordinator) documentsHandler(epoch uint64) func([]storage.Document) {
	return func(docs []storage.Document) {
		txs := make([]finance.Transaction, 0, len(docs))
		for _, d := range docs {
			txs = append(txs, normalize.ToDomain(d.ID, d.Fields))
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epoch != epoch {
			return
		}
		c.state.Transactions = txs
	}
}

// sessionLocked returns the current attachment. Callers hold c.mu.
func (c *Coordinator) sessionLocked() (*attachment, error) {
	if c.att == nil {
		return nil, ErrNoSession
	}
	return c.att, nil
}

// stillAttached reports whether att is the current attachment. Confirmed
// actions use it so a prompt opened in one session never acts on another.
func (c *Coordinator) stillAttached(att *attachment) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.att == att
}

// writeWhole persists value at path. Failures are logged only.
func (c *Coordinator) writeWhole(ctx context.Context, att *attachment, path string, value any) {
	err := c.tracker.Track(path, func() error {
		return att.collections.WriteWhole(ctx, path, value)
	})
	if err != nil {
		c.logger.Warn("Remote write failed", "path", path, "error", err)
	}
}

// writeConcurrently issues independent whole writes and waits for all.
func (c *Coordinator) writeConcurrently(ctx context.Context, att *attachment, writes map[string]any) {
	var wg sync.WaitGroup
	for path, value := range writes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.writeWhole(ctx, att, path, value)
		}()
	}
	wg.Wait()
}

// document runs a tracked document write. Failures are logged only.
func (c *Coordinator) document(op, id string, fn func() error) {
	if err := c.tracker.Track(PathTransactions, fn); err != nil {
		c.logger.Warn("Remote document write failed", "op", op, "id", id, "error", err)
	}
}
