package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// Collections stores whole JSON values under logical paths.
type Collections struct {
	kv     jetstream.KeyValue
	prefix string
	logger *slog.Logger
}

// NewCollections opens the collections bucket, creating it if needed.
func NewCollections(ctx context.Context, js jetstream.JetStream, bucket string, opts ...Option) (*Collections, error) {
	o := buildOptions(opts)
	kv, err := getOrCreateBucket(ctx, js, bucket, o.history)
	if err != nil {
		return nil, fmt.Errorf("create collections bucket: %w", err)
	}
	return &Collections{kv: kv, logger: o.logger}, nil
}

// Scoped returns a view of the store restricted to one household.
func (c *Collections) Scoped(scope string) (*Collections, error) {
	prefix, err := scopePrefix(scope)
	if err != nil {
		return nil, err
	}
	return &Collections{
		kv:     c.kv,
		prefix: c.prefix + prefix,
		logger: c.logger.With("scope", scope),
	}, nil
}

func (c *Collections) key(path string) (string, error) {
	if err := validToken(path); err != nil {
		return "", err
	}
	return c.prefix + path, nil
}

// Subscribe delivers the current value at path, or nil when nothing is
// stored, and then every later change. A deleted value is delivered as nil.
// Deliveries run on one goroutine per subscription and stop when the
// returned function is called or ctx ends. The returned function is safe
// to call more than once.
func (c *Collections) Subscribe(ctx context.Context, path string, onValue func([]byte)) (func(), error) {
	key, err := c.key(path)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := c.kv.Watch(watchCtx, key)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	go func() {
		defer func() {
			if err := watcher.Stop(); err != nil {
				c.logger.Debug("Stop collection watcher", "path", path, "error", err)
			}
		}()

		delivered := false
		for {
			select {
			case <-watchCtx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if watchCtx.Err() != nil {
					return
				}
				// nil marks the end of the initial replay.
				if entry == nil {
					if !delivered {
						delivered = true
						onValue(nil)
					}
					continue
				}
				delivered = true
				if isRemoval(entry.Operation()) {
					onValue(nil)
					continue
				}
				onValue(entry.Value())
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// WriteWhole replaces the value at path with the JSON encoding of value.
// Concurrent writers to the same path resolve last write wins.
func (c *Collections) WriteWhole(ctx context.Context, path string, value any) error {
	key, err := c.key(path)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	if _, err := c.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Read returns the raw value at path.
func (c *Collections) Read(ctx context.Context, path string) ([]byte, error) {
	key, err := c.key(path)
	if err != nil {
		return nil, err
	}

	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return entry.Value(), nil
}
