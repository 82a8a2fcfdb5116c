package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// maxPatchAttempts bounds the read-merge-update loop of PatchDocument.
const maxPatchAttempts = 8

// Document is one stored transaction: its id and raw persisted fields.
type Document struct {
	ID     string
	Fields map[string]any
}

// Documents stores one JSON object per KV key.
type Documents struct {
	kv     jetstream.KeyValue
	prefix string
	logger *slog.Logger
}

// NewDocuments opens the documents bucket, creating it if needed.
func NewDocuments(ctx context.Context, js jetstream.JetStream, bucket string, opts ...Option) (*Documents, error) {
	o := buildOptions(opts)
	kv, err := getOrCreateBucket(ctx, js, bucket, o.history)
	if err != nil {
		return nil, fmt.Errorf("create documents bucket: %w", err)
	}
	return &Documents{kv: kv, logger: o.logger}, nil
}

// Scoped returns a view of the store restricted to one household.
func (d *Documents) Scoped(scope string) (*Documents, error) {
	prefix, err := scopePrefix(scope)
	if err != nil {
		return nil, err
	}
	return &Documents{
		kv:     d.kv,
		prefix: d.prefix + prefix,
		logger: d.logger.With("scope", scope),
	}, nil
}

func (d *Documents) key(id string) (string, error) {
	if err := validToken(id); err != nil {
		return "", err
	}
	return d.prefix + id, nil
}

func (d *Documents) pattern() string {
	if d.prefix == "" {
		return ">"
	}
	return d.prefix + "*"
}

// SubscribeDocuments delivers the full document set, ordered by id, once the
// initial replay completes (an empty set included) and again after every
// insert, update or delete. Entries that are not JSON objects are skipped.
// The returned function is safe to call more than once.
func (d *Documents) SubscribeDocuments(ctx context.Context, onSnapshot func([]Document)) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := d.kv.Watch(watchCtx, d.pattern())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch documents: %w", err)
	}

	go func() {
		defer func() {
			if err := watcher.Stop(); err != nil {
				d.logger.Debug("Stop document watcher", "error", err)
			}
		}()

		docs := make(map[string]map[string]any)
		ready := false
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
				if entry == nil {
					ready = true
					onSnapshot(snapshot(docs))
					continue
				}

				id := strings.TrimPrefix(entry.Key(), d.prefix)
				if isRemoval(entry.Operation()) {
					delete(docs, id)
				} else {
					var fields map[string]any
					if err := json.Unmarshal(entry.Value(), &fields); err != nil || fields == nil {
						d.logger.Warn("Skipping undecodable document", "id", id, "error", err)
						delete(docs, id)
					} else {
						docs[id] = fields
					}
				}
				if ready {
					onSnapshot(snapshot(docs))
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

func snapshot(docs map[string]map[string]any) []Document {
	ids := slices.Sorted(maps.Keys(docs))
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, Document{ID: id, Fields: maps.Clone(docs[id])})
	}
	return out
}

// CreateDocument stores fields under a new id and returns it.
func (d *Documents) CreateDocument(ctx context.Context, fields map[string]any) (string, error) {
	id := uuid.New().String()
	key, err := d.key(id)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	if _, err := d.kv.Create(ctx, key, data); err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	return id, nil
}

// GetDocument returns one document.
func (d *Documents) GetDocument(ctx context.Context, id string) (Document, error) {
	fields, _, err := d.get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Fields: fields}, nil
}

func (d *Documents) get(ctx context.Context, id string) (map[string]any, uint64, error) {
	key, err := d.key(id)
	if err != nil {
		return nil, 0, err
	}

	entry, err := d.kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("get document: %w", err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal(entry.Value(), &fields); err != nil {
		return nil, 0, fmt.Errorf("unmarshal document: %w", err)
	}
	return fields, entry.Revision(), nil
}

// PatchDocument merges fields into an existing document. The merge is a
// compare-and-swap on the key revision, retried when another writer got in
// first, so concurrent patches of different fields are both kept.
func (d *Documents) PatchDocument(ctx context.Context, id string, fields map[string]any) error {
	key, err := d.key(id)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= maxPatchAttempts; attempt++ {
		current, revision, err := d.get(ctx, id)
		if err != nil {
			return err
		}
		maps.Copy(current, fields)

		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}

		_, err = d.kv.Update(ctx, key, data, revision)
		if err == nil {
			return nil
		}
		if !isWrongRevision(err) {
			return fmt.Errorf("patch document: %w", err)
		}
		d.logger.Debug("Patch lost revision race", "id", id, "attempt", attempt)
	}
	return fmt.Errorf("patch document %s: %w", id, ErrConflict)
}

// DeleteDocument removes a document. Deleting a missing document returns
// ErrNotFound.
func (d *Documents) DeleteDocument(ctx context.Context, id string) error {
	key, err := d.key(id)
	if err != nil {
		return err
	}

	if _, err := d.kv.Get(ctx, key); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete document: %w", err)
	}

	if err := d.kv.Delete(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
