package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/c360studio/nossacarteira/storage"
)

var errRemote = errors.New("remote unavailable")

// fakeCollections is an in-memory CollectionStore that delivers
// synchronously.
type fakeCollections struct {
	mu     sync.Mutex
	values map[string][]byte
	subs   map[string]map[int]func([]byte)
	nextID int
	writes []string
	fail   map[string]error
	// block, when set, holds WriteWhole until it is closed.
	block chan struct{}
	// handlers keeps every handler ever subscribed, including removed ones.
	handlers map[string][]func([]byte)
}

func newFakeCollections() *fakeCollections {
	return &fakeCollections{
		values:   make(map[string][]byte),
		subs:     make(map[string]map[int]func([]byte)),
		fail:     make(map[string]error),
		handlers: make(map[string][]func([]byte)),
	}
}

func (f *fakeCollections) seed(path string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.values[path] = data
	f.mu.Unlock()
}

func (f *fakeCollections) Subscribe(_ context.Context, path string, onValue func([]byte)) (func(), error) {
	f.mu.Lock()
	if err := f.fail["subscribe:"+path]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	id := f.nextID
	f.nextID++
	if f.subs[path] == nil {
		f.subs[path] = make(map[int]func([]byte))
	}
	f.subs[path][id] = onValue
	f.handlers[path] = append(f.handlers[path], onValue)
	current := f.values[path]
	f.mu.Unlock()

	onValue(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[path], id)
			f.mu.Unlock()
		})
	}, nil
}

func (f *fakeCollections) WriteWhole(_ context.Context, path string, value any) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.writes = append(f.writes, path)
	if err := f.fail[path]; err != nil {
		f.mu.Unlock()
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.values[path] = data
	subs := slices.Collect(maps.Values(f.subs[path]))
	f.mu.Unlock()

	for _, fn := range subs {
		fn(data)
	}
	return nil
}

func (f *fakeCollections) value(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.values[path])
}

func (f *fakeCollections) writeLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.writes)
}

func (f *fakeCollections) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		n += len(s)
	}
	return n
}

func (f *fakeCollections) allHandlers(path string) []func([]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.handlers[path])
}

// fakeDocuments is an in-memory DocumentStore that delivers synchronously.
type fakeDocuments struct {
	mu      sync.Mutex
	docs    map[string]map[string]any
	subs    map[int]func([]storage.Document)
	nextSub int
	nextDoc int
	ops     []string
	fail    error
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{
		docs: make(map[string]map[string]any),
		subs: make(map[int]func([]storage.Document)),
	}
}

func (f *fakeDocuments) seed(id string, fields map[string]any) {
	f.mu.Lock()
	f.docs[id] = maps.Clone(fields)
	f.mu.Unlock()
}

func (f *fakeDocuments) snapshotLocked() []storage.Document {
	ids := slices.Sorted(maps.Keys(f.docs))
	out := make([]storage.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, storage.Document{ID: id, Fields: maps.Clone(f.docs[id])})
	}
	return out
}

func (f *fakeDocuments) SubscribeDocuments(_ context.Context, onSnapshot func([]storage.Document)) (func(), error) {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = onSnapshot
	snap := f.snapshotLocked()
	f.mu.Unlock()

	onSnapshot(snap)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}, nil
}

// mutate applies fn under the lock and then delivers a fresh snapshot.
func (f *fakeDocuments) mutate(op string, fn func() error) error {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	if f.fail != nil {
		f.mu.Unlock()
		return f.fail
	}
	if err := fn(); err != nil {
		f.mu.Unlock()
		return err
	}
	snap := f.snapshotLocked()
	subs := slices.Collect(maps.Values(f.subs))
	f.mu.Unlock()

	for _, s := range subs {
		s(snap)
	}
	return nil
}

func (f *fakeDocuments) CreateDocument(_ context.Context, fields map[string]any) (string, error) {
	var id string
	err := f.mutate("create", func() error {
		f.nextDoc++
		id = fmt.Sprintf("doc-%d", f.nextDoc)
		f.docs[id] = jsonRoundTrip(fields)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (f *fakeDocuments) PatchDocument(_ context.Context, id string, fields map[string]any) error {
	return f.mutate("patch:"+id, func() error {
		doc, ok := f.docs[id]
		if !ok {
			return storage.ErrNotFound
		}
		maps.Copy(doc, jsonRoundTrip(fields))
		return nil
	})
}

func (f *fakeDocuments) DeleteDocument(_ context.Context, id string) error {
	return f.mutate("delete:"+id, func() error {
		if _, ok := f.docs[id]; !ok {
			return storage.ErrNotFound
		}
		delete(f.docs, id)
		return nil
	})
}

func (f *fakeDocuments) doc(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.docs[id])
}

func (f *fakeDocuments) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.ops)
}

// jsonRoundTrip gives fields the shapes a real store hands back.
func jsonRoundTrip(fields map[string]any) map[string]any {
	data, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}
