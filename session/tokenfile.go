package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the token file must stay quiet before it is
// re-read.
const DefaultDebounce = 100 * time.Millisecond

// TokenFile is an Authenticator backed by a signed token stored on disk.
// Writing a valid token signs in; removing the file signs out.
type TokenFile struct {
	path     string
	secret   []byte
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	current   *Identity
	expires   time.Time
	listeners map[uint64]func(*Identity)
	nextID    uint64

	// notifyMu serializes listener calls so they see changes in order.
	notifyMu sync.Mutex

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// TokenFileOption configures a TokenFile.
type TokenFileOption func(*TokenFile)

// WithDebounce sets the quiet period before the file is re-read.
func WithDebounce(d time.Duration) TokenFileOption {
	return func(f *TokenFile) {
		if d > 0 {
			f.debounce = d
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(l *slog.Logger) TokenFileOption {
	return func(f *TokenFile) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewTokenFile creates an authenticator reading path with secret. The file
// is loaded once here; call Start to follow later changes.
func NewTokenFile(path string, secret []byte, opts ...TokenFileOption) *TokenFile {
	f := &TokenFile{
		path:      filepath.Clean(path),
		secret:    secret,
		debounce:  DefaultDebounce,
		logger:    slog.Default(),
		listeners: make(map[uint64]func(*Identity)),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.current, f.expires = f.load()
	return f
}

// Start watches the token directory until ctx ends or Close is called.
func (f *TokenFile) Start(ctx context.Context) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// The directory is watched rather than the file so that creating the
	// file after a sign-out is seen.
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	f.watcher = fsw
	f.cancel = cancel
	f.done = make(chan struct{})

	// Changes made between NewTokenFile and the watch are not lost.
	f.reload()

	go f.processEvents(watchCtx)

	f.logger.Info("Session token watcher started", "path", f.path, "debounce", f.debounce)
	return nil
}

// Close stops watching.
func (f *TokenFile) Close() error {
	if f.cancel == nil {
		return nil
	}
	f.cancel()
	<-f.done
	return f.watcher.Close()
}

// OnSessionChange implements Authenticator.
func (f *TokenFile) OnSessionChange(fn func(*Identity)) func() {
	f.notifyMu.Lock()
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	current := copyIdentity(f.current)
	f.mu.Unlock()
	fn(current)
	f.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
		})
	}
}

// SignOut removes the token file and reports the signed-out state.
func (f *TokenFile) SignOut(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	f.reload()
	return nil
}

// Current returns the identity from the last read of the file.
func (f *TokenFile) Current() *Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyIdentity(f.current)
}

func (f *TokenFile) processEvents(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.debounce)
	defer ticker.Stop()

	var pendingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == f.path {
				pendingSince = time.Now()
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error("Token watcher error", "error", err)

		case <-ticker.C:
			if !pendingSince.IsZero() && time.Since(pendingSince) >= f.debounce {
				pendingSince = time.Time{}
				f.reload()
				continue
			}
			if f.expired() {
				f.reload()
			}
		}
	}
}

func (f *TokenFile) expired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != nil && !f.expires.IsZero() && !time.Now().Before(f.expires)
}

// reload re-reads the file and notifies listeners when the identity changed.
func (f *TokenFile) reload() {
	next, expires := f.load()

	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()

	f.mu.Lock()
	changed := !sameIdentity(f.current, next)
	f.current = next
	f.expires = expires
	fns := make([]func(*Identity), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	if !changed {
		return
	}
	if next == nil {
		f.logger.Info("Session ended")
	} else {
		f.logger.Info("Session started", "user", next.UserID, "household", next.Household)
	}
	for _, fn := range fns {
		fn(copyIdentity(next))
	}
}

func (f *TokenFile) load() (*Identity, time.Time) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("Failed to read session token", "path", f.path, "error", err)
		}
		return nil, time.Time{}
	}

	id, expires, err := ParseToken(f.secret, strings.TrimSpace(string(data)))
	if err != nil {
		f.logger.Warn("Ignoring session token", "path", f.path, "error", err)
		return nil, time.Time{}
	}
	return id, expires
}

// WriteToken stores token at path with owner-only permissions. The file is
// replaced atomically so a watcher never reads a partial token.
func WriteToken(path, token string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("create temp token: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(token + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write token: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install token: %w", err)
	}
	return nil
}

func copyIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
