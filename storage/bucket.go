// Package storage provides the household data store on NATS JetStream KV.
//
// Collections holds the whole-value paths (goals, shoppingItems, users,
// familyName, alertThreshold); Documents holds one KV entry per transaction.
// Both can be scoped to a household, which prefixes every key with
// "<household>." so two households sharing a bucket never see each other.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Default bucket names.
const (
	BucketCollections = "NC_COLLECTIONS"
	BucketDocuments   = "NC_TRANSACOES"
)

// DefaultHistory is the number of revisions kept per key.
const DefaultHistory uint8 = 5

// Logical collection paths.
const (
	PathGoals          = "goals"
	PathShoppingItems  = "shoppingItems"
	PathUsers          = "users"
	PathFamilyName     = "familyName"
	PathAlertThreshold = "alertThreshold"
)

// Paths lists every whole-value path.
var Paths = []string{PathGoals, PathShoppingItems, PathUsers, PathFamilyName, PathAlertThreshold}

var tokenPattern = regexp.MustCompile(`^[-_=a-zA-Z0-9]+$`)

// Option configures a Collections or Documents store.
type Option func(*options)

type options struct {
	history uint8
	logger  *slog.Logger
}

// WithHistory sets the revision history of a bucket created on first use.
func WithHistory(n uint8) Option {
	return func(o *options) {
		if n > 0 {
			o.history = n
		}
	}
}

// WithLogger sets the logger used for decode and delivery warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{history: DefaultHistory, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string, history uint8) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Nossa Carteira %s storage", strings.ToLower(name)),
		History:     history,
	})
}

// scopePrefix validates a household scope and returns its key prefix.
func scopePrefix(scope string) (string, error) {
	if !tokenPattern.MatchString(scope) {
		return "", fmt.Errorf("%w: scope %q", ErrInvalidKey, scope)
	}
	return scope + ".", nil
}

func validToken(s string) error {
	if !tokenPattern.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return nil
}

// isNotFound reports whether err means the key is absent or deleted.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

// isWrongRevision reports whether an update lost the compare-and-swap.
func isWrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func isRemoval(op jetstream.KeyValueOp) bool {
	return op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge
}
