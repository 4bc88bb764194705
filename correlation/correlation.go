// Package correlation propagates a per-operation id through explicit
// context.Context values instead of an ambient context variable.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

var key = contextKey{}

// New generates a fresh correlation id of the form "corr_<uuid>".
func New() string {
	return "corr_" + uuid.NewString()
}

// WithID attaches id to ctx, returning a derived context. If id is empty a
// new one is generated.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = New()
	}
	return context.WithValue(ctx, key, id)
}

// FromContext returns the correlation id carried by ctx, or a freshly
// generated one if none is present. It never returns an empty string so
// callers can always attach it to logs and events.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v
	}
	return New()
}
