package cache

import (
	"context"
	"time"
)

// QueryCache is the keyed read cache behind the management facade. It is
// the only shared mutable resource in this layer: reads populate it,
// successful writes invalidate it. Entries are keyed by the full
// (pagination, filter) tuple so concurrent reads with different
// parameters never clobber each other's slot.
type QueryCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// InvalidateGroup drops every entry registered under the group.
	InvalidateGroup(ctx context.Context, group string) error
}
