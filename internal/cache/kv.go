// Package cache is a time-to-live layer over a locked store: payloads are
// stored with an optional expiration and reads report staleness without
// discarding anything.
package cache

import "time"

// KV defines the contract of a TTL cache for payloads of type T.
// Implementations must be safe for concurrent use by multiple goroutines.
type KV[T any] interface {
	Get(key string) (Item[T], bool, error)
	Lookup(key string) (Item[T], error)
	CreateOrUpdate(key string, payload T, opts ...WriteOption) error
	Set(key string, payload T) error
	UpdateExpires(key string, at time.Time) error
	Delete(key string) error
	Prune(olderThan time.Time) (int, error)
	Clear() error
}

var _ KV[string] = (*Cache[string])(nil)
