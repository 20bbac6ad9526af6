package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leonardcser/feedcache/internal/store"
)

var (
	ErrNotFound          = fmt.Errorf("cache: %w", store.ErrNotFound)
	ErrConflictingExpiry = errors.New("cache: expire-at and ttl are mutually exclusive")
)

// Entry is the unit persisted under a key.
type Entry[T any] struct {
	Payload T `json:"payload"`
	// ExpireAt is nil for entries that never expire.
	ExpireAt  *time.Time `json:"expire_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Stale reports whether the entry has expired at now. An entry is stale
// from the instant it expires.
func (e Entry[T]) Stale(now time.Time) bool {
	return e.ExpireAt != nil && !now.Before(*e.ExpireAt)
}

// Item is the result of a read: the stored payload and whether it is stale.
// Stale payloads are returned as-is; the caller decides what staleness means.
type Item[T any] struct {
	Payload   T
	Stale     bool
	ExpireAt  *time.Time
	CreatedAt time.Time
}

// Cache stores payloads of type T with an optional expiration in a
// store.Store. It keeps nothing in memory: every call runs in its own store
// session. It is safe for concurrent use.
type Cache[T any] struct {
	store *store.Store
	now   func() time.Time
	log   logrus.FieldLogger
}

type Option func(*options)

type options struct {
	now func() time.Time
	log logrus.FieldLogger
}

// WithClock replaces time.Now as the source of creation and staleness times.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// New builds a Cache on top of st.
func New[T any](st *store.Store, opts ...Option) *Cache[T] {
	o := options{now: time.Now, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{store: st, now: o.now, log: o.log}
}

// Get returns the item stored under key. A missing key yields ok == false
// and no error.
func (c *Cache[T]) Get(key string) (item Item[T], ok bool, err error) {
	var entry Entry[T]
	err = c.store.View(func(s *store.Session) error {
		raw, found, err := s.Get(key)
		if err != nil || !found {
			return err
		}
		ok = true
		return decode(raw, &entry)
	})
	if err != nil || !ok {
		return Item[T]{}, false, err
	}
	return c.item(entry), true, nil
}

// Lookup is the indexed-read form of Get: a missing key is ErrNotFound.
func (c *Cache[T]) Lookup(key string) (Item[T], error) {
	item, ok, err := c.Get(key)
	if err != nil {
		return Item[T]{}, err
	}
	if !ok {
		return Item[T]{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return item, nil
}

// CreateOrUpdate stores payload under key, replacing any existing entry and
// resetting its creation time. Pass at most one of ExpireAt and TTL; with
// neither the entry never expires.
func (c *Cache[T]) CreateOrUpdate(key string, payload T, opts ...WriteOption) error {
	var w writeOptions
	for _, opt := range opts {
		opt(&w)
	}
	if w.expireAt != nil && w.ttl != nil {
		return ErrConflictingExpiry
	}

	entry := Entry[T]{Payload: payload, CreatedAt: c.now().UTC()}
	switch {
	case w.ttl != nil:
		ttl := max(*w.ttl, 0)
		at := entry.CreatedAt.Add(ttl)
		entry.ExpireAt = &at
	case w.expireAt != nil:
		at := w.expireAt.UTC()
		if at.Before(entry.CreatedAt) {
			at = entry.CreatedAt
		}
		entry.ExpireAt = &at
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := c.store.Update(func(s *store.Session) error {
		return s.Put(key, raw)
	}); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"action": "cache_write", "key": key, "expire_at": entry.ExpireAt}).Debug("updated item")
	return nil
}

// Set stores payload under key with no expiration.
func (c *Cache[T]) Set(key string, payload T) error {
	return c.CreateOrUpdate(key, payload)
}

func (c *Cache[T]) item(e Entry[T]) Item[T] {
	return Item[T]{
		Payload:   e.Payload,
		Stale:     e.Stale(c.now()),
		ExpireAt:  e.ExpireAt,
		CreatedAt: e.CreatedAt,
	}
}

func decode[T any](raw []byte, entry *Entry[T]) error {
	if err := json.Unmarshal(raw, entry); err != nil {
		return fmt.Errorf("cache: decode entry: %w", err)
	}
	return nil
}

// WriteOption sets the expiration of a CreateOrUpdate call.
type WriteOption func(*writeOptions)

type writeOptions struct {
	expireAt *time.Time
	ttl      *time.Duration
}

// ExpireAt expires the entry at t. A t before the write time expires the
// entry immediately.
func ExpireAt(t time.Time) WriteOption {
	return func(w *writeOptions) { w.expireAt = &t }
}

// TTL expires the entry ttl after the write time.
func TTL(ttl time.Duration) WriteOption {
	return func(w *writeOptions) { w.ttl = &ttl }
}
