package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leonardcser/feedcache/internal/store"
)

// UpdateExpires rewrites the expiration of key without touching its payload
// or creation time. A zero at means now, which makes the entry stale.
func (c *Cache[T]) UpdateExpires(key string, at time.Time) error {
	if at.IsZero() {
		at = c.now()
	}
	return c.store.Update(func(s *store.Session) error {
		raw, found, err := s.Get(key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		var entry Entry[T]
		if err := decode(raw, &entry); err != nil {
			return err
		}
		at = at.UTC()
		if at.Before(entry.CreatedAt) {
			at = entry.CreatedAt
		}
		entry.ExpireAt = &at
		out, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("cache: encode %s: %w", key, err)
		}
		return s.Put(key, out)
	})
}

// Delete removes key. Removing a missing key is not an error.
func (c *Cache[T]) Delete(key string) error {
	if err := c.store.Update(func(s *store.Session) error {
		return s.Delete(key)
	}); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"action": "cache_delete", "key": key}).Info("deleted item")
	return nil
}

// Prune deletes every entry that expired before olderThan (now when zero)
// and returns how many were removed. Entries without an expiration are kept.
func (c *Cache[T]) Prune(olderThan time.Time) (int, error) {
	if olderThan.IsZero() {
		olderThan = c.now()
	}
	var pruned []string
	err := c.store.Update(func(s *store.Session) error {
		var expired []string
		err := s.ForEach(func(key string, raw []byte) error {
			var entry struct {
				ExpireAt *time.Time `json:"expire_at"`
			}
			if err := json.Unmarshal(raw, &entry); err != nil {
				c.log.WithFields(logrus.Fields{"action": "cache_prune", "key": key}).Warn("skipping undecodable entry")
				return nil
			}
			if entry.ExpireAt != nil && entry.ExpireAt.Before(olderThan) {
				expired = append(expired, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range expired {
			if err := s.Delete(key); err != nil {
				return err
			}
		}
		pruned = expired
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.log.WithFields(logrus.Fields{"action": "cache_prune", "pruned": len(pruned)}).Info("pruned expired items")
	return len(pruned), nil
}

// Clear deletes every entry.
func (c *Cache[T]) Clear() error {
	if err := c.store.Update(func(s *store.Session) error {
		return s.Clear()
	}); err != nil {
		return err
	}
	c.log.WithField("action", "cache_clear").Info("deleted all items")
	return nil
}
