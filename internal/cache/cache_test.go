package cache

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leonardcser/feedcache/internal/store"
)

type payload struct {
	Title   string   `json:"title"`
	Entries []string `json:"entries"`
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGetMissingKey(t *testing.T) {
	c, _ := newTestCache(t)

	if _, ok, err := c.Get("never-written"); ok || err != nil {
		t.Fatalf("expected no result for a missing key, got ok=%v err=%v", ok, err)
	}
	if _, err := c.Lookup("never-written"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := c.Set("other", payload{Title: "x"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get("never-written"); ok || err != nil {
		t.Fatalf("expected no result once the store exists, got ok=%v err=%v", ok, err)
	}
}

func TestSetNeverExpires(t *testing.T) {
	c, clock := newTestCache(t)
	if err := c.Set("k", payload{Title: "forever"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	clock.Advance(100 * 365 * 24 * time.Hour)
	item, err := c.Lookup("k")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if item.Stale {
		t.Fatalf("entries without expiration must never be stale")
	}
	if item.ExpireAt != nil {
		t.Fatalf("expected no expiration, got %v", item.ExpireAt)
	}
	if item.Payload.Title != "forever" {
		t.Fatalf("unexpected payload %+v", item.Payload)
	}
}

func TestTTLStalenessBoundary(t *testing.T) {
	c, clock := newTestCache(t)
	created := clock.Now()
	if err := c.CreateOrUpdate("k", payload{Title: "t"}, TTL(60*time.Second)); err != nil {
		t.Fatalf("create: %v", err)
	}

	cases := []struct {
		name  string
		at    time.Time
		stale bool
	}{
		{"just written", created, false},
		{"one tick before expiry", created.Add(60*time.Second - time.Nanosecond), false},
		{"exactly at expiry", created.Add(60 * time.Second), true},
		{"after expiry", created.Add(61 * time.Second), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock.t = tc.at
			item, ok, err := c.Get("k")
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if item.Stale != tc.stale {
				t.Fatalf("expected stale=%v at %v", tc.stale, tc.at)
			}
			if !item.ExpireAt.Equal(created.Add(60 * time.Second)) {
				t.Fatalf("expire-at should be created+ttl, got %v", item.ExpireAt)
			}
		})
	}
}

func TestStaleReadKeepsPayload(t *testing.T) {
	c, clock := newTestCache(t)
	if err := c.CreateOrUpdate("k", payload{Title: "old", Entries: []string{"a", "b"}}, TTL(time.Second)); err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.Advance(time.Hour)

	for i := 0; i < 2; i++ {
		item, err := c.Lookup("k")
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if !item.Stale || item.Payload.Title != "old" || len(item.Payload.Entries) != 2 {
			t.Fatalf("stale read should return the stored payload, got %+v", item)
		}
	}
}

func TestCreateOrUpdateOverwrites(t *testing.T) {
	c, clock := newTestCache(t)
	if err := c.CreateOrUpdate("k", payload{Title: "first"}, TTL(time.Minute)); err != nil {
		t.Fatalf("first write: %v", err)
	}
	clock.Advance(10 * time.Second)
	second := clock.Now()
	if err := c.CreateOrUpdate("k", payload{Title: "second"}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	item, err := c.Lookup("k")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if item.Payload.Title != "second" {
		t.Fatalf("expected second payload, got %q", item.Payload.Title)
	}
	if !item.CreatedAt.Equal(second) {
		t.Fatalf("created-at should be reset to %v, got %v", second, item.CreatedAt)
	}
	if item.ExpireAt != nil {
		t.Fatalf("overwrite without expiry should clear the previous expiration")
	}
}

func TestCreateOrUpdateExpireAt(t *testing.T) {
	c, clock := newTestCache(t)
	at := clock.Now().Add(time.Hour)
	if err := c.CreateOrUpdate("k", payload{}, ExpireAt(at)); err != nil {
		t.Fatalf("create: %v", err)
	}
	item, _ := c.Lookup("k")
	if item.Stale || !item.ExpireAt.Equal(at) {
		t.Fatalf("unexpected item %+v", item)
	}

	if err := c.CreateOrUpdate("past", payload{}, ExpireAt(clock.Now().Add(-time.Hour))); err != nil {
		t.Fatalf("create past: %v", err)
	}
	item, _ = c.Lookup("past")
	if !item.Stale {
		t.Fatalf("an expiration in the past should be stale immediately")
	}
	if item.ExpireAt.Before(item.CreatedAt) {
		t.Fatalf("expire-at must never precede created-at")
	}
}

func TestCreateOrUpdateRejectsBothExpirations(t *testing.T) {
	c, clock := newTestCache(t)
	err := c.CreateOrUpdate("k", payload{}, TTL(time.Minute), ExpireAt(clock.Now()))
	if !errors.Is(err, ErrConflictingExpiry) {
		t.Fatalf("expected ErrConflictingExpiry, got %v", err)
	}
	if _, ok, _ := c.Get("k"); ok {
		t.Fatalf("rejected write must not store anything")
	}
}

func TestUpdateExpires(t *testing.T) {
	c, clock := newTestCache(t)
	if err := c.CreateOrUpdate("k", payload{Title: "p"}, TTL(time.Hour)); err != nil {
		t.Fatalf("create: %v", err)
	}
	created := clock.Now()
	clock.Advance(time.Minute)

	if err := c.UpdateExpires("k", time.Time{}); err != nil {
		t.Fatalf("update expires: %v", err)
	}
	item, _ := c.Lookup("k")
	if !item.Stale {
		t.Fatalf("zero expiry should mark the entry stale")
	}
	if !item.CreatedAt.Equal(created) || item.Payload.Title != "p" {
		t.Fatalf("update expires must keep payload and created-at, got %+v", item)
	}

	if err := c.UpdateExpires("missing", time.Time{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneDeleteClear(t *testing.T) {
	c, clock := newTestCache(t)
	must(t, c.CreateOrUpdate("expired", payload{}, TTL(time.Minute)))
	must(t, c.CreateOrUpdate("fresh", payload{}, TTL(time.Hour)))
	must(t, c.Set("forever", payload{}))
	clock.Advance(2 * time.Minute)

	n, err := c.Prune(time.Time{})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", n)
	}
	if _, ok, _ := c.Get("expired"); ok {
		t.Fatalf("expired entry should be pruned")
	}
	for _, k := range []string{"fresh", "forever"} {
		if _, ok, _ := c.Get(k); !ok {
			t.Fatalf("%s should survive pruning", k)
		}
	}

	must(t, c.Delete("fresh"))
	must(t, c.Delete("fresh"))
	if _, ok, _ := c.Get("fresh"); ok {
		t.Fatalf("deleted entry still present")
	}

	must(t, c.Clear())
	if _, ok, _ := c.Get("forever"); ok {
		t.Fatalf("clear should remove every entry")
	}
}

func TestStoreErrorsPropagate(t *testing.T) {
	dir := t.TempDir()
	c := New[payload](store.New(dir, store.Options{}))
	err := c.Set("k", payload{})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected store.ErrUnavailable, got %v", err)
	}
}

func newTestCache(t *testing.T) (*Cache[payload], *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := store.New(filepath.Join(t.TempDir(), "cache.db"), store.Options{Timeout: 5 * time.Second})
	return New[payload](st, WithClock(clock.Now)), clock
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
