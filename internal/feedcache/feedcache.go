// Package feedcache puts a revalidating cache in front of a resource.Parser.
//
// Fresh entries are served from the on-disk cache without touching the
// network. Stale or missing entries are fetched again with conditional
// request validators; a 304 answer keeps the previously cached payload and
// only extends its lifetime. Responses that are errors or unparseable are
// reported to the caller and never replace what is cached.
package feedcache

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leonardcser/feedcache/internal/cache"
	"github.com/leonardcser/feedcache/internal/resource"
	"github.com/leonardcser/feedcache/internal/store"
	"github.com/leonardcser/feedcache/internal/web"
)

// DefaultMinAge is the lifetime given to entries whose response carries no
// shorter max-age directive.
const DefaultMinAge = 1200 * time.Second

const bucketName = "feeds"

var maxAgePattern = regexp.MustCompile(`(?i)max-age=(\d+)`)

// Config configures a Cache. Only DBPath is required.
type Config struct {
	DBPath string
	// MinAge caps the lifetime of an entry. A smaller max-age sent by the
	// origin wins. Zero selects DefaultMinAge, so it cannot be used to turn
	// freshness off; a tiny positive value such as time.Nanosecond makes
	// every later Fetch revalidate with the origin.
	MinAge time.Duration
	// Locker defaults to store.NewRWLocker().
	Locker      store.Locker
	LockTimeout time.Duration
	// Parser defaults to a web.Fetcher with default options.
	Parser resource.Parser
	Logger logrus.FieldLogger
	Clock  func() time.Time
}

// Cache is a revalidating cache of parsed resources keyed by locator.
// It holds no state between calls and is safe for concurrent use by any
// number of goroutines and processes sharing DBPath.
type Cache struct {
	entries cache.KV[resource.Resource]
	parser  resource.Parser
	minAge  time.Duration
	now     func() time.Time
	log     logrus.FieldLogger
}

func New(cfg Config) (*Cache, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, errors.New("feedcache: database path is required")
	}
	if cfg.MinAge < 0 {
		return nil, errors.New("feedcache: min age must not be negative")
	}
	minAge := cfg.MinAge
	if minAge == 0 {
		minAge = DefaultMinAge
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	parser := cfg.Parser
	if parser == nil {
		parser = web.NewFetcher(web.Options{Logger: log})
	}

	st := store.New(cfg.DBPath, store.Options{
		Bucket:  bucketName,
		Locker:  cfg.Locker,
		Timeout: cfg.LockTimeout,
		Logger:  log,
	})
	return &Cache{
		entries: cache.New[resource.Resource](st, cache.WithClock(now), cache.WithLogger(log)),
		parser:  parser,
		minAge:  minAge,
		now:     now,
		log:     log,
	}, nil
}

// Entries exposes the underlying TTL cache for inspection and maintenance.
func (c *Cache) Entries() cache.KV[resource.Resource] { return c.entries }

// MinAge returns the configured lifetime cap.
func (c *Cache) MinAge() time.Duration { return c.minAge }

// Fetch returns the parsed resource for key, consulting the origin only
// when the cached copy is missing or stale.
//
// Errors returned by the parser are passed through unchanged. An origin
// that answers with an error status yields a *FetchError, and a response
// that parsed into nothing yields a *ParseError; in both cases the cache
// is left untouched.
func (c *Cache) Fetch(ctx context.Context, key string) (*resource.Resource, error) {
	log := c.log.WithFields(logrus.Fields{"action": "fetch", "key": key})

	item, found, err := c.entries.Get(key)
	if err != nil {
		return nil, err
	}

	var previous *resource.Resource
	var validators resource.Validators
	if found {
		if !item.Stale {
			log.Info("cache_fresh")
			return &item.Payload, nil
		}
		log.Info("cache_stale")
		previous = &item.Payload
		validators = previous.Validators()
	} else {
		log.Info("cache_miss")
	}

	res, err := c.parser.Parse(ctx, key, validators)
	if err != nil {
		log.WithError(err).Warn("fetch_failed")
		return nil, err
	}

	result, err := reconcile(res, previous)
	if err != nil {
		log.WithError(err).Warn("fetch_rejected")
		return nil, err
	}

	ttl := c.effectiveTTL(res.Headers)
	if err := c.entries.CreateOrUpdate(key, *result, cache.TTL(ttl)); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"status":  res.Status,
		"entries": len(result.Entries),
		"ttl_s":   ttl.Seconds(),
	}).Info("cache_updated")
	return result, nil
}

// Invalidate marks the entry for key stale so that the next Fetch
// revalidates it with the origin. The cached payload is kept.
func (c *Cache) Invalidate(key string) error {
	return c.entries.UpdateExpires(key, time.Time{})
}

// reconcile classifies a parser result and returns the payload to cache.
func reconcile(res, previous *resource.Resource) (*resource.Resource, error) {
	switch {
	case res == nil || !res.HasStatus():
		return nil, &FetchError{Message: "failed to fetch"}
	case res.Status >= http.StatusBadRequest:
		return nil, &FetchError{Status: res.Status, Message: "HTTP error"}
	case len(res.Entries) == 0 && res.Malformed:
		return nil, &ParseError{Reason: res.MalformedReason}
	}

	if res.Status != http.StatusNotModified {
		return res.Clone(), nil
	}
	if previous == nil {
		return nil, &FetchError{Status: res.Status, Message: "not modified but nothing cached"}
	}

	// The origin sent no body: keep the cached content and refresh the
	// headers and validators it did send.
	out := previous.Clone()
	if out.Headers == nil {
		out.Headers = http.Header{}
	}
	for k, vs := range res.Headers {
		out.Headers[k] = append([]string(nil), vs...)
	}
	v := res.Validators()
	if v.ETag != "" {
		out.ETag = v.ETag
	}
	if v.Modified != "" {
		out.Modified = v.Modified
	}
	return out, nil
}

// effectiveTTL is the max-age directive of h when present, capped at
// MinAge, and MinAge otherwise.
func (c *Cache) effectiveTTL(h http.Header) time.Duration {
	secs, ok := maxAge(h)
	if !ok || secs > int64(c.minAge/time.Second) {
		return c.minAge
	}
	return min(time.Duration(secs)*time.Second, c.minAge)
}

func maxAge(h http.Header) (int64, bool) {
	m := maxAgePattern.FindStringSubmatch(strings.Join(h.Values("Cache-Control"), ","))
	if m == nil {
		return 0, false
	}
	secs, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return secs, true
}
