package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/leonardcser/feedcache/internal/cache"
	"github.com/leonardcser/feedcache/internal/feedcache"
	"github.com/leonardcser/feedcache/internal/store"
	"github.com/leonardcser/feedcache/internal/version"
)

const contextKeyRequestID = "_feedcache_request_id"

const defaultFetchTimeout = 30 * time.Second

// AppOptions carries the dependencies of the HTTP API.
type AppOptions struct {
	Logger *logrus.Logger
	Cache  *feedcache.Cache
	// FetchTimeout bounds a single origin fetch.
	FetchTimeout time.Duration
	// BaseContext, when set, cancels in-flight origin fetches once it is
	// done, e.g. on server shutdown.
	BaseContext context.Context
}

// NewApp builds the Fiber application serving the cache API.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("feed cache is required")
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})
	app.Use(recover.New())
	app.Use(requestLogMiddleware(opts.Logger))

	h := &handlers{cache: opts.Cache, timeout: opts.FetchTimeout, base: opts.BaseContext, log: opts.Logger}
	app.Get("/fetch", h.fetch)
	app.Get("/entries", h.entry)
	app.Delete("/entries", h.deleteEntry)
	app.Post("/entries/invalidate", h.invalidate)
	app.Post("/-/prune", h.prune)
	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": version.Full()})
	})
	return app, nil
}

// requestLogMiddleware tags each request with an X-Request-ID and logs its
// outcome.
func requestLogMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()

		fields := logrus.Fields{
			"action":     "http_request",
			"request_id": reqID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"elapsed_ms": time.Since(started).Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
			logger.WithFields(fields).Error("request_failed")
			return err
		}
		logger.WithFields(fields).Info("request_complete")
		return nil
	}
}

// RequestID returns the identifier assigned by the request middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

type handlers struct {
	cache   *feedcache.Cache
	timeout time.Duration
	base    context.Context
	log     *logrus.Logger
}

func (h *handlers) fetch(c fiber.Ctx) error {
	locator := strings.TrimSpace(c.Query("url"))
	if locator == "" {
		return writeError(c, fiber.StatusBadRequest, "url_required")
	}
	ctx, cancel := h.fetchContext(c)
	defer cancel()

	res, err := h.cache.Fetch(ctx, locator)
	if err != nil {
		return h.renderFetchError(c, locator, err)
	}
	return c.JSON(res)
}

// fetchContext derives the origin fetch context from the request context,
// bounded by the fetch timeout and cancelled with the base context.
func (h *handlers) fetchContext(c fiber.Ctx) (context.Context, context.CancelFunc) {
	parent := c.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	if h.base == nil {
		return ctx, cancel
	}
	if h.base.Err() != nil {
		cancel()
		return ctx, cancel
	}
	stop := context.AfterFunc(h.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (h *handlers) entry(c fiber.Ctx) error {
	key, ok := requireKey(c)
	if !ok {
		return writeError(c, fiber.StatusBadRequest, "key_required")
	}
	item, err := h.cache.Entries().Lookup(key)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "entry_not_found")
	case err != nil:
		return h.renderStoreError(c, err)
	}
	return c.JSON(newEntryPayload(key, item))
}

func (h *handlers) deleteEntry(c fiber.Ctx) error {
	key, ok := requireKey(c)
	if !ok {
		return writeError(c, fiber.StatusBadRequest, "key_required")
	}
	if err := h.cache.Entries().Delete(key); err != nil {
		return h.renderStoreError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) invalidate(c fiber.Ctx) error {
	key, ok := requireKey(c)
	if !ok {
		return writeError(c, fiber.StatusBadRequest, "key_required")
	}
	err := h.cache.Invalidate(key)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "entry_not_found")
	case err != nil:
		return h.renderStoreError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) prune(c fiber.Ctx) error {
	n, err := h.cache.Entries().Prune(time.Time{})
	if err != nil {
		return h.renderStoreError(c, err)
	}
	return c.JSON(fiber.Map{"pruned": n})
}

func (h *handlers) renderFetchError(c fiber.Ctx, locator string, err error) error {
	var fetchErr *feedcache.FetchError
	var parseErr *feedcache.ParseError
	switch {
	case errors.As(err, &fetchErr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":           "fetch_failed",
			"upstream_status": fetchErr.Status,
			"message":         fetchErr.Message,
		})
	case errors.As(err, &parseErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":  "parse_failed",
			"reason": parseErr.Reason,
		})
	case errors.Is(err, store.ErrUnavailable):
		return h.renderStoreError(c, err)
	case errors.Is(err, context.DeadlineExceeded):
		return writeError(c, fiber.StatusGatewayTimeout, "upstream_timeout")
	case errors.Is(err, context.Canceled):
		return writeError(c, fiber.StatusServiceUnavailable, "request_canceled")
	default:
		h.log.WithFields(logrus.Fields{
			"action":     "fetch",
			"url":        locator,
			"request_id": RequestID(c),
		}).WithError(err).Warn("upstream_unreachable")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "upstream_unreachable",
			"message": err.Error(),
		})
	}
}

func (h *handlers) renderStoreError(c fiber.Ctx, err error) error {
	h.log.WithFields(logrus.Fields{
		"action":     "store",
		"request_id": RequestID(c),
	}).WithError(err).Error("store_failed")
	if errors.Is(err, store.ErrUnavailable) {
		return writeError(c, fiber.StatusServiceUnavailable, "store_unavailable")
	}
	return writeError(c, fiber.StatusInternalServerError, "store_failed")
}

func requireKey(c fiber.Ctx) (string, bool) {
	key := strings.TrimSpace(c.Query("key"))
	return key, key != ""
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
