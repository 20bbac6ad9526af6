package feedcache

import (
	"github.com/sirupsen/logrus"

	"github.com/leonardcser/feedcache/internal/config"
	"github.com/leonardcser/feedcache/internal/web"
)

// FromConfig builds a Cache with an HTTP fetcher configured from cfg.
func FromConfig(cfg *config.Config, log logrus.FieldLogger) (*Cache, error) {
	fetcher := web.NewFetcher(web.Options{
		RequestTimeout: cfg.RequestTimeout.DurationValue(),
		RequestDelay:   cfg.RequestDelay.DurationValue(),
		MaxBodySize:    cfg.MaxBodySize,
		UserAgent:      cfg.UserAgent,
		Logger:         log,
	})
	return New(Config{
		DBPath:      cfg.DBPath,
		MinAge:      cfg.MinAge.DurationValue(),
		Locker:      cfg.NewLocker(),
		LockTimeout: cfg.LockTimeout.DurationValue(),
		Parser:      fetcher,
		Logger:      log,
	})
}
