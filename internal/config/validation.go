package config

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate checks value ranges. It reports the first offending key as a
// FieldError.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return newFieldError("DBPath", "must not be empty")
	}
	if c.MinAge.DurationValue() <= 0 {
		return newFieldError("MinAge", "must be greater than 0")
	}
	switch c.Locking {
	case LockingRW, LockingMutex:
	default:
		return newFieldError("Locking", "must be rw or mutex")
	}
	if c.LockTimeout.DurationValue() < 0 {
		return newFieldError("LockTimeout", "must not be negative")
	}
	if c.RequestTimeout.DurationValue() <= 0 {
		return newFieldError("RequestTimeout", "must be greater than 0")
	}
	if c.RequestDelay.DurationValue() < 0 {
		return newFieldError("RequestDelay", "must not be negative")
	}
	if c.MaxBodySize <= 0 {
		return newFieldError("MaxBodySize", "must be greater than 0")
	}
	if c.Concurrency < 1 || c.Concurrency > 64 {
		return newFieldError("Concurrency", "must be between 1 and 64")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return newFieldError("ListenAddr", "must not be empty")
	}
	if c.PruneInterval.DurationValue() < 0 {
		return newFieldError("PruneInterval", "must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Log.LogLevel); err != nil {
		return newFieldError("LogLevel", "unknown level "+c.Log.LogLevel)
	}
	if c.Log.LogMaxSize < 0 || c.Log.LogMaxBackups < 0 {
		return newFieldError("LogMaxSize", "rotation limits must not be negative")
	}
	return nil
}
