package config

import (
	"time"

	"github.com/leonardcser/feedcache/internal/store"
)

// Duration decodes from Go duration strings ("20m", "1h30m") as well as
// plain integer seconds.
type Duration time.Duration

func (d Duration) DurationValue() time.Duration { return time.Duration(d) }

const (
	LockingRW    = "rw"
	LockingMutex = "mutex"
)

// LogConfig controls the structured logger.
type LogConfig struct {
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// Config is the TOML configuration shared by every entry point.
type Config struct {
	DBPath string `mapstructure:"DBPath"`
	// MinAge caps how long a fetched resource stays fresh.
	MinAge Duration `mapstructure:"MinAge"`
	// Locking is "rw" (shared readers, exclusive writers) or "mutex".
	Locking     string   `mapstructure:"Locking"`
	LockTimeout Duration `mapstructure:"LockTimeout"`

	RequestTimeout Duration `mapstructure:"RequestTimeout"`
	RequestDelay   Duration `mapstructure:"RequestDelay"`
	MaxBodySize    int      `mapstructure:"MaxBodySize"`
	UserAgent      string   `mapstructure:"UserAgent"`
	// Concurrency bounds parallel fetches of the CLI.
	Concurrency int `mapstructure:"Concurrency"`

	ListenAddr string `mapstructure:"ListenAddr"`
	// PruneInterval makes the HTTP server delete entries that expired more
	// than one interval ago. Zero disables pruning and keeps stale entries
	// and their validators.
	PruneInterval Duration `mapstructure:"PruneInterval"`

	Log LogConfig `mapstructure:",squash"`
}

// NewLocker returns the store locking discipline selected by Locking.
func (c *Config) NewLocker() store.Locker {
	if c.Locking == LockingMutex {
		return store.NewMutexLocker()
	}
	return store.NewRWLocker()
}
