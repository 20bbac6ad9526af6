package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. FEEDCACHE_MINAGE=5m.
const EnvPrefix = "FEEDCACHE"

// Load reads the TOML file at path, applies FEEDCACHE_* environment
// overrides and defaults, and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Locking = strings.ToLower(strings.TrimSpace(cfg.Locking))
	cfg.Log.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Log.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(expandHome(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	cfg.DBPath = abs
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DBPath", DefaultDBPath())
	v.SetDefault("MinAge", "20m")
	v.SetDefault("Locking", LockingRW)
	v.SetDefault("LockTimeout", "30s")
	v.SetDefault("RequestTimeout", "20s")
	v.SetDefault("RequestDelay", "0s")
	v.SetDefault("MaxBodySize", 4*1024*1024)
	v.SetDefault("UserAgent", "")
	v.SetDefault("Concurrency", 4)
	v.SetDefault("ListenAddr", "127.0.0.1:8787")
	v.SetDefault("PruneInterval", "0s")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 50)
	v.SetDefault("LogMaxBackups", 5)
	v.SetDefault("LogCompress", true)
}

// DefaultDBPath is the cache database used when none is configured.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "feedcache", "feeds.db")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("invalid duration: %q", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type %T", v)
		}
	}
}
