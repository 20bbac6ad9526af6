// Package logger configures the process-wide logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/leonardcser/feedcache/internal/config"
)

// EnvLogPath overrides the log file of InitFromEnv.
const EnvLogPath = "FEEDCACHE_LOG"

var (
	mu      sync.Mutex
	rotator *lumberjack.Logger
)

// Init builds a JSON logger from cfg and installs it as the logrus standard
// logger. Without a LogFilePath it writes to stderr. A log file that cannot
// be created is not fatal: the logger falls back to stderr and says so.
func Init(cfg config.LogConfig) (*logrus.Logger, error) {
	return initLogger(cfg, os.Stderr)
}

// InitFromEnv is Init for processes whose stdout is a protocol channel. The
// log always goes to a file: FEEDCACHE_LOG, else cfg.LogFilePath, else
// feedcache.log next to the executable.
func InitFromEnv(cfg config.LogConfig) (*logrus.Logger, error) {
	if path := os.Getenv(EnvLogPath); path != "" {
		cfg.LogFilePath = path
	}
	if cfg.LogFilePath == "" {
		cfg.LogFilePath = defaultLogPath()
	}
	return initLogger(cfg, os.Stderr)
}

// Close flushes and closes the rotating log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}

func initLogger(cfg config.LogConfig, fallback io.Writer) (*logrus.Logger, error) {
	levelName := cfg.LogLevel
	if levelName == "" {
		levelName = "info"
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	output, outErr := buildOutput(cfg, fallback)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}
	return logger, nil
}

func buildOutput(cfg config.LogConfig, fallback io.Writer) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return fallback, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return fallback, fmt.Errorf("create log directory: %w", err)
	}
	// lumberjack opens lazily; probe now so the fallback happens up front.
	f, err := os.OpenFile(cfg.LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fallback, fmt.Errorf("open log file: %w", err)
	}
	_ = f.Close()

	r := &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}
	mu.Lock()
	if rotator != nil {
		_ = rotator.Close()
	}
	rotator = r
	mu.Unlock()
	return r, nil
}

func defaultLogPath() string {
	if exePath, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exePath), "feedcache.log")
	}
	return "./feedcache.log"
}
