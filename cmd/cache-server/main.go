package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/leonardcser/feedcache/internal/cache"
	"github.com/leonardcser/feedcache/internal/config"
	"github.com/leonardcser/feedcache/internal/feedcache"
	"github.com/leonardcser/feedcache/internal/logger"
	"github.com/leonardcser/feedcache/internal/resource"
	"github.com/leonardcser/feedcache/internal/server"
	"github.com/leonardcser/feedcache/internal/version"
)

// cliOptions holds the parsed command line.
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run executes the command and returns the process exit code.
func run(opts cliOptions) int {
	if opts.showVersion {
		fmt.Fprintln(stdOut, version.Full())
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "load config: %v\n", err)
		return 1
	}
	log, err := logger.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(stdErr, "init logger: %v\n", err)
		return 1
	}
	defer logger.Close()

	if opts.checkOnly {
		log.WithFields(logrus.Fields{
			"action":  "check_config",
			"config":  opts.configPath,
			"db_path": cfg.DBPath,
			"result":  "ok",
		}).Info("configuration is valid")
		return 0
	}

	feeds, err := feedcache.FromConfig(cfg, log)
	if err != nil {
		fmt.Fprintf(stdErr, "build feed cache: %v\n", err)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(server.AppOptions{
		Logger:       log,
		Cache:        feeds,
		FetchTimeout: cfg.RequestTimeout.DurationValue() + cfg.LockTimeout.DurationValue(),
		BaseContext:  ctx,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "build http app: %v\n", err)
		return 1
	}

	log.WithFields(logrus.Fields{
		"action":  "startup",
		"config":  opts.configPath,
		"db_path": cfg.DBPath,
		"listen":  cfg.ListenAddr,
		"prune":   cfg.PruneInterval.DurationValue().String(),
		"version": version.Full(),
	}).Info("configuration loaded")

	if err := serve(ctx, app, feeds, cfg, log); err != nil {
		fmt.Fprintf(stdErr, "http server: %v\n", err)
		return 1
	}
	return 0
}

// serve runs the HTTP listener and the periodic pruner until ctx is done
// or the listener fails.
func serve(ctx context.Context, app *fiber.App, feeds *feedcache.Cache, cfg *config.Config, log *logrus.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"action": "listen", "addr": cfg.ListenAddr}).Info("fiber server starting")
		return app.Listen(cfg.ListenAddr, fiber.ListenConfig{DisableStartupMessage: true})
	})
	g.Go(func() error {
		<-ctx.Done()
		log.WithField("action", "shutdown").Info("stopping fiber server")
		return app.ShutdownWithTimeout(10 * time.Second)
	})
	g.Go(func() error {
		pruneLoop(ctx, feeds.Entries(), cfg.PruneInterval.DurationValue(), log)
		return nil
	})
	return g.Wait()
}

// pruneLoop deletes, every interval, the entries that expired more than one
// interval ago. A non-positive interval disables it.
func pruneLoop(ctx context.Context, entries cache.KV[resource.Resource], interval time.Duration, log logrus.FieldLogger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := entries.Prune(time.Now().Add(-interval)); err != nil {
				log.WithError(err).WithField("action", "cache_prune").Warn("periodic prune failed")
			}
		}
	}
}

// parseCLIFlags parses args. The config path comes from -config, else
// FEEDCACHE_CONFIG, else built-in defaults.
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("feedcache-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)
	fs.StringVar(&configFlag, "config", "", "path to the TOML config (overrides FEEDCACHE_CONFIG)")
	fs.BoolVar(&checkOnly, "check-config", false, "validate the configuration and exit")
	fs.BoolVar(&showVer, "version", false, "print version information")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}

	path := os.Getenv("FEEDCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}
