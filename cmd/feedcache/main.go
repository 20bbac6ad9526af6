package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/leonardcser/feedcache/internal/cache"
	"github.com/leonardcser/feedcache/internal/config"
	"github.com/leonardcser/feedcache/internal/feedcache"
	"github.com/leonardcser/feedcache/internal/logger"
	"github.com/leonardcser/feedcache/internal/resource"
	"github.com/leonardcser/feedcache/internal/version"
)

const usage = `usage: feedcache [flags] <command> [args]

commands:
  fetch <url>...      fetch feeds through the cache and print them as JSON
  show <url>          print the cached entry without contacting the origin
  invalidate <url>... mark entries stale so the next fetch revalidates
  prune               delete expired entries
  clear               delete every entry

flags:
  -config path        TOML config (overrides FEEDCACHE_CONFIG)
  -check-config       validate the configuration and exit
  -version            print version information
`

type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	command     string
	args        []string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr

	// newCache is replaced in tests to avoid the network.
	newCache = feedcache.FromConfig
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		fmt.Fprint(stdErr, usage)
		os.Exit(2)
	}
	os.Exit(run(context.Background(), opts))
}

func run(ctx context.Context, opts cliOptions) int {
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
		log.WithFields(logrus.Fields{"action": "check_config", "config": opts.configPath, "result": "ok"}).Info("configuration is valid")
		return 0
	}
	if opts.command == "" {
		fmt.Fprint(stdErr, usage)
		return 2
	}

	feeds, err := newCache(cfg, log)
	if err != nil {
		fmt.Fprintf(stdErr, "build feed cache: %v\n", err)
		return 1
	}

	switch opts.command {
	case "fetch":
		err = fetchAll(ctx, feeds, opts.args, cfg.Concurrency)
	case "show":
		err = show(feeds, opts.args)
	case "invalidate":
		err = invalidate(feeds, opts.args)
	case "prune":
		var n int
		if n, err = feeds.Entries().Prune(time.Time{}); err == nil {
			fmt.Fprintf(stdOut, "pruned %d entries\n", n)
		}
	case "clear":
		err = feeds.Entries().Clear()
	default:
		fmt.Fprintf(stdErr, "unknown command %q\n", opts.command)
		fmt.Fprint(stdErr, usage)
		return 2
	}
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		return 1
	}
	return 0
}

type fetchResult struct {
	URL      string             `json:"url"`
	Resource *resource.Resource `json:"resource,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// fetchAll fetches every locator with at most limit requests in flight and
// prints one JSON line per locator, in argument order. A failed locator
// does not stop the others; the returned error reports how many failed.
func fetchAll(ctx context.Context, feeds *feedcache.Cache, locators []string, limit int) error {
	if len(locators) == 0 {
		return errors.New("fetch: at least one url is required")
	}
	results := make([]fetchResult, len(locators))
	var (
		mu     sync.Mutex
		failed int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i, locator := range locators {
		g.Go(func() error {
			res, err := feeds.Fetch(ctx, locator)
			results[i] = fetchResult{URL: locator, Resource: res}
			if err != nil {
				results[i].Error = err.Error()
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(stdOut)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("fetch: %d of %d urls failed", failed, len(locators))
	}
	return nil
}

func show(feeds *feedcache.Cache, args []string) error {
	if len(args) != 1 {
		return errors.New("show: exactly one url is required")
	}
	item, err := feeds.Entries().Lookup(args[0])
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return fmt.Errorf("show: %s is not cached", args[0])
		}
		return err
	}
	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		URL       string            `json:"url"`
		Stale     bool              `json:"stale"`
		ExpireAt  *time.Time        `json:"expire_at,omitempty"`
		CreatedAt time.Time         `json:"created_at"`
		Resource  resource.Resource `json:"resource"`
	}{args[0], item.Stale, item.ExpireAt, item.CreatedAt, item.Payload})
}

func invalidate(feeds *feedcache.Cache, args []string) error {
	if len(args) == 0 {
		return errors.New("invalidate: at least one url is required")
	}
	for _, locator := range args {
		if err := feeds.Invalidate(locator); err != nil {
			return err
		}
	}
	return nil
}

func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("feedcache", flag.ContinueOnError)
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
	opts := cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}
	if rest := fs.Args(); len(rest) > 0 {
		opts.command = rest[0]
		opts.args = rest[1:]
	}
	return opts, nil
}
