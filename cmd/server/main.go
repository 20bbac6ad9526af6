package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/leonardcser/feedcache/internal/config"
	"github.com/leonardcser/feedcache/internal/feedcache"
	"github.com/leonardcser/feedcache/internal/logger"
	"github.com/leonardcser/feedcache/internal/tools"
	"github.com/leonardcser/feedcache/internal/version"
)

func main() {
	cfg, err := config.Load(os.Getenv("FEEDCACHE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.InitFromEnv(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	feeds, err := feedcache.FromConfig(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to build feed cache")
		os.Exit(1)
	}
	log.WithFields(logrus.Fields{
		"action":  "startup",
		"db_path": cfg.DBPath,
		"min_age": cfg.MinAge.DurationValue().String(),
		"version": version.Full(),
	}).Info("starting feed MCP server")

	s := server.NewMCPServer(
		"Feed Cache MCP",
		version.Version,
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)

	toolFetch := mcp.NewTool("feed-fetch",
		mcp.WithDescription(multiline(
			"Fetches an RSS, Atom or RDF feed (or an HTML page) and returns its entries",
			"\nFunctionality:",
			"- Takes a feed URL as input",
			"- Returns the feed title, description and entries with their links, dates and summaries",
			"- Pages are returned as a single entry with their readable content as markdown",
			"\nUsage notes:",
			"- The URL must be a fully-formed http or https URL",
			"- Results are cached on disk and revalidated with the origin once stale",
			fmt.Sprintf("- A cached feed is reused for at most %s, or less when the origin asks for it", feeds.MinAge()),
			"- This tool is read-only and does not modify any files",
		)),
		mcp.WithString("url", mcp.Required(), mcp.Description("The feed URL to fetch")),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries to return (0 returns all)"),
			mcp.DefaultNumber(20),
			mcp.Min(0),
		),
	)
	s.AddTool(toolFetch, tools.FeedFetchHandler(feeds))

	toolDiscover := mcp.NewTool("feed-discover",
		mcp.WithDescription(multiline(
			"Lists the feeds an HTML page advertises through alternate links",
			"\nUsage notes:",
			"- Pass the URL of a website or blog page",
			"- Use feed-fetch on one of the returned URLs to read its entries",
		)),
		mcp.WithString("url", mcp.Required(), mcp.Description("The page URL to inspect")),
	)
	s.AddTool(toolDiscover, tools.FeedDiscoverHandler(feeds))

	log.WithField("action", "listen").Info("serving MCP on stdio")
	if err := server.ServeStdio(s); err != nil {
		log.WithError(err).Error("server error")
	}
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }
