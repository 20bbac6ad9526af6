package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/feedcache/internal/resource"
)

// FeedDiscoverHandler returns the MCP tool handler for the "feed-discover"
// tool, which lists the feeds an HTML page advertises.
func FeedDiscoverHandler(fetcher Fetcher) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err := fetcher.Fetch(ctx, url)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatFeeds(res)), nil
	}
}

// formatFeeds renders the discovered feeds as an ordered list.
func formatFeeds(res *resource.Resource) string {
	if len(res.Feeds) == 0 {
		return "No feeds found."
	}
	var sb strings.Builder
	if res.Title != "" {
		sb.WriteString(fmt.Sprintf("Feeds advertised by %s:\n", res.Title))
	}
	for i, f := range res.Feeds {
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, f))
		if i < len(res.Feeds)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
