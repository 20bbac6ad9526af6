package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/feedcache/internal/resource"
)

const defaultEntryLimit = 20

// Fetcher is the part of feedcache.Cache the tools need.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (*resource.Resource, error)
}

// FeedFetchHandler returns the MCP tool handler for the "feed-fetch" tool.
func FeedFetchHandler(fetcher Fetcher) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		url, err := req.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		limit := req.GetInt("limit", defaultEntryLimit)

		res, err := fetcher.Fetch(ctx, url)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatResource(res, limit)), nil
	}
}

func formatResource(res *resource.Resource, limit int) string {
	var sb strings.Builder
	if res.Title != "" {
		sb.WriteString("# ")
		sb.WriteString(res.Title)
		sb.WriteString("\n\n")
	}
	if res.Description != "" {
		sb.WriteString(res.Description)
		sb.WriteString("\n\n")
	}
	if res.URL != "" {
		sb.WriteString("Source: ")
		sb.WriteString(res.URL)
		sb.WriteString("\n\n")
	}
	if len(res.Entries) == 0 {
		sb.WriteString("No entries.")
		return sb.String()
	}

	entries := res.Entries
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i, e := range entries {
		title := e.Title
		if title == "" {
			title = e.Link
		}
		sb.WriteString("## ")
		sb.WriteString(title)
		sb.WriteString("\n")
		if e.Link != "" && e.Link != title {
			sb.WriteString(e.Link)
			sb.WriteString("\n")
		}
		if e.Published != "" {
			sb.WriteString("Published: ")
			sb.WriteString(e.Published)
			sb.WriteString("\n")
		}
		if e.Summary != "" {
			sb.WriteString("\n")
			sb.WriteString(e.Summary)
			sb.WriteString("\n")
		}
		if i < len(entries)-1 {
			sb.WriteString("\n")
		}
	}
	if n := len(res.Entries) - len(entries); n > 0 {
		sb.WriteString(fmt.Sprintf("\n(%d more entries not shown)", n))
	}
	return sb.String()
}
