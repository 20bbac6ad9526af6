// Package resource defines the parsed form of a remote feed or page and the
// Parser collaborator that produces it.
package resource

import (
	"context"
	"net/http"
	"strings"
)

// Entry is one item of a feed. Pages parse into a single entry.
type Entry struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title,omitempty"`
	Link      string `json:"link,omitempty"`
	Published string `json:"published,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Resource is the result of one fetch-and-parse of a locator.
type Resource struct {
	// Status is the HTTP status of the response. Zero means the request
	// produced no response at all.
	Status          int         `json:"status,omitempty"`
	Entries         []Entry     `json:"entries"`
	Malformed       bool        `json:"malformed,omitempty"`
	MalformedReason string      `json:"malformed_reason,omitempty"`
	Headers         http.Header `json:"headers,omitempty"`
	ETag            string      `json:"etag,omitempty"`
	Modified        string      `json:"modified,omitempty"`

	URL         string   `json:"url,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Links       []string `json:"links,omitempty"`
	// Feeds lists alternate feed URLs advertised by an HTML page.
	Feeds []string `json:"feeds,omitempty"`
}

// HasStatus reports whether a response status was recorded.
func (r *Resource) HasStatus() bool { return r != nil && r.Status != 0 }

// Clone returns a deep copy of r.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	out := *r
	out.Entries = append([]Entry(nil), r.Entries...)
	if out.Entries == nil {
		out.Entries = []Entry{}
	}
	out.Headers = r.Headers.Clone()
	out.Links = append([]string(nil), r.Links...)
	out.Feeds = append([]string(nil), r.Feeds...)
	return &out
}

// Validators returns the conditional-request validators recorded for r.
// Response headers take precedence over the ETag and Modified fields.
func (r *Resource) Validators() Validators {
	if r == nil {
		return Validators{}
	}
	etag := r.Headers.Get("ETag")
	if etag == "" {
		etag = r.ETag
	}
	modified := r.Headers.Get("Last-Modified")
	if modified == "" {
		modified = r.Modified
	}
	return Validators{ETag: StripWeak(etag), Modified: modified}
}

// Validators carries the values sent as If-None-Match and If-Modified-Since.
// Empty fields are omitted from the request.
type Validators struct {
	ETag     string
	Modified string
}

func (v Validators) Empty() bool { return v.ETag == "" && v.Modified == "" }

// StripWeak removes a weak-validator "W/" prefix from an entity tag.
func StripWeak(etag string) string {
	return strings.TrimPrefix(strings.TrimSpace(etag), "W/")
}

// Parser fetches and parses the resource at locator, sending v as
// conditional-request validators. Transport failures are returned as
// errors; HTTP-level outcomes are reported through Resource.Status.
type Parser interface {
	Parse(ctx context.Context, locator string, v Validators) (*Resource, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, locator string, v Validators) (*Resource, error)

func (f ParserFunc) Parse(ctx context.Context, locator string, v Validators) (*Resource, error) {
	return f(ctx, locator, v)
}
