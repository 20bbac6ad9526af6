package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/leonardcser/feedcache/internal/resource"
)

const (
	RequestTimeout  = 20 * time.Second
	MaxResponseSize = 4 * 1024 * 1024 // 4MB
)

const acceptHeader = "application/rss+xml, application/atom+xml, application/rdf+xml;q=0.9, application/xml;q=0.8, text/xml;q=0.8, text/html;q=0.7, */*;q=0.5"

// Options configures a Fetcher. Zero values select the defaults.
type Options struct {
	RequestTimeout time.Duration
	// RequestDelay spaces out requests to the same domain.
	RequestDelay time.Duration
	MaxBodySize  int
	// UserAgent pins the User-Agent header. Empty rotates through a pool of
	// browser user agents.
	UserAgent string
	Logger    logrus.FieldLogger
}

// Fetcher retrieves feeds and pages over HTTP and parses them into
// resources. It implements resource.Parser and is safe for concurrent use.
type Fetcher struct {
	c         *colly.Collector
	userAgent string
	log       logrus.FieldLogger
}

var _ resource.Parser = (*Fetcher)(nil)

func NewFetcher(opts Options) *Fetcher {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = RequestTimeout
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = MaxResponseSize
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.Async(false),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(opts.MaxBodySize),
	)
	if opts.RequestDelay > 0 {
		_ = c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: 1,
			Delay:       opts.RequestDelay,
		})
	}
	c.SetRequestTimeout(opts.RequestTimeout)
	return &Fetcher{c: c, userAgent: opts.UserAgent, log: opts.Logger}
}

// Parse fetches locator, sending v as If-None-Match / If-Modified-Since,
// and parses the body as a feed or an HTML page.
//
// Network failures are returned as errors. Any HTTP response, including
// error statuses and 304, yields a Resource carrying its status and
// headers; bodies are only parsed for successful responses.
func (f *Fetcher) Parse(ctx context.Context, locator string, v resource.Validators) (*resource.Resource, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !strings.HasPrefix(locator, "http://") && !strings.HasPrefix(locator, "https://") {
		return nil, errors.New("url must start with http:// or https://")
	}

	// Callbacks are per call; the clone shares the HTTP backend and limits.
	c := f.c.Clone()
	c.Context = ctx

	var resp *colly.Response
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", f.nextUserAgent())
		r.Headers.Set("Accept", acceptHeader)
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		if v.ETag != "" {
			r.Headers.Set("If-None-Match", v.ETag)
		}
		if v.Modified != "" {
			r.Headers.Set("If-Modified-Since", v.Modified)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		resp = r
	})

	started := time.Now()
	if err := c.Visit(locator); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if resp == nil {
		return nil, errors.New("no response received")
	}

	res := newResource(resp)
	f.log.WithFields(logrus.Fields{
		"action":      "origin_fetch",
		"url":         locator,
		"status":      res.Status,
		"conditional": !v.Empty(),
		"bytes":       len(resp.Body),
		"elapsed_ms":  time.Since(started).Milliseconds(),
	}).Debug("origin_complete")

	if res.Status == http.StatusNotModified || res.Status >= http.StatusBadRequest {
		return res, nil
	}
	parseBody(res, resp.Body)
	return res, nil
}

func (f *Fetcher) nextUserAgent() string {
	if f.userAgent != "" {
		return f.userAgent
	}
	return NextUserAgent()
}

func newResource(r *colly.Response) *resource.Resource {
	res := &resource.Resource{
		Status:  r.StatusCode,
		Entries: []resource.Entry{},
		Headers: http.Header{},
	}
	if r.Headers != nil {
		res.Headers = r.Headers.Clone()
	}
	if r.Request != nil && r.Request.URL != nil {
		res.URL = r.Request.URL.String()
	}
	res.ETag = res.Headers.Get("ETag")
	res.Modified = res.Headers.Get("Last-Modified")
	return res
}

// parseBody fills res from body according to its content type. Failures
// mark res as malformed rather than returning an error.
func parseBody(res *resource.Resource, body []byte) {
	if len(strings.TrimSpace(string(body))) == 0 {
		markMalformed(res, errors.New("empty response body"))
		return
	}
	var err error
	switch detectKind(res.Headers.Get("Content-Type"), body) {
	case kindFeed:
		err = ParseFeed(body, res)
	case kindPage:
		err = ParsePage(body, res)
	default:
		err = errors.New("unsupported content type: binary files like images or PDFs are not supported")
	}
	if err != nil {
		markMalformed(res, err)
	}
}

func markMalformed(res *resource.Resource, err error) {
	res.Malformed = true
	res.MalformedReason = err.Error()
}

type kind int

const (
	kindUnknown kind = iota
	kindFeed
	kindPage
)

func detectKind(contentType string, body []byte) kind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "html"):
		return kindPage
	case strings.Contains(ct, "xml"), strings.Contains(ct, "rss"), strings.Contains(ct, "atom"):
		return kindFeed
	case ct != "" && !strings.HasPrefix(ct, "text/"):
		return kindUnknown
	}

	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 512)])))
	switch {
	case strings.HasPrefix(head, "<?xml"), strings.HasPrefix(head, "<rss"), strings.HasPrefix(head, "<feed"), strings.HasPrefix(head, "<rdf"):
		return kindFeed
	case strings.Contains(head, "<html"), strings.HasPrefix(head, "<!doctype html"):
		return kindPage
	case strings.HasPrefix(ct, "text/"):
		return kindPage
	}
	return kindUnknown
}
