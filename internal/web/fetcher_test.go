package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leonardcser/feedcache/internal/resource"
)

const testETag = `"v1"`

func newFeedServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") == "" {
			http.Error(w, "missing user agent", http.StatusBadRequest)
			return
		}
		if r.Header.Get("If-None-Match") == testETag {
			w.Header().Set("Cache-Control", "max-age=120")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		w.Header().Set("ETag", "W/"+testETag)
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 10:00:00 GMT")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write([]byte(rssFeed))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(htmlPage))
	})
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<rss><channel><item>`))
	})
	mux.HandleFunc("/image.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n"))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
	})
	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetcherParsesFeed(t *testing.T) {
	srv, _ := newFeedServer(t)
	f := NewFetcher(Options{})

	res, err := f.Parse(context.Background(), srv.URL+"/feed.xml", resource.Validators{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Status != http.StatusOK || res.Malformed {
		t.Fatalf("unexpected result status=%d malformed=%v (%s)", res.Status, res.Malformed, res.MalformedReason)
	}
	if len(res.Entries) != 2 || res.Title != "Example News" {
		t.Fatalf("unexpected feed %+v", res)
	}
	if res.ETag != `W/"v1"` || res.Modified != "Mon, 01 Jan 2024 10:00:00 GMT" {
		t.Fatalf("validators not recorded: etag=%q modified=%q", res.ETag, res.Modified)
	}
	if res.Headers.Get("Cache-Control") != "public, max-age=300" {
		t.Fatalf("response headers should be kept, got %v", res.Headers)
	}
	if res.URL != srv.URL+"/feed.xml" {
		t.Fatalf("unexpected url %q", res.URL)
	}
}

func TestFetcherSendsValidators(t *testing.T) {
	srv, hits := newFeedServer(t)
	f := NewFetcher(Options{UserAgent: "feedcache-test"})

	first, err := f.Parse(context.Background(), srv.URL+"/feed.xml", resource.Validators{})
	if err != nil {
		t.Fatalf("first parse: %v", err)
	}
	res, err := f.Parse(context.Background(), srv.URL+"/feed.xml", first.Validators())
	if err != nil {
		t.Fatalf("conditional parse: %v", err)
	}
	if res.Status != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", res.Status)
	}
	if len(res.Entries) != 0 || res.Malformed {
		t.Fatalf("a 304 carries no body and is not malformed: %+v", res)
	}
	if res.Headers.Get("Cache-Control") != "max-age=120" {
		t.Fatalf("304 headers should be reported, got %v", res.Headers)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 origin hits, got %d", hits.Load())
	}
}

func TestFetcherReportsHTTPErrors(t *testing.T) {
	srv, _ := newFeedServer(t)
	f := NewFetcher(Options{})

	for path, status := range map[string]int{"/error": 500, "/missing": 404} {
		res, err := f.Parse(context.Background(), srv.URL+path, resource.Validators{})
		if err != nil {
			t.Fatalf("%s: HTTP errors are results, not errors: %v", path, err)
		}
		if res.Status != status || len(res.Entries) != 0 || res.Malformed {
			t.Fatalf("%s: unexpected result %+v", path, res)
		}
	}
}

func TestFetcherMarksMalformedBodies(t *testing.T) {
	srv, _ := newFeedServer(t)
	f := NewFetcher(Options{})

	cases := map[string]string{
		"/broken.xml": "",
		"/image.png":  "unsupported content type",
		"/empty":      "empty response body",
	}
	for path, reason := range cases {
		res, err := f.Parse(context.Background(), srv.URL+path, resource.Validators{})
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if res.Status != http.StatusOK || !res.Malformed || len(res.Entries) != 0 {
			t.Fatalf("%s: expected a malformed result, got %+v", path, res)
		}
		if !strings.Contains(res.MalformedReason, reason) {
			t.Fatalf("%s: reason %q should mention %q", path, res.MalformedReason, reason)
		}
	}
}

func TestFetcherParsesPages(t *testing.T) {
	srv, _ := newFeedServer(t)
	res, err := NewFetcher(Options{}).Parse(context.Background(), srv.URL+"/page", resource.Validators{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Entries) != 1 || len(res.Feeds) != 2 {
		t.Fatalf("unexpected page result %+v", res)
	}
	if !slices.Contains(res.Feeds, srv.URL+"/feed.xml") {
		t.Fatalf("relative feed link should resolve against the page, got %v", res.Feeds)
	}
}

func TestFetcherTransportErrors(t *testing.T) {
	f := NewFetcher(Options{RequestTimeout: time.Second})

	if _, err := f.Parse(context.Background(), "ftp://example.com/feed", resource.Validators{}); err == nil {
		t.Fatalf("expected an error for a non-http url")
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	if _, err := f.Parse(context.Background(), addr+"/feed.xml", resource.Validators{}); err == nil {
		t.Fatalf("expected a transport error from a closed server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Parse(ctx, "https://example.com/", resource.Validators{}); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetcherHonorsContextDeadline(t *testing.T) {
	srv, _ := newFeedServer(t)
	f := NewFetcher(Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	started := time.Now()
	if _, err := f.Parse(ctx, srv.URL+"/slow", resource.Validators{}); err == nil {
		t.Fatalf("expected the request to be cancelled")
	}
	if time.Since(started) > 3*time.Second {
		t.Fatalf("cancellation should abort the request early")
	}
}
