// Package server exposes a feedcache over HTTP with Fiber. Every request
// works directly on the shared cache database, so the API can run next to
// CLI invocations and other processes using the same file.
package server
