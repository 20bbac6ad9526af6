package feedcache

import "fmt"

// FetchError reports a fetch that produced no usable response: no status at
// all, an HTTP error status, or a 304 with nothing cached to confirm.
type FetchError struct {
	// Status is zero when the origin never answered.
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	if e.Status == 0 {
		return "feedcache: " + e.Message
	}
	return fmt.Sprintf("feedcache: %s (status %d)", e.Message, e.Status)
}

// ParseError reports a response that was received but could not be parsed
// into any entries.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return "feedcache: parse error"
	}
	return "feedcache: parse error: " + e.Reason
}
