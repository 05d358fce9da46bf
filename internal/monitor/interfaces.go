package monitor

import (
	"context"
	"time"
)

// FetchResponse is the result of fetching one page.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves a single page. Implementations must honor the context
// deadline; retry policy lives in the caller.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Screenshotter captures a rendered screenshot of a page.
type Screenshotter interface {
	Capture(ctx context.Context, url string) ([]byte, error)
}

// Searcher runs a keyword query against the external search capability and
// returns organic results in rank order.
type Searcher interface {
	Search(ctx context.Context, keyword string) ([]SearchResult, error)
}

// EmailSender delivers one notification. The transport behind it is opaque
// to the engine.
type EmailSender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Publisher pushes change events to an external feed (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts (screenshots, reports) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes content digests for change short-circuiting and dedup.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces alert IDs.
type IDGenerator interface {
	NewID() (string, error)
}
