package tracker

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single HTTP GET. Retries are layered on top by the archive client.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// PageSource returns a page's content, or "" when nothing could be fetched.
type PageSource interface {
	Fetch(ctx context.Context, url string) string
}

// BlobStore persists artifacts such as extraction rules and dataset versions.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes notifications about committed dataset versions.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Limiter gates outbound requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests used to detect tampered or truncated artifacts.
type Hasher interface {
	Hash(data []byte) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
