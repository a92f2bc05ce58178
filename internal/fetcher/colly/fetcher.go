// Package collyfetcher implements tracker.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/rostertrack/internal/metrics"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

const defaultTimeout = 60 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
}

// Fetcher performs one GET per call. It never retries; the archive client owns retry policy.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	// Clones share the visited-URL store, so revisits must be allowed for retries and repeat snapshots.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Connection failures come back as *tracker.NetworkError
// and non-2xx responses as *tracker.HTTPError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (tracker.FetchResponse, error) {
	var (
		result   tracker.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, url, start, &result, &fetchErr)

	resp, err := f.runCollector(ctx, collector, url, &result, &fetchErr)
	metrics.ObserveAttempt(url, statusOf(resp, err), time.Since(start))
	return resp, err
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	url string,
	start time.Time,
	result *tracker.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	transport := f.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	collector.WithTransport(transport)

	f.configureCollectorHooks(collector, url, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	url string,
	start time.Time,
	result *tracker.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = tracker.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = classify(url, r, err)
	})
}

// runCollector visits url on its own goroutine. result and fetchErr belong to that goroutine's
// hooks and are only read after it finishes; a canceled call returns without touching them.
func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	result *tracker.FetchResponse,
	fetchErr *error,
) (tracker.FetchResponse, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return tracker.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return tracker.FetchResponse{}, *fetchErr
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return tracker.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctxErr)
			}
			return tracker.FetchResponse{}, &tracker.NetworkError{URL: url, Err: err}
		}
		return *result, nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	if f.cfg.Headers == nil {
		return
	}
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// classify maps colly's error callback onto the tracker error taxonomy.
// Colly reports transport failures with a zero status code.
func classify(url string, r *colly.Response, err error) error {
	if r == nil || r.StatusCode == 0 {
		return &tracker.NetworkError{URL: url, Err: err}
	}
	return &tracker.HTTPError{URL: url, StatusCode: r.StatusCode}
}

func statusOf(result tracker.FetchResponse, err error) int {
	if err == nil {
		return result.StatusCode
	}
	var httpErr *tracker.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
