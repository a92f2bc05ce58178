// Package archive talks to the web archive: it lists snapshots of a page and fetches their content.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rostertrack/internal/metrics"
	"github.com/JakeFAU/rostertrack/internal/retry"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

// DefaultTimemapEndpoint is prefixed to a page URL to list its captures.
const DefaultTimemapEndpoint = "http://web.archive.org/web/timemap/link/"

const mementoRel = `rel="memento"`

const (
	kindTimemap = "timemap"
	kindPage    = "page"
)

// Config controls the archive client.
type Config struct {
	TimemapEndpoint string
	// RawContent rewrites snapshot URLs so the archive serves the capture without its toolbar.
	RawContent bool
}

// Client resolves snapshots and fetches pages through the archive with bounded retries.
// Both operations degrade instead of failing: callers get a fallback value and a logged warning.
type Client struct {
	fetcher tracker.Fetcher
	limiter tracker.Limiter
	policy  *retry.ExponentialPolicy
	clock   tracker.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Client. A nil policy uses the archive defaults.
func New(
	fetcher tracker.Fetcher,
	limiter tracker.Limiter,
	policy *retry.ExponentialPolicy,
	clock tracker.Clock,
	cfg Config,
	logger *zap.Logger,
) *Client {
	if cfg.TimemapEndpoint == "" {
		cfg.TimemapEndpoint = DefaultTimemapEndpoint
	}
	if policy == nil {
		policy = retry.NewExponentialPolicy(tracker.IsRetryable)
	}
	if policy.Retryable == nil {
		policy.Retryable = tracker.IsRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		fetcher: fetcher,
		limiter: limiter,
		policy:  policy,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("archive"),
	}
}

// Resolve lists the captures of url in archive order, followed by the live page itself.
// Any failure to reach the timemap yields just the live page.
func (c *Client) Resolve(ctx context.Context, url string) []tracker.Snapshot {
	live := tracker.Snapshot{URL: url, CapturedAt: tracker.NewDate(c.clock.Now()), Live: true}

	resp, err := c.get(ctx, kindTimemap, c.cfg.TimemapEndpoint+url)
	if err != nil {
		c.logger.Warn("timemap unavailable, using live page only",
			zap.String("url", url),
			zap.Error(err),
		)
		metrics.ObserveArchiveRequest(kindTimemap, "fallback")
		return []tracker.Snapshot{live}
	}
	metrics.ObserveArchiveRequest(kindTimemap, "ok")

	snapshots, skipped := ParseTimemap(resp.Body)
	if len(skipped) > 0 {
		c.logger.Warn("skipping mementos without a capture date",
			zap.String("url", url),
			zap.Strings("mementos", skipped),
		)
	}
	c.logger.Debug("resolved snapshots", zap.String("url", url), zap.Int("count", len(snapshots)))
	return append(snapshots, live)
}

// Fetch returns the body of url, or "" when the page could not be retrieved.
func (c *Client) Fetch(ctx context.Context, url string) string {
	target := url
	if c.cfg.RawContent {
		target = tracker.RawContentURL(url)
	}
	resp, err := c.get(ctx, kindPage, target)
	if err != nil {
		c.logger.Warn("page fetch failed",
			zap.String("url", url),
			zap.Error(err),
		)
		metrics.ObserveArchiveRequest(kindPage, "failed")
		return ""
	}
	metrics.ObserveArchiveRequest(kindPage, "ok")
	return string(resp.Body)
}

func (c *Client) get(ctx context.Context, kind, url string) (tracker.FetchResponse, error) {
	onRetry := func(attempt int, err error, delay time.Duration) {
		metrics.ObserveArchiveRetry(kind)
		c.logger.Info("retrying archive request",
			zap.String("kind", kind),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	resp, _, err := retry.Do(ctx, c.policy, onRetry, func(ctx context.Context) (tracker.FetchResponse, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, url); err != nil {
				return tracker.FetchResponse{}, fmt.Errorf("rate limiter: %w", err)
			}
		}
		return c.fetcher.Fetch(ctx, url)
	})
	if err != nil {
		return tracker.FetchResponse{}, fmt.Errorf("%s %s: %w", kind, url, err)
	}
	return resp, nil
}

var mementoDatetime = regexp.MustCompile(`datetime="([^"]+)"`)

// ParseTimemap extracts memento URLs from a link-format timemap, in document order.
// The capture day comes from the URL timestamp, else the datetime attribute. Mementos with
// neither are returned in skipped.
func ParseTimemap(body []byte) (snapshots []tracker.Snapshot, skipped []string) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, mementoRel) {
			continue
		}
		target := strings.Trim(strings.SplitN(line, ";", 2)[0], " ,<>")
		if target == "" {
			continue
		}
		captured, ok := tracker.CaptureDate(target)
		if !ok {
			captured, ok = linkDatetime(line)
		}
		if !ok {
			skipped = append(skipped, target)
			continue
		}
		snapshots = append(snapshots, tracker.Snapshot{URL: target, CapturedAt: captured})
	}
	return snapshots, skipped
}

func linkDatetime(line string) (tracker.Date, bool) {
	m := mementoDatetime.FindStringSubmatch(line)
	if m == nil {
		return tracker.Date{}, false
	}
	t, err := time.Parse(time.RFC1123, m[1])
	if err != nil {
		return tracker.Date{}, false
	}
	return tracker.NewDate(t), true
}
