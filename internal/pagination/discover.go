// Package pagination finds the paginated variants of a roster page.
package pagination

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/rostertrack/internal/tracker"
)

// Config controls page discovery.
type Config struct {
	Param           string
	HeadingSelector string
	// Threshold is the largest length difference at which two pages count as identical.
	Threshold int
	MaxPages  int
}

// DefaultConfig mirrors the layout of the department sites this tool was built for.
func DefaultConfig() Config {
	return Config{
		Param:           "pg",
		HeadingSelector: "h1.plain",
		Threshold:       50,
		MaxPages:        1000,
	}
}

// Discoverer probes ?pg=2, ?pg=3, ... until the site stops returning new content.
type Discoverer struct {
	pages  tracker.PageSource
	cfg    Config
	logger *zap.Logger
}

// New constructs a Discoverer. Zero-valued config fields take their defaults.
func New(pages tracker.PageSource, cfg Config, logger *zap.Logger) *Discoverer {
	def := DefaultConfig()
	if cfg.Param == "" {
		cfg.Param = def.Param
	}
	if cfg.HeadingSelector == "" {
		cfg.HeadingSelector = def.HeadingSelector
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{pages: pages, cfg: cfg, logger: logger.Named("pagination")}
}

// Discover returns baseURL followed by every page that differs from its predecessor.
// The page that ends discovery is never included.
func (d *Discoverer) Discover(ctx context.Context, baseURL string) []string {
	urls := []string{baseURL}
	previous := d.pages.Fetch(ctx, baseURL)

	for i := 2; i < d.cfg.MaxPages; i++ {
		if ctx.Err() != nil {
			break
		}
		pageURL := PageURL(baseURL, d.cfg.Param, i)
		current := d.pages.Fetch(ctx, pageURL)
		if reason := d.stopReason(previous, current); reason != "" {
			d.logger.Info("pagination finished",
				zap.String("url", baseURL),
				zap.Int("pages", len(urls)),
				zap.String("reason", reason),
			)
			break
		}
		urls = append(urls, pageURL)
		previous = current
	}
	return urls
}

func (d *Discoverer) stopReason(previous, current string) string {
	if current == "" {
		return "no content"
	}
	if EmptyHeading(current, d.cfg.HeadingSelector) {
		return "empty heading"
	}
	if abs(len(current)-len(previous)) <= d.cfg.Threshold {
		return "unchanged"
	}
	return ""
}

// PageURL sets the pagination parameter on baseURL, keeping any existing query.
func PageURL(baseURL, param string, page int) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL + "?" + param + "=" + strconv.Itoa(page)
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// EmptyHeading reports whether the first element matching selector exists and has no text.
// A missing heading is not a signal either way.
func EmptyHeading(html, selector string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	heading := doc.Find(selector).First()
	if heading.Length() == 0 {
		return false
	}
	return strings.TrimSpace(heading.Text()) == ""
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
