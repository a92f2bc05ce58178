// Package placement marks people who appear on a program's placement page.
package placement

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/rostertrack/internal/tracker"
)

// minSharedTokens is how many name tokens a summary must share with a page name to count as placed.
const minSharedTokens = 2

var twoWordName = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)

// Checker cross-references summaries against placement pages.
type Checker struct {
	pages  tracker.PageSource
	logger *zap.Logger
}

// New constructs a Checker.
func New(pages tracker.PageSource, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{pages: pages, logger: logger.Named("placement")}
}

// Mark returns a copy of summaries with Placement set for every person found on placementURL.
// An empty URL or an unreachable page leaves the summaries unplaced.
func (c *Checker) Mark(ctx context.Context, placementURL string, summaries []tracker.PersonSummary) []tracker.PersonSummary {
	out := append([]tracker.PersonSummary(nil), summaries...)
	if strings.TrimSpace(placementURL) == "" {
		return out
	}
	page := c.pages.Fetch(ctx, placementURL)
	if page == "" {
		c.logger.Warn("placement page unavailable", zap.String("url", placementURL))
		return out
	}

	names := Names(page)
	placed := 0
	for i := range out {
		if Matches(out[i].Name, names) {
			out[i].Placement = true
			out[i].PlacementURL = placementURL
			placed++
		}
	}
	c.logger.Info("placement checked",
		zap.String("url", placementURL),
		zap.Int("page_names", len(names)),
		zap.Int("placed", placed),
	)
	return out
}

// Names collects the capitalized two-word sequences in the visible text of page.
func Names(page string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil
	}
	doc.Find("script, style").Remove()

	var text strings.Builder
	doc.Find("*").Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "#text" {
			text.WriteString(s.Text())
			text.WriteByte('\n')
		}
	})

	seen := make(map[string]struct{})
	var names []string
	for _, m := range twoWordName.FindAllString(text.String(), -1) {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		names = append(names, m)
	}
	return names
}

// Matches reports whether name shares at least two tokens with any of candidates.
func Matches(name string, candidates []string) bool {
	tokens := sortedTokens(name)
	for _, c := range candidates {
		if shared(tokens, sortedTokens(c)) >= minSharedTokens {
			return true
		}
	}
	return false
}

func sortedTokens(s string) []string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return tokens
}

// shared counts common tokens of two sorted lists, with multiplicity.
func shared(a, b []string) int {
	n, i, j := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}
