// Package extract turns roster HTML into candidate names using per-site extraction modules.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extractor pulls raw name strings out of a parsed roster document.
type Extractor interface {
	Extract(doc *goquery.Document) ([]string, error)
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(doc *goquery.Document) ([]string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(doc *goquery.Document) ([]string, error) {
	return f(doc)
}

// Run parses html, strips script and style elements, and applies ex.
// A panic inside ex is returned as an error so one broken module cannot take down a run.
// Returned names are whitespace-normalized with empties removed.
func Run(ex Extractor, html string) (names []string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	doc.Find("script, style").Remove()

	defer func() {
		if r := recover(); r != nil {
			names = nil
			err = fmt.Errorf("extractor panicked: %v", r)
		}
	}()
	raw, err := ex.Extract(doc)
	if err != nil {
		return nil, err
	}
	return Normalize(raw), nil
}

// Normalize collapses internal whitespace and drops empty entries.
func Normalize(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.Join(strings.Fields(name), " ")
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}
