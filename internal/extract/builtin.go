package extract

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/rostertrack/internal/tracker"
)

//go:embed builtin_rules.yaml
var builtinRules []byte

// Builtins returns the extraction modules shipped with the binary, keyed by site.
func Builtins() (map[tracker.SiteID]Extractor, error) {
	var rules map[string]*Rule
	if err := yaml.Unmarshal(builtinRules, &rules); err != nil {
		return nil, fmt.Errorf("decode builtin rules: %w", err)
	}
	out := make(map[tracker.SiteID]Extractor, len(rules)+1)
	for site, rule := range rules {
		ex, err := rule.Compile()
		if err != nil {
			return nil, fmt.Errorf("builtin rule %s: %w", site, err)
		}
		out[tracker.SiteID(site)] = ex
	}
	out["philosophy_ucsc"] = ExtractorFunc(ucscDirectory)
	return out, nil
}

// BuiltinSites lists the sites with a shipped module, sorted.
func BuiltinSites(builtins map[tracker.SiteID]Extractor) []string {
	sites := make([]string, 0, len(builtins))
	for site := range builtins {
		sites = append(sites, string(site))
	}
	sort.Strings(sites)
	return sites
}

// ucscDirectory handles a directory where the person's title sits in a list after a "Title" label,
// outside the element holding the name. Records are matched by document order.
func ucscDirectory(doc *goquery.Document) ([]string, error) {
	type mark struct {
		kind string
		sel  *goquery.Selection
	}
	var marks []mark
	doc.Find("h3.item-name, strong, li").Each(func(_ int, s *goquery.Selection) {
		switch {
		case s.Is("h3.item-name"):
			marks = append(marks, mark{kind: "name", sel: s})
		case s.Is("strong") && strings.TrimSpace(s.Text()) == "Title":
			marks = append(marks, mark{kind: "label", sel: s})
		case s.Is("li"):
			marks = append(marks, mark{kind: "item", sel: s})
		}
	})

	var names []string
	var lastName *goquery.Selection
	for i, m := range marks {
		switch m.kind {
		case "name":
			lastName = m.sel
		case "label":
			if lastName == nil {
				continue
			}
			for _, next := range marks[i+1:] {
				if next.kind != "item" {
					continue
				}
				if strings.TrimSpace(next.sel.Text()) == "PhD Student" {
					names = append(names, lastName.Find("span.p-name").First().Text())
				}
				break
			}
		}
	}
	return names, nil
}
