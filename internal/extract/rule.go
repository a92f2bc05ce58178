package extract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// Rule is the declarative form of an extraction module. Generated modules are Rules serialized as YAML.
//
// Without Item, every element matching Name yields one value. With Item, each matching element is a
// record: it must satisfy Require (when set) and contributes the first descendant matching Name, or
// its own text when Name is empty.
type Rule struct {
	Item      string     `yaml:"item,omitempty"`
	Require   *Condition `yaml:"require,omitempty"`
	Name      string     `yaml:"name,omitempty"`
	Attribute string     `yaml:"attribute,omitempty"`
	// Split breaks one element's text into several names.
	Split string `yaml:"split,omitempty"`
	// StripCommas replaces runs of commas and whitespace with a single space.
	StripCommas bool `yaml:"strip_commas,omitempty"`
	// ReorderComma turns "Last, First" into "First Last".
	ReorderComma bool     `yaml:"reorder_comma,omitempty"`
	Match        string   `yaml:"match,omitempty"`
	Exclude      []string `yaml:"exclude,omitempty"`
	Dedupe       bool     `yaml:"dedupe,omitempty"`
}

// Condition filters Item records on the text of a descendant.
type Condition struct {
	Selector string `yaml:"selector"`
	Equals   string `yaml:"equals,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

var errEmptyRule = errors.New("rule needs an item or name selector")

var commaRun = regexp.MustCompile(`[,\s]+`)

// ParseRule decodes a YAML rule. Unknown keys are rejected.
func ParseRule(source []byte) (*Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(source))
	dec.KnownFields(true)
	var r Rule
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}
	return &r, nil
}

// Marshal renders the rule as YAML.
func (r *Rule) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode rule: %w", err)
	}
	return out, nil
}

// Compile parses the rule's selectors and patterns.
func (r *Rule) Compile() (Extractor, error) {
	if r.Item == "" && r.Name == "" {
		return nil, errEmptyRule
	}
	c := &compiledRule{rule: r}
	var err error
	if c.item, err = compileSelector("item", r.Item); err != nil {
		return nil, err
	}
	if c.name, err = compileSelector("name", r.Name); err != nil {
		return nil, err
	}
	if r.Require != nil {
		if r.Item == "" {
			return nil, errors.New("require is only valid together with item")
		}
		if c.require, err = compileSelector("require", r.Require.Selector); err != nil {
			return nil, err
		}
		if c.require == nil {
			return nil, errors.New("require needs a selector")
		}
	}
	if c.split, err = compilePattern("split", r.Split); err != nil {
		return nil, err
	}
	if c.match, err = compilePattern("match", r.Match); err != nil {
		return nil, err
	}
	for _, pattern := range r.Exclude {
		re, err := compilePattern("exclude", pattern)
		if err != nil {
			return nil, err
		}
		if re != nil {
			c.exclude = append(c.exclude, re)
		}
	}
	return c, nil
}

// Compile parses and compiles a YAML rule in one step.
func Compile(source []byte) (Extractor, error) {
	r, err := ParseRule(source)
	if err != nil {
		return nil, err
	}
	return r.Compile()
}

func compileSelector(field, sel string) (cascadia.Selector, error) {
	if strings.TrimSpace(sel) == "" {
		return nil, nil
	}
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("%s selector %q: %w", field, sel, err)
	}
	return compiled, nil
}

func compilePattern(field, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s pattern %q: %w", field, pattern, err)
	}
	return re, nil
}

type compiledRule struct {
	rule    *Rule
	item    cascadia.Selector
	name    cascadia.Selector
	require cascadia.Selector
	split   *regexp.Regexp
	match   *regexp.Regexp
	exclude []*regexp.Regexp
}

func (c *compiledRule) Extract(doc *goquery.Document) ([]string, error) {
	var values []string
	if c.item == nil {
		doc.FindMatcher(c.name).Each(func(_ int, s *goquery.Selection) {
			values = append(values, c.value(s))
		})
	} else {
		doc.FindMatcher(c.item).Each(func(_ int, item *goquery.Selection) {
			if !c.satisfies(item) {
				return
			}
			target := item
			if c.name != nil {
				target = item.FindMatcher(c.name).First()
				if target.Length() == 0 {
					return
				}
			}
			values = append(values, c.value(target))
		})
	}
	return c.post(values), nil
}

func (c *compiledRule) satisfies(item *goquery.Selection) bool {
	if c.require == nil {
		return true
	}
	cond := item.FindMatcher(c.require).First()
	if cond.Length() == 0 {
		return false
	}
	text := strings.TrimSpace(cond.Text())
	if c.rule.Require.Equals != "" && text != c.rule.Require.Equals {
		return false
	}
	if c.rule.Require.Contains != "" && !strings.Contains(text, c.rule.Require.Contains) {
		return false
	}
	return true
}

func (c *compiledRule) value(s *goquery.Selection) string {
	if c.rule.Attribute != "" {
		v, _ := s.Attr(c.rule.Attribute)
		return v
	}
	return s.Text()
}

func (c *compiledRule) post(values []string) []string {
	var parts []string
	for _, v := range values {
		if c.split != nil {
			parts = append(parts, c.split.Split(v, -1)...)
			continue
		}
		parts = append(parts, v)
	}

	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if c.rule.ReorderComma {
			p = reorderComma(p)
		}
		if c.rule.StripCommas {
			p = commaRun.ReplaceAllString(p, " ")
		}
		p = strings.Join(strings.Fields(p), " ")
		if p == "" || !c.keep(p) {
			continue
		}
		if c.rule.Dedupe {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
		}
		out = append(out, p)
	}
	return out
}

func (c *compiledRule) keep(name string) bool {
	if c.match != nil && !c.match.MatchString(name) {
		return false
	}
	for _, re := range c.exclude {
		if re.MatchString(name) {
			return false
		}
	}
	return true
}

func reorderComma(name string) string {
	last, first, ok := strings.Cut(name, ",")
	if !ok || strings.Contains(first, ",") {
		return name
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if first == "" || last == "" {
		return name
	}
	return first + " " + last
}
