// Package validate decides whether an extracted list looks like a roster of person names.
package validate

import (
	"html"
	"regexp"
	"strings"

	"github.com/JakeFAU/rostertrack/internal/metrics"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

const maxProperNouns = 6

var titlePrefixes = []string{"Dr.", "Prof."}

// mixedPatterns admits names where one lowercase part reads as an adjective, adverb or plural noun
// by its suffix, e.g. "Jane richards". Heading vocabulary is tagged HDG and never matches.
var mixedPatterns = map[string]struct{}{
	"NNP JJ": {}, "JJ NNP": {}, "NNP NNS": {}, "NNS NNP": {}, "NNP RB": {}, "RB NNP": {},
	"NNP NNP JJ": {}, "NNP JJ NNP": {}, "JJ NNP NNP": {},
	"NNP NNP NNS": {}, "NNP NNS NNP": {}, "NNS NNP NNP": {},
}

var sourceNoise = regexp.MustCompile(`[\s\p{Z}()\-]+`)

// Validator checks candidate name lists.
type Validator struct {
	// RequireInSource additionally demands that every two-part name appears in the page text.
	RequireInSource bool
}

// New returns a Validator with default settings.
func New() *Validator {
	return &Validator{}
}

// Validate returns nil when every name is plausible, otherwise a *tracker.ValidationError for the
// first offending entry.
func (v *Validator) Validate(source string, names []string) error {
	if vErr := v.check(source, names); vErr != nil {
		metrics.ObserveValidationFailure(string(vErr.Reason))
		return vErr
	}
	return nil
}

func (v *Validator) check(source string, names []string) *tracker.ValidationError {
	if len(names) == 0 {
		return &tracker.ValidationError{Reason: tracker.ReasonEmptyList}
	}
	var normalizedSource string
	if v.RequireInSource {
		normalizedSource = normalize(source)
	}
	for _, name := range names {
		if len(strings.Fields(name)) < 2 {
			return &tracker.ValidationError{Reason: tracker.ReasonTooFewWords, Name: name}
		}
		if !Plausible(name) {
			return &tracker.ValidationError{Reason: tracker.ReasonNotAName, Name: name}
		}
		if v.RequireInSource && !inSource(name, normalizedSource) {
			return &tracker.ValidationError{Reason: tracker.ReasonNotInSource, Name: name}
		}
	}
	return nil
}

// Plausible reports whether name reads as a person's name.
func Plausible(name string) bool {
	name = strings.TrimSpace(name)
	for _, prefix := range titlePrefixes {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	tags := TagTokens(strings.ReplaceAll(name, "-", " "))
	if len(tags) == 0 {
		return false
	}
	allProper := true
	for _, tag := range tags {
		if tag == HDG {
			return false
		}
		if tag != NNP {
			allProper = false
		}
	}
	if allProper {
		return len(tags) <= maxProperNouns
	}
	_, ok := mixedPatterns[joinTags(tags)]
	return ok
}

func joinTags(tags []Tag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, " ")
}

// inSource matches "first last", allowing a parenthesized nickname in between.
func inSource(name, normalizedSource string) bool {
	parts := strings.Fields(normalize(name))
	if len(parts) != 2 {
		return strings.Contains(normalizedSource, strings.Join(parts, " "))
	}
	pattern := regexp.QuoteMeta(parts[0]) + `\s*(\w+\s*)?` + regexp.QuoteMeta(parts[1])
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(normalizedSource)
}

func normalize(text string) string {
	text = html.UnescapeString(text)
	return strings.ToLower(strings.TrimSpace(sourceNoise.ReplaceAllString(text, " ")))
}
