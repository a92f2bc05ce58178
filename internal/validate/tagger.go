package validate

import (
	"strings"
	"unicode"
)

// Tag is a coarse part-of-speech label.
type Tag string

// Tags assigned by the heuristic tagger. All but HDG follow the Penn Treebank set.
const (
	NNP Tag = "NNP" // proper noun
	NN  Tag = "NN"
	NNS Tag = "NNS"
	JJ  Tag = "JJ"
	RB  Tag = "RB"
	VB  Tag = "VB"
	CD  Tag = "CD"
	DT  Tag = "DT"
	IN  Tag = "IN"
	CC  Tag = "CC"
	PRP Tag = "PRP"
	SYM Tag = "SYM"
	// HDG marks roster heading, role and navigation vocabulary. A name containing one is rejected.
	HDG Tag = "HDG"
)

// headings is the vocabulary that shows up around names on roster pages. It is matched without
// regard to case and is never taken for part of a name. Words that are also common surnames
// ("Page", "Fellow", "Ma") are left out.
var headings = setOf(
	"department", "philosophy", "news", "contact", "home", "faculty", "program", "programs",
	"research", "university", "college", "school", "staff", "placement", "placements", "directory",
	"menu", "search", "login", "office", "email", "phone", "website", "cv", "profile", "content",
	"navigation", "phd", "ph.d", "professor", "professors", "lecturer", "lecturers", "candidate",
	"candidates", "student", "students", "information", "calendar", "overview", "people", "events",
	"alumni", "admissions", "courses", "hours", "resources", "links", "job", "market", "scholars",
	"assistants", "handbook", "dissertation", "dissertations", "committee", "seminar", "colloquium",
	"workshop", "cohort", "members", "instructors", "teaching", "graduate", "undergraduate",
	"current", "visiting", "affiliated", "postdoctoral", "emeritus", "emeriti", "main", "next",
	"previous", "adjunct", "assistant", "associate", "former", "doctoral", "read", "apply", "view",
	"skip", "show", "see", "click", "more", "back", "top", "here", "dr", "prof",
)

// functionWords keep their tag whatever their case.
var functionWords = map[string]Tag{
	"the": DT, "a": DT, "an": DT, "all": DT, "this": DT, "that": DT, "these": DT, "our": PRP,
	"of": IN, "for": IN, "in": IN, "at": IN, "to": IN, "with": IN, "on": IN, "by": IN, "from": IN,
	"about": IN, "and": CC, "or": CC, "us": PRP, "we": PRP, "you": PRP, "your": PRP, "it": PRP,
	"he": PRP, "she": PRP, "they": PRP, "their": PRP, "his": PRP, "her": PRP,
}

func setOf(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// particles are lowercase surname prefixes that belong to a proper noun.
var particles = map[string]struct{}{
	"van": {}, "de": {}, "von": {}, "da": {}, "del": {}, "della": {}, "di": {}, "la": {}, "le": {},
	"bin": {}, "al": {}, "der": {}, "den": {}, "du": {}, "dos": {}, "das": {}, "ter": {}, "ten": {},
	"los": {}, "las": {}, "y": {},
}

var adjectiveSuffixes = []string{"ous", "ful", "ive", "al", "ic", "able", "ible"}

// TagTokens assigns a tag to every whitespace-separated token of text.
func TagTokens(text string) []Tag {
	fields := strings.Fields(text)
	tags := make([]Tag, 0, len(fields))
	for _, f := range fields {
		tags = append(tags, tagToken(f))
	}
	return tags
}

func tagToken(token string) Tag {
	core := strings.TrimFunc(token, func(r rune) bool {
		return unicode.IsPunct(r) && r != '.' && r != '\''
	})
	core = strings.TrimRight(core, ",;:")
	if core == "" || !strings.ContainsFunc(core, unicode.IsLetter) {
		if strings.ContainsFunc(token, unicode.IsDigit) {
			return CD
		}
		return SYM
	}
	if strings.ContainsFunc(core, unicode.IsDigit) {
		return CD
	}

	lower := strings.ToLower(strings.TrimSuffix(core, "."))
	if _, ok := headings[lower]; ok {
		return HDG
	}
	if tag, ok := functionWords[lower]; ok {
		return tag
	}
	if _, ok := particles[lower]; ok {
		return NNP
	}
	first := []rune(core)[0]
	if unicode.IsUpper(first) {
		return NNP
	}
	return suffixTag(lower)
}

func suffixTag(word string) Tag {
	switch {
	case strings.HasSuffix(word, "ly"):
		return RB
	case strings.HasSuffix(word, "ing"), strings.HasSuffix(word, "ed"):
		return VB
	}
	for _, suffix := range adjectiveSuffixes {
		if strings.HasSuffix(word, suffix) {
			return JJ
		}
	}
	if strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") {
		return NNS
	}
	return NN
}
