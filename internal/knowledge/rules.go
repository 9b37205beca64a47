package knowledge

import (
	"regexp"
	"strings"
	"unicode"
)

// Rule is one stage-1 heuristic. A matching Skip rule short-circuits the
// lookup; a matching Require rule is enough to pass.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Skip    bool
}

// Classifier is the synchronous first stage of the gate.
type Classifier struct {
	rules    []Rule
	minWords int
}

// DefaultRules skip photo-framing descriptions and pass anything that names
// a building component, material or standard.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "overview-shot",
			Pattern: regexp.MustCompile(`^(general |site |aerial )?(overview|view|elevation|photo|picture|image)( of [a-z ]+)?$`),
			Skip:    true,
		},
		{
			Name:    "no-issue",
			Pattern: regexp.MustCompile(`\b(no (visible )?(issues?|defects?|deficienc(y|ies))|in good condition|acceptable)\b`),
			Skip:    true,
		},
		{
			Name: "component",
			Pattern: regexp.MustCompile(`\b(membrane|flashing|sealant|caulk|coping|parapet|drain|scupper|gutter|` +
				`shingle|underlayment|insulation|vapou?r barrier|anchor|fastener|weld|rebar|concrete|mortar|brick|` +
				`masonry|cladding|siding|window|glazing|door|railing|stair|beam|joist|truss|duct|pipe|conduit)s?\b`),
		},
		{
			Name: "standard",
			Pattern: regexp.MustCompile(`\b(code|standard|specification|spec|astm|csa|nbc|ibc|manufacturer|` +
				`installation|tolerance|clearance|requirement)s?\b`),
		},
	}
}

// NewClassifier creates a stage-1 classifier. Queries shorter than minWords
// words never pass.
func NewClassifier(rules []Rule, minWords int) *Classifier {
	if minWords < 1 {
		minWords = 1
	}
	return &Classifier{rules: rules, minWords: minWords}
}

// Classify reports whether a normalized query deserves a similarity search,
// and the name of the rule that decided.
func (c *Classifier) Classify(query string) (bool, string) {
	if len(strings.Fields(query)) < c.minWords {
		return false, "too-short"
	}
	for _, r := range c.rules {
		if r.Skip && r.Pattern.MatchString(query) {
			return false, r.Name
		}
	}
	for _, r := range c.rules {
		if !r.Skip && r.Pattern.MatchString(query) {
			return true, r.Name
		}
	}
	return false, "no-match"
}

// Normalize lowercases a query, drops punctuation and collapses whitespace
// so equivalent descriptions share a cache key.
func Normalize(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	space := false
	for _, r := range strings.ToLower(query) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
