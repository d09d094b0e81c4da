package redditscraper

import "strings"

// DefaultNonRelatedKeywords seeds the "Non-Related" auto-classification set
// (spec.md §4.3): subreddit categories structurally out of scope for the
// platform's creator-discovery purpose.
var DefaultNonRelatedKeywords = []string{
	"hentai", "furry", "scat", "abdl", "vore", "feet only",
	"gore", "snuff", "cub", "loli",
}

// DefaultVerificationKeywords seeds the "Verification-Required" set.
var DefaultVerificationKeywords = []string{"verification", "verified", "verify"}

// Classifier holds the configurable keyword sets used to auto-classify a
// subreddit from its concatenated rules text and description.
type Classifier struct {
	NonRelated   []string
	Verification []string
}

// NewClassifier builds a Classifier from the given keyword lists, falling
// back to the defaults when a list is empty.
func NewClassifier(nonRelated, verification []string) *Classifier {
	if len(nonRelated) == 0 {
		nonRelated = DefaultNonRelatedKeywords
	}
	if len(verification) == 0 {
		verification = DefaultVerificationKeywords
	}
	return &Classifier{NonRelated: nonRelated, Verification: verification}
}

// Classification is the auto-classification outcome for one subreddit.
type Classification struct {
	NonRelated           bool
	VerificationRequired bool
}

// Classify concatenates rulesText and description, lowercases, and
// substring-matches against both keyword sets (spec.md §4.3
// "Auto-classification").
func (c *Classifier) Classify(rulesText, description string) Classification {
	haystack := strings.ToLower(rulesText + " " + description)

	var out Classification
	for _, kw := range c.NonRelated {
		if strings.Contains(haystack, kw) {
			out.NonRelated = true
			break
		}
	}
	for _, kw := range c.Verification {
		if strings.Contains(haystack, kw) {
			out.VerificationRequired = true
			break
		}
	}
	return out
}
