package instagramscraper

import (
	"regexp"
	"strings"
)

var (
	hashtagPattern = regexp.MustCompile(`#(\w+)`)
	mentionPattern = regexp.MustCompile(`@([\w.]+)`)

	// paidPartnershipMarkers mirrors the disclosure phrases Instagram renders
	// into caption text for sponsored content.
	paidPartnershipMarkers = []string{"paid partnership", "#ad", "#sponsored", "#paidpartnership"}
)

// ExtractHashtags pulls all #tag tokens from caption, lowercased, deduped.
func ExtractHashtags(caption string) []string {
	return dedupeLower(hashtagPattern.FindAllStringSubmatch(caption, -1))
}

// ExtractMentions pulls all @user tokens from caption, lowercased, deduped.
func ExtractMentions(caption string) []string {
	return dedupeLower(mentionPattern.FindAllStringSubmatch(caption, -1))
}

func dedupeLower(matches [][]string) []string {
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		v := strings.ToLower(m[1])
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// IsPaidPartnership detects Instagram's paid-partnership disclosure markers
// in the caption text (spec.md §4.4 step 4).
func IsPaidPartnership(caption string) bool {
	lower := strings.ToLower(caption)
	for _, marker := range paidPartnershipMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
