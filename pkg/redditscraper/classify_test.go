package redditscraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier_DefaultsMatchNonRelated(t *testing.T) {
	c := NewClassifier(nil, nil)
	got := c.Classify("No hentai content allowed", "A wholesome community")
	assert.True(t, got.NonRelated)
	assert.False(t, got.VerificationRequired)
}

func TestClassifier_VerificationRequired(t *testing.T) {
	c := NewClassifier(nil, nil)
	got := c.Classify("Posts require verification before approval", "")
	assert.True(t, got.VerificationRequired)
	assert.False(t, got.NonRelated)
}

func TestClassifier_CustomKeywords(t *testing.T) {
	c := NewClassifier([]string{"spamreddit"}, []string{"mustverify"})
	got := c.Classify("spamreddit rules apply here", "")
	assert.True(t, got.NonRelated)

	gotDefaultMiss := c.Classify("hentai content", "")
	assert.False(t, gotDefaultMiss.NonRelated, "custom list should replace, not extend, defaults")
}

func TestClassifier_NeitherMatch(t *testing.T) {
	c := NewClassifier(nil, nil)
	got := c.Classify("friendly programming discussion", "learn go here")
	assert.False(t, got.NonRelated)
	assert.False(t, got.VerificationRequired)
}
