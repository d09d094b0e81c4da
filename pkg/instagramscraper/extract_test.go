package instagramscraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractHashtags(t *testing.T) {
	got := ExtractHashtags("Loving this #Sunset and #sunset again, also #Travel")
	assert.Equal(t, []string{"sunset", "travel"}, got)
}

func TestExtractMentions(t *testing.T) {
	got := ExtractMentions("shoutout to @Jane.Doe and @jane.doe plus @other_user")
	assert.Equal(t, []string{"jane.doe", "other_user"}, got)
}

func TestIsPaidPartnership(t *testing.T) {
	assert.True(t, IsPaidPartnership("Thanks to @brand — Paid partnership with Brand"))
	assert.True(t, IsPaidPartnership("check this out #ad"))
	assert.False(t, IsPaidPartnership("just a normal caption with #travel"))
}
