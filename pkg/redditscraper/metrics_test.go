package redditscraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/socialscrape/engine/pkg/dbx"
)

func TestDeriveMetrics_FiltersStickiedAndComputesScore(t *testing.T) {
	posts := []dbx.RedditPost{
		{Score: 1000, NumComments: 50, CreatedUTC: time.Date(2026, 7, 6, 14, 0, 0, 0, time.UTC)}, // Monday 14:00
		{Score: 2000, NumComments: 100, CreatedUTC: time.Date(2026, 7, 6, 14, 0, 0, 0, time.UTC)},
		{Score: 9999, NumComments: 1, Stickied: true, CreatedUTC: time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)},
	}

	m := DeriveMetrics(posts)

	assert.Equal(t, float64(1500), m.AvgUpvotesPerPost)
	assert.InDelta(t, 150.0/3000.0, m.Engagement, 1e-9)
	assert.Greater(t, m.SubredditScore, 0.0)
	assert.Equal(t, "Monday", m.BestPostingDay)
	assert.Equal(t, "14:00", m.BestPostingHour)
}

func TestDeriveMetrics_LowEngagementYieldsNA(t *testing.T) {
	posts := []dbx.RedditPost{
		{Score: 10000, NumComments: 1, CreatedUTC: time.Now()},
	}
	m := DeriveMetrics(posts)
	assert.Equal(t, "N/A", m.BestPostingDay)
	assert.Equal(t, "N/A", m.BestPostingHour)
}

func TestDeriveMetrics_EmptyInput(t *testing.T) {
	m := DeriveMetrics(nil)
	assert.Equal(t, "N/A", m.BestPostingDay)
	assert.Equal(t, "N/A", m.BestPostingHour)
	assert.Equal(t, 0.0, m.SubredditScore)
}

func TestDeriveMetrics_AllStickiedYieldsEmpty(t *testing.T) {
	posts := []dbx.RedditPost{{Score: 500, Stickied: true}}
	m := DeriveMetrics(posts)
	assert.Equal(t, 0.0, m.AvgUpvotesPerPost)
	assert.Equal(t, "N/A", m.BestPostingDay)
}
