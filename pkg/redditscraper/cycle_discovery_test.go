package redditscraper

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialscrape/engine/pkg/dbx"
)

func TestEnqueueDiscoveredSubreddits_InsertsUnknownStubs(t *testing.T) {
	subreddits := dbx.NewInMemorySubredditRepository()
	c := &Cycle{subreddits: subreddits}

	var discovered sync.Map
	discovered.Store("brandnewsub", true)
	c.enqueueDiscoveredSubreddits(context.Background(), &discovered)

	got, err := subreddits.Load(context.Background(), "brandnewsub")
	require.NoError(t, err)
	assert.Nil(t, got.LastScrapedAt, "a discovered stub has no last_scraped_at, landing it in the discovery tier")
}

func TestEnqueueDiscoveredSubreddits_SkipsAlreadyKnown(t *testing.T) {
	subreddits := dbx.NewInMemorySubredditRepository()
	reviewed := "Non Related"
	require.NoError(t, subreddits.Upsert(context.Background(), dbx.Subreddit{Name: "known", Review: &reviewed}))

	c := &Cycle{subreddits: subreddits}
	var discovered sync.Map
	discovered.Store("known", true)
	c.enqueueDiscoveredSubreddits(context.Background(), &discovered)

	got, err := subreddits.Load(context.Background(), "known")
	require.NoError(t, err)
	assert.Equal(t, "Non Related", *got.Review, "the skip-cache must not clobber an already-classified subreddit")
}
