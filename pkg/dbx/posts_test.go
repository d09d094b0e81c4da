package dbx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupePosts_LastWriteWinsWithinBatch(t *testing.T) {
	posts := []RedditPost{
		{RedditID: "t3_1", Score: 10},
		{RedditID: "t3_2", Score: 5},
		{RedditID: "t3_1", Score: 42}, // duplicate, newer score should win
	}
	deduped := dedupePosts(posts)
	require.Len(t, deduped, 2)

	byID := make(map[string]RedditPost, len(deduped))
	for _, p := range deduped {
		byID[p.RedditID] = p
	}
	assert.Equal(t, int64(42), byID["t3_1"].Score)
	assert.Equal(t, int64(5), byID["t3_2"].Score)
}

func TestInMemoryPostRepository_UpsertBatch(t *testing.T) {
	repo := NewInMemoryPostRepository()
	n, err := repo.UpsertBatch(context.Background(), []RedditPost{
		{RedditID: "a", Score: 1},
		{RedditID: "b", Score: 2},
		{RedditID: "a", Score: 9},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, repo.All(), 2)
}

func TestInMemoryIGContentRepository_ViralDetectedAtMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIGContentRepository()

	firstDetected := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := repo.UpsertReels(ctx, []Reel{{
		MediaPK:         "reel1",
		IsViral:         true,
		PlayCount:       100000,
		ViralDetectedAt: &firstDetected,
	}})
	require.NoError(t, err)

	// A later upsert with a different (newer) viral_detected_at must not
	// overwrite the originally recorded transition timestamp.
	laterDetected := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err = repo.UpsertReels(ctx, []Reel{{
		MediaPK:         "reel1",
		IsViral:         true,
		PlayCount:       200000,
		ViralDetectedAt: &laterDetected,
	}})
	require.NoError(t, err)

	reels := repo.AllReels()
	require.Len(t, reels, 1)
	require.NotNil(t, reels[0].ViralDetectedAt)
	assert.True(t, reels[0].ViralDetectedAt.Equal(firstDetected))
	assert.Equal(t, int64(200000), reels[0].PlayCount)
}

func TestInMemoryIGContentRepository_NonViralClearsDetectedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryIGContentRepository()

	_, err := repo.UpsertReels(ctx, []Reel{{MediaPK: "reel2", IsViral: false}})
	require.NoError(t, err)

	reels := repo.AllReels()
	require.Len(t, reels, 1)
	assert.Nil(t, reels[0].ViralDetectedAt)
}
