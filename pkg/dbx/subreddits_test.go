package dbx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemorySubredditRepository_UpsertPreservesOperatorFields(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemorySubredditRepository()

	review := "Non Related"
	category := "meme"
	require.NoError(t, repo.Upsert(ctx, Subreddit{
		Name:            "golang",
		Title:           "Go",
		Review:          &review,
		PrimaryCategory: &category,
		Tags:            []string{"programming"},
	}))

	// A re-scrape with no operator fields set must not clobber the existing ones.
	require.NoError(t, repo.Upsert(ctx, Subreddit{
		Name:        "golang",
		Title:       "The Go Programming Language",
		Subscribers: 500000,
	}))

	got, err := repo.Load(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, "The Go Programming Language", got.Title)
	assert.Equal(t, int64(500000), got.Subscribers)
	require.NotNil(t, got.Review)
	assert.Equal(t, "Non Related", *got.Review)
	require.NotNil(t, got.PrimaryCategory)
	assert.Equal(t, "meme", *got.PrimaryCategory)
	assert.Equal(t, []string{"programming"}, got.Tags)
}

func TestInMemorySubredditRepository_UpsertAppliesExplicitOperatorFields(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemorySubredditRepository()

	require.NoError(t, repo.Upsert(ctx, Subreddit{Name: "test"}))

	review := "Non Related"
	require.NoError(t, repo.Upsert(ctx, Subreddit{Name: "test", Review: &review}))

	got, err := repo.Load(ctx, "test")
	require.NoError(t, err)
	require.NotNil(t, got.Review)
	assert.Equal(t, "Non Related", *got.Review)
}

func TestInMemorySubredditRepository_LoadNotFound(t *testing.T) {
	repo := NewInMemorySubredditRepository()
	_, err := repo.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
