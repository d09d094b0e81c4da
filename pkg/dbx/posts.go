package dbx

import (
	"context"
	"fmt"
	"sync"

	"github.com/lib/pq"
)

// PostRepository batches RedditPost writes (spec.md §4.3: "batched DB
// writes"), deduplicating by reddit_id within a batch before the round-trip.
type PostRepository interface {
	UpsertBatch(ctx context.Context, posts []RedditPost) (int, error)
}

// PostgresPostRepository is the production PostRepository. It builds one
// multi-row INSERT ... ON CONFLICT statement per batch rather than one
// round-trip per post, mirroring the teacher's batch handler style.
type PostgresPostRepository struct {
	db *DB
}

func NewPostgresPostRepository(db *DB) *PostgresPostRepository {
	return &PostgresPostRepository{db: db}
}

func (r *PostgresPostRepository) UpsertBatch(ctx context.Context, posts []RedditPost) (int, error) {
	deduped := dedupePosts(posts)
	if len(deduped) == 0 {
		return 0, nil
	}

	const cols = 8
	values := make([]string, 0, len(deduped))
	args := make([]any, 0, len(deduped)*cols)
	for i, p := range deduped {
		base := i * cols
		values = append(values, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args, p.RedditID, p.SubredditName, p.Author, p.Title, p.Score, p.NumComments, p.CreatedUTC, p.Stickied)
	}

	query := fmt.Sprintf(`
		INSERT INTO posts (reddit_id, subreddit_name, author, title, score, num_comments, created_utc, stickied)
		VALUES %s
		ON CONFLICT (reddit_id) DO UPDATE SET
			score = EXCLUDED.score,
			num_comments = EXCLUDED.num_comments,
			stickied = EXCLUDED.stickied
	`, joinComma(values))

	if _, err := r.db.conn.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("upsert post batch (%d rows): %w", len(deduped), err)
	}
	return len(deduped), nil
}

func dedupePosts(posts []RedditPost) []RedditPost {
	seen := make(map[string]int, len(posts))
	out := make([]RedditPost, 0, len(posts))
	for _, p := range posts {
		if idx, ok := seen[p.RedditID]; ok {
			out[idx] = p // last write wins within a batch
			continue
		}
		seen[p.RedditID] = len(out)
		out = append(out, p)
	}
	return out
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// InMemoryPostRepository is a test double for PostRepository.
type InMemoryPostRepository struct {
	mu   sync.Mutex
	rows map[string]RedditPost
}

func NewInMemoryPostRepository() *InMemoryPostRepository {
	return &InMemoryPostRepository{rows: make(map[string]RedditPost)}
}

func (r *InMemoryPostRepository) UpsertBatch(_ context.Context, posts []RedditPost) (int, error) {
	deduped := dedupePosts(posts)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range deduped {
		r.rows[p.RedditID] = p
	}
	return len(deduped), nil
}

func (r *InMemoryPostRepository) All() []RedditPost {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RedditPost, 0, len(r.rows))
	for _, p := range r.rows {
		out = append(out, p)
	}
	return out
}

// IGContentRepository batches IGPost and Reel writes with the viral-detection
// monotonicity invariant (spec.md §4.4, §8 scenario 4): viral_detected_at is
// set only the first time is_viral transitions false -> true.
type IGContentRepository interface {
	UpsertPosts(ctx context.Context, posts []IGPost) (int, error)
	UpsertReels(ctx context.Context, reels []Reel) (int, error)
}

// PostgresIGContentRepository is the production IGContentRepository.
type PostgresIGContentRepository struct {
	db *DB
}

func NewPostgresIGContentRepository(db *DB) *PostgresIGContentRepository {
	return &PostgresIGContentRepository{db: db}
}

func (r *PostgresIGContentRepository) UpsertPosts(ctx context.Context, posts []IGPost) (int, error) {
	n := 0
	for _, p := range posts {
		const query = `
			INSERT INTO posts_ig (
				media_pk, creator_id, media_type, caption_text, hashtags, mentions,
				is_paid_partnership, like_count, comment_count, image_urls, video_url,
				play_count, is_viral, viral_multiplier, viral_detected_at, posted_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			ON CONFLICT (media_pk) DO UPDATE SET
				like_count = EXCLUDED.like_count,
				comment_count = EXCLUDED.comment_count,
				play_count = EXCLUDED.play_count,
				is_viral = EXCLUDED.is_viral,
				viral_multiplier = EXCLUDED.viral_multiplier,
				viral_detected_at = CASE
					WHEN posts_ig.viral_detected_at IS NOT NULL THEN posts_ig.viral_detected_at
					WHEN EXCLUDED.is_viral THEN EXCLUDED.viral_detected_at
					ELSE NULL
				END
		`
		_, err := r.db.conn.ExecContext(ctx, query,
			p.MediaPK, p.CreatorID, p.MediaType, p.CaptionText, pq.Array(p.Hashtags), pq.Array(p.Mentions),
			p.IsPaidPartnership, p.LikeCount, p.CommentCount, pq.Array(p.ImageURLs), p.VideoURL,
			p.PlayCount, p.IsViral, p.ViralMultiplier, p.ViralDetectedAt, p.PostedAt,
		)
		if err != nil {
			return n, fmt.Errorf("upsert ig post %s: %w", p.MediaPK, err)
		}
		n++
	}
	return n, nil
}

func (r *PostgresIGContentRepository) UpsertReels(ctx context.Context, reels []Reel) (int, error) {
	n := 0
	for _, rl := range reels {
		const query = `
			INSERT INTO reels (
				media_pk, creator_id, caption, hashtags, mentions, is_paid_partnership,
				play_count, like_count, comment_count, video_url, is_viral, viral_multiplier,
				viral_detected_at, posted_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (media_pk) DO UPDATE SET
				play_count = EXCLUDED.play_count,
				like_count = EXCLUDED.like_count,
				comment_count = EXCLUDED.comment_count,
				is_viral = EXCLUDED.is_viral,
				viral_multiplier = EXCLUDED.viral_multiplier,
				viral_detected_at = CASE
					WHEN reels.viral_detected_at IS NOT NULL THEN reels.viral_detected_at
					WHEN EXCLUDED.is_viral THEN EXCLUDED.viral_detected_at
					ELSE NULL
				END
		`
		_, err := r.db.conn.ExecContext(ctx, query,
			rl.MediaPK, rl.CreatorID, rl.Caption, pq.Array(rl.Hashtags), pq.Array(rl.Mentions), rl.IsPaidPartnership,
			rl.PlayCount, rl.LikeCount, rl.CommentCount, rl.VideoURL, rl.IsViral, rl.ViralMultiplier,
			rl.ViralDetectedAt, rl.PostedAt,
		)
		if err != nil {
			return n, fmt.Errorf("upsert reel %s: %w", rl.MediaPK, err)
		}
		n++
	}
	return n, nil
}

// InMemoryIGContentRepository is a test double for IGContentRepository,
// enforcing the same viral_detected_at monotonicity as the Postgres CASE.
type InMemoryIGContentRepository struct {
	mu    sync.Mutex
	posts map[string]IGPost
	reels map[string]Reel
}

func NewInMemoryIGContentRepository() *InMemoryIGContentRepository {
	return &InMemoryIGContentRepository{posts: make(map[string]IGPost), reels: make(map[string]Reel)}
}

func (r *InMemoryIGContentRepository) UpsertPosts(_ context.Context, posts []IGPost) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range posts {
		if existing, ok := r.posts[p.MediaPK]; ok && existing.ViralDetectedAt != nil {
			p.ViralDetectedAt = existing.ViralDetectedAt
		} else if !p.IsViral {
			p.ViralDetectedAt = nil
		}
		r.posts[p.MediaPK] = p
	}
	return len(posts), nil
}

func (r *InMemoryIGContentRepository) UpsertReels(_ context.Context, reels []Reel) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rl := range reels {
		if existing, ok := r.reels[rl.MediaPK]; ok && existing.ViralDetectedAt != nil {
			rl.ViralDetectedAt = existing.ViralDetectedAt
		} else if !rl.IsViral {
			rl.ViralDetectedAt = nil
		}
		r.reels[rl.MediaPK] = rl
	}
	return len(reels), nil
}

func (r *InMemoryIGContentRepository) AllReels() []Reel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Reel, 0, len(r.reels))
	for _, rl := range r.reels {
		out = append(out, rl)
	}
	return out
}
