package dbx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"
)

// CreatorRepository is the narrow capability set for Instagram Creator
// persistence, including the rollup recomputation used by viral detection.
type CreatorRepository interface {
	Load(ctx context.Context, igUserID string) (*Creator, error)
	LoadApproved(ctx context.Context) ([]Creator, error)
	Upsert(ctx context.Context, c Creator) error
	UpdateRollup(ctx context.Context, igUserID string, totalViews int64, avgViewsPerReel float64) error
	MarkRelatedProcessed(ctx context.Context, igUserID string) error
	EnsureDiscovered(ctx context.Context, igUserID string) error
}

// PostgresCreatorRepository is the production CreatorRepository.
type PostgresCreatorRepository struct {
	db *DB
}

func NewPostgresCreatorRepository(db *DB) *PostgresCreatorRepository {
	return &PostgresCreatorRepository{db: db}
}

func (r *PostgresCreatorRepository) Load(ctx context.Context, igUserID string) (*Creator, error) {
	const query = `
		SELECT ig_user_id, username, full_name, biography, profile_pic_url, review_status,
		       related_creators_processed, followers, following, posts_count, reels_count,
		       total_views, avg_views_per_reel, avg_views_per_reel_cached, raw_profile_json,
		       body_tags, tag_confidence, tags_analyzed_at, model_version, last_scraped_at
		FROM creators
		WHERE ig_user_id = $1
	`
	c, err := scanCreator(r.db.conn.QueryRowContext(ctx, query, igUserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load creator %s: %w", igUserID, err)
	}
	return c, nil
}

func (r *PostgresCreatorRepository) LoadApproved(ctx context.Context) ([]Creator, error) {
	const query = `
		SELECT ig_user_id, username, full_name, biography, profile_pic_url, review_status,
		       related_creators_processed, followers, following, posts_count, reels_count,
		       total_views, avg_views_per_reel, avg_views_per_reel_cached, raw_profile_json,
		       body_tags, tag_confidence, tags_analyzed_at, model_version, last_scraped_at
		FROM creators
		WHERE review_status = 'ok'
		ORDER BY last_scraped_at ASC NULLS FIRST
	`
	rows, err := r.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load approved creators: %w", err)
	}
	defer rows.Close()

	var out []Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan creator row: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCreator(row rowScanner) (*Creator, error) {
	var c Creator
	var rawProfile []byte
	var tags pq.StringArray
	err := row.Scan(
		&c.IGUserID, &c.Username, &c.FullName, &c.Biography, &c.ProfilePicURL, &c.ReviewStatus,
		&c.RelatedCreatorsProcessed, &c.Followers, &c.Following, &c.PostsCount, &c.ReelsCount,
		&c.TotalViews, &c.AvgViewsPerReel, &c.AvgViewsPerReelCached, &rawProfile,
		&tags, &c.TagConfidence, &c.TagsAnalyzedAt, &c.ModelVersion, &c.LastScrapedAt,
	)
	if err != nil {
		return nil, err
	}
	c.RawProfileJSON = json.RawMessage(rawProfile)
	c.BodyTags = []string(tags)
	return &c, nil
}

// Upsert preserves BodyTags/TagConfidence/TagsAnalyzedAt/ModelVersion unless
// the incoming Creator's TagsAnalyzedAt is set, meaning a classifier run
// explicitly produced a new value (spec.md §4.3 step 7, §9 design note).
func (r *PostgresCreatorRepository) Upsert(ctx context.Context, c Creator) error {
	rawJSON, err := json.Marshal(c.RawProfileJSON)
	if err != nil {
		return fmt.Errorf("marshal raw_profile_json for %s: %w", c.IGUserID, err)
	}

	const query = `
		INSERT INTO creators (
			ig_user_id, username, full_name, biography, profile_pic_url, review_status,
			related_creators_processed, followers, following, posts_count, reels_count,
			total_views, avg_views_per_reel, avg_views_per_reel_cached, raw_profile_json,
			body_tags, tag_confidence, tags_analyzed_at, model_version, last_scraped_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
		)
		ON CONFLICT (ig_user_id) DO UPDATE SET
			username = EXCLUDED.username,
			full_name = EXCLUDED.full_name,
			biography = EXCLUDED.biography,
			profile_pic_url = EXCLUDED.profile_pic_url,
			followers = EXCLUDED.followers,
			following = EXCLUDED.following,
			posts_count = EXCLUDED.posts_count,
			reels_count = EXCLUDED.reels_count,
			raw_profile_json = EXCLUDED.raw_profile_json,
			body_tags = CASE WHEN EXCLUDED.tags_analyzed_at IS NOT NULL THEN EXCLUDED.body_tags ELSE creators.body_tags END,
			tag_confidence = CASE WHEN EXCLUDED.tags_analyzed_at IS NOT NULL THEN EXCLUDED.tag_confidence ELSE creators.tag_confidence END,
			tags_analyzed_at = COALESCE(EXCLUDED.tags_analyzed_at, creators.tags_analyzed_at),
			model_version = CASE WHEN EXCLUDED.tags_analyzed_at IS NOT NULL THEN EXCLUDED.model_version ELSE creators.model_version END,
			last_scraped_at = EXCLUDED.last_scraped_at
	`
	_, err = r.db.conn.ExecContext(ctx, query,
		c.IGUserID, c.Username, c.FullName, c.Biography, c.ProfilePicURL, c.ReviewStatus,
		c.RelatedCreatorsProcessed, c.Followers, c.Following, c.PostsCount, c.ReelsCount,
		c.TotalViews, c.AvgViewsPerReel, c.AvgViewsPerReelCached, rawJSON,
		pq.Array(c.BodyTags), c.TagConfidence, c.TagsAnalyzedAt, c.ModelVersion, c.LastScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert creator %s: %w", c.IGUserID, err)
	}
	return nil
}

// UpdateRollup refreshes the cached view-rate fields viral detection reads,
// independent of a full profile re-scrape (spec.md §4.4).
func (r *PostgresCreatorRepository) UpdateRollup(ctx context.Context, igUserID string, totalViews int64, avgViewsPerReel float64) error {
	const query = `
		UPDATE creators SET total_views = $2, avg_views_per_reel = $3, avg_views_per_reel_cached = $3
		WHERE ig_user_id = $1
	`
	_, err := r.db.conn.ExecContext(ctx, query, igUserID, totalViews, avgViewsPerReel)
	if err != nil {
		return fmt.Errorf("update creator rollup %s: %w", igUserID, err)
	}
	return nil
}

func (r *PostgresCreatorRepository) MarkRelatedProcessed(ctx context.Context, igUserID string) error {
	const query = `UPDATE creators SET related_creators_processed = true WHERE ig_user_id = $1`
	_, err := r.db.conn.ExecContext(ctx, query, igUserID)
	if err != nil {
		return fmt.Errorf("mark related processed %s: %w", igUserID, err)
	}
	return nil
}

// EnsureDiscovered inserts a bare pending-review stub row for a creator
// surfaced by the related-profiles pass (original_source/instagram_dashboard
// /following-discovery.py's discovery queue, re-targeted onto the creators
// table rather than a separate queue table). ON CONFLICT DO NOTHING leaves
// an already-known creator (approved, pending, or otherwise reviewed)
// untouched; LoadApproved only ever surfaces rows an operator later sets to
// review_status='ok' via the out-of-scope review surface.
func (r *PostgresCreatorRepository) EnsureDiscovered(ctx context.Context, igUserID string) error {
	const query = `
		INSERT INTO creators (ig_user_id, review_status)
		VALUES ($1, 'pending')
		ON CONFLICT (ig_user_id) DO NOTHING
	`
	if _, err := r.db.conn.ExecContext(ctx, query, igUserID); err != nil {
		return fmt.Errorf("ensure discovered creator %s: %w", igUserID, err)
	}
	return nil
}

// InMemoryCreatorRepository is a test double for CreatorRepository.
type InMemoryCreatorRepository struct {
	mu   sync.Mutex
	rows map[string]*Creator
}

func NewInMemoryCreatorRepository() *InMemoryCreatorRepository {
	return &InMemoryCreatorRepository{rows: make(map[string]*Creator)}
}

func (r *InMemoryCreatorRepository) Load(_ context.Context, igUserID string) (*Creator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[igUserID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *InMemoryCreatorRepository) LoadApproved(_ context.Context) ([]Creator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Creator
	for _, c := range r.rows {
		if c.ReviewStatus == "ok" {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *InMemoryCreatorRepository) Upsert(_ context.Context, c Creator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[c.IGUserID]; ok {
		if c.TagsAnalyzedAt == nil {
			c.BodyTags = existing.BodyTags
			c.TagConfidence = existing.TagConfidence
			c.TagsAnalyzedAt = existing.TagsAnalyzedAt
			c.ModelVersion = existing.ModelVersion
		}
	}
	cp := c
	r.rows[c.IGUserID] = &cp
	return nil
}

func (r *InMemoryCreatorRepository) UpdateRollup(_ context.Context, igUserID string, totalViews int64, avgViewsPerReel float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[igUserID]
	if !ok {
		return ErrNotFound
	}
	c.TotalViews = totalViews
	c.AvgViewsPerReel = avgViewsPerReel
	c.AvgViewsPerReelCached = avgViewsPerReel
	return nil
}

func (r *InMemoryCreatorRepository) MarkRelatedProcessed(_ context.Context, igUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[igUserID]
	if !ok {
		return ErrNotFound
	}
	c.RelatedCreatorsProcessed = true
	return nil
}

// EnsureDiscovered mirrors the Postgres skip-cache semantics: a no-op if the
// ID is already known, otherwise a pending-review stub row.
func (r *InMemoryCreatorRepository) EnsureDiscovered(_ context.Context, igUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[igUserID]; ok {
		return nil
	}
	r.rows[igUserID] = &Creator{IGUserID: igUserID, ReviewStatus: "pending"}
	return nil
}
