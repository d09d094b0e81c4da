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

// SubredditRepository is the narrow capability set the Reddit processor
// needs: Load (to read operator-curated fields before merge), Upsert, and
// LoadMany (for the cycle's per-proxy work-list builder).
type SubredditRepository interface {
	Load(ctx context.Context, name string) (*Subreddit, error)
	Upsert(ctx context.Context, s Subreddit) error
	LoadMany(ctx context.Context, limit int) ([]Subreddit, error)
	EnsureDiscovered(ctx context.Context, name string) error
}

// PostgresSubredditRepository is the production SubredditRepository.
type PostgresSubredditRepository struct {
	db *DB
}

func NewPostgresSubredditRepository(db *DB) *PostgresSubredditRepository {
	return &PostgresSubredditRepository{db: db}
}

func (r *PostgresSubredditRepository) Load(ctx context.Context, name string) (*Subreddit, error) {
	const query = `
		SELECT name, title, description, public_description, subscribers, over18, created_utc,
		       allow_images, allow_videos, allow_polls, spoilers_enabled, verification_required,
		       rules_data, engagement, subreddit_score, avg_upvotes_per_post, best_posting_day,
		       best_posting_hour, subreddit_type, url, wiki_enabled, review, primary_category, tags,
		       last_scraped_at
		FROM subreddits
		WHERE name = $1
	`
	s, err := scanSubreddit(r.db.conn.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load subreddit %s: %w", name, err)
	}
	return s, nil
}

func (r *PostgresSubredditRepository) LoadMany(ctx context.Context, limit int) ([]Subreddit, error) {
	const query = `
		SELECT name, title, description, public_description, subscribers, over18, created_utc,
		       allow_images, allow_videos, allow_polls, spoilers_enabled, verification_required,
		       rules_data, engagement, subreddit_score, avg_upvotes_per_post, best_posting_day,
		       best_posting_hour, subreddit_type, url, wiki_enabled, review, primary_category, tags,
		       last_scraped_at
		FROM subreddits
		WHERE review IS NULL OR review != 'Non Related'
		ORDER BY last_scraped_at ASC NULLS FIRST
		LIMIT $1
	`
	rows, err := r.db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("load subreddits: %w", err)
	}
	defer rows.Close()

	var out []Subreddit
	for rows.Next() {
		s, err := scanSubredditRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subreddit row: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubreddit(row rowScanner) (*Subreddit, error) {
	return scanSubredditRows(row)
}

func scanSubredditRows(row rowScanner) (*Subreddit, error) {
	var s Subreddit
	var rulesRaw []byte
	var tags pq.StringArray
	err := row.Scan(
		&s.Name, &s.Title, &s.Description, &s.PublicDescription, &s.Subscribers, &s.Over18, &s.CreatedUTC,
		&s.AllowImages, &s.AllowVideos, &s.AllowPolls, &s.SpoilersEnabled, &s.VerificationRequired,
		&rulesRaw, &s.Engagement, &s.SubredditScore, &s.AvgUpvotesPerPost, &s.BestPostingDay,
		&s.BestPostingHour, &s.SubredditType, &s.URL, &s.WikiEnabled, &s.Review, &s.PrimaryCategory, &tags,
		&s.LastScrapedAt,
	)
	if err != nil {
		return nil, err
	}
	s.RulesData = json.RawMessage(rulesRaw)
	s.Tags = []string(tags)
	return &s, nil
}

// Upsert writes the scraped fields but never overwrites Review,
// PrimaryCategory, or Tags set by an operator/classifier to non-null unless
// the incoming value is itself non-nil (spec.md §4.3 step 7, §8 "Idempotent
// upsert"). COALESCE(EXCLUDED.x, subreddits.x) achieves this: a nil pointer
// marshals to SQL NULL, which COALESCE skips in favor of the existing row.
func (r *PostgresSubredditRepository) Upsert(ctx context.Context, s Subreddit) error {
	rulesJSON, err := json.Marshal(s.RulesData)
	if err != nil {
		return fmt.Errorf("marshal rules_data for %s: %w", s.Name, err)
	}

	const query = `
		INSERT INTO subreddits (
			name, title, description, public_description, subscribers, over18, created_utc,
			allow_images, allow_videos, allow_polls, spoilers_enabled, verification_required,
			rules_data, engagement, subreddit_score, avg_upvotes_per_post, best_posting_day,
			best_posting_hour, subreddit_type, url, wiki_enabled, review, primary_category, tags,
			last_scraped_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25
		)
		ON CONFLICT (name) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			public_description = EXCLUDED.public_description,
			subscribers = EXCLUDED.subscribers,
			over18 = EXCLUDED.over18,
			created_utc = EXCLUDED.created_utc,
			allow_images = EXCLUDED.allow_images,
			allow_videos = EXCLUDED.allow_videos,
			allow_polls = EXCLUDED.allow_polls,
			spoilers_enabled = EXCLUDED.spoilers_enabled,
			verification_required = EXCLUDED.verification_required,
			rules_data = EXCLUDED.rules_data,
			engagement = EXCLUDED.engagement,
			subreddit_score = EXCLUDED.subreddit_score,
			avg_upvotes_per_post = EXCLUDED.avg_upvotes_per_post,
			best_posting_day = EXCLUDED.best_posting_day,
			best_posting_hour = EXCLUDED.best_posting_hour,
			subreddit_type = EXCLUDED.subreddit_type,
			url = EXCLUDED.url,
			wiki_enabled = EXCLUDED.wiki_enabled,
			review = COALESCE(EXCLUDED.review, subreddits.review),
			primary_category = COALESCE(EXCLUDED.primary_category, subreddits.primary_category),
			tags = COALESCE(EXCLUDED.tags, subreddits.tags),
			last_scraped_at = EXCLUDED.last_scraped_at
	`
	_, err = r.db.conn.ExecContext(ctx, query,
		s.Name, s.Title, s.Description, s.PublicDescription, s.Subscribers, s.Over18, s.CreatedUTC,
		s.AllowImages, s.AllowVideos, s.AllowPolls, s.SpoilersEnabled, s.VerificationRequired,
		rulesJSON, s.Engagement, s.SubredditScore, s.AvgUpvotesPerPost, s.BestPostingDay,
		s.BestPostingHour, s.SubredditType, s.URL, s.WikiEnabled, s.Review, s.PrimaryCategory, pq.Array(s.Tags),
		s.LastScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert subreddit %s: %w", s.Name, err)
	}
	return nil
}

// EnsureDiscovered inserts a bare stub row (name only, no last_scraped_at)
// for a subreddit surfaced by step 9 of the per-subreddit pipeline. The
// ON CONFLICT DO NOTHING is the skip-cache from spec.md's Glossary: a
// subreddit already present (classified Ok/No Seller/Banned/Non Related, or
// simply already scraped) is left untouched rather than re-enqueued. The
// stub's null last_scraped_at lands it in buildWorkList's discovery tier on
// a future cycle.
func (r *PostgresSubredditRepository) EnsureDiscovered(ctx context.Context, name string) error {
	const query = `
		INSERT INTO subreddits (name)
		VALUES ($1)
		ON CONFLICT (name) DO NOTHING
	`
	if _, err := r.db.conn.ExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("ensure discovered subreddit %s: %w", name, err)
	}
	return nil
}

// InMemorySubredditRepository is a test double for SubredditRepository.
type InMemorySubredditRepository struct {
	mu   sync.Mutex
	rows map[string]*Subreddit
}

func NewInMemorySubredditRepository() *InMemorySubredditRepository {
	return &InMemorySubredditRepository{rows: make(map[string]*Subreddit)}
}

func (r *InMemorySubredditRepository) Load(_ context.Context, name string) (*Subreddit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *InMemorySubredditRepository) LoadMany(_ context.Context, limit int) ([]Subreddit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Subreddit
	for _, s := range r.rows {
		out = append(out, *s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Upsert mirrors the Postgres COALESCE semantics for operator-curated fields.
func (r *InMemorySubredditRepository) Upsert(_ context.Context, s Subreddit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[s.Name]
	if ok {
		if s.Review == nil {
			s.Review = existing.Review
		}
		if s.PrimaryCategory == nil {
			s.PrimaryCategory = existing.PrimaryCategory
		}
		if s.Tags == nil {
			s.Tags = existing.Tags
		}
	}
	cp := s
	r.rows[s.Name] = &cp
	return nil
}

// EnsureDiscovered mirrors the Postgres skip-cache semantics: a no-op if the
// name is already known, otherwise a bare stub row with a nil LastScrapedAt.
func (r *InMemorySubredditRepository) EnsureDiscovered(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[name]; ok {
		return nil
	}
	r.rows[name] = &Subreddit{Name: name}
	return nil
}
