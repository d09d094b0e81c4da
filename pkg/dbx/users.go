package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// UserRepository is the narrow capability set for RedditUser persistence.
type UserRepository interface {
	Load(ctx context.Context, username string) (*RedditUser, error)
	Upsert(ctx context.Context, u RedditUser) error
}

// PostgresUserRepository is the production UserRepository.
type PostgresUserRepository struct {
	db *DB
}

func NewPostgresUserRepository(db *DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Load(ctx context.Context, username string) (*RedditUser, error) {
	const query = `
		SELECT username, reddit_id, created_utc, account_age_days, comment_karma, link_karma,
		       total_karma, is_employee, is_mod, is_gold, verified, has_verified_email, is_suspended,
		       icon_img, avg_post_score, avg_post_comments, total_posts_analyzed, karma_per_day,
		       preferred_content_type, most_active_posting_hour, most_active_posting_day,
		       our_creator, last_scraped_at
		FROM users
		WHERE username = $1
	`
	var u RedditUser
	err := r.db.conn.QueryRowContext(ctx, query, username).Scan(
		&u.Username, &u.RedditID, &u.CreatedUTC, &u.AccountAgeDays, &u.CommentKarma, &u.LinkKarma,
		&u.TotalKarma, &u.IsEmployee, &u.IsMod, &u.IsGold, &u.Verified, &u.HasVerifiedEmail, &u.IsSuspended,
		&u.IconImg, &u.AvgPostScore, &u.AvgPostComments, &u.TotalPostsAnalyzed, &u.KarmaPerDay,
		&u.PreferredContentType, &u.MostActivePostingHour, &u.MostActivePostingDay,
		&u.OurCreator, &u.LastScrapedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", username, err)
	}
	return &u, nil
}

// Upsert preserves our_creator (operator-curated, spec.md §4.3 step 7)
// unless the incoming row explicitly sets it true — the Python original never
// demotes our_creator back to false from a scrape, only promotes it.
func (r *PostgresUserRepository) Upsert(ctx context.Context, u RedditUser) error {
	const query = `
		INSERT INTO users (
			username, reddit_id, created_utc, account_age_days, comment_karma, link_karma,
			total_karma, is_employee, is_mod, is_gold, verified, has_verified_email, is_suspended,
			icon_img, avg_post_score, avg_post_comments, total_posts_analyzed, karma_per_day,
			preferred_content_type, most_active_posting_hour, most_active_posting_day,
			our_creator, last_scraped_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
		)
		ON CONFLICT (username) DO UPDATE SET
			reddit_id = EXCLUDED.reddit_id,
			created_utc = EXCLUDED.created_utc,
			account_age_days = EXCLUDED.account_age_days,
			comment_karma = EXCLUDED.comment_karma,
			link_karma = EXCLUDED.link_karma,
			total_karma = EXCLUDED.total_karma,
			is_employee = EXCLUDED.is_employee,
			is_mod = EXCLUDED.is_mod,
			is_gold = EXCLUDED.is_gold,
			verified = EXCLUDED.verified,
			has_verified_email = EXCLUDED.has_verified_email,
			is_suspended = EXCLUDED.is_suspended,
			icon_img = EXCLUDED.icon_img,
			avg_post_score = EXCLUDED.avg_post_score,
			avg_post_comments = EXCLUDED.avg_post_comments,
			total_posts_analyzed = EXCLUDED.total_posts_analyzed,
			karma_per_day = EXCLUDED.karma_per_day,
			preferred_content_type = EXCLUDED.preferred_content_type,
			most_active_posting_hour = EXCLUDED.most_active_posting_hour,
			most_active_posting_day = EXCLUDED.most_active_posting_day,
			our_creator = users.our_creator OR EXCLUDED.our_creator,
			last_scraped_at = EXCLUDED.last_scraped_at
	`
	_, err := r.db.conn.ExecContext(ctx, query,
		u.Username, u.RedditID, u.CreatedUTC, u.AccountAgeDays, u.CommentKarma, u.LinkKarma,
		u.TotalKarma, u.IsEmployee, u.IsMod, u.IsGold, u.Verified, u.HasVerifiedEmail, u.IsSuspended,
		u.IconImg, u.AvgPostScore, u.AvgPostComments, u.TotalPostsAnalyzed, u.KarmaPerDay,
		u.PreferredContentType, u.MostActivePostingHour, u.MostActivePostingDay,
		u.OurCreator, u.LastScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.Username, err)
	}
	return nil
}

// InMemoryUserRepository is a test double for UserRepository.
type InMemoryUserRepository struct {
	mu   sync.Mutex
	rows map[string]*RedditUser
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{rows: make(map[string]*RedditUser)}
}

func (r *InMemoryUserRepository) Load(_ context.Context, username string) (*RedditUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *InMemoryUserRepository) Upsert(_ context.Context, u RedditUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[u.Username]; ok {
		u.OurCreator = existing.OurCreator || u.OurCreator
	}
	cp := u
	r.rows[u.Username] = &cp
	return nil
}
