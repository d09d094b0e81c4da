package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// AccountRepository is the narrow capability set AccountRegistry needs,
// grounded in original_source/scraper/account_manager.py::RedditAccount.
type AccountRepository interface {
	LoadActive(ctx context.Context) ([]Account, error)
	RecordResult(ctx context.Context, accountID string, success bool, rateLimited bool, latencyMs float64) error
	SetCooldown(ctx context.Context, accountID string, until time.Time, reason string) error
	SetStatus(ctx context.Context, accountID, status string) error
}

// PostgresAccountRepository is the production AccountRepository.
type PostgresAccountRepository struct {
	db *DB
}

func NewPostgresAccountRepository(db *DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

func (r *PostgresAccountRepository) LoadActive(ctx context.Context) ([]Account, error) {
	const query = `
		SELECT id, username, client_id, client_secret, status, health_score,
		       total_requests, failed_requests, rate_limit_hits, consecutive_failures,
		       last_used_at, rate_limited_until, cooldown_until, avg_response_time_ms, success_rate
		FROM reddit_accounts
		WHERE status NOT IN ('suspended', 'disabled')
		ORDER BY health_score DESC
	`
	rows, err := r.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(
			&a.ID, &a.Username, &a.ClientID, &a.ClientSecret, &a.Status, &a.HealthScore,
			&a.TotalRequests, &a.FailedRequests, &a.RateLimitHits, &a.ConsecutiveFailures,
			&a.LastUsedAt, &a.RateLimitedUntil, &a.CooldownUntil, &a.AvgResponseTimeMs, &a.SuccessRate,
		); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// RecordResult mirrors account_manager.py's gradual health adjustment:
// +0.5 on success, -5 on failure, clamped to [0, 100]. rateLimited additionally
// bumps rate_limit_hits and is handled by the caller invoking SetCooldown.
func (r *PostgresAccountRepository) RecordResult(ctx context.Context, accountID string, success bool, rateLimited bool, latencyMs float64) error {
	now := time.Now().UTC()
	if success {
		const query = `
			UPDATE reddit_accounts SET
				total_requests = total_requests + 1,
				consecutive_failures = 0,
				health_score = LEAST(100, health_score + 0.5),
				avg_response_time_ms = (avg_response_time_ms * total_requests + $2) / (total_requests + 1),
				success_rate = (total_requests - failed_requests + 1)::float / (total_requests + 1),
				last_used_at = $3,
				updated_at = $3
			WHERE id = $1
		`
		_, err := r.db.conn.ExecContext(ctx, query, accountID, latencyMs, now)
		if err != nil {
			return fmt.Errorf("record account success %s: %w", accountID, err)
		}
		return nil
	}

	rateLimitIncrement := 0
	if rateLimited {
		rateLimitIncrement = 1
	}
	const query = `
		UPDATE reddit_accounts SET
			total_requests = total_requests + 1,
			failed_requests = failed_requests + 1,
			rate_limit_hits = rate_limit_hits + $2,
			consecutive_failures = consecutive_failures + 1,
			health_score = GREATEST(0, health_score - 5),
			success_rate = (total_requests - failed_requests - 1)::float / (total_requests + 1),
			last_used_at = $3,
			updated_at = $3
		WHERE id = $1
	`
	_, err := r.db.conn.ExecContext(ctx, query, accountID, rateLimitIncrement, now)
	if err != nil {
		return fmt.Errorf("record account failure %s: %w", accountID, err)
	}
	return nil
}

func (r *PostgresAccountRepository) SetCooldown(ctx context.Context, accountID string, until time.Time, reason string) error {
	const query = `
		UPDATE reddit_accounts SET
			status = 'rate_limited',
			rate_limited_until = $2,
			cooldown_until = $2,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.conn.ExecContext(ctx, query, accountID, until)
	if err != nil {
		return fmt.Errorf("set account cooldown %s: %w", accountID, err)
	}
	_ = reason // surfaced via structured logs by the caller, not persisted per-row
	return nil
}

func (r *PostgresAccountRepository) SetStatus(ctx context.Context, accountID, status string) error {
	const query = `UPDATE reddit_accounts SET status = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.conn.ExecContext(ctx, query, accountID, status)
	if err != nil {
		return fmt.Errorf("set account status %s: %w", accountID, err)
	}
	return nil
}

// scanAccountFromRow scans a single account row; nothing in the module calls
// it, since accounts are loaded in bulk via LoadActive.
func scanAccountFromRow(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.Username, &a.ClientID, &a.ClientSecret, &a.Status, &a.HealthScore,
		&a.TotalRequests, &a.FailedRequests, &a.RateLimitHits, &a.ConsecutiveFailures,
		&a.LastUsedAt, &a.RateLimitedUntil, &a.CooldownUntil, &a.AvgResponseTimeMs, &a.SuccessRate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InMemoryAccountRepository is a test double for AccountRepository.
type InMemoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

func NewInMemoryAccountRepository(seed []Account) *InMemoryAccountRepository {
	m := make(map[string]*Account, len(seed))
	for i := range seed {
		a := seed[i]
		m[a.ID] = &a
	}
	return &InMemoryAccountRepository{accounts: m}
}

func (r *InMemoryAccountRepository) LoadActive(_ context.Context) ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Account
	for _, a := range r.accounts {
		if a.Status != "suspended" && a.Status != "disabled" {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HealthScore > out[j].HealthScore })
	return out, nil
}

func (r *InMemoryAccountRepository) RecordResult(_ context.Context, accountID string, success bool, rateLimited bool, latencyMs float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.TotalRequests++
	if success {
		a.ConsecutiveFailures = 0
		a.HealthScore = minF(100, a.HealthScore+0.5)
		n := float64(a.TotalRequests)
		a.AvgResponseTimeMs = (a.AvgResponseTimeMs*(n-1) + latencyMs) / n
	} else {
		a.FailedRequests++
		if rateLimited {
			a.RateLimitHits++
		}
		a.ConsecutiveFailures++
		a.HealthScore = maxF(0, a.HealthScore-5)
	}
	if a.TotalRequests > 0 {
		a.SuccessRate = float64(a.TotalRequests-a.FailedRequests) / float64(a.TotalRequests)
	}
	return nil
}

func (r *InMemoryAccountRepository) SetCooldown(_ context.Context, accountID string, until time.Time, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.Status = "rate_limited"
	a.RateLimitedUntil = &until
	a.CooldownUntil = &until
	return nil
}

func (r *InMemoryAccountRepository) SetStatus(_ context.Context, accountID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	return nil
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
