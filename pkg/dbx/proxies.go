package dbx

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ProxyRepository is the narrow capability set ProxyRegistry needs.
type ProxyRepository interface {
	LoadActive(ctx context.Context) ([]Proxy, error)
	RecordResult(ctx context.Context, proxyID string, success bool, latencyMs float64, errMsg string) error
	DisableUnhealthy(ctx context.Context, proxyID, reason string) error
}

// PostgresProxyRepository is the production ProxyRepository.
type PostgresProxyRepository struct {
	db *DB
}

// NewPostgresProxyRepository constructs a repository bound to db.
func NewPostgresProxyRepository(db *DB) *PostgresProxyRepository {
	return &PostgresProxyRepository{db: db}
}

func (r *PostgresProxyRepository) LoadActive(ctx context.Context) ([]Proxy, error) {
	const query = `
		SELECT id, service_name, display_name, proxy_url, proxy_username, proxy_password,
		       priority, max_threads, is_active, total_requests, success_count, error_count,
		       consecutive_errors, avg_response_time_ms, last_used_at, last_error_at, last_error_message
		FROM proxies
		WHERE is_active = true
		ORDER BY priority DESC
	`
	rows, err := r.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load active proxies: %w", err)
	}
	defer rows.Close()

	var proxies []Proxy
	for rows.Next() {
		var p Proxy
		if err := rows.Scan(
			&p.ID, &p.ServiceName, &p.DisplayName, &p.ProxyURL, &p.ProxyUsername, &p.ProxyPassword,
			&p.Priority, &p.MaxThreads, &p.IsActive, &p.TotalRequests, &p.SuccessCount, &p.ErrorCount,
			&p.ConsecutiveErrors, &p.AvgResponseTimeMs, &p.LastUsedAt, &p.LastErrorAt, &p.LastErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan proxy row: %w", err)
		}
		proxies = append(proxies, p)
	}
	return proxies, rows.Err()
}

func (r *PostgresProxyRepository) RecordResult(ctx context.Context, proxyID string, success bool, latencyMs float64, errMsg string) error {
	now := time.Now().UTC()
	if success {
		const query = `
			UPDATE proxies SET
				total_requests = total_requests + 1,
				success_count = success_count + 1,
				consecutive_errors = 0,
				avg_response_time_ms = (avg_response_time_ms * total_requests + $2) / (total_requests + 1),
				last_used_at = $3,
				updated_at = $3
			WHERE id = $1
		`
		_, err := r.db.conn.ExecContext(ctx, query, proxyID, latencyMs, now)
		if err != nil {
			return fmt.Errorf("record proxy success %s: %w", proxyID, err)
		}
		return nil
	}

	const query = `
		UPDATE proxies SET
			total_requests = total_requests + 1,
			error_count = error_count + 1,
			consecutive_errors = consecutive_errors + 1,
			last_error_at = $2,
			last_error_message = $3,
			updated_at = $2
		WHERE id = $1
	`
	_, err := r.db.conn.ExecContext(ctx, query, proxyID, now, truncate(errMsg, 500))
	if err != nil {
		return fmt.Errorf("record proxy failure %s: %w", proxyID, err)
	}
	return nil
}

func (r *PostgresProxyRepository) DisableUnhealthy(ctx context.Context, proxyID, reason string) error {
	const query = `
		UPDATE proxies SET is_active = false, last_error_message = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.conn.ExecContext(ctx, query, proxyID, reason)
	if err != nil {
		return fmt.Errorf("disable proxy %s: %w", proxyID, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// InMemoryProxyRepository is a test double for ProxyRepository.
type InMemoryProxyRepository struct {
	mu      sync.Mutex
	proxies map[string]*Proxy
}

// NewInMemoryProxyRepository seeds an in-memory repository with the given proxies.
func NewInMemoryProxyRepository(seed []Proxy) *InMemoryProxyRepository {
	m := make(map[string]*Proxy, len(seed))
	for i := range seed {
		p := seed[i]
		m[p.ID] = &p
	}
	return &InMemoryProxyRepository{proxies: m}
}

func (r *InMemoryProxyRepository) LoadActive(_ context.Context) ([]Proxy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Proxy
	for _, p := range r.proxies {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (r *InMemoryProxyRepository) RecordResult(_ context.Context, proxyID string, success bool, latencyMs float64, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[proxyID]
	if !ok {
		return ErrNotFound
	}
	p.TotalRequests++
	if success {
		p.SuccessCount++
		p.ConsecutiveErrors = 0
		p.AvgResponseTimeMs = (p.AvgResponseTimeMs*float64(p.TotalRequests-1) + latencyMs) / float64(p.TotalRequests)
	} else {
		p.ErrorCount++
		p.ConsecutiveErrors++
		p.LastErrorMessage = errMsg
	}
	return nil
}

func (r *InMemoryProxyRepository) DisableUnhealthy(_ context.Context, proxyID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[proxyID]
	if !ok {
		return ErrNotFound
	}
	p.IsActive = false
	p.LastErrorMessage = reason
	return nil
}
