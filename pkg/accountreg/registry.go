// Package accountreg implements the AccountRegistry component (spec.md §4.2,
// grounded in original_source/scraper/account_manager.py::RedditAccount):
// account health scoring, cooldown/suspension, and selection.
package accountreg

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socialscrape/engine/pkg/dbx"
)

// Terminal status signals that immediately suspend an account rather than
// entering the graduated cooldown path (account_manager.py's "permanent"
// error classification).
var terminalStatuses = map[string]bool{
	"invalid_grant":      true,
	"unauthorized_client": true,
	"account_suspended":  true,
}

// Registry owns the in-memory account health view.
type Registry struct {
	repo                  dbx.AccountRepository
	cooldownAfterFailures int
	cooldownDuration      time.Duration
	rateLimitCooldown     time.Duration

	mu       sync.Mutex
	accounts []dbx.Account
	lastUsed map[string]time.Time
}

// New constructs a Registry. cooldownAfterFailures/cooldownDuration/
// rateLimitCooldown mirror account_manager.py's defaults: 5 consecutive
// failures trigger a cooldown, and rate-limit responses force a 60 minute
// wait (spec.md §3 Account).
func New(repo dbx.AccountRepository, cooldownAfterFailures int, cooldownDuration, rateLimitCooldown time.Duration) *Registry {
	if cooldownAfterFailures <= 0 {
		cooldownAfterFailures = 5
	}
	if cooldownDuration <= 0 {
		cooldownDuration = 15 * time.Minute
	}
	if rateLimitCooldown <= 0 {
		rateLimitCooldown = 60 * time.Minute
	}
	return &Registry{
		repo:                  repo,
		cooldownAfterFailures: cooldownAfterFailures,
		cooldownDuration:      cooldownDuration,
		rateLimitCooldown:     rateLimitCooldown,
		lastUsed:              make(map[string]time.Time),
	}
}

// LoadActive fetches non-suspended accounts and returns the count loaded.
func (r *Registry) LoadActive(ctx context.Context) (int, error) {
	accounts, err := r.repo.LoadActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active accounts: %w", err)
	}
	r.mu.Lock()
	r.accounts = accounts
	r.mu.Unlock()
	log.Info().Int("count", len(accounts)).Msg("accountreg: loaded active accounts")
	return len(accounts), nil
}

// Next selects the account to use for the next API call: the healthiest
// account if its score exceeds the fleet average by 20 points, otherwise the
// least-recently-used eligible account — account_manager.py's
// get_next_account selection policy.
func (r *Registry) Next(now time.Time) (dbx.Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var eligible []dbx.Account
	for _, a := range r.accounts {
		if r.isEligible(a, now) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return dbx.Account{}, false
	}

	avg := 0.0
	for _, a := range eligible {
		avg += a.HealthScore
	}
	avg /= float64(len(eligible))

	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].HealthScore > eligible[j].HealthScore })
	healthiest := eligible[0]
	if healthiest.HealthScore > avg+20 {
		return healthiest, true
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return r.lastUsed[eligible[i].ID].Before(r.lastUsed[eligible[j].ID])
	})
	return eligible[0], true
}

func (r *Registry) isEligible(a dbx.Account, now time.Time) bool {
	if a.Status == "suspended" || a.Status == "disabled" {
		return false
	}
	if a.CooldownUntil != nil && now.Before(*a.CooldownUntil) {
		return false
	}
	if a.RateLimitedUntil != nil && now.Before(*a.RateLimitedUntil) {
		return false
	}
	return true
}

// RecordSuccess applies the gradual +0.5 health adjustment and persists.
func (r *Registry) RecordSuccess(ctx context.Context, accountID string, latencyMs float64, now time.Time) {
	r.mu.Lock()
	r.lastUsed[accountID] = now
	for i := range r.accounts {
		if r.accounts[i].ID == accountID {
			a := &r.accounts[i]
			a.TotalRequests++
			a.ConsecutiveFailures = 0
			a.HealthScore = math.Min(100, a.HealthScore+0.5)
			n := float64(a.TotalRequests)
			a.AvgResponseTimeMs = (a.AvgResponseTimeMs*(n-1) + latencyMs) / n
			break
		}
	}
	r.mu.Unlock()

	if err := r.repo.RecordResult(ctx, accountID, true, false, latencyMs); err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("accountreg: failed to persist success")
	}
}

// RecordFailure applies the gradual -5 health penalty, and enters cooldown or
// suspension when the failure crosses a threshold (spec.md §3 Account).
// statusSignal carries the API's classification (e.g. "rate_limited",
// "invalid_grant", ""), never a message-substring heuristic.
func (r *Registry) RecordFailure(ctx context.Context, accountID, statusSignal string, now time.Time) {
	r.mu.Lock()
	r.lastUsed[accountID] = now
	var consecutive int
	for i := range r.accounts {
		if r.accounts[i].ID == accountID {
			a := &r.accounts[i]
			a.TotalRequests++
			a.FailedRequests++
			a.ConsecutiveFailures++
			a.HealthScore = math.Max(0, a.HealthScore-5)
			consecutive = a.ConsecutiveFailures
			if statusSignal == "rate_limited" {
				a.RateLimitHits++
				until := now.Add(r.rateLimitCooldown)
				a.RateLimitedUntil = &until
			}
			break
		}
	}
	r.mu.Unlock()

	rateLimited := statusSignal == "rate_limited"
	if err := r.repo.RecordResult(ctx, accountID, false, rateLimited, 0); err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("accountreg: failed to persist failure")
	}

	if terminalStatuses[statusSignal] {
		r.suspend(ctx, accountID, "terminal signal: "+statusSignal)
		return
	}

	if rateLimited {
		until := now.Add(r.rateLimitCooldown)
		if err := r.repo.SetCooldown(ctx, accountID, until, "rate limited"); err != nil {
			log.Error().Err(err).Str("account_id", accountID).Msg("accountreg: failed to persist rate-limit cooldown")
		}
		return
	}

	if consecutive >= r.cooldownAfterFailures {
		until := now.Add(r.cooldownDuration)
		r.mu.Lock()
		for i := range r.accounts {
			if r.accounts[i].ID == accountID {
				r.accounts[i].CooldownUntil = &until
				break
			}
		}
		r.mu.Unlock()
		if err := r.repo.SetCooldown(ctx, accountID, until, fmt.Sprintf("%d consecutive failures", consecutive)); err != nil {
			log.Error().Err(err).Str("account_id", accountID).Msg("accountreg: failed to persist cooldown")
		} else {
			log.Warn().Str("account_id", accountID).Int("consecutive_failures", consecutive).Msg("accountreg: account entered cooldown")
		}
	}
}

func (r *Registry) suspend(ctx context.Context, accountID, reason string) {
	r.mu.Lock()
	for i := range r.accounts {
		if r.accounts[i].ID == accountID {
			r.accounts[i].Status = "suspended"
			break
		}
	}
	r.mu.Unlock()

	if err := r.repo.SetStatus(ctx, accountID, "suspended"); err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("accountreg: failed to persist suspension")
	} else {
		log.Error().Str("account_id", accountID).Str("reason", reason).Msg("accountreg: account suspended")
	}
}

// Count returns the number of currently loaded accounts, for health checks.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}
