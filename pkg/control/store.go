// Package control implements the ControlStore component (spec.md §4.1): the
// typed accessor for a scraper's system_control row and its structured log
// sink. All writes are best-effort — a failed heartbeat or log must never
// crash the caller.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socialscrape/engine/pkg/dbx"
)

// Store is the ControlStore: a cached, best-effort wrapper around a
// dbx.ControlRepository.
type Store struct {
	repo     dbx.ControlRepository
	cacheTTL time.Duration

	mu          sync.Mutex
	cachedEnabled map[string]cachedBool
}

type cachedBool struct {
	value   bool
	cachedAt time.Time
}

// New constructs a Store. cacheTTL bounds how long IsEnabled may serve a
// cached answer before re-querying (spec.md §4.1: "SHOULD coalesce... for
// at most 5 seconds").
func New(repo dbx.ControlRepository, cacheTTL time.Duration) *Store {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}
	return &Store{repo: repo, cacheTTL: cacheTTL, cachedEnabled: make(map[string]cachedBool)}
}

// Load returns the control record for scraperName, or dbx.ErrNotFound.
func (s *Store) Load(ctx context.Context, scraperName string) (*dbx.ControlRecord, error) {
	return s.repo.Load(ctx, scraperName)
}

// EnsureExists creates the control row if absent, disabled by default.
func (s *Store) EnsureExists(ctx context.Context, scraperName, scriptType string, defaultConfig map[string]any) {
	if err := s.repo.EnsureExists(ctx, scraperName, scriptType, defaultConfig); err != nil {
		log.Error().Err(err).Str("scraper", scraperName).Msg("control: failed to ensure control record exists")
	}
}

// StatusPatch is the subset of fields SetStatus may update in one call.
type StatusPatch struct {
	Enabled     *bool
	Status      *string
	PID         *int
	ClearPID    bool
	StartedAt   *time.Time
	StoppedAt   *time.Time
	LastError   *string
	Config      map[string]any
}

// SetStatus applies patch, best-effort: failures are logged, never returned,
// so a flaky database write can't take down a scraper cycle.
func (s *Store) SetStatus(ctx context.Context, scraperName string, patch StatusPatch) {
	dbPatch := dbx.ControlPatch{
		Enabled:   patch.Enabled,
		Status:    patch.Status,
		PID:       patch.PID,
		ClearPID:  patch.ClearPID,
		StartedAt: patch.StartedAt,
		StoppedAt: patch.StoppedAt,
		LastError: patch.LastError,
		Config:    patch.Config,
		UpdatedBy: "scraper",
	}
	if patch.LastError != nil {
		now := time.Now().UTC()
		dbPatch.LastErrorAt = &now
	}
	if err := s.repo.Update(ctx, scraperName, dbPatch); err != nil {
		log.Error().Err(err).Str("scraper", scraperName).Msg("control: failed to set status")
	}

	if patch.Enabled != nil {
		s.mu.Lock()
		s.cachedEnabled[scraperName] = cachedBool{value: *patch.Enabled, cachedAt: time.Now()}
		s.mu.Unlock()
	}
}

// Heartbeat writes the liveness timestamp, best-effort.
func (s *Store) Heartbeat(ctx context.Context, scraperName string, now time.Time) {
	if err := s.repo.Update(ctx, scraperName, dbx.ControlPatch{Heartbeat: &now, UpdatedBy: "scraper"}); err != nil {
		log.Error().Err(err).Str("scraper", scraperName).Msg("control: failed to write heartbeat")
	}
}

// IsEnabled answers the cooperative-cancellation probe, coalescing reads for
// at most cacheTTL to bound database load under per-WorkItem polling.
func (s *Store) IsEnabled(ctx context.Context, scraperName string) bool {
	s.mu.Lock()
	if cached, ok := s.cachedEnabled[scraperName]; ok && time.Since(cached.cachedAt) < s.cacheTTL {
		s.mu.Unlock()
		return cached.value
	}
	s.mu.Unlock()

	rec, err := s.repo.Load(ctx, scraperName)
	enabled := false
	if err == nil {
		enabled = rec.Enabled
	} else if err != dbx.ErrNotFound {
		log.Error().Err(err).Str("scraper", scraperName).Msg("control: failed to probe enabled state")
	}

	s.mu.Lock()
	s.cachedEnabled[scraperName] = cachedBool{value: enabled, cachedAt: time.Now()}
	s.mu.Unlock()

	return enabled
}

// Log appends a structured entry to the append-only log sink, best-effort.
// Success/failure is an explicit caller-provided level, never inferred from
// a message-substring heuristic (spec.md §9 Open Questions).
func (s *Store) Log(ctx context.Context, level, source, scriptName, message string, contextMap map[string]any, durationMs *int64) {
	entry := dbx.SystemLog{
		Timestamp:  time.Now().UTC(),
		Source:     source,
		ScriptName: scriptName,
		Level:      level,
		Message:    message,
		Context:    contextMap,
		DurationMs: durationMs,
	}
	if err := s.repo.InsertLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("scraper", scriptName).Msg("control: failed to write system log")
	}

	evt := log.Info()
	switch level {
	case "warn", "warning":
		evt = log.Warn()
	case "error", "critical":
		evt = log.Error()
	case "debug":
		evt = log.Debug()
	}
	evt.Str("source", source).Str("script_name", scriptName).Interface("context", contextMap).Msg(message)
}
