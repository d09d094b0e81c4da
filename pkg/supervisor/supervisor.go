// Package supervisor implements the Supervisor outer loop (spec.md §4.6):
// the generic enable-flag-gated, heartbeat-driven loop shared by both the
// Reddit and Instagram scrapers, generalized from
// original_source/api/scrapers/reddit/continuous.py's shutdown sequence.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/socialscrape/engine/pkg/control"
)

// RunFunc adapts a Cycle's Run(ctx, probe) method to the Supervisor's
// expectations without forcing every Cycle implementation to depend on
// *control.Store directly.
type RunFunc func(ctx context.Context, probe func() bool) error

// NextCycleAtFunc lets Instagram's cycle report when it should next run
// (now + cycle_wait); Reddit passes nil to loop immediately after each run.
type NextCycleAtFunc func() *time.Time

// Supervisor gates a RunFunc behind ControlStore.IsEnabled, writes lifecycle
// status transitions, and handles SIGTERM/SIGINT with a bounded drain.
type Supervisor struct {
	control      *control.Store
	scraperName  string
	scriptType   string
	pollInterval time.Duration
	drainTimeout time.Duration

	run         RunFunc
	nextCycleAt NextCycleAtFunc
}

// New constructs a Supervisor. run is invoked once per enabled tick; if
// nextCycleAt is non-nil, its return value gates whether run is invoked this
// tick (Instagram's waiting state) — pass nil for Reddit, which paces itself.
func New(ctl *control.Store, scraperName, scriptType string, pollInterval, drainTimeout time.Duration, run RunFunc, nextCycleAt NextCycleAtFunc) *Supervisor {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}
	return &Supervisor{
		control:      ctl,
		scraperName:  scraperName,
		scriptType:   scriptType,
		pollInterval: pollInterval,
		drainTimeout: drainTimeout,
		run:          run,
		nextCycleAt:  nextCycleAt,
	}
}

// Start runs the Supervisor loop until ctx is cancelled or a termination
// signal is received. It blocks until graceful shutdown completes.
func (s *Supervisor) Start(ctx context.Context) error {
	s.control.EnsureExists(ctx, s.scraperName, s.scriptType, map[string]any{})

	pid := os.Getpid()
	now := time.Now().UTC()
	s.control.SetStatus(ctx, s.scraperName, control.StatusPatch{
		Status:    strPtr("starting"),
		PID:       &pid,
		StartedAt: &now,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.loop(runCtx)
	}()

	select {
	case <-done:
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("supervisor: termination signal received, draining")
		cancel()
		select {
		case <-done:
		case <-time.After(s.drainTimeout):
			log.Warn().Msg("supervisor: drain deadline exceeded, abandoning in-flight work")
		}
	}

	stoppedAt := time.Now().UTC()
	falseVal := false
	s.control.SetStatus(context.WithoutCancel(ctx), s.scraperName, control.StatusPatch{
		Enabled:   &falseVal,
		Status:    strPtr("stopped"),
		ClearPID:  true,
		StoppedAt: &stoppedAt,
	})
	return nil
}

func (s *Supervisor) loop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now().UTC()
		s.control.Heartbeat(ctx, s.scraperName, now)

		if !s.control.IsEnabled(ctx, s.scraperName) {
			s.control.SetStatus(ctx, s.scraperName, control.StatusPatch{Status: strPtr("stopped"), ClearPID: true})
			continue
		}

		if s.nextCycleAt != nil {
			if at := s.nextCycleAt(); at != nil && now.Before(*at) {
				remaining := at.Sub(now)
				s.control.Log(ctx, "info", s.scraperName, s.scraperName, "waiting for next cycle", map[string]any{
					"remaining_seconds": int(remaining.Seconds()),
				}, nil)
				s.control.SetStatus(ctx, s.scraperName, control.StatusPatch{Status: strPtr("waiting")})
				continue
			}
		}

		runID := uuid.New().String()
		s.control.SetStatus(ctx, s.scraperName, control.StatusPatch{Status: strPtr("running")})
		s.control.Log(ctx, "info", s.scraperName, s.scraperName, "cycle starting", map[string]any{"run_id": runID}, nil)
		if err := s.run(ctx, func() bool { return s.control.IsEnabled(ctx, s.scraperName) }); err != nil {
			errMsg := err.Error()
			log.Error().Err(err).Str("scraper", s.scraperName).Str("run_id", runID).Msg("supervisor: cycle run failed")
			s.control.SetStatus(ctx, s.scraperName, control.StatusPatch{Status: strPtr("error"), LastError: &errMsg})
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func strPtr(s string) *string { return &s }
