package instagramscraper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socialscrape/engine/pkg/dbx"
)

// Config bundles Cycle's tunables, loaded from pkg/config.
type Config struct {
	Concurrency     int // K, default 10
	CycleWait       time.Duration // default 4h
	BatchSize       int
	RelatedProfiles bool
}

// Cycle implements one run of the Instagram scraper: a K-bounded fan-out
// over the approved-creator work list, plus an optionally-enabled
// related-profiles discovery pass guarded against concurrent runs.
type Cycle struct {
	processor *Processor
	creators  dbx.CreatorRepository

	concurrency int
	cycleWait   time.Duration
	batchSize   int
	relatedOn   bool

	nextCycleAt atomic.Value // time.Time

	// relatedInFlight guards the single-run invariant for RelatedProfiles
	// (spec.md §9 Open Questions): the Python original used an unsafe
	// module-level dict; here a mutex-guarded bool makes "already running"
	// an explicit, race-free check.
	relatedMu       sync.Mutex
	relatedInFlight bool
}

// New constructs a Cycle.
func New(processor *Processor, creators dbx.CreatorRepository, cfg Config) *Cycle {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.CycleWait <= 0 {
		cfg.CycleWait = 4 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	c := &Cycle{
		processor:   processor,
		creators:    creators,
		concurrency: cfg.Concurrency,
		cycleWait:   cfg.CycleWait,
		batchSize:   cfg.BatchSize,
		relatedOn:   cfg.RelatedProfiles,
	}
	c.nextCycleAt.Store(time.Time{})
	return c
}

// NextCycleAt reports when the waiting state should next transition to
// running (spec.md §4.4 state machine); the Supervisor consults this to
// decide whether to invoke Run this tick.
func (c *Cycle) NextCycleAt() *time.Time {
	t := c.nextCycleAt.Load().(time.Time)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Run processes the oldest-scraped batch of approved creators, K at a time.
func (c *Cycle) Run(ctx context.Context, probe func() bool) error {
	creators, err := c.creators.LoadApproved(ctx)
	if err != nil {
		return err
	}
	if len(creators) > c.batchSize {
		creators = creators[:c.batchSize]
	}

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for _, creator := range creators {
		if !probe() {
			log.Info().Msg("instagramscraper: cancellation observed, draining fan-out")
			break
		}
		creator := creator
		isNew := creator.ReelsCount == 0

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.processor.ProcessCreator(ctx, creator.IGUserID, isNew); err != nil {
				log.Error().Err(err).Str("ig_user_id", creator.IGUserID).Msg("instagramscraper: failed to process creator")
				return
			}
			if c.relatedOn && !creator.RelatedCreatorsProcessed {
				c.runRelatedProfilesOnce(ctx, creator.IGUserID)
			}
		}()
	}
	wg.Wait()

	next := time.Now().UTC().Add(c.cycleWait)
	c.nextCycleAt.Store(next)
	return nil
}

// runRelatedProfilesOnce enforces the single-run guard: if a related-profiles
// pass is already in flight for this process, subsequent calls are no-ops
// rather than double-running (spec.md §9 Open Questions).
func (c *Cycle) runRelatedProfilesOnce(ctx context.Context, igUserID string) {
	c.relatedMu.Lock()
	if c.relatedInFlight {
		c.relatedMu.Unlock()
		return
	}
	c.relatedInFlight = true
	c.relatedMu.Unlock()

	defer func() {
		c.relatedMu.Lock()
		c.relatedInFlight = false
		c.relatedMu.Unlock()
	}()

	discoveredIDs, err := c.processor.RelatedProfiles(ctx, igUserID)
	if err != nil {
		log.Error().Err(err).Str("ig_user_id", igUserID).Msg("instagramscraper: related profiles pass failed")
		return
	}
	for _, discoveredID := range discoveredIDs {
		if discoveredID == "" || discoveredID == igUserID {
			continue
		}
		if err := c.creators.EnsureDiscovered(ctx, discoveredID); err != nil {
			log.Error().Err(err).Str("ig_user_id", discoveredID).Msg("instagramscraper: failed to enqueue discovered creator")
		}
	}
}
