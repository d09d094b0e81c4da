package redditscraper

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socialscrape/engine/pkg/accountreg"
	"github.com/socialscrape/engine/pkg/control"
	"github.com/socialscrape/engine/pkg/dbx"
	"github.com/socialscrape/engine/pkg/proxyreg"
	"github.com/socialscrape/engine/pkg/redditapi"
)

// IsEnabledFunc is the cooperative-cancellation probe (spec.md §4.1, §4.3
// "Cancellation probe").
type IsEnabledFunc func() bool

// Cycle implements one run of the Reddit scraper: thread-pinned worker
// fan-out over a tiered, shuffled work list.
type Cycle struct {
	proxies    *proxyreg.Registry
	accounts   *accountreg.Registry
	control    *control.Store
	subreddits dbx.SubredditRepository
	users      dbx.UserRepository
	posts      dbx.PostRepository
	classifier *Classifier

	scraperName      string
	discoveryEnabled bool
	refreshInterval  time.Duration
	requestTimeout   time.Duration
	workListLimit    int
	proxyTestURL     string
	disableThreshold int
}

// Config bundles Cycle's tunables, loaded from pkg/config.
type Config struct {
	ScraperName      string
	DiscoveryEnabled bool
	RefreshInterval  time.Duration
	RequestTimeout   time.Duration
	WorkListLimit    int
	ProxyTestURL     string
	DisableThreshold int // consecutive-error threshold for auto-disabling a proxy, spec.md §3
}

// New constructs a Cycle.
func New(proxies *proxyreg.Registry, accounts *accountreg.Registry, ctl *control.Store, subreddits dbx.SubredditRepository, users dbx.UserRepository, posts dbx.PostRepository, classifier *Classifier, cfg Config) *Cycle {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.WorkListLimit <= 0 {
		cfg.WorkListLimit = 500
	}
	if cfg.ProxyTestURL == "" {
		cfg.ProxyTestURL = "https://www.reddit.com/r/test/about.json"
	}
	if cfg.DisableThreshold <= 0 {
		cfg.DisableThreshold = 20
	}
	return &Cycle{
		proxies:          proxies,
		accounts:         accounts,
		control:          ctl,
		subreddits:       subreddits,
		users:            users,
		posts:            posts,
		classifier:       classifier,
		scraperName:      cfg.ScraperName,
		discoveryEnabled: cfg.DiscoveryEnabled,
		refreshInterval:  cfg.RefreshInterval,
		requestTimeout:   cfg.RequestTimeout,
		workListLimit:    cfg.WorkListLimit,
		proxyTestURL:     cfg.ProxyTestURL,
		disableThreshold: cfg.DisableThreshold,
	}
}

// workItem is one subreddit or one discovered username to process.
type workItem struct {
	subredditName string
	username      string
}

// buildWorkList implements spec.md §4.3 "Fetch order": tier 1 (due for
// review), tier 2 (newly discovered, no last_scraped_at), shuffled within
// each tier.
func (c *Cycle) buildWorkList(ctx context.Context, limit int) ([]workItem, error) {
	rows, err := c.subreddits.LoadMany(ctx, limit)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var due, discovery []dbx.Subreddit
	for _, s := range rows {
		if s.LastScrapedAt == nil {
			discovery = append(discovery, s)
			continue
		}
		if now.Sub(*s.LastScrapedAt) >= c.refreshInterval {
			due = append(due, s)
		}
	}

	rand.Shuffle(len(due), func(i, j int) { due[i], due[j] = due[j], due[i] })
	rand.Shuffle(len(discovery), func(i, j int) { discovery[i], discovery[j] = discovery[j], discovery[i] })

	items := make([]workItem, 0, len(due)+len(discovery))
	for _, s := range due {
		items = append(items, workItem{subredditName: s.Name})
	}
	for _, s := range discovery {
		items = append(items, workItem{subredditName: s.Name})
	}
	return items, nil
}

// Run dispatches the work list round-robin across T proxy-pinned workers
// (spec.md §4.3 "Worker fan-out"). Reddit requires ValidateAll("all proxies
// must pass") as a hard precondition before a cycle starts.
func (c *Cycle) Run(ctx context.Context, probe IsEnabledFunc) error {
	if _, err := c.proxies.LoadActive(ctx); err != nil {
		return err
	}

	// Reddit treats "all proxies pass validation" as a hard precondition for
	// starting a cycle (spec.md §4.2); Instagram has no such precondition.
	results, err := c.proxies.ValidateAll(ctx, c.proxyTestURL, 2)
	if err != nil {
		return err
	}
	for proxyID, ok := range results {
		if !ok {
			log.Error().Str("proxy_id", proxyID).Msg("redditscraper: proxy failed validation, refusing to start cycle")
			return nil
		}
	}

	threadCount := c.proxies.AssignThreads()
	if threadCount == 0 {
		log.Error().Msg("redditscraper: no active proxies, cannot start cycle")
		return nil
	}

	if _, err := c.accounts.LoadActive(ctx); err != nil {
		log.Warn().Err(err).Msg("redditscraper: failed to load accounts, continuing without credentialed API")
	}

	items, err := c.buildWorkList(ctx, c.workListLimit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	queues := make([][]workItem, threadCount)
	for i, item := range items {
		t := i % threadCount
		queues[t] = append(queues[t], item)
	}

	var discoveredUsernames sync.Map
	var discoveredSubreddits sync.Map
	var wg sync.WaitGroup

	for threadID := 0; threadID < threadCount; threadID++ {
		threadID := threadID
		queue := queues[threadID]
		if len(queue) == 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runWorker(ctx, threadID, queue, probe, &discoveredUsernames, &discoveredSubreddits)
		}()
	}
	wg.Wait()

	c.enqueueDiscoveredSubreddits(ctx, &discoveredSubreddits)
	c.processDiscoveries(ctx, probe, &discoveredUsernames)

	c.proxies.DisableUnhealthy(ctx, c.disableThreshold)
	return nil
}

// enqueueDiscoveredSubreddits persists step 9's subreddit discoveries as bare
// stub rows (spec.md §4.3 step 9, Glossary "Discovery"), so they surface in
// buildWorkList's discovery tier on a future cycle.
func (c *Cycle) enqueueDiscoveredSubreddits(ctx context.Context, discovered *sync.Map) {
	discovered.Range(func(key, _ any) bool {
		name := key.(string)
		if err := c.subreddits.EnsureDiscovered(ctx, name); err != nil {
			log.Error().Err(err).Str("subreddit", name).Msg("redditscraper: failed to enqueue discovered subreddit")
		}
		return true
	})
}

func (c *Cycle) runWorker(ctx context.Context, threadID int, queue []workItem, probe IsEnabledFunc, discoveredUsernames, discoveredSubreddits *sync.Map) {
	proxy, ok := c.proxies.ProxyForThread(threadID)
	if !ok {
		log.Error().Int("thread_id", threadID).Msg("redditscraper: no proxy assigned to thread")
		return
	}
	httpClient, err := proxyreg.HTTPClient(proxy, c.requestTimeout)
	if err != nil {
		log.Error().Err(err).Int("thread_id", threadID).Msg("redditscraper: failed to build proxy http client")
		return
	}
	api := redditapi.New(httpClient)
	processor := NewProcessor(api, c.subreddits, c.users, c.posts, c.classifier, c.discoveryEnabled)

	for _, item := range queue {
		if !probe() {
			log.Info().Int("thread_id", threadID).Msg("redditscraper: cancellation observed, draining worker")
			return
		}

		account, hasAccount := c.accounts.Next(time.Now())

		start := time.Now()
		result, err := processor.ProcessSubreddit(ctx, item.subredditName)
		latency := float64(time.Since(start).Milliseconds())
		if err != nil {
			c.proxies.RecordResult(ctx, proxy.ID, false, latency, err.Error())
			if hasAccount {
				c.accounts.RecordFailure(ctx, account.ID, accountStatusSignal(err), time.Now())
			}
			log.Error().Err(err).Str("subreddit", item.subredditName).Msg("redditscraper: failed to process subreddit")
			continue
		}
		c.proxies.RecordResult(ctx, proxy.ID, true, latency, "")
		if hasAccount {
			c.accounts.RecordSuccess(ctx, account.ID, latency, time.Now())
		}

		for _, u := range result.DiscoveredUsernames {
			discoveredUsernames.Store(u, true)
		}
		for _, s := range result.DiscoveredSubreddits {
			discoveredSubreddits.Store(s, true)
		}
	}
}

// accountStatusSignal maps a per-subreddit processing error to the explicit
// status-signal string accountreg.Registry.RecordFailure expects (spec.md §9
// Open Questions: never inferred from a message substring). Only the
// rate-limited category maps to a real signal here: redditapi.Client talks
// to Reddit's public JSON endpoints through a proxy, not a credentialed
// account, so a 403/404/5xx response is never attributable to the account
// itself and degrades to a plain graduated-penalty failure.
func accountStatusSignal(err error) string {
	if redditapi.ClassifyError(err) == redditapi.CategoryRateLimited {
		return "rate_limited"
	}
	return ""
}

func (c *Cycle) processDiscoveries(ctx context.Context, probe IsEnabledFunc, discoveredUsernames *sync.Map) {
	proxy, ok := c.proxies.BestScored()
	if !ok {
		return
	}
	httpClient, err := proxyreg.HTTPClient(proxy, c.requestTimeout)
	if err != nil {
		log.Error().Err(err).Msg("redditscraper: failed to build discovery http client")
		return
	}
	api := redditapi.New(httpClient)
	processor := NewProcessor(api, c.subreddits, c.users, c.posts, c.classifier, c.discoveryEnabled)

	discoveredUsernames.Range(func(key, _ any) bool {
		if !probe() {
			return false
		}
		username := key.(string)
		if err := processor.ProcessUser(ctx, username); err != nil {
			log.Error().Err(err).Str("username", username).Msg("redditscraper: failed to process discovered user")
		}
		return true
	})
}
