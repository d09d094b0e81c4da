// Package proxyreg implements the ProxyRegistry component (spec.md §4.2):
// proxy lifecycle, thread assignment, and health-driven rotation.
package proxyreg

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socialscrape/engine/pkg/dbx"
)

// Registry owns the in-memory proxy health view and the thread assignment
// table built at cycle start.
type Registry struct {
	repo dbx.ProxyRepository

	flushEvery    int
	flushInterval time.Duration

	mu              sync.Mutex
	proxies         []dbx.Proxy
	threadAssignment map[int]string // thread_id -> proxy ID
	sinceFlush      map[string]int
	lastFlush       map[string]time.Time
}

// New constructs a Registry. flushEvery/flushInterval implement the
// coalesced-persistence policy from spec.md §4.2 RecordResult.
func New(repo dbx.ProxyRepository, flushEvery int, flushInterval time.Duration) *Registry {
	if flushEvery <= 0 {
		flushEvery = 20
	}
	if flushInterval <= 0 {
		flushInterval = 60 * time.Second
	}
	return &Registry{
		repo:             repo,
		flushEvery:       flushEvery,
		flushInterval:    flushInterval,
		sinceFlush:       make(map[string]int),
		lastFlush:        make(map[string]time.Time),
		threadAssignment: make(map[int]string),
	}
}

// LoadActive fetches all active proxies ordered by descending priority and
// returns the count loaded.
func (r *Registry) LoadActive(ctx context.Context) (int, error) {
	proxies, err := r.repo.LoadActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active proxies: %w", err)
	}

	r.mu.Lock()
	r.proxies = proxies
	r.mu.Unlock()

	log.Info().Int("count", len(proxies)).Msg("proxyreg: loaded active proxies")
	return len(proxies), nil
}

// ValidateAll issues one GET per proxy against testURL with a 15s timeout,
// bounded to `concurrency` simultaneous tests — the active "rate-limited"
// implementation from original_source/.../proxy_manager.py::test_proxies_at_startup.
// The dead "strict 3-attempt" sibling (test_proxies_at_startup_old) is
// intentionally not ported (spec.md §9 Open Questions).
func (r *Registry) ValidateAll(ctx context.Context, testURL string, concurrency int) (map[string]bool, error) {
	r.mu.Lock()
	proxies := append([]dbx.Proxy(nil), r.proxies...)
	r.mu.Unlock()

	if concurrency <= 0 {
		concurrency = 2
	}

	results := make(map[string]bool, len(proxies))
	var mu sync.Mutex
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, p := range proxies {
		p := p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			time.Sleep(500 * time.Millisecond) // pace tests to avoid hammering the target
			ok := r.testProxy(ctx, p, testURL)
			mu.Lock()
			results[p.ID] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results, nil
}

func (r *Registry) testProxy(ctx context.Context, p dbx.Proxy, testURL string) bool {
	client, err := httpClientForProxy(p, 15*time.Second)
	if err != nil {
		log.Warn().Err(err).Str("proxy", p.DisplayName).Msg("proxyreg: failed to build test client")
		r.RecordResult(ctx, p.ID, false, 0, err.Error())
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, testURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	start := time.Now()
	resp, err := client.Do(req)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		log.Warn().Err(err).Str("proxy", p.DisplayName).Msg("proxyreg: test request failed")
		r.RecordResult(ctx, p.ID, false, latency, err.Error())
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.RecordResult(ctx, p.ID, false, latency, fmt.Sprintf("status %d", resp.StatusCode))
		return false
	}

	r.RecordResult(ctx, p.ID, true, latency, "")
	return true
}

func httpClientForProxy(p dbx.Proxy, timeout time.Duration) (*http.Client, error) {
	proxyURLStr := p.ProxyURL
	if p.ProxyUsername != "" && p.ProxyPassword != "" {
		proxyURLStr = fmt.Sprintf("%s:%s@%s", p.ProxyUsername, p.ProxyPassword, p.ProxyURL)
	}
	parsed, err := url.Parse("http://" + proxyURLStr)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url for %s: %w", p.DisplayName, err)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
	}, nil
}

// HTTPClient returns an *http.Client bound to the given proxy with the given
// request timeout, for use by RedditAPIClient's per-thread affinity.
func HTTPClient(p dbx.Proxy, timeout time.Duration) (*http.Client, error) {
	return httpClientForProxy(p, timeout)
}

// AssignThreads builds the thread-to-proxy map (spec.md §3 ThreadAssignment):
// T = sum(max_threads) over active proxies, sorted by descending priority,
// with exactly one proxy per thread_id.
func (r *Registry) AssignThreads() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := append([]dbx.Proxy(nil), r.proxies...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	assignment := make(map[int]string)
	threadID := 0
	for _, p := range sorted {
		for i := 0; i < p.MaxThreads; i++ {
			assignment[threadID] = p.ID
			threadID++
		}
	}
	r.threadAssignment = assignment

	log.Info().Int("threads", len(assignment)).Int("proxies", len(sorted)).Msg("proxyreg: assigned threads")
	return len(assignment)
}

// ProxyForThread returns the Proxy bound to thread_id for the current cycle.
func (r *Registry) ProxyForThread(threadID int) (dbx.Proxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	proxyID, ok := r.threadAssignment[threadID]
	if !ok {
		return dbx.Proxy{}, false
	}
	for _, p := range r.proxies {
		if p.ID == proxyID {
			return p, true
		}
	}
	return dbx.Proxy{}, false
}

// TotalThreads returns T, the current thread count.
func (r *Registry) TotalThreads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threadAssignment)
}

// RecordResult updates in-memory counters for proxyID and persists on a
// coalesced schedule: every flushEvery requests, or flushInterval elapsed,
// whichever comes first (spec.md §4.2).
func (r *Registry) RecordResult(ctx context.Context, proxyID string, success bool, latencyMs float64, errMsg string) {
	r.mu.Lock()
	var idx = -1
	for i := range r.proxies {
		if r.proxies[i].ID == proxyID {
			idx = i
			break
		}
	}
	if idx == -1 {
		r.mu.Unlock()
		return
	}

	p := &r.proxies[idx]
	p.TotalRequests++
	if success {
		p.SuccessCount++
		p.ConsecutiveErrors = 0
		n := float64(p.TotalRequests)
		p.AvgResponseTimeMs = (p.AvgResponseTimeMs*(n-1) + latencyMs) / n
	} else {
		p.ErrorCount++
		p.ConsecutiveErrors++
		p.LastErrorMessage = errMsg
	}

	r.sinceFlush[proxyID]++
	last, seen := r.lastFlush[proxyID]
	dueByCount := r.sinceFlush[proxyID] >= r.flushEvery
	dueByTime := !seen || time.Since(last) >= r.flushInterval
	shouldFlush := dueByCount || dueByTime
	if shouldFlush {
		r.sinceFlush[proxyID] = 0
		r.lastFlush[proxyID] = time.Now()
	}
	r.mu.Unlock()

	if shouldFlush {
		if err := r.repo.RecordResult(ctx, proxyID, success, latencyMs, errMsg); err != nil {
			log.Error().Err(err).Str("proxy_id", proxyID).Msg("proxyreg: failed to persist proxy stats")
		}
	}
}

// DisableUnhealthy flips is_active=false for any proxy whose consecutive
// error count has crossed threshold (spec.md §3, §4.2).
func (r *Registry) DisableUnhealthy(ctx context.Context, threshold int) {
	r.mu.Lock()
	var toDisable []string
	for i := range r.proxies {
		if r.proxies[i].ConsecutiveErrors >= threshold && r.proxies[i].IsActive {
			r.proxies[i].IsActive = false
			toDisable = append(toDisable, r.proxies[i].ID)
		}
	}
	r.mu.Unlock()

	for _, id := range toDisable {
		reason := fmt.Sprintf("auto-disabled after %d consecutive errors", threshold)
		if err := r.repo.DisableUnhealthy(ctx, id, reason); err != nil {
			log.Error().Err(err).Str("proxy_id", id).Msg("proxyreg: failed to disable unhealthy proxy")
		} else {
			log.Warn().Str("proxy_id", id).Msg("proxyreg: disabled unhealthy proxy")
		}
	}
}

// BestScored returns the proxy with the highest health-biased score, for the
// health-biased-rotation selection policy used outside Reddit's thread
// affinity (spec.md §4.2): score = success_rate*100 - avg_latency/100 -
// consecutive_errors*10; an unused proxy scores 100.
func (r *Registry) BestScored() (dbx.Proxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best dbx.Proxy
	bestScore := -1.0
	found := false
	for _, p := range r.proxies {
		score := scoreOf(p)
		if !found || score > bestScore {
			bestScore = score
			best = p
			found = true
		}
	}
	return best, found
}

func scoreOf(p dbx.Proxy) float64 {
	if p.TotalRequests == 0 {
		return 100
	}
	successRate := float64(p.SuccessCount) / float64(p.TotalRequests)
	return successRate*100 - p.AvgResponseTimeMs/100 - float64(p.ConsecutiveErrors)*10
}
