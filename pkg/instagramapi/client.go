// Package instagramapi implements the InstagramAPIClient (spec.md §4.4, §6):
// the RapidAPI-fronted Instagram endpoints, rate-limited process-wide and
// retried with jitter, grounded in the teacher's pkg/external/rocketapi.go
// client shape.
package instagramapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Client calls a RapidAPI-hosted Instagram scraping API, pacing every
// outbound call through a single process-wide token bucket.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	apiHost    string
}

// New constructs a Client. ratePerSecond defaults to 55 (spec.md §4.4).
func New(httpClient *http.Client, baseURL, apiKey, apiHost string, ratePerSecond float64) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 55
	}
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiHost:    apiHost,
	}
}

// Page is the {items, paging_info} shape the API returns for paginated
// endpoints (spec.md §6).
type Page struct {
	Items      []json.RawMessage `json:"items"`
	PagingInfo struct {
		MaxID         string `json:"max_id"`
		MoreAvailable bool   `json:"more_available"`
	} `json:"paging_info"`
}

// Profile fetches /profile?username=...
func (c *Client) Profile(ctx context.Context, username string) (json.RawMessage, error) {
	return c.getRaw(ctx, fmt.Sprintf("/profile?username=%s", username), false)
}

// Reels fetches one page of /reels?id={ig_user_id}&count=...[&max_id=...]
func (c *Client) Reels(ctx context.Context, igUserID string, count int, maxID string) (*Page, error) {
	path := fmt.Sprintf("/reels?id=%s&count=%d", igUserID, count)
	if maxID != "" {
		path += "&max_id=" + maxID
	}
	raw, err := c.getRaw(ctx, path, true)
	if err != nil {
		return nil, err
	}
	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("parse reels page: %w", err)
	}
	return &page, nil
}

// UserFeeds fetches one page of /user-feeds?id={ig_user_id}&count=...[&max_id=...]
func (c *Client) UserFeeds(ctx context.Context, igUserID string, count int, maxID string) (*Page, error) {
	path := fmt.Sprintf("/user-feeds?id=%s&count=%d", igUserID, count)
	if maxID != "" {
		path += "&max_id=" + maxID
	}
	raw, err := c.getRaw(ctx, path, true)
	if err != nil {
		return nil, err
	}
	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("parse user-feeds page: %w", err)
	}
	return &page, nil
}

// RelatedProfiles fetches /related-profiles?id={ig_user_id}
func (c *Client) RelatedProfiles(ctx context.Context, igUserID string) (json.RawMessage, error) {
	return c.getRaw(ctx, fmt.Sprintf("/related-profiles?id=%s", igUserID), false)
}

// getRaw issues a rate-limited, retried GET. When retryEmptyItems is true, an
// {items: []} response is retried once before being accepted (spec.md §4.4
// "Rate limiting").
func (c *Client) getRaw(ctx context.Context, path string, retryEmptyItems bool) (json.RawMessage, error) {
	var body []byte
	emptyRetryUsed := false

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 10 * time.Second
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0
	boCtx := backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("x-rapidapi-key", c.apiKey)
		req.Header.Set("x-rapidapi-host", c.apiHost)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("rate limited: %s", path)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error %d: %s", resp.StatusCode, path)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("instagram api: status %d for %s", resp.StatusCode, path))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body %s: %w", path, err)
		}

		if retryEmptyItems && !emptyRetryUsed && isEmptyItems(data) {
			emptyRetryUsed = true
			return fmt.Errorf("empty items response: %s", path)
		}

		body = data
		return nil
	}

	if err := backoff.Retry(operation, boCtx); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	return body, nil
}

func isEmptyItems(raw []byte) bool {
	var probe struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return len(probe.Items) == 0
}
