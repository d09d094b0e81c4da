// Package redditapi implements the RedditAPIClient (spec.md §4.3, §6):
// public Reddit JSON endpoints fetched through a proxy, with User-Agent
// rotation and error-category classification.
package redditapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const baseURL = "https://www.reddit.com"

// userAgents is the rotation pool (spec.md §6: "~15 strings plus a
// fake-useragent library"). A fixed pool avoids an extra dependency while
// preserving the rotation behavior the original relied on.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36 Edg/117.0.2045.60",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Windows NT 6.1; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/113.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Fedora; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0",
}

func randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// Category classifies a response outcome for Processor decisions (spec.md
// §7): Forbidden/NotFound are semantic outcomes handled inline, never
// retried; Transient is retried by the backoff policy.
type Category int

const (
	CategoryOK Category = iota
	CategoryForbidden
	CategoryNotFound
	CategoryRateLimited
	CategoryTransient
)

// Error wraps a classified API outcome: 403/404 are returned without retry,
// while 429 and 5xx are retried by get before being surfaced.
type Error struct {
	Category   Category
	StatusCode int
	URL        string
}

func (e *Error) Error() string {
	return fmt.Sprintf("reddit api: status %d for %s", e.StatusCode, e.URL)
}

// Client fetches Reddit's public JSON endpoints through a single proxy-bound
// *http.Client (thread affinity, spec.md §4.2 ThreadAssignment).
type Client struct {
	httpClient *http.Client
	maxRetries int
}

// New binds a Client to httpClient, typically constructed by
// proxyreg.HTTPClient for a given thread's assigned proxy.
func New(httpClient *http.Client) *Client {
	return &Client{httpClient: httpClient, maxRetries: 3}
}

// About fetches /r/{name}/about.json.
func (c *Client) About(ctx context.Context, subreddit string) (json.RawMessage, error) {
	return c.get(ctx, fmt.Sprintf("%s/r/%s/about.json", baseURL, subreddit))
}

// Rules fetches /r/{name}/about/rules.json.
func (c *Client) Rules(ctx context.Context, subreddit string) (json.RawMessage, error) {
	return c.get(ctx, fmt.Sprintf("%s/r/%s/about/rules.json", baseURL, subreddit))
}

// Hot fetches /r/{name}/hot.json?limit=…
func (c *Client) Hot(ctx context.Context, subreddit string, limit int) (json.RawMessage, error) {
	return c.get(ctx, fmt.Sprintf("%s/r/%s/hot.json?limit=%d", baseURL, subreddit, limit))
}

// Top fetches /r/{name}/top.json?limit=…&t=…
func (c *Client) Top(ctx context.Context, subreddit string, limit int, timeframe string) (json.RawMessage, error) {
	return c.get(ctx, fmt.Sprintf("%s/r/%s/top.json?limit=%d&t=%s", baseURL, subreddit, limit, timeframe))
}

// UserAbout fetches /user/{name}/about.json. On 403 the caller must mark
// is_suspended=true and persist a minimal record rather than treat it as a
// transient failure (spec.md §4.3 step "2. Classify").
func (c *Client) UserAbout(ctx context.Context, username string) (json.RawMessage, error) {
	return c.get(ctx, fmt.Sprintf("%s/user/%s/about.json", baseURL, username))
}

// UserSubmitted fetches /user/{name}/submitted.json.
func (c *Client) UserSubmitted(ctx context.Context, username string, limit int) (json.RawMessage, error) {
	return c.get(ctx, fmt.Sprintf("%s/user/%s/submitted.json?limit=%d", baseURL, username, limit))
}

func (c *Client) get(ctx context.Context, url string) (json.RawMessage, error) {
	var body json.RawMessage

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	boCtx := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", randomUserAgent())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request %s: %w", url, err) // network error: retryable
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read body %s: %w", url, err)
			}
			body = data
			return nil
		case resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(&Error{Category: CategoryForbidden, StatusCode: resp.StatusCode, URL: url})
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(&Error{Category: CategoryNotFound, StatusCode: resp.StatusCode, URL: url})
		case resp.StatusCode == http.StatusTooManyRequests:
			return &Error{Category: CategoryRateLimited, StatusCode: resp.StatusCode, URL: url} // retryable
		case resp.StatusCode >= 500:
			return &Error{Category: CategoryTransient, StatusCode: resp.StatusCode, URL: url} // retryable
		default:
			return backoff.Permanent(&Error{Category: CategoryTransient, StatusCode: resp.StatusCode, URL: url})
		}
	}

	if err := backoff.Retry(operation, boCtx); err != nil {
		var classified *Error
		if errors.As(err, &classified) {
			return nil, classified
		}
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return body, nil
}

// ClassifyError extracts the Category from err, defaulting to
// CategoryTransient for unclassified errors (e.g. exhausted network retries).
func ClassifyError(err error) Category {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Category
	}
	return CategoryTransient
}
