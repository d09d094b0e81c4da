// Package redditscraper implements RedditScraperCycle + Processor (spec.md
// §4.3): the ordered per-subreddit and per-user pipelines, metric
// derivation, auto-classification, and dedup.
package redditscraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socialscrape/engine/pkg/dbx"
	"github.com/socialscrape/engine/pkg/redditapi"
)

// Processor runs the per-subreddit and per-user pipelines against one
// proxy-bound RedditAPIClient.
type Processor struct {
	api        *redditapi.Client
	subreddits dbx.SubredditRepository
	users      dbx.UserRepository
	posts      dbx.PostRepository
	classifier *Classifier

	discoveryEnabled bool
}

// NewProcessor constructs a Processor. discoveryEnabled gates step 5/9 of the
// subreddit pipeline (hot.json fetch and author/subreddit discovery).
func NewProcessor(api *redditapi.Client, subreddits dbx.SubredditRepository, users dbx.UserRepository, posts dbx.PostRepository, classifier *Classifier, discoveryEnabled bool) *Processor {
	return &Processor{api: api, subreddits: subreddits, users: users, posts: posts, classifier: classifier, discoveryEnabled: discoveryEnabled}
}

// SubredditResult carries discoveries surfaced while processing one subreddit.
type SubredditResult struct {
	DiscoveredUsernames []string
	DiscoveredSubreddits []string
}

// ProcessSubreddit runs the strict 10-step pipeline from spec.md §4.3.
func (p *Processor) ProcessSubreddit(ctx context.Context, name string) (SubredditResult, error) {
	var result SubredditResult

	aboutRaw, err := p.api.About(ctx, name)
	if err != nil {
		if cat := redditapi.ClassifyError(err); cat == redditapi.CategoryForbidden || cat == redditapi.CategoryNotFound {
			log.Warn().Str("subreddit", name).Err(err).Msg("redditscraper: subreddit unreachable, skipping")
			return result, nil
		}
		return result, fmt.Errorf("fetch about for %s: %w", name, err)
	}
	var about aboutResponse
	if err := json.Unmarshal(aboutRaw, &about); err != nil {
		return result, fmt.Errorf("parse about for %s: %w", name, err)
	}

	rulesText := ""
	rulesStored := json.RawMessage("[]")
	if rulesRaw, err := p.api.Rules(ctx, name); err == nil {
		var rules rulesResponse
		if err := json.Unmarshal(rulesRaw, &rules); err == nil {
			var sb strings.Builder
			for _, r := range rules.Rules {
				sb.WriteString(r.ShortName)
				sb.WriteString(" ")
				sb.WriteString(r.Description)
				sb.WriteString(" ")
			}
			rulesText = sb.String()
			rulesStored = rulesRaw
		}
	} else {
		log.Debug().Str("subreddit", name).Err(err).Msg("redditscraper: rules fetch failed, continuing without")
	}

	topRaw, err := p.api.Top(ctx, name, 10, "week")
	if err != nil {
		return result, fmt.Errorf("fetch weekly top for %s: %w", name, err)
	}
	topPosts, err := parsePosts(topRaw)
	if err != nil {
		return result, fmt.Errorf("parse weekly top for %s: %w", name, err)
	}

	var hotPosts []postData
	if p.discoveryEnabled {
		if hotRaw, err := p.api.Hot(ctx, name, 30); err == nil {
			hotPosts, _ = parsePosts(hotRaw)
		} else {
			log.Debug().Str("subreddit", name).Err(err).Msg("redditscraper: hot fetch failed, discovery skipped for this item")
		}
	}

	weeklyRecords := toRedditPosts(name, topPosts)
	metrics := DeriveMetrics(weeklyRecords)
	classification := p.classifier.Classify(rulesText, about.Data.Description+" "+about.Data.PublicDescription)

	cached, err := p.subreddits.Load(ctx, name)
	if err != nil && err != dbx.ErrNotFound {
		return result, fmt.Errorf("load cached subreddit %s: %w", name, err)
	}

	created := redditEpoch(about.Data.CreatedUTC)
	row := dbx.Subreddit{
		Name:                 name,
		Title:                about.Data.Title,
		Description:          about.Data.Description,
		PublicDescription:    about.Data.PublicDescription,
		Subscribers:          about.Data.Subscribers,
		Over18:               about.Data.Over18,
		CreatedUTC:           &created,
		AllowImages:          about.Data.AllowImages,
		AllowVideos:          about.Data.AllowVideos,
		AllowPolls:           about.Data.AllowPolls,
		SpoilersEnabled:      about.Data.SpoilersEnabled,
		VerificationRequired: classification.VerificationRequired,
		RulesData:            rulesStored,
		Engagement:           metrics.Engagement,
		SubredditScore:       metrics.SubredditScore,
		AvgUpvotesPerPost:    metrics.AvgUpvotesPerPost,
		BestPostingDay:       metrics.BestPostingDay,
		BestPostingHour:      metrics.BestPostingHour,
		SubredditType:        about.Data.SubredditType,
		URL:                  about.Data.URL,
		WikiEnabled:          about.Data.WikiEnabled,
	}
	now := time.Now().UTC()
	row.LastScrapedAt = &now

	// Step 7: auto_review applies only when the cached row's review is null.
	if cached != nil {
		row.Review = cached.Review
		row.PrimaryCategory = cached.PrimaryCategory
		row.Tags = cached.Tags
	}
	if classification.NonRelated && row.Review == nil {
		nonRelated := "Non Related"
		row.Review = &nonRelated
	}

	if err := p.subreddits.Upsert(ctx, row); err != nil {
		return result, fmt.Errorf("upsert subreddit %s: %w", name, err)
	}

	if _, err := p.posts.UpsertBatch(ctx, dedupeRedditPosts(append(weeklyRecords, toRedditPosts(name, hotPosts)...))); err != nil {
		log.Error().Err(err).Str("subreddit", name).Msg("redditscraper: failed to upsert post batch")
	}

	if p.discoveryEnabled {
		seenUsers := make(map[string]bool)
		seenSubs := make(map[string]bool)
		for _, post := range hotPosts {
			if post.Author != "" && post.Author != "[deleted]" && !seenUsers[post.Author] {
				seenUsers[post.Author] = true
				result.DiscoveredUsernames = append(result.DiscoveredUsernames, post.Author)
			}
			if post.Subreddit != "" && !strings.EqualFold(post.Subreddit, name) && !seenSubs[post.Subreddit] {
				seenSubs[post.Subreddit] = true
				result.DiscoveredSubreddits = append(result.DiscoveredSubreddits, post.Subreddit)
			}
		}
	}

	return result, nil
}

func toRedditPosts(subreddit string, posts []postData) []dbx.RedditPost {
	out := make([]dbx.RedditPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, dbx.RedditPost{
			RedditID:      p.Name,
			SubredditName: subreddit,
			Author:        p.Author,
			Title:         p.Title,
			Score:         p.Score,
			NumComments:   p.NumComments,
			CreatedUTC:    redditEpoch(p.CreatedUTC),
			Stickied:      p.Stickied,
		})
	}
	return out
}

// dedupeRedditPosts collapses posts by reddit_id within a single fetch
// (spec.md §4.3 "Deduplication"): duplicates are dropped before batch upsert.
func dedupeRedditPosts(posts []dbx.RedditPost) []dbx.RedditPost {
	seen := make(map[string]bool, len(posts))
	out := make([]dbx.RedditPost, 0, len(posts))
	for _, p := range posts {
		if seen[p.RedditID] {
			continue
		}
		seen[p.RedditID] = true
		out = append(out, p)
	}
	return out
}

// ProcessUser runs the per-user pipeline from spec.md §4.3 "User pipeline".
func (p *Processor) ProcessUser(ctx context.Context, username string) error {
	aboutRaw, err := p.api.UserAbout(ctx, username)
	if err != nil {
		if redditapi.ClassifyError(err) == redditapi.CategoryForbidden {
			return p.persistSuspendedUser(ctx, username)
		}
		if redditapi.ClassifyError(err) == redditapi.CategoryNotFound {
			log.Debug().Str("username", username).Msg("redditscraper: user not found, skipping")
			return nil
		}
		return fmt.Errorf("fetch user about for %s: %w", username, err)
	}
	var about userAboutResponse
	if err := json.Unmarshal(aboutRaw, &about); err != nil {
		return fmt.Errorf("parse user about for %s: %w", username, err)
	}

	created := redditEpoch(about.Data.CreatedUTC)
	ageDays := int(time.Since(created).Hours() / 24)
	totalKarma := about.Data.TotalKarma
	var karmaPerDay float64
	if ageDays > 0 {
		karmaPerDay = float64(totalKarma) / float64(ageDays)
	}

	row := dbx.RedditUser{
		Username:         username,
		RedditID:         about.Data.ID,
		CreatedUTC:       &created,
		AccountAgeDays:   ageDays,
		CommentKarma:     about.Data.CommentKarma,
		LinkKarma:        about.Data.LinkKarma,
		TotalKarma:       totalKarma,
		IsEmployee:       about.Data.IsEmployee,
		IsMod:            about.Data.IsMod,
		IsGold:           about.Data.IsGold,
		Verified:         about.Data.Verified,
		HasVerifiedEmail: about.Data.HasVerifiedEmail,
		IconImg:          unescapeURL(about.Data.IconImg),
		KarmaPerDay:      karmaPerDay,
	}

	submittedRaw, err := p.api.UserSubmitted(ctx, username, 30)
	if err != nil {
		log.Debug().Str("username", username).Err(err).Msg("redditscraper: submitted fetch failed, persisting profile only")
	} else if posts, err := parsePosts(submittedRaw); err == nil {
		applySubmittedStats(&row, posts)
	}

	now := time.Now().UTC()
	row.LastScrapedAt = &now

	if err := p.users.Upsert(ctx, row); err != nil {
		return fmt.Errorf("upsert user %s: %w", username, err)
	}
	return nil
}

func (p *Processor) persistSuspendedUser(ctx context.Context, username string) error {
	now := time.Now().UTC()
	row := dbx.RedditUser{Username: username, IsSuspended: true, LastScrapedAt: &now}
	if err := p.users.Upsert(ctx, row); err != nil {
		return fmt.Errorf("upsert suspended user %s: %w", username, err)
	}
	return nil
}

func applySubmittedStats(row *dbx.RedditUser, posts []postData) {
	n := len(posts)
	row.TotalPostsAnalyzed = n
	if n == 0 {
		return
	}

	var sumScore, sumComments int64
	contentCounts := map[string]int{"image": 0, "video": 0, "text": 0, "link": 0}
	hourCounts := make(map[int]int, 24)
	dayCounts := make(map[time.Weekday]int, 7)

	for _, post := range posts {
		sumScore += post.Score
		sumComments += post.NumComments
		contentCounts[classifyContentType(post)]++
		ts := redditEpoch(post.CreatedUTC)
		hourCounts[ts.Hour()]++
		dayCounts[ts.Weekday()]++
	}

	row.AvgPostScore = float64(sumScore) / float64(n)
	row.AvgPostComments = float64(sumComments) / float64(n)
	row.PreferredContentType = modeString(contentCounts)
	row.MostActivePostingHour = modeIntAsHour(hourCounts)
	row.MostActivePostingDay = modeWeekdayCounts(dayCounts)
}

// classifyContentType applies the image/video/text/link heuristic from
// spec.md §4.3: is_video wins, then a known image extension, then a
// non-empty selftext, else link.
func classifyContentType(p postData) string {
	if p.IsVideo {
		return "video"
	}
	lower := strings.ToLower(p.URL)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return "image"
		}
	}
	if strings.TrimSpace(p.Selftext) != "" {
		return "text"
	}
	return "link"
}

func modeString(counts map[string]int) string {
	best, bestCount := "", -1
	for k, c := range counts {
		if c > bestCount {
			best, bestCount = k, c
		}
	}
	return best
}

func modeIntAsHour(counts map[int]int) string {
	best, bestCount := 0, -1
	for hour, c := range counts {
		if c > bestCount {
			best, bestCount = hour, c
		}
	}
	return time.Date(0, 1, 1, best, 0, 0, 0, time.UTC).Format("15:00")
}

func modeWeekdayCounts(counts map[time.Weekday]int) string {
	best, bestCount := time.Sunday, -1
	for day, c := range counts {
		if c > bestCount {
			best, bestCount = day, c
		}
	}
	return weekdayNames[best]
}

func unescapeURL(raw string) string {
	unescaped, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return unescaped
}
