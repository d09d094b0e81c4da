package dbx

import (
	"encoding/json"
	"time"
)

// Proxy is the external proxies row (spec.md §3 Proxy).
type Proxy struct {
	ID         string
	ServiceName string
	DisplayName string
	ProxyURL    string
	ProxyUsername string
	ProxyPassword  string
	Priority    int
	MaxThreads  int
	IsActive    bool

	TotalRequests    int64
	SuccessCount     int64
	ErrorCount       int64
	ConsecutiveErrors int
	AvgResponseTimeMs float64
	LastUsedAt        *time.Time
	LastErrorAt       *time.Time
	LastErrorMessage  string
}

// Account is the external Reddit accounts row (spec.md §3 Account).
type Account struct {
	ID             string
	Username       string
	ClientID       string
	ClientSecret   string
	Status         string // active | rate_limited | suspended | disabled | error
	HealthScore    float64
	TotalRequests  int64
	FailedRequests int64
	RateLimitHits  int64
	ConsecutiveFailures int
	LastUsedAt          *time.Time
	RateLimitedUntil    *time.Time
	CooldownUntil       *time.Time
	AvgResponseTimeMs   float64
	SuccessRate         float64
}

// ControlRecord is the system_control row (spec.md §3 ControlRecord).
type ControlRecord struct {
	ScriptName     string
	ScriptType     string
	Enabled        bool
	Status         string // starting|running|stopped|error|waiting
	PID            *int
	StartedAt      *time.Time
	StoppedAt      *time.Time
	LastHeartbeat  *time.Time
	LastError      string
	LastErrorAt    *time.Time
	Config         map[string]any
	UpdatedAt      time.Time
	UpdatedBy      string
}

// IsStale reports whether the last heartbeat is older than threshold.
func (c *ControlRecord) IsStale(threshold time.Duration, now time.Time) bool {
	if c.LastHeartbeat == nil {
		return true
	}
	return now.Sub(*c.LastHeartbeat) > threshold
}

// SystemLog is one row appended to system_logs (spec.md §4.1 Log).
type SystemLog struct {
	Timestamp  time.Time
	Source     string
	ScriptName string
	Level      string
	Message    string
	Context    map[string]any
	DurationMs *int64
}

// Subreddit is the subreddits row (spec.md §3, §6).
type Subreddit struct {
	Name                string
	Title               string
	Description         string
	PublicDescription   string
	Subscribers         int64
	Over18              bool
	CreatedUTC          *time.Time
	AllowImages         bool
	AllowVideos         bool
	AllowPolls          bool
	SpoilersEnabled     bool
	VerificationRequired bool
	RulesData           json.RawMessage
	Engagement          float64
	SubredditScore      float64
	AvgUpvotesPerPost   float64
	BestPostingDay      string
	BestPostingHour     string
	SubredditType       string
	URL                 string
	WikiEnabled         bool

	// Operator-curated fields. Pointers so "unset" is distinguishable from
	// a zero value — the Processor must not clobber these (spec.md §4.3 step 7).
	Review          *string
	PrimaryCategory *string
	Tags            []string

	LastScrapedAt *time.Time
}

// RedditUser is the users row (spec.md §3, §6).
type RedditUser struct {
	Username              string
	RedditID              string
	CreatedUTC            *time.Time
	AccountAgeDays         int
	CommentKarma           int64
	LinkKarma              int64
	TotalKarma             int64
	IsEmployee             bool
	IsMod                  bool
	IsGold                 bool
	Verified               bool
	HasVerifiedEmail       bool
	IsSuspended            bool
	IconImg                string
	AvgPostScore           float64
	AvgPostComments        float64
	TotalPostsAnalyzed     int
	KarmaPerDay            float64
	PreferredContentType   string
	MostActivePostingHour  string
	MostActivePostingDay   string

	OurCreator    bool // operator-curated, preserved across merges
	LastScrapedAt *time.Time
}

// RedditPost is one row of posts (spec.md §6); kept minimal per "20+ engagement
// fields" footnote — only the fields the metric derivation and dedup logic touch.
type RedditPost struct {
	RedditID     string
	SubredditName string
	Author       string
	Title        string
	Score        int64
	NumComments  int64
	CreatedUTC   time.Time
	Stickied     bool
}

// Creator is the creators row (spec.md §3, §6, Instagram).
type Creator struct {
	IGUserID                string
	Username                string
	FullName                string
	Biography               string
	ProfilePicURL            string
	ReviewStatus             string // "ok", "pending", ...
	RelatedCreatorsProcessed bool
	Followers               int64
	Following               int64
	PostsCount               int64
	ReelsCount               int64
	TotalViews               int64
	AvgViewsPerReel          float64
	AvgViewsPerReelCached    float64
	RawProfileJSON           json.RawMessage

	BodyTags      []string // operator/AI curated, preserved
	TagConfidence float64
	TagsAnalyzedAt *time.Time
	ModelVersion   string

	LastScrapedAt *time.Time
}

// IGPost is the posts_ig row (spec.md §6).
type IGPost struct {
	MediaPK            string
	CreatorID           string
	MediaType           string
	CaptionText         string
	Hashtags            []string
	Mentions            []string
	IsPaidPartnership   bool
	LikeCount           int64
	CommentCount        int64
	ImageURLs           []string
	VideoURL            string
	PlayCount           int64
	IsViral             bool
	ViralMultiplier     float64
	ViralDetectedAt     *time.Time
	PostedAt            time.Time
}

// Reel is the reels row (spec.md §6).
type Reel struct {
	MediaPK         string
	CreatorID       string
	Caption         string
	Hashtags        []string
	Mentions        []string
	IsPaidPartnership bool
	PlayCount       int64
	LikeCount       int64
	CommentCount    int64
	VideoURL        string
	IsViral         bool
	ViralMultiplier float64
	ViralDetectedAt *time.Time
	PostedAt        time.Time
}
