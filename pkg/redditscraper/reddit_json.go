package redditscraper

import (
	"encoding/json"
	"time"
)

// The following mirror the subset of Reddit's public JSON shapes the
// Processor actually reads. Reddit wraps most responses in a Listing
// envelope: {"kind": "Listing", "data": {"children": [{"kind": "t3", "data": {...}}]}}.

type aboutResponse struct {
	Data struct {
		DisplayName          string  `json:"display_name"`
		Title                string  `json:"title"`
		Description          string  `json:"description"`
		PublicDescription    string  `json:"public_description"`
		Subscribers          int64   `json:"subscribers"`
		Over18               bool    `json:"over18"`
		CreatedUTC           float64 `json:"created_utc"`
		SubmitTextHTML       string  `json:"submit_text_html"`
		AllowImages          bool    `json:"allow_images"`
		AllowVideos          bool    `json:"allow_videos"`
		AllowPolls           bool    `json:"allow_polls"`
		SpoilersEnabled      bool    `json:"spoilers_enabled"`
		SubredditType        string  `json:"subreddit_type"`
		URL                  string  `json:"url"`
		WikiEnabled          bool    `json:"wiki_enabled"`
	} `json:"data"`
}

type rulesResponse struct {
	Rules []struct {
		ShortName   string `json:"short_name"`
		Description string `json:"description"`
	} `json:"rules"`
}

type listingResponse struct {
	Data struct {
		Children []struct {
			Data postData `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type postData struct {
	Name        string  `json:"name"`
	Author      string  `json:"author"`
	Title       string  `json:"title"`
	Score       int64   `json:"score"`
	NumComments int64   `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
	Selftext    string  `json:"selftext"`
	URL         string  `json:"url"`
	IsVideo     bool    `json:"is_video"`
	Subreddit   string  `json:"subreddit"`
}

type userAboutResponse struct {
	Data struct {
		Name               string  `json:"name"`
		ID                 string  `json:"id"`
		CreatedUTC         float64 `json:"created_utc"`
		CommentKarma       int64   `json:"comment_karma"`
		LinkKarma          int64   `json:"link_karma"`
		TotalKarma         int64   `json:"total_karma"`
		IsEmployee         bool    `json:"is_employee"`
		IsMod              bool    `json:"is_mod"`
		IsGold             bool    `json:"is_gold"`
		Verified           bool    `json:"verified"`
		HasVerifiedEmail   bool    `json:"has_verified_email"`
		IconImg            string  `json:"icon_img"`
	} `json:"data"`
}

func parsePosts(raw []byte) ([]postData, error) {
	var listing listingResponse
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, err
	}
	out := make([]postData, 0, len(listing.Data.Children))
	for _, c := range listing.Data.Children {
		out = append(out, c.Data)
	}
	return out, nil
}

func redditEpoch(sec float64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}
