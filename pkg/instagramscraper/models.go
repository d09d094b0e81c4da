package instagramscraper

import "encoding/json"

// profileResponse is the subset of /profile the Processor reads.
type profileResponse struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	Biography     string `json:"biography"`
	ProfilePicURL string `json:"profile_pic_url"`
	Followers     int64  `json:"follower_count"`
	Following     int64  `json:"following_count"`
	PostsCount    int64  `json:"media_count"`
}

// mediaItem is the subset of a Page item the Processor maps into dbx.Reel /
// dbx.IGPost.
type mediaItem struct {
	MediaPK     string `json:"pk"`
	MediaType   string `json:"media_type"`
	Caption     string `json:"caption_text"`
	LikeCount   int64  `json:"like_count"`
	CommentCount int64 `json:"comment_count"`
	PlayCount   int64  `json:"play_count"`
	TakenAt     int64  `json:"taken_at"`
	VideoURL    string `json:"video_url"`
	ImageURLs   []string `json:"image_urls"`
}

func parseMediaItems(raw []json.RawMessage) []mediaItem {
	out := make([]mediaItem, 0, len(raw))
	for _, r := range raw {
		var m mediaItem
		if err := json.Unmarshal(r, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
