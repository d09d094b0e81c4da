// Package instagramscraper implements InstagramScraperCycle + Processor
// (spec.md §4.4): the idle/running/waiting state machine, per-creator
// pipeline, extraction, rollups, and viral detection.
package instagramscraper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socialscrape/engine/pkg/dbx"
	"github.com/socialscrape/engine/pkg/instagramapi"
)

// MediaUploader is the narrow capability Processor needs from MediaPipeline:
// hand off a CDN URL and get back a durable URL (R2 or, on failure, the
// original CDN URL unchanged — spec.md §4.5 failure policy).
type MediaUploader interface {
	Upload(ctx context.Context, cdnURL, class, creatorID, mediaPK string, index int) (string, error)
}

// Processor runs the per-creator pipeline against one InstagramAPIClient.
type Processor struct {
	api        *instagramapi.Client
	creators   dbx.CreatorRepository
	content    dbx.IGContentRepository
	media      MediaUploader
	mediaEnabled bool
	thresholds ViralThresholds
}

// NewProcessor constructs a Processor.
func NewProcessor(api *instagramapi.Client, creators dbx.CreatorRepository, content dbx.IGContentRepository, media MediaUploader, mediaEnabled bool, thresholds ViralThresholds) *Processor {
	return &Processor{api: api, creators: creators, content: content, media: media, mediaEnabled: mediaEnabled, thresholds: thresholds}
}

// ProcessCreator runs the six-step per-creator pipeline (spec.md §4.4 "Fan-out").
func (p *Processor) ProcessCreator(ctx context.Context, igUserID string, isNew bool) error {
	cached, err := p.creators.Load(ctx, igUserID)
	if err != nil && err != dbx.ErrNotFound {
		return fmt.Errorf("load cached creator %s: %w", igUserID, err)
	}

	username := igUserID
	if cached != nil && cached.Username != "" {
		username = cached.Username
	}
	profileRaw, err := p.api.Profile(ctx, username)
	if err != nil {
		return fmt.Errorf("fetch profile %s: %w", igUserID, err)
	}
	var profile profileResponse
	if err := json.Unmarshal(profileRaw, &profile); err != nil {
		return fmt.Errorf("parse profile %s: %w", igUserID, err)
	}

	profilePicURL := profile.ProfilePicURL
	if p.mediaEnabled && profilePicURL != "" {
		if uploaded, err := p.media.Upload(ctx, profilePicURL, "profile", igUserID, igUserID, 0); err == nil {
			profilePicURL = uploaded
		} else {
			log.Warn().Err(err).Str("ig_user_id", igUserID).Msg("instagramscraper: profile pic upload failed, keeping CDN url")
		}
	}

	now := time.Now().UTC()
	creatorRow := dbx.Creator{
		IGUserID:       igUserID,
		Username:       profile.Username,
		FullName:       profile.FullName,
		Biography:      profile.Biography,
		ProfilePicURL:  profilePicURL,
		Followers:      profile.Followers,
		Following:      profile.Following,
		PostsCount:     profile.PostsCount,
		RawProfileJSON: json.RawMessage(profileRaw),
		LastScrapedAt:  &now,
	}
	if cached != nil {
		creatorRow.ReviewStatus = cached.ReviewStatus
		creatorRow.RelatedCreatorsProcessed = cached.RelatedCreatorsProcessed
		creatorRow.AvgViewsPerReelCached = cached.AvgViewsPerReelCached
	} else {
		creatorRow.ReviewStatus = "pending"
	}
	if err := p.creators.Upsert(ctx, creatorRow); err != nil {
		return fmt.Errorf("upsert creator %s: %w", igUserID, err)
	}

	reelTarget := 30
	if isNew {
		reelTarget = 90
	}
	reels, err := p.fetchReels(ctx, igUserID, reelTarget)
	if err != nil {
		log.Error().Err(err).Str("ig_user_id", igUserID).Msg("instagramscraper: reels fetch failed")
	}

	postTarget := 30
	if isNew {
		postTarget = 90
	}
	posts, err := p.fetchPosts(ctx, igUserID, postTarget)
	if err != nil {
		log.Error().Err(err).Str("ig_user_id", igUserID).Msg("instagramscraper: posts fetch failed")
	}

	avgViewsPerReelCached := creatorRow.AvgViewsPerReelCached

	reelRows := make([]dbx.Reel, 0, len(reels))
	var totalViews int64
	for i, item := range reels {
		row := p.mapReel(ctx, igUserID, item, i, avgViewsPerReelCached)
		totalViews += row.PlayCount
		reelRows = append(reelRows, row)
	}
	if len(reelRows) > 0 {
		if _, err := p.content.UpsertReels(ctx, reelRows); err != nil {
			log.Error().Err(err).Str("ig_user_id", igUserID).Msg("instagramscraper: failed to upsert reels")
		}
	}

	postRows := make([]dbx.IGPost, 0, len(posts))
	for i, item := range posts {
		row := p.mapPost(ctx, igUserID, item, i, avgViewsPerReelCached)
		postRows = append(postRows, row)
	}
	if len(postRows) > 0 {
		if _, err := p.content.UpsertPosts(ctx, postRows); err != nil {
			log.Error().Err(err).Str("ig_user_id", igUserID).Msg("instagramscraper: failed to upsert posts")
		}
	}

	// Step 5: recompute rollups.
	if len(reelRows) > 0 {
		newAvg := float64(totalViews) / float64(len(reelRows))
		if err := p.creators.UpdateRollup(ctx, igUserID, totalViews, newAvg); err != nil {
			log.Error().Err(err).Str("ig_user_id", igUserID).Msg("instagramscraper: failed to update rollup")
		}
	}

	return nil
}

func (p *Processor) fetchReels(ctx context.Context, igUserID string, target int) ([]mediaItem, error) {
	var out []mediaItem
	maxID := ""
	for len(out) < target {
		page, err := p.api.Reels(ctx, igUserID, minInt(30, target-len(out)), maxID)
		if err != nil {
			return out, err
		}
		out = append(out, parseMediaItems(page.Items)...)
		if !page.PagingInfo.MoreAvailable || page.PagingInfo.MaxID == "" {
			break
		}
		maxID = page.PagingInfo.MaxID
	}
	return out, nil
}

func (p *Processor) fetchPosts(ctx context.Context, igUserID string, target int) ([]mediaItem, error) {
	var out []mediaItem
	maxID := ""
	for len(out) < target {
		page, err := p.api.UserFeeds(ctx, igUserID, minInt(30, target-len(out)), maxID)
		if err != nil {
			return out, err
		}
		out = append(out, parseMediaItems(page.Items)...)
		if !page.PagingInfo.MoreAvailable || page.PagingInfo.MaxID == "" {
			break
		}
		maxID = page.PagingInfo.MaxID
	}
	return out, nil
}

func (p *Processor) mapReel(ctx context.Context, igUserID string, item mediaItem, index int, avgViewsPerReelCached float64) dbx.Reel {
	nowViral := p.thresholds.IsViral(item.PlayCount, avgViewsPerReelCached)
	isViral, detectedAt := ApplyViralTransition(false, nil, nowViral, time.Now().UTC())

	videoURL := item.VideoURL
	if p.mediaEnabled && videoURL != "" {
		if uploaded, err := p.media.Upload(ctx, videoURL, "video", igUserID, item.MediaPK, index); err == nil {
			videoURL = uploaded
		} else {
			log.Warn().Err(err).Str("media_pk", item.MediaPK).Msg("instagramscraper: reel video upload failed, keeping CDN url")
		}
	}

	return dbx.Reel{
		MediaPK:           item.MediaPK,
		CreatorID:         igUserID,
		Caption:           item.Caption,
		Hashtags:          ExtractHashtags(item.Caption),
		Mentions:          ExtractMentions(item.Caption),
		IsPaidPartnership: IsPaidPartnership(item.Caption),
		PlayCount:         item.PlayCount,
		LikeCount:         item.LikeCount,
		CommentCount:      item.CommentCount,
		VideoURL:          videoURL,
		IsViral:           isViral,
		ViralMultiplier:   ViralMultiplier(item.PlayCount, avgViewsPerReelCached),
		ViralDetectedAt:   detectedAt,
		PostedAt:          time.Unix(item.TakenAt, 0).UTC(),
	}
}

func (p *Processor) mapPost(ctx context.Context, igUserID string, item mediaItem, index int, avgViewsPerReelCached float64) dbx.IGPost {
	nowViral := p.thresholds.IsViral(item.PlayCount, avgViewsPerReelCached)
	isViral, detectedAt := ApplyViralTransition(false, nil, nowViral, time.Now().UTC())

	imageURLs := item.ImageURLs
	videoURL := item.VideoURL
	if p.mediaEnabled {
		for i, u := range imageURLs {
			if uploaded, err := p.media.Upload(ctx, u, "image", igUserID, item.MediaPK, i); err == nil {
				imageURLs[i] = uploaded
			} else {
				log.Warn().Err(err).Str("media_pk", item.MediaPK).Msg("instagramscraper: carousel image upload failed, keeping CDN url")
			}
		}
		if videoURL != "" {
			if uploaded, err := p.media.Upload(ctx, videoURL, "video", igUserID, item.MediaPK, index); err == nil {
				videoURL = uploaded
			}
		}
	}

	return dbx.IGPost{
		MediaPK:           item.MediaPK,
		CreatorID:         igUserID,
		MediaType:         item.MediaType,
		CaptionText:       item.Caption,
		Hashtags:          ExtractHashtags(item.Caption),
		Mentions:          ExtractMentions(item.Caption),
		IsPaidPartnership: IsPaidPartnership(item.Caption),
		LikeCount:         item.LikeCount,
		CommentCount:      item.CommentCount,
		ImageURLs:         imageURLs,
		VideoURL:          videoURL,
		PlayCount:         item.PlayCount,
		IsViral:           isViral,
		ViralMultiplier:   ViralMultiplier(item.PlayCount, avgViewsPerReelCached),
		ViralDetectedAt:   detectedAt,
		PostedAt:          time.Unix(item.TakenAt, 0).UTC(),
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// RelatedProfiles runs the related_creators route's single fetch, used by
// the Cycle's single-run-guarded discovery pass (spec.md §9 Open Questions).
func (p *Processor) RelatedProfiles(ctx context.Context, igUserID string) ([]string, error) {
	raw, err := p.api.RelatedProfiles(ctx, igUserID)
	if err != nil {
		return nil, fmt.Errorf("fetch related profiles %s: %w", igUserID, err)
	}
	var related []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &related); err != nil {
		return nil, fmt.Errorf("parse related profiles %s: %w", igUserID, err)
	}
	out := make([]string, 0, len(related))
	for _, r := range related {
		out = append(out, r.ID)
	}
	if err := p.creators.MarkRelatedProcessed(ctx, igUserID); err != nil {
		log.Error().Err(err).Str("ig_user_id", igUserID).Msg("instagramscraper: failed to mark related_creators_processed")
	}
	return out, nil
}
