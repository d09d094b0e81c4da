package instagramscraper

import "time"

// ViralThresholds holds the V_min/M constants from spec.md §4.4.
type ViralThresholds struct {
	MinPlayCount int64
	Multiplier   float64
}

// DefaultViralThresholds matches spec.md's defaults: V_min=50,000, M=5.
var DefaultViralThresholds = ViralThresholds{MinPlayCount: 50000, Multiplier: 5}

// IsViral applies spec.md §4.4's formula: play_count >= V_min AND
// play_count >= M * avgViewsPerReelCached. A creator with no established
// baseline (avgViewsPerReelCached <= 0) never qualifies, matching
// original_source/instagram_dashboard/viral-detector.py's
// "avg_views_per_reel_cached IS NOT NULL AND avg_views_per_reel_cached > 0"
// gate.
func (t ViralThresholds) IsViral(playCount int64, avgViewsPerReelCached float64) bool {
	if playCount < t.MinPlayCount {
		return false
	}
	if avgViewsPerReelCached <= 0 {
		return false
	}
	return float64(playCount) >= t.Multiplier*avgViewsPerReelCached
}

// ViralMultiplier reports how many multiples of the creator's average
// view-rate this item represents, for storage/diagnostics.
func ViralMultiplier(playCount int64, avgViewsPerReelCached float64) float64 {
	if avgViewsPerReelCached <= 0 {
		return 0
	}
	return float64(playCount) / avgViewsPerReelCached
}

// ApplyViralTransition sets is_viral and, only on the first false->true
// transition, viral_detected_at (spec.md §4.4 step 6, §8 "monotonicity").
func ApplyViralTransition(wasViral bool, wasDetectedAt *time.Time, nowViral bool, now time.Time) (bool, *time.Time) {
	if wasViral && wasDetectedAt != nil {
		return nowViral, wasDetectedAt
	}
	if nowViral {
		return true, &now
	}
	return false, nil
}
