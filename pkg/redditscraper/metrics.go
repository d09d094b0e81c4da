package redditscraper

import (
	"math"
	"time"

	"github.com/socialscrape/engine/pkg/dbx"
)

var weekdayNames = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// SubredditMetrics is the derived set from spec.md §4.3 "Metric derivation".
type SubredditMetrics struct {
	AvgUpvotesPerPost float64
	Engagement        float64
	SubredditScore    float64
	BestPostingDay    string
	BestPostingHour   string
}

// DeriveMetrics filters stickied posts out of weeklyTop and computes the
// engagement/score/posting-time metrics. weeklyTop SHOULD already be the
// weekly top-10 set; no further truncation happens here.
func DeriveMetrics(weeklyTop []dbx.RedditPost) SubredditMetrics {
	var surviving []dbx.RedditPost
	for _, p := range weeklyTop {
		if !p.Stickied {
			surviving = append(surviving, p)
		}
	}
	n := len(surviving)
	if n == 0 {
		return SubredditMetrics{BestPostingDay: "N/A", BestPostingHour: "N/A"}
	}

	var sumScore, sumComments int64
	for _, p := range surviving {
		sumScore += p.Score
		sumComments += p.NumComments
	}

	avgUpvotes := float64(sumScore) / float64(n)

	var engagement float64
	if sumScore > 0 {
		engagement = float64(sumComments) / float64(sumScore)
	}

	var score float64
	if engagement > 0 && avgUpvotes > 0 {
		score = math.Sqrt(engagement * avgUpvotes * 1000)
	}

	bestDay, bestHour := "N/A", "N/A"
	if engagement > 0.01 {
		bestDay = modeWeekday(surviving)
		bestHour = modeHour(surviving)
	}

	return SubredditMetrics{
		AvgUpvotesPerPost: avgUpvotes,
		Engagement:        engagement,
		SubredditScore:    score,
		BestPostingDay:    bestDay,
		BestPostingHour:   bestHour,
	}
}

func modeWeekday(posts []dbx.RedditPost) string {
	counts := make(map[time.Weekday]int, 7)
	for _, p := range posts {
		counts[p.CreatedUTC.Weekday()]++
	}
	best, bestCount := time.Sunday, -1
	for day, count := range counts {
		if count > bestCount {
			best, bestCount = day, count
		}
	}
	return weekdayNames[best]
}

func modeHour(posts []dbx.RedditPost) string {
	counts := make(map[int]int, 24)
	for _, p := range posts {
		counts[p.CreatedUTC.Hour()]++
	}
	best, bestCount := 0, -1
	for hour, count := range counts {
		if count > bestCount {
			best, bestCount = hour, count
		}
	}
	return time.Date(0, 1, 1, best, 0, 0, 0, time.UTC).Format("15:00")
}
