package stats

import (
	"sort"
	"time"
)

const (
	// PeriodForPostsStats is the trailing window of posts used for the stats
	PeriodForPostsStats = 7 * 24 * time.Hour
	// MinLifetimeOfPost is the age after which the view count of a post is trusted
	MinLifetimeOfPost = 24 * time.Hour
	// MinPostsNumForStats is the min number of matured posts needed for the stats
	MinPostsNumForStats = 5
)

// Sample holds the fields of a post the engagement stats are computed from
type Sample struct {
	PublishedAt time.Time
	CheckedAt   time.Time
	Views       *int
	Likes       int
}

// WindowStart returns the earliest publication time of a post that can
// contribute to the stats computed at now
func WindowStart(now time.Time) time.Time {
	return now.Add(-(PeriodForPostsStats + MinLifetimeOfPost))
}

// Engagement computes the median views per post and the median likes per
// view over the matured posts of the window. Both are nil when there are
// fewer than MinPostsNumForStats such posts.
func Engagement(samples []Sample, now time.Time) (viewsPerPost, likesPerView *float64) {
	windowStart := WindowStart(now)

	views := make([]float64, 0, len(samples))
	ratios := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.PublishedAt.Before(windowStart) {
			continue
		}
		if s.CheckedAt.Before(s.PublishedAt.Add(MinLifetimeOfPost)) {
			continue
		}
		if s.Views == nil || *s.Views <= 0 {
			continue
		}
		views = append(views, float64(*s.Views))
		ratios = append(ratios, float64(s.Likes)/float64(*s.Views))
	}

	if len(views) < MinPostsNumForStats {
		return nil, nil
	}

	vpp := Median(views)
	lpv := Median(ratios)
	return &vpp, &lpv
}

// Median returns the middle value of values, or the mean of the two middle
// values for an even count. values is not modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
