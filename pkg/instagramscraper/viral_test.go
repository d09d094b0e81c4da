package instagramscraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestViralThresholds_IsViral(t *testing.T) {
	th := DefaultViralThresholds

	assert.False(t, th.IsViral(49999, 1000), "below the absolute floor is never viral")
	assert.True(t, th.IsViral(50000, 1000), "at the floor with a low average is viral")
	assert.False(t, th.IsViral(60000, 20000), "above the floor but below 5x the average is not viral")
	assert.True(t, th.IsViral(100000, 20000), "above the floor and at 5x the average is viral")
	assert.False(t, th.IsViral(1000000, 0), "a creator with no established baseline never qualifies")
	assert.False(t, th.IsViral(1000000, -1), "a negative baseline never qualifies")
}

func TestApplyViralTransition_SetsDetectedAtOnlyOnce(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	isViral, detectedAt := ApplyViralTransition(false, nil, true, t0)
	assert.True(t, isViral)
	assert.Equal(t, t0, *detectedAt)

	// Once already viral with a recorded timestamp, a later call must
	// preserve the original transition time.
	isViral, detectedAt = ApplyViralTransition(true, &t0, true, t1)
	assert.True(t, isViral)
	assert.Equal(t, t0, *detectedAt)
}

func TestApplyViralTransition_NeverViralStaysNil(t *testing.T) {
	isViral, detectedAt := ApplyViralTransition(false, nil, false, time.Now())
	assert.False(t, isViral)
	assert.Nil(t, detectedAt)
}
