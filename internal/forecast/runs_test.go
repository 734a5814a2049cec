package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joliver3/gfs-winter-weather/internal/domain"
)

func runStrings(runs []domain.RunID) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.String()
	}
	return out
}

func TestCandidateRuns(t *testing.T) {
	now := time.Date(2026, 1, 5, 13, 30, 0, 0, time.UTC)

	t.Run("all non-future cycles newest first", func(t *testing.T) {
		got := CandidateRuns(now, false, 6*time.Hour)
		assert.Equal(t, []string{
			"20260105_12Z", "20260105_06Z", "20260105_00Z",
			"20260104_18Z", "20260104_12Z", "20260104_06Z", "20260104_00Z",
		}, runStrings(got))
	})

	t.Run("complete only drops young runs", func(t *testing.T) {
		got := CandidateRuns(now, true, 6*time.Hour)
		assert.Equal(t, "20260105_06Z", got[0].String())
		assert.Len(t, got, 6)
	})

	t.Run("complete only boundary is inclusive", func(t *testing.T) {
		got := CandidateRuns(time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), true, 6*time.Hour)
		assert.Equal(t, "20260105_06Z", got[0].String())
	})

	t.Run("late in the day caps at eight", func(t *testing.T) {
		got := CandidateRuns(time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC), false, 6*time.Hour)
		assert.Len(t, got, 8)
		assert.Equal(t, "20260105_18Z", got[0].String())
		assert.Equal(t, "20260104_00Z", got[7].String())
	})

	t.Run("falls back to all runs when none are old enough", func(t *testing.T) {
		got := CandidateRuns(time.Date(2026, 1, 5, 1, 0, 0, 0, time.UTC), true, 48*time.Hour)
		assert.Equal(t, []string{
			"20260105_00Z", "20260104_18Z", "20260104_12Z", "20260104_06Z", "20260104_00Z",
		}, runStrings(got))
	})

	t.Run("non-UTC now", func(t *testing.T) {
		loc := time.FixedZone("CST", -6*3600)
		got := CandidateRuns(time.Date(2026, 1, 4, 19, 0, 0, 0, loc), false, 6*time.Hour) // 01:00Z Jan 5
		assert.Equal(t, "20260105_00Z", got[0].String())
	})
}

func TestLeadHours(t *testing.T) {
	assert.Len(t, LeadHours(240), 41)
	assert.Equal(t, []int{0, 6, 12}, LeadHours(12))
	assert.Equal(t, []int{0}, LeadHours(0))
}
