package forecast

import (
	"slices"
	"time"

	"github.com/joliver3/gfs-winter-weather/internal/domain"
)

// maxCandidates caps the runs considered per request: every cycle of today
// and yesterday.
const maxCandidates = 8

// CandidateRuns lists the GFS cycles of today and yesterday (UTC) that are
// not in the future, newest first. With completeOnly, only runs initialised
// at least completeAfter before now are kept, unless that leaves none.
func CandidateRuns(now time.Time, completeOnly bool, completeAfter time.Duration) []domain.RunID {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var all []domain.RunID
	for _, day := range []time.Time{today, today.AddDate(0, 0, -1)} {
		for hour := 18; hour >= 0; hour -= domain.LeadStep {
			init := day.Add(time.Duration(hour) * time.Hour)
			if init.After(now) {
				continue
			}
			all = append(all, domain.RunID{Init: init})
		}
	}

	runs := all
	if completeOnly {
		cutoff := now.Add(-completeAfter)
		runs = slices.DeleteFunc(slices.Clone(all), func(r domain.RunID) bool {
			return r.Init.After(cutoff)
		})
		if len(runs) == 0 {
			runs = all
		}
	}
	if len(runs) > maxCandidates {
		runs = runs[:maxCandidates]
	}
	return runs
}

// LeadHours returns 0..maxLead in steps of domain.LeadStep.
func LeadHours(maxLead int) []int {
	leads := make([]int, 0, maxLead/domain.LeadStep+1)
	for h := 0; h <= maxLead; h += domain.LeadStep {
		leads = append(leads, h)
	}
	return leads
}
