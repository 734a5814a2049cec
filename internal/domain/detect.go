package domain

import (
	"cmp"
	"math"
	"slices"
	"time"
)

const mmPerInch = 25.4

// SnowCategory buckets a snow amount in inches.
func SnowCategory(inches float64) Category {
	switch {
	case inches < 0.5:
		return CategoryTrace
	case inches < 3:
		return CategoryLight
	case inches < 6:
		return CategoryModerate
	default:
		return CategoryHeavy
	}
}

// SnowInches converts liquid millimetres to snow depth, rounded to 0.1 in.
func SnowInches(liquidMM, ratio float64) float64 {
	return math.Round(liquidMM/mmPerInch*ratio*10) / 10
}

// SnowIndicated reports whether a sample is cold and wet enough for snow.
func SnowIndicated(s Sample, th Thresholds) bool {
	return s.Precip6hMM >= th.MinPrecipMM && s.TempC <= th.SnowTempC
}

// RunWindows finds the contiguous spans of snow-indicated samples in one run.
func RunWindows(run Run, th Thresholds) []ForecastWindow {
	var windows []ForecastWindow
	var cur []Sample
	flush := func() {
		if len(cur) > 0 {
			windows = append(windows, newWindow(run.ID, cur, th))
			cur = nil
		}
	}
	for _, s := range run.Samples {
		if SnowIndicated(s, th) {
			cur = append(cur, s)
			continue
		}
		flush()
	}
	flush()
	return windows
}

// newWindow summarises a span: start and end are the valid times of its first
// and last samples.
func newWindow(id RunID, span []Sample, th Thresholds) ForecastWindow {
	liquid := 0.0
	for _, s := range span {
		liquid += s.Precip6hMM
	}
	snow := SnowInches(liquid, th.SnowRatio)
	return ForecastWindow{
		Start:         span[0].ValidTime,
		End:           span[len(span)-1].ValidTime,
		DurationHours: len(span) * LeadStep,
		LiquidMM:      round2(liquid),
		SnowInches:    snow,
		Category:      SnowCategory(snow),
		LeadHour:      span[0].LeadHour,
		RunsAgreeing:  1,
		Run:           id,
	}
}

// DetectWindows finds snow windows in every run and merges the ones that
// describe the same event. Runs must be ordered most recent first; the
// representative window of each event comes from the most recent run that
// shows it and RunsAgreeing counts the runs that do. Each run contributes at
// most one window per event, and within a run the pairs with the closest
// starts are matched first. The result is ordered by start time.
func DetectWindows(runs []Run, th Thresholds) []ForecastWindow {
	var events []ForecastWindow
	for _, r := range runs {
		windows := RunWindows(r, th)
		matched := make([]bool, len(windows))
		agreed := make([]bool, len(events))
		for _, p := range candidatePairs(events, windows, th.MatchWindow) {
			if agreed[p.event] || matched[p.window] {
				continue
			}
			events[p.event].RunsAgreeing++
			agreed[p.event], matched[p.window] = true, true
		}
		for j, w := range windows {
			if !matched[j] {
				events = append(events, w)
			}
		}
	}
	slices.SortStableFunc(events, func(a, b ForecastWindow) int {
		return a.Start.Compare(b.Start)
	})
	return events
}

type windowPair struct {
	event  int
	window int
	diff   time.Duration
}

// candidatePairs lists every (event, window) pair whose starts lie within
// tolerance, closest first. Ties keep event then window order.
func candidatePairs(events, windows []ForecastWindow, tolerance time.Duration) []windowPair {
	var pairs []windowPair
	for e, ev := range events {
		for w, win := range windows {
			if d := absDuration(win.Start.Sub(ev.Start)); d <= tolerance {
				pairs = append(pairs, windowPair{event: e, window: w, diff: d})
			}
		}
	}
	slices.SortStableFunc(pairs, func(a, b windowPair) int {
		return cmp.Compare(a.diff, b.diff)
	})
	return pairs
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
