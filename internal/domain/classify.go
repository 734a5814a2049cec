package domain

import (
	"fmt"
	"time"
)

// Tier boundaries, measured from the classification time to window start.
const (
	DetailedHorizon  = 72 * time.Hour
	FinalCallHorizon = 24 * time.Hour
)

// Tier names one output section of a forecast response.
type Tier string

const (
	TierNone      Tier = "none"
	TierPossible  Tier = "possible"
	TierDetailed  Tier = "detailed"
	TierFinalCall Tier = "finalCall"
)

// MessagePossible is the body of the possible tier.
const MessagePossible = "Winter weather is possible."

// TierFor returns the tier a window starting at start falls in at now.
func TierFor(start, now time.Time) Tier {
	lead := start.Sub(now)
	switch {
	case lead > DetailedHorizon:
		return TierPossible
	case lead >= FinalCallHorizon:
		return TierDetailed
	default:
		return TierFinalCall
	}
}

// Classify assigns each agreed window to exactly one tier at time now.
// Windows that already ended, or that fewer than minAgreement runs show,
// are dropped. Possible and final-call keep only their earliest window.
// Only Possible, Detailed, FinalCall and Message are set on the result.
func Classify(windows []ForecastWindow, now time.Time, minAgreement int) ForecastResponse {
	resp := ForecastResponse{Detailed: []DetailedWindow{}}
	var possibleStart, finalStart time.Time
	for _, w := range windows {
		if w.RunsAgreeing < minAgreement || w.End.Before(now) {
			continue
		}
		switch TierFor(w.Start, now) {
		case TierPossible:
			if resp.Possible == nil || w.Start.Before(possibleStart) {
				possibleStart = w.Start
				resp.Possible = &PossibleOutlook{
					Message:   MessagePossible,
					DateRange: w.Start.Format(time.DateOnly) + " to " + w.End.Format(time.DateOnly),
				}
			}
		case TierDetailed:
			resp.Detailed = append(resp.Detailed, DetailedWindow{
				StartTime:     w.Start,
				EndTime:       w.End,
				DurationHours: w.DurationHours,
				SnowInches:    w.SnowInches,
				Category:      w.Category,
				LeadHours:     w.LeadHour,
				RunsAgreeing:  w.RunsAgreeing,
			})
		case TierFinalCall:
			if resp.FinalCall == nil || w.Start.Before(finalStart) {
				finalStart = w.Start
				resp.FinalCall = &FinalCall{
					Message:       finalCallMessage(w),
					StartTime:     w.Start,
					EndTime:       w.End,
					DurationHours: w.DurationHours,
					SnowInches:    w.SnowInches,
					Category:      w.Category,
				}
			}
		}
	}
	if !resp.HasWinterWeather() {
		resp.Message = MessageNoWinterWeather
	}
	return resp
}

func finalCallMessage(w ForecastWindow) string {
	return fmt.Sprintf("Winter weather event: start %s, duration %d hours, expected snow %.1f in (%s).",
		w.Start.UTC().Format(time.RFC3339), w.DurationHours, w.SnowInches, w.Category)
}
