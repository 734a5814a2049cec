package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ForecastAlert is an actionable forecast for a watched location.
type ForecastAlert struct {
	ID          string           `json:"id"`
	Lat         float64          `json:"lat"`
	Lon         float64          `json:"lon"`
	Tier        Tier             `json:"tier"`
	Run         string           `json:"run_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Forecast    ForecastResponse `json:"forecast"`
}

// Key is the message key alerts are partitioned by.
func (a ForecastAlert) Key() string {
	return fmt.Sprintf("%.2f,%.2f", a.Lat, a.Lon)
}

// NewForecastAlert builds an alert for resp, or returns false when the
// response carries no winter weather. The tier is the most imminent one.
func NewForecastAlert(lat, lon float64, run RunID, resp ForecastResponse) (ForecastAlert, bool) {
	tier := mostImminentTier(resp)
	if tier == TierNone {
		return ForecastAlert{}, false
	}
	return ForecastAlert{
		ID:          generateAlertID(lat, lon, run, tier, resp),
		Lat:         lat,
		Lon:         lon,
		Tier:        tier,
		Run:         run.String(),
		GeneratedAt: clock.Now().UTC(),
		Forecast:    resp,
	}, true
}

func mostImminentTier(resp ForecastResponse) Tier {
	switch {
	case resp.FinalCall != nil:
		return TierFinalCall
	case len(resp.Detailed) > 0:
		return TierDetailed
	case resp.Possible != nil:
		return TierPossible
	default:
		return TierNone
	}
}

// generateAlertID hashes location, run, tier and the window start it
// reports. Re-evaluating the same run yields the same ID, so consumers can
// drop duplicates.
func generateAlertID(lat, lon float64, run RunID, tier Tier, resp ForecastResponse) string {
	var start string
	switch tier {
	case TierFinalCall:
		start = resp.FinalCall.StartTime.UTC().Format(time.RFC3339)
	case TierDetailed:
		start = resp.Detailed[0].StartTime.UTC().Format(time.RFC3339)
	case TierPossible:
		start = resp.Possible.DateRange
	}
	input := fmt.Sprintf("%.4f|%.4f|%s|%s|%s", lat, lon, run, tier, start)
	hash := sha256.Sum256([]byte(input))
	return string(tier) + "-" + hex.EncodeToString(hash[:8])
}
