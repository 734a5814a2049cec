package domain

import (
	"math"
	"time"
)

// KelvinOffset converts between Kelvin and Celsius.
const KelvinOffset = 273.15

// FetchStatus tags how much of a run could be gathered.
type FetchStatus int

const (
	// StatusUnavailable: not published, or too few lead hours decoded.
	StatusUnavailable FetchStatus = iota
	// StatusPartial: usable, but later lead hours are still missing.
	StatusPartial
	// StatusComplete: every requested lead hour decoded.
	StatusComplete
)

func (s FetchStatus) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	default:
		return "unavailable"
	}
}

// Sample is one 6-hourly point of a run's time series at the request location.
type Sample struct {
	ValidTime     time.Time
	LeadHour      int
	TempC         float64
	AccumPrecipMM float64
	Precip6hMM    float64
}

// Run is the time series one GFS cycle produced for a location.
// Samples are ordered by lead hour and contiguous from lead 0.
type Run struct {
	ID        RunID
	Samples   []Sample
	Status    FetchStatus
	FetchedAt time.Time // most recent grid fetch among the samples
}

// BuildSamples turns grids ordered by lead hour into samples at (lat, lon).
// It stops at the first grid without a temperature value, or without
// precipitation after lead 0, so the result is always a contiguous prefix.
// Six-hour precipitation is the difference of consecutive accumulations,
// clamped at zero.
func BuildSamples(grids []Grid, lat, lon float64) []Sample {
	samples := make([]Sample, 0, len(grids))
	prevAccum := 0.0
	for i, g := range grids {
		temp, ok := nearestValue(g, VarTemperature, lat, lon)
		if !ok {
			break
		}
		accum, ok := nearestValue(g, VarPrecipitation, lat, lon)
		if !ok {
			if g.Key.LeadHour != 0 {
				break
			}
			accum = 0
		}
		precip6h := 0.0
		if i > 0 {
			precip6h = math.Max(accum-prevAccum, 0)
		}
		prevAccum = accum
		samples = append(samples, Sample{
			ValidTime:     g.Key.Run.ValidTime(g.Key.LeadHour),
			LeadHour:      g.Key.LeadHour,
			TempC:         round2(temp - KelvinOffset),
			AccumPrecipMM: round2(accum),
			Precip6hMM:    round2(precip6h),
		})
	}
	return samples
}

// nearestValue returns the value at the grid node closest to (lat, lon). When
// a file carries several accumulation messages for that node (6-hour bucket
// and since-init total), the largest one, the since-init total, wins.
func nearestValue(g Grid, v Variable, lat, lon float64) (float64, bool) {
	p, ok := g.Nearest(v, lat, lon)
	if !ok {
		return 0, false
	}
	best := p.Value
	for _, q := range g.Points {
		if q.Variable == v && q.Lat == p.Lat && q.Lon == p.Lon && q.Value > best {
			best = q.Value
		}
	}
	return best, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
