package domain

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Variable identifies a decoded GFS field.
type Variable string

const (
	// VarTemperature is 2 m above ground temperature in Kelvin.
	VarTemperature Variable = "t2m"
	// VarPrecipitation is surface precipitation accumulated since run init, kg m-2 (== mm).
	VarPrecipitation Variable = "apcp"
)

// Unit returns the unit the decoder reports for the variable.
func (v Variable) Unit() string {
	switch v {
	case VarTemperature:
		return "K"
	case VarPrecipitation:
		return "kg m-2"
	default:
		return ""
	}
}

// GridResolution is the GFS 0.25 degree grid spacing.
const GridResolution = 0.25

// LeadStep is the spacing between fetched forecast hours.
const LeadStep = 6

// RunID identifies one GFS cycle by its UTC initialization time.
type RunID struct {
	Init time.Time
}

// NewRunID truncates t to its 6-hourly cycle in UTC.
func NewRunID(t time.Time) RunID {
	return RunID{Init: t.UTC().Truncate(LeadStep * time.Hour)}
}

// Cycle returns the two-digit cycle hour, e.g. "06".
func (r RunID) Cycle() string {
	return fmt.Sprintf("%02d", r.Init.Hour())
}

// Date returns the run date as YYYYMMDD.
func (r RunID) Date() string {
	return r.Init.Format("20060102")
}

func (r RunID) String() string {
	return r.Date() + "_" + r.Cycle() + "Z"
}

// ParseRunID parses the String form, e.g. "20260105_06Z".
func ParseRunID(s string) (RunID, error) {
	t, err := time.Parse("20060102_15Z", s)
	if err != nil {
		return RunID{}, fmt.Errorf("parse run id %q: %w", s, err)
	}
	if t.Hour()%LeadStep != 0 {
		return RunID{}, fmt.Errorf("parse run id %q: cycle must be 00, 06, 12 or 18", s)
	}
	return RunID{Init: t.UTC()}, nil
}

// ValidTime returns the forecast time for a lead hour of this run.
func (r RunID) ValidTime(leadHour int) time.Time {
	return r.Init.Add(time.Duration(leadHour) * time.Hour)
}

// BBox is a lat/lon rectangle in degrees. Longitudes are in [-180, 180].
type BBox struct {
	West  float64 `json:"west"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
	South float64 `json:"south"`
}

// BBoxAround returns a box of +-delta degrees around the grid node nearest to
// (lat, lon), so nearby requests share cache entries.
func BBoxAround(lat, lon, delta float64) BBox {
	clat := snap(lat)
	clon := snap(lon)
	return BBox{
		West:  clon - delta,
		East:  clon + delta,
		North: math.Min(clat+delta, 90),
		South: math.Max(clat-delta, -90),
	}
}

func snap(v float64) float64 {
	return math.Round(v/GridResolution) * GridResolution
}

// Key renders the box for cache keys.
func (b BBox) Key() string {
	return fmt.Sprintf("%.2f,%.2f,%.2f,%.2f", b.West, b.East, b.North, b.South)
}

// Contains reports whether the point lies inside the box, edges included.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// GridKey identifies one fetchable grid: a run, a lead hour and a box.
type GridKey struct {
	Run      RunID
	LeadHour int
	BBox     BBox
}

func (k GridKey) String() string {
	return fmt.Sprintf("%s/f%03d/%s", k.Run, k.LeadHour, k.BBox.Key())
}

// GridPoint is a single decoded value. Immutable once fetched.
type GridPoint struct {
	Run      time.Time `json:"run"`
	LeadHour int       `json:"lead_hour"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Variable Variable  `json:"variable"`
	Value    float64   `json:"value"`
	Unit     string    `json:"unit"`
}

// Grid is every point decoded for one GridKey.
type Grid struct {
	Key       GridKey     `json:"key"`
	Points    []GridPoint `json:"points"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Nearest returns the point of the given variable closest to (lat, lon).
func (g Grid) Nearest(v Variable, lat, lon float64) (GridPoint, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, p := range g.Points {
		if p.Variable != v {
			continue
		}
		dlon := math.Mod(p.Lon-lon+540, 360) - 180
		d := (p.Lat-lat)*(p.Lat-lat) + dlon*dlon
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return GridPoint{}, false
	}
	return g.Points[best], true
}

// GridFetcher retrieves and decodes one grid from a remote archive.
type GridFetcher interface {
	Fetch(ctx context.Context, key GridKey) (Grid, error)
}

// ValidateCoordinates checks latitude and longitude ranges.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidCoordinates, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidCoordinates, lon)
	}
	return nil
}
