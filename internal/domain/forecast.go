package domain

import "time"

// Category is the user-facing snow amount label.
type Category string

const (
	CategoryTrace    Category = "trace"
	CategoryLight    Category = "light"
	CategoryModerate Category = "moderate"
	CategoryHeavy    Category = "heavy"
)

// Thresholds holds the tunable constants of detection and classification.
type Thresholds struct {
	// SnowTempC: a sample counts as wintry when 2 m temperature is at or below this.
	SnowTempC float64
	// MinPrecipMM: minimum 6-hour liquid precipitation for a sample to count.
	MinPrecipMM float64
	// SnowRatio: inches of snow per inch of liquid.
	SnowRatio float64
	// MinRunAgreement: runs that must show the same window before it is reported.
	MinRunAgreement int
	// MatchWindow: windows from different runs starting within this span are the same event.
	MatchWindow time.Duration
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SnowTempC:       2.0,
		MinPrecipMM:     0.05,
		SnowRatio:       10.0,
		MinRunAgreement: 2,
		MatchWindow:     18 * time.Hour,
	}
}

// ForecastWindow is a contiguous span of wintry precipitation, derived per
// request and never persisted.
type ForecastWindow struct {
	Start         time.Time
	End           time.Time
	DurationHours int
	LiquidMM      float64
	SnowInches    float64
	Category      Category
	LeadHour      int // Start relative to Run.Init
	RunsAgreeing  int
	Run           RunID // run whose timing and amounts are reported
}

// PossibleOutlook is the far-out tier: no amounts, only a coarse date range.
type PossibleOutlook struct {
	Message   string `json:"message"`
	DateRange string `json:"date_range"`
}

// DetailedWindow is the 1-3 day tier.
type DetailedWindow struct {
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	DurationHours int       `json:"duration_hours"`
	SnowInches    float64   `json:"snow_inches"`
	Category      Category  `json:"category"`
	LeadHours     int       `json:"lead_hours"`
	RunsAgreeing  int       `json:"runs_agreeing"`
}

// FinalCall is the under-24-hour tier.
type FinalCall struct {
	Message       string    `json:"message"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	DurationHours int       `json:"duration_hours"`
	SnowInches    float64   `json:"snow_inches"`
	Category      Category  `json:"category"`
}

// ForecastResponse is the payload returned for a location.
type ForecastResponse struct {
	Possible    *PossibleOutlook `json:"possible"`
	Detailed    []DetailedWindow `json:"detailed"`
	FinalCall   *FinalCall       `json:"finalCall"`
	LastUpdated *time.Time       `json:"last_updated"`
	RunsUsed    int              `json:"runs_used"`
	Lat         *float64         `json:"lat,omitempty"`
	Lon         *float64         `json:"lon,omitempty"`
	PlaceName   string           `json:"place_name,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// HasWinterWeather reports whether any tier is populated.
func (r ForecastResponse) HasWinterWeather() bool {
	return r.Possible != nil || len(r.Detailed) > 0 || r.FinalCall != nil
}

// Messages carried by responses without actionable data.
const (
	MessageNoWinterWeather = "No winter weather indicated."
	MessageNoRuns          = "No GFS runs available for this location. " +
		"Runs may not be published yet, or the model files could not be decoded."
)

// NoRunsResponse is the message-only response used when no run is usable.
func NoRunsResponse() ForecastResponse {
	return ForecastResponse{
		Detailed: []DetailedWindow{},
		Message:  MessageNoRuns,
	}
}

// ProbeReport describes a single diagnostic NOMADS request.
type ProbeReport struct {
	RunTried        string   `json:"run_tried"`
	LeadHour        int      `json:"fhr"`
	StatusCode      int      `json:"status_code,omitempty"`
	ContentLength   int      `json:"content_length"`
	IsGRIB          bool     `json:"is_grib"`
	ResponsePreview string   `json:"response_preview,omitempty"`
	ParsedVariables []string `json:"parsed_keys,omitempty"`
	Error           string   `json:"error,omitempty"`
}
