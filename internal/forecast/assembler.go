// Package forecast turns a location into a tiered winter-weather forecast by
// gathering recent GFS runs through the grid cache.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/joliver3/gfs-winter-weather/internal/config"
	"github.com/joliver3/gfs-winter-weather/internal/domain"
	"github.com/joliver3/gfs-winter-weather/internal/observability"
)

// GridSource returns the grid for a key, from cache or remote.
type GridSource interface {
	GetOrFetch(ctx context.Context, key domain.GridKey) (domain.Grid, error)
}

// Prober runs a single diagnostic request.
type Prober interface {
	Probe(ctx context.Context, key domain.GridKey) domain.ProbeReport
}

// Settings tune run selection and detection.
type Settings struct {
	NumRuns       int
	MaxLeadHours  int
	MinLeadFiles  int
	Workers       int
	CompleteAfter time.Duration
	BBoxDelta     float64
	Thresholds    domain.Thresholds
}

// SettingsFromConfig copies the forecast settings out of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		NumRuns:       cfg.NumRuns,
		MaxLeadHours:  cfg.MaxLeadHours,
		MinLeadFiles:  cfg.MinLeadFiles,
		Workers:       cfg.FetchWorkers,
		CompleteAfter: cfg.CompleteAfter,
		BBoxDelta:     cfg.BBoxDelta,
		Thresholds: domain.Thresholds{
			SnowTempC:       cfg.SnowTempC,
			MinPrecipMM:     cfg.MinPrecipMM,
			SnowRatio:       cfg.SnowRatio,
			MinRunAgreement: cfg.MinRunAgreement,
			MatchWindow:     cfg.WindowMatch,
		},
	}
}

// Request is a forecast query. CompleteOnly skips runs younger than
// Settings.CompleteAfter when older ones exist.
type Request struct {
	Lat          float64
	Lon          float64
	CompleteOnly bool
}

// Evaluation is a forecast response plus the runs it was built from, newest first.
type Evaluation struct {
	Response domain.ForecastResponse
	Runs     []domain.Run
}

// Assembler builds forecasts.
type Assembler struct {
	grids    GridSource
	prober   Prober
	geocoder domain.Geocoder
	settings Settings
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock sets the time used for run selection and classification.
func WithClock(c clockwork.Clock) Option {
	return func(a *Assembler) { a.clock = c }
}

// WithGeocoder enables place names in responses.
func WithGeocoder(g domain.Geocoder) Option {
	return func(a *Assembler) { a.geocoder = g }
}

// WithProber enables Probe.
func WithProber(p Prober) Option {
	return func(a *Assembler) { a.prober = p }
}

// NewAssembler creates an Assembler reading grids from grids.
func NewAssembler(grids GridSource, settings Settings, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Assembler {
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	a := &Assembler{
		grids:    grids,
		settings: settings,
		clock:    clockwork.NewRealClock(),
		metrics:  metrics,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Forecast returns the tiered forecast for a location. Invalid coordinates
// return an error wrapping domain.ErrInvalidCoordinates; missing or broken
// upstream data only reduces the runs used.
func (a *Assembler) Forecast(ctx context.Context, req Request) (domain.ForecastResponse, error) {
	ev, err := a.Evaluate(ctx, req)
	return ev.Response, err
}

// Evaluate is Forecast that also returns the runs used.
func (a *Assembler) Evaluate(ctx context.Context, req Request) (Evaluation, error) {
	if err := domain.ValidateCoordinates(req.Lat, req.Lon); err != nil {
		a.metrics.ForecastRequests.WithLabelValues("invalid").Inc()
		return Evaluation{}, err
	}

	start := a.clock.Now()
	runs, err := a.loadRuns(ctx, req)
	if err != nil {
		a.metrics.ForecastRequests.WithLabelValues("error").Inc()
		return Evaluation{}, err
	}
	a.metrics.RunsUsed.Observe(float64(len(runs)))

	var resp domain.ForecastResponse
	if len(runs) == 0 {
		a.logger.Warn("no usable gfs runs", "lat", req.Lat, "lon", req.Lon)
		resp = domain.NoRunsResponse()
		a.metrics.ForecastRequests.WithLabelValues("no_runs").Inc()
	} else {
		windows := domain.DetectWindows(runs, a.settings.Thresholds)
		resp = domain.Classify(windows, a.clock.Now(), a.settings.Thresholds.MinRunAgreement)
		resp.RunsUsed = len(runs)
		resp.LastUpdated = lastUpdated(runs)
		a.countTiers(resp)
		a.metrics.ForecastRequests.WithLabelValues("ok").Inc()
	}

	lat, lon := req.Lat, req.Lon
	resp.Lat, resp.Lon = &lat, &lon
	resp.PlaceName = a.placeName(ctx, lat, lon)

	a.metrics.ForecastDuration.Observe(a.clock.Since(start).Seconds())
	a.logger.Info("forecast assembled",
		"lat", lat, "lon", lon,
		"runs_used", resp.RunsUsed,
		"possible", resp.Possible != nil,
		"detailed", len(resp.Detailed),
		"final_call", resp.FinalCall != nil,
	)
	return Evaluation{Response: resp, Runs: runs}, nil
}

// Probe issues one diagnostic request for lead 6 of the newest candidate run.
func (a *Assembler) Probe(ctx context.Context, lat, lon float64) (domain.ProbeReport, error) {
	if err := domain.ValidateCoordinates(lat, lon); err != nil {
		return domain.ProbeReport{}, err
	}
	if a.prober == nil {
		return domain.ProbeReport{}, errors.New("probing is not configured")
	}
	candidates := CandidateRuns(a.clock.Now(), false, a.settings.CompleteAfter)
	if len(candidates) == 0 {
		return domain.ProbeReport{Error: "no run dates"}, nil
	}
	key := domain.GridKey{
		Run:      candidates[0],
		LeadHour: domain.LeadStep,
		BBox:     domain.BBoxAround(lat, lon, a.settings.BBoxDelta),
	}
	return a.prober.Probe(ctx, key), nil
}

// loadRuns walks candidate runs newest first until NumRuns usable runs are
// gathered. Only cancellation of ctx and cache inconsistencies are returned
// as errors; anything else skips the run.
func (a *Assembler) loadRuns(ctx context.Context, req Request) ([]domain.Run, error) {
	bbox := domain.BBoxAround(req.Lat, req.Lon, a.settings.BBoxDelta)
	var runs []domain.Run
	for _, id := range CandidateRuns(a.clock.Now(), req.CompleteOnly, a.settings.CompleteAfter) {
		if len(runs) >= a.settings.NumRuns {
			break
		}
		run, err := a.LoadRun(ctx, id, bbox, req.Lat, req.Lon)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, domain.ErrCacheInconsistent) {
			return nil, err
		}
		if err != nil {
			a.logger.Info("skipping gfs run", "run", id.String(), "reason", err)
			continue
		}
		if run.Status == domain.StatusUnavailable {
			a.logger.Info("skipping gfs run", "run", id.String(), "reason", "too few lead hours", "samples", len(run.Samples))
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// LoadRun gathers one run's time series at (lat, lon). Lead 0 is fetched
// first; if it fails the run is not published and the error is returned.
// The remaining lead hours are fetched concurrently and a failure of one
// lead only shortens the run to the leads before it, except a cache
// inconsistency, which fails the run.
func (a *Assembler) LoadRun(ctx context.Context, id domain.RunID, bbox domain.BBox, lat, lon float64) (domain.Run, error) {
	run := domain.Run{ID: id, Status: domain.StatusUnavailable}
	leads := LeadHours(a.settings.MaxLeadHours)
	keyFor := func(lead int) domain.GridKey {
		return domain.GridKey{Run: id, LeadHour: lead, BBox: bbox}
	}

	first, err := a.grids.GetOrFetch(ctx, keyFor(0))
	if err != nil {
		return run, fmt.Errorf("run %s lead 0: %w", id, err)
	}

	rest := make([]*domain.Grid, len(leads)-1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.settings.Workers)
	for i, lead := range leads[1:] {
		g.Go(func() error {
			grid, err := a.grids.GetOrFetch(gctx, keyFor(lead))
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if errors.Is(err, domain.ErrCacheInconsistent) {
					return fmt.Errorf("run %s lead %d: %w", id, lead, err)
				}
				if !errors.Is(err, domain.ErrRunNotPublished) {
					a.logger.Warn("lead hour unavailable", "run", id.String(), "lead", lead, "error", err)
				}
				return nil
			}
			rest[i] = &grid
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return run, err
	}

	grids := []domain.Grid{first}
	for _, grid := range rest {
		if grid == nil {
			break
		}
		grids = append(grids, *grid)
	}

	run.Samples = domain.BuildSamples(grids, lat, lon)
	for _, grid := range grids[:len(run.Samples)] {
		if grid.FetchedAt.After(run.FetchedAt) {
			run.FetchedAt = grid.FetchedAt
		}
	}
	switch n := len(run.Samples); {
	case n == len(leads):
		run.Status = domain.StatusComplete
	case n >= a.settings.MinLeadFiles:
		run.Status = domain.StatusPartial
	}
	return run, nil
}

func (a *Assembler) placeName(ctx context.Context, lat, lon float64) string {
	if a.geocoder == nil {
		return ""
	}
	result, err := a.geocoder.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		a.logger.Warn("place name lookup failed", "lat", lat, "lon", lon, "error", err)
		return ""
	}
	return result.FormattedAddress
}

func (a *Assembler) countTiers(resp domain.ForecastResponse) {
	if resp.Possible != nil {
		a.metrics.WindowsByTier.WithLabelValues(string(domain.TierPossible)).Inc()
	}
	if n := len(resp.Detailed); n > 0 {
		a.metrics.WindowsByTier.WithLabelValues(string(domain.TierDetailed)).Add(float64(n))
	}
	if resp.FinalCall != nil {
		a.metrics.WindowsByTier.WithLabelValues(string(domain.TierFinalCall)).Inc()
	}
}

func lastUpdated(runs []domain.Run) *time.Time {
	var latest time.Time
	for _, r := range runs {
		if r.FetchedAt.After(latest) {
			latest = r.FetchedAt
		}
	}
	if latest.IsZero() {
		return nil
	}
	latest = latest.UTC()
	return &latest
}
