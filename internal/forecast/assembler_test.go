package forecast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joliver3/gfs-winter-weather/internal/domain"
	"github.com/joliver3/gfs-winter-weather/internal/observability"
)

const (
	testLat = 45.0
	testLon = -93.25
)

// fakeSource serves synthetic grids. A run is published up to
// published[init] (inclusive); snowy decides which valid times get 2 mm of
// precipitation at -5 °C.
type fakeSource struct {
	mu        sync.Mutex
	published map[time.Time]int
	snowy     func(valid time.Time) bool
	failLeads map[int]bool
	fetchedAt time.Time
	calls     int

	// inconsistent maps a run init to the lead that returns ErrCacheInconsistent.
	inconsistent map[time.Time]int
}

func (f *fakeSource) GetOrFetch(_ context.Context, key domain.GridKey) (domain.Grid, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	maxLead, ok := f.published[key.Run.Init]
	if !ok || key.LeadHour > maxLead {
		return domain.Grid{}, domain.ErrRunNotPublished
	}
	if f.failLeads[key.LeadHour] {
		return domain.Grid{}, domain.ErrDecode
	}
	if lead, ok := f.inconsistent[key.Run.Init]; ok && lead == key.LeadHour {
		return domain.Grid{}, domain.ErrCacheInconsistent
	}

	valid := key.Run.ValidTime(key.LeadHour)
	temp := 280.0
	if f.snowy != nil && f.snowy(valid) {
		temp = 268.15
	}
	accum := 0.0
	for lead := domain.LeadStep; lead <= key.LeadHour; lead += domain.LeadStep {
		if f.snowy != nil && f.snowy(key.Run.ValidTime(lead)) {
			accum += 2
		}
	}
	lat := (key.BBox.North + key.BBox.South) / 2
	lon := (key.BBox.West + key.BBox.East) / 2
	points := []domain.GridPoint{{Run: key.Run.Init, LeadHour: key.LeadHour, Lat: lat, Lon: lon, Variable: domain.VarTemperature, Value: temp, Unit: "K"}}
	if key.LeadHour > 0 {
		points = append(points, domain.GridPoint{Run: key.Run.Init, LeadHour: key.LeadHour, Lat: lat, Lon: lon, Variable: domain.VarPrecipitation, Value: accum, Unit: "kg m-2"})
	}
	return domain.Grid{Key: key, Points: points, FetchedAt: f.fetchedAt}, nil
}

type fakeGeocoder struct {
	name string
	err  error
}

func (g fakeGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{FormattedAddress: g.name}, g.err
}

type fakeProber struct {
	got domain.GridKey
}

func (p *fakeProber) Probe(_ context.Context, key domain.GridKey) domain.ProbeReport {
	p.got = key
	return domain.ProbeReport{RunTried: key.Run.String(), LeadHour: key.LeadHour, IsGRIB: true}
}

var monday00Z = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func testSettings() Settings {
	return Settings{
		NumRuns:       3,
		MaxLeadHours:  240,
		MinLeadFiles:  13,
		Workers:       4,
		CompleteAfter: 6 * time.Hour,
		BBoxDelta:     0.5,
		Thresholds:    domain.DefaultThresholds(),
	}
}

func newTestAssembler(src GridSource, now time.Time, opts ...Option) (*Assembler, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(clockwork.NewFakeClockAt(now))}, opts...)
	return NewAssembler(src, testSettings(), m, logger, opts...), m
}

// between returns a predicate true for valid times in [from, to].
func between(from, to time.Time) func(time.Time) bool {
	return func(v time.Time) bool { return !v.Before(from) && !v.After(to) }
}

func publishedRuns(maxLead int, inits ...time.Time) map[time.Time]int {
	m := make(map[time.Time]int, len(inits))
	for _, i := range inits {
		m[i] = maxLead
	}
	return m
}

func TestAssembler_NoRuns(t *testing.T) {
	src := &fakeSource{published: map[time.Time]int{}}
	a, m := newTestAssembler(src, monday00Z.Add(7*time.Hour))

	resp, err := a.Forecast(context.Background(), Request{Lat: testLat, Lon: testLon, CompleteOnly: true})

	require.NoError(t, err)
	assert.Equal(t, 0, resp.RunsUsed)
	assert.Nil(t, resp.Possible)
	assert.Nil(t, resp.FinalCall)
	assert.NotNil(t, resp.Detailed)
	assert.Empty(t, resp.Detailed)
	assert.Nil(t, resp.LastUpdated)
	assert.Equal(t, domain.MessageNoRuns, resp.Message)
	require.NotNil(t, resp.Lat)
	assert.InDelta(t, testLat, *resp.Lat, 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ForecastRequests.WithLabelValues("no_runs")), 1e-9)
}

func TestAssembler_AgreeingRunsDetailed(t *testing.T) {
	now := monday00Z.Add(6 * time.Hour)
	fetched := now.Add(-10 * time.Minute)
	src := &fakeSource{
		published: publishedRuns(240, monday00Z, monday00Z.Add(-6*time.Hour), monday00Z.Add(-12*time.Hour), monday00Z.Add(-18*time.Hour)),
		snowy:     between(monday00Z.Add(78*time.Hour), monday00Z.Add(90*time.Hour)),
		fetchedAt: fetched,
	}
	a, _ := newTestAssembler(src, now)

	ev, err := a.Evaluate(context.Background(), Request{Lat: testLat, Lon: testLon, CompleteOnly: true})
	require.NoError(t, err)
	resp := ev.Response

	assert.Equal(t, 3, resp.RunsUsed)
	require.Len(t, ev.Runs, 3)
	assert.Equal(t, "20260105_00Z", ev.Runs[0].ID.String())
	assert.Equal(t, domain.StatusComplete, ev.Runs[0].Status)

	assert.Nil(t, resp.Possible)
	assert.Nil(t, resp.FinalCall)
	require.Len(t, resp.Detailed, 1)
	d := resp.Detailed[0]
	assert.Equal(t, 78, d.LeadHours)
	assert.Equal(t, 3, d.RunsAgreeing)
	assert.Equal(t, monday00Z.Add(78*time.Hour), d.StartTime)
	assert.Equal(t, monday00Z.Add(90*time.Hour), d.EndTime)
	assert.Equal(t, 18, d.DurationHours)
	assert.InDelta(t, 2.4, d.SnowInches, 1e-9) // 6 mm liquid
	assert.Equal(t, domain.CategoryLight, d.Category)

	require.NotNil(t, resp.LastUpdated)
	assert.Equal(t, fetched, *resp.LastUpdated)
	assert.Empty(t, resp.Message)
}

func TestAssembler_SingleRunSignalSuppressed(t *testing.T) {
	now := monday00Z.Add(6 * time.Hour)
	src := &perRunSource{
		fakeSource: &fakeSource{
			published: publishedRuns(240, monday00Z, monday00Z.Add(-6*time.Hour), monday00Z.Add(-12*time.Hour)),
		},
		snowyFor: map[time.Time]func(time.Time) bool{
			monday00Z: between(monday00Z.Add(40*time.Hour), monday00Z.Add(46*time.Hour)),
		},
	}
	a, _ := newTestAssembler(src, now)

	resp, err := a.Forecast(context.Background(), Request{Lat: testLat, Lon: testLon, CompleteOnly: true})
	require.NoError(t, err)

	assert.Equal(t, 3, resp.RunsUsed)
	assert.Empty(t, resp.Detailed)
	assert.Nil(t, resp.FinalCall)
	assert.Equal(t, domain.MessageNoWinterWeather, resp.Message)
}

// perRunSource gives each run its own weather.
type perRunSource struct {
	*fakeSource
	snowyFor map[time.Time]func(time.Time) bool
}

func (p *perRunSource) GetOrFetch(ctx context.Context, key domain.GridKey) (domain.Grid, error) {
	src := &fakeSource{
		published: p.published,
		snowy:     p.snowyFor[key.Run.Init],
		failLeads: p.failLeads,
		fetchedAt: p.fetchedAt,
	}
	return src.GetOrFetch(ctx, key)
}

func TestAssembler_PartialAndUnavailableRuns(t *testing.T) {
	now := monday00Z.Add(8 * time.Hour)
	src := &fakeSource{
		published: map[time.Time]int{
			monday00Z.Add(6 * time.Hour):   30,  // too few leads: skipped
			monday00Z:                      120, // partial, 21 leads
			monday00Z.Add(-6 * time.Hour):  240,
			monday00Z.Add(-12 * time.Hour): 240,
		},
	}
	a, _ := newTestAssembler(src, now)

	ev, err := a.Evaluate(context.Background(), Request{Lat: testLat, Lon: testLon, CompleteOnly: false})
	require.NoError(t, err)

	require.Len(t, ev.Runs, 3)
	assert.Equal(t, "20260105_00Z", ev.Runs[0].ID.String())
	assert.Equal(t, domain.StatusPartial, ev.Runs[0].Status)
	assert.Len(t, ev.Runs[0].Samples, 21)
	assert.Equal(t, "20260104_18Z", ev.Runs[1].ID.String())
	assert.Equal(t, domain.StatusComplete, ev.Runs[1].Status)
	assert.Len(t, ev.Runs[1].Samples, 41)
}

func TestAssembler_FailedLeadTruncatesRun(t *testing.T) {
	now := monday00Z.Add(8 * time.Hour)
	src := &fakeSource{
		published: publishedRuns(240, monday00Z),
		failLeads: map[int]bool{90: true},
	}
	a, _ := newTestAssembler(src, now)

	run, err := a.LoadRun(context.Background(), domain.RunID{Init: monday00Z}, domain.BBoxAround(testLat, testLon, 0.5), testLat, testLon)
	require.NoError(t, err)

	assert.Len(t, run.Samples, 15) // leads 0..84
	assert.Equal(t, domain.StatusPartial, run.Status)
	assert.Equal(t, 84, run.Samples[len(run.Samples)-1].LeadHour)
}

func TestAssembler_CacheInconsistencyFailsRequest(t *testing.T) {
	now := monday00Z.Add(8 * time.Hour)
	published := publishedRuns(240, monday00Z, monday00Z.Add(-6*time.Hour), monday00Z.Add(-12*time.Hour), monday00Z.Add(-18*time.Hour))

	for _, lead := range []int{0, 48} {
		src := &fakeSource{
			published:    published,
			inconsistent: map[time.Time]int{monday00Z: lead},
		}
		a, m := newTestAssembler(src, now)

		_, err := a.Forecast(context.Background(), Request{Lat: testLat, Lon: testLon, CompleteOnly: true})

		require.Error(t, err, "lead %d", lead)
		assert.ErrorIs(t, err, domain.ErrCacheInconsistent)
		assert.InDelta(t, 1.0, testutil.ToFloat64(m.ForecastRequests.WithLabelValues("error")), 1e-9)
	}
}

func TestAssembler_UnpublishedRunProbesLeadZeroOnly(t *testing.T) {
	src := &fakeSource{published: map[time.Time]int{}}
	a, _ := newTestAssembler(src, monday00Z.Add(8*time.Hour))

	_, err := a.LoadRun(context.Background(), domain.RunID{Init: monday00Z}, domain.BBoxAround(testLat, testLon, 0.5), testLat, testLon)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRunNotPublished))
	assert.Equal(t, 1, src.calls)
}

func TestAssembler_InvalidCoordinates(t *testing.T) {
	src := &fakeSource{published: publishedRuns(240, monday00Z)}
	a, m := newTestAssembler(src, monday00Z.Add(8*time.Hour))

	_, err := a.Forecast(context.Background(), Request{Lat: 91, Lon: 0})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidCoordinates))
	assert.Equal(t, 0, src.calls)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ForecastRequests.WithLabelValues("invalid")), 1e-9)
}

func TestAssembler_Canceled(t *testing.T) {
	src := &fakeSource{published: publishedRuns(240, monday00Z)}
	a, _ := newTestAssembler(src, monday00Z.Add(8*time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Forecast(ctx, Request{Lat: testLat, Lon: testLon})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssembler_PlaceName(t *testing.T) {
	src := &fakeSource{published: map[time.Time]int{}}

	a, _ := newTestAssembler(src, monday00Z, WithGeocoder(fakeGeocoder{name: "Minneapolis, Minnesota, United States"}))
	resp, err := a.Forecast(context.Background(), Request{Lat: testLat, Lon: testLon})
	require.NoError(t, err)
	assert.Equal(t, "Minneapolis, Minnesota, United States", resp.PlaceName)

	a, _ = newTestAssembler(src, monday00Z, WithGeocoder(fakeGeocoder{err: errors.New("mapbox down")}))
	resp, err = a.Forecast(context.Background(), Request{Lat: testLat, Lon: testLon})
	require.NoError(t, err)
	assert.Empty(t, resp.PlaceName)
}

func TestAssembler_Probe(t *testing.T) {
	p := &fakeProber{}
	a, _ := newTestAssembler(&fakeSource{}, monday00Z.Add(3*time.Hour), WithProber(p))

	report, err := a.Probe(context.Background(), testLat, testLon)
	require.NoError(t, err)

	assert.Equal(t, "20260105_00Z", report.RunTried)
	assert.Equal(t, 6, p.got.LeadHour)
	assert.True(t, p.got.BBox.Contains(testLat, testLon))

	_, err = a.Probe(context.Background(), 0, 200)
	assert.True(t, errors.Is(err, domain.ErrInvalidCoordinates))

	noProber, _ := newTestAssembler(&fakeSource{}, monday00Z)
	_, err = noProber.Probe(context.Background(), testLat, testLon)
	assert.Error(t, err)
}
