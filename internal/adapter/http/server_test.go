package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/joliver3/gfs-winter-weather/internal/adapter/http"
	"github.com/joliver3/gfs-winter-weather/internal/domain"
	"github.com/joliver3/gfs-winter-weather/internal/forecast"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockForecaster struct {
	resp     domain.ForecastResponse
	err      error
	report   domain.ProbeReport
	probeErr error
	got      []forecast.Request
}

func (m *mockForecaster) Forecast(_ context.Context, req forecast.Request) (domain.ForecastResponse, error) {
	m.got = append(m.got, req)
	return m.resp, m.err
}

func (m *mockForecaster) Probe(_ context.Context, _, _ float64) (domain.ProbeReport, error) {
	return m.report, m.probeErr
}

func newTestServer(f *mockForecaster, readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", time.Minute, f, &mockReadiness{err: readyErr}, slog.Default())
}

func get(t *testing.T, srv *httpadapter.Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestForecast_WithRuns(t *testing.T) {
	start := time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)
	f := &mockForecaster{resp: domain.ForecastResponse{
		Detailed: []domain.DetailedWindow{{
			StartTime: start, EndTime: start.Add(12 * time.Hour), DurationHours: 12,
			SnowInches: 4.2, Category: domain.CategoryModerate, LeadHours: 36, RunsAgreeing: 3,
		}},
		RunsUsed: 3,
	}}
	srv := newTestServer(f, nil)

	rec := get(t, srv, "/forecast?lat=39.74&lon=-104.99")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Len(t, f.got, 1)
	assert.Equal(t, forecast.Request{Lat: 39.74, Lon: -104.99, CompleteOnly: true}, f.got[0])

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body["possible"])
	assert.Nil(t, body["finalCall"])
	assert.EqualValues(t, 3, body["runs_used"])
	detailed, ok := body["detailed"].([]any)
	require.True(t, ok)
	require.Len(t, detailed, 1)
	w := detailed[0].(map[string]any)
	assert.Equal(t, "moderate", w["category"])
	assert.Equal(t, "2026-01-06T12:00:00Z", w["start_time"])
	assert.InDelta(t, 4.2, w["snow_inches"], 1e-9)
}

func TestForecast_NoRunsShortCache(t *testing.T) {
	f := &mockForecaster{resp: domain.NoRunsResponse()}
	srv := newTestServer(f, nil)

	rec := get(t, srv, "/forecast?lat=39.74&lon=-104.99&complete_only=0")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
	assert.False(t, f.got[0].CompleteOnly)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.MessageNoRuns, body["message"])
	assert.EqualValues(t, 0, body["runs_used"])
}

func TestForecast_BadCoordinates(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"missing lat", "/forecast?lon=-104.99"},
		{"missing lon", "/forecast?lat=39.74"},
		{"not a number", "/forecast?lat=abc&lon=-104.99"},
		{"latitude out of range", "/forecast?lat=91&lon=0"},
		{"longitude out of range", "/forecast?lat=0&lon=181"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &mockForecaster{}
			rec := get(t, newTestServer(f, nil), tt.query)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.Empty(t, f.got, "no forecast should run for a bad request")
		})
	}
}

func TestForecast_ForecasterErrors(t *testing.T) {
	t.Run("invalid coordinates", func(t *testing.T) {
		f := &mockForecaster{err: fmt.Errorf("%w: latitude", domain.ErrInvalidCoordinates)}
		rec := get(t, newTestServer(f, nil), "/forecast?lat=1&lon=1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cache inconsistency", func(t *testing.T) {
		f := &mockForecaster{err: fmt.Errorf("run 20260105_00Z lead 0: %w", domain.ErrCacheInconsistent)}
		rec := get(t, newTestServer(f, nil), "/forecast?lat=1&lon=1")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Empty(t, rec.Header().Get("Cache-Control"))
	})

	t.Run("cancelled", func(t *testing.T) {
		f := &mockForecaster{err: context.Canceled}
		rec := get(t, newTestServer(f, nil), "/forecast?lat=1&lon=1")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestForecastDebug(t *testing.T) {
	f := &mockForecaster{report: domain.ProbeReport{
		RunTried: "20260105_00Z", LeadHour: 6, StatusCode: 200, ContentLength: 1830, IsGRIB: true,
	}}
	rec := get(t, newTestServer(f, nil), "/forecast/debug?lat=39.74&lon=-104.99")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "20260105_00Z", body["run_tried"])
	assert.Equal(t, true, body["is_grib"])

	f.probeErr = errors.New("probing is not configured")
	rec = get(t, newTestServer(f, nil), "/forecast/debug?lat=39.74&lon=-104.99")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(&mockForecaster{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/forecast", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", "GET")

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(&mockForecaster{}, nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(t, newTestServer(&mockForecaster{}, nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(t, newTestServer(&mockForecaster{}, fmt.Errorf("not ready yet")), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(&mockForecaster{}, nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
