// Package watch forecasts a fixed set of locations on an interval and
// publishes actionable forecasts as alerts.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/joliver3/gfs-winter-weather/internal/config"
	"github.com/joliver3/gfs-winter-weather/internal/domain"
	"github.com/joliver3/gfs-winter-weather/internal/forecast"
	"github.com/joliver3/gfs-winter-weather/internal/observability"
)

const (
	initialBackoff  = 200 * time.Millisecond
	maxBackoff      = 5 * time.Second
	publishAttempts = 5
)

// Forecaster evaluates a location.
type Forecaster interface {
	Evaluate(ctx context.Context, req forecast.Request) (forecast.Evaluation, error)
}

// Publisher delivers alerts downstream.
type Publisher interface {
	Publish(ctx context.Context, alerts ...domain.ForecastAlert) error
}

// Watcher periodically forecasts its watch points.
type Watcher struct {
	forecaster Forecaster
	publisher  Publisher
	points     []config.WatchPoint
	interval   time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool

	// last alert ID published per location; only the Run goroutine touches it.
	sent map[string]string
}

// New creates a Watcher.
func New(f Forecaster, p Publisher, points []config.WatchPoint, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Watcher {
	return &Watcher{
		forecaster: f,
		publisher:  p,
		points:     points,
		interval:   interval,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		sent:       make(map[string]string),
	}
}

// CheckReadiness returns nil once a sweep has evaluated every watch point,
// whether or not its alerts could be published.
func (w *Watcher) CheckReadiness(_ context.Context) error {
	if !w.ready.Load() {
		return errors.New("watcher has not completed a sweep yet")
	}
	return nil
}

// Run sweeps the watch points immediately and then every interval until the
// context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started", "points", len(w.points), "interval", w.interval)
	w.metrics.WatcherRunning.Set(1)
	defer w.metrics.WatcherRunning.Set(0)

	for {
		if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("watch sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping", "reason", ctx.Err())
			return nil
		case <-w.clock.After(w.interval):
		}
	}
}

// Sweep forecasts every watch point once and publishes new alerts. A failing
// point is logged and skipped; a publish failure is retried with backoff.
func (w *Watcher) Sweep(ctx context.Context) error {
	var alerts []domain.ForecastAlert
	for _, pt := range w.points {
		ev, err := w.forecaster.Evaluate(ctx, forecast.Request{Lat: pt.Lat, Lon: pt.Lon, CompleteOnly: true})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("watch point forecast failed", "lat", pt.Lat, "lon", pt.Lon, "error", err)
			continue
		}
		if len(ev.Runs) == 0 {
			continue
		}
		alert, ok := domain.NewForecastAlert(pt.Lat, pt.Lon, ev.Runs[0].ID, ev.Response)
		if !ok || w.sent[alert.Key()] == alert.ID {
			continue
		}
		alerts = append(alerts, alert)
	}

	// Publishing is best effort: unsent alerts are retried on the next sweep
	// and do not hold back readiness.
	w.ready.Store(true)
	if len(alerts) == 0 {
		return nil
	}
	return w.publish(ctx, alerts)
}

func (w *Watcher) publish(ctx context.Context, alerts []domain.ForecastAlert) error {
	backoff := initialBackoff
	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if err = w.publisher.Publish(ctx, alerts...); err == nil {
			for _, a := range alerts {
				w.sent[a.Key()] = a.ID
				w.metrics.AlertsPublished.WithLabelValues(string(a.Tier)).Inc()
			}
			w.logger.Info("alerts published", "count", len(alerts))
			return nil
		}
		w.logger.Warn("publish alerts failed", "attempt", attempt, "error", err)
		if attempt == publishAttempts || !retry.SleepWithContext(ctx, backoff) {
			break
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
	return fmt.Errorf("publish %d alerts: %w", len(alerts), err)
}
