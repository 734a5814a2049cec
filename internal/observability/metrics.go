package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "winter_wx"

// Metrics holds the Prometheus counters, histograms, and gauges for the forecast service.
type Metrics struct {
	// Forecast request metrics.
	ForecastRequests *prometheus.CounterVec // labels: outcome={ok,no_runs,invalid,error}
	ForecastDuration prometheus.Histogram
	RunsUsed         prometheus.Histogram
	WindowsByTier    *prometheus.CounterVec // labels: tier={possible,detailed,finalCall}

	// Grid cache and fetch metrics.
	GridCache      *prometheus.CounterVec // labels: result={hit,miss,shared,expired}
	GridFetches    *prometheus.CounterVec // labels: outcome={success,not_published,upstream,decode,error}
	FetchDuration  prometheus.Histogram
	FetchesRunning prometheus.Gauge
	GridStore      *prometheus.CounterVec // labels: result={hit,miss,error}

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={reverse}
	GeocodeEnabled     prometheus.Gauge

	// Watcher metrics.
	WatcherRunning  prometheus.Gauge
	AlertsPublished *prometheus.CounterVec // labels: tier
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ForecastRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_requests_total",
			Help:      "Forecast requests by outcome.",
		}, []string{"outcome"}),
		ForecastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_duration_seconds",
			Help:      "Time to assemble a forecast, including any NOMADS fetches.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
		RunsUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "runs_used",
			Help:      "GFS runs used per forecast.",
			Buckets:   []float64{0, 1, 2, 3, 4},
		}),
		WindowsByTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_total",
			Help:      "Reported winter-weather windows by tier.",
		}, []string{"tier"}),
		GridCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_cache_total",
			Help:      "Grid cache lookups by result.",
		}, []string{"result"}),
		GridFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_fetches_total",
			Help:      "Remote grid fetches by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grid_fetch_duration_seconds",
			Help:      "Duration of one NOMADS download and decode.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		FetchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grid_fetches_in_flight",
			Help:      "Remote grid fetches currently holding a worker.",
		}),
		GridStore: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_store_total",
			Help:      "Redis grid store lookups by result.",
		}, []string{"result"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when place-name lookup is enabled, 0 otherwise.",
		}),
		WatcherRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_running",
			Help:      "1 when the alert watcher is active, 0 when shut down.",
		}),
		AlertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_published_total",
			Help:      "Forecast alerts written to Kafka by tier.",
		}, []string{"tier"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ForecastRequests,
		m.ForecastDuration,
		m.RunsUsed,
		m.WindowsByTier,
		m.GridCache,
		m.GridFetches,
		m.FetchDuration,
		m.FetchesRunning,
		m.GridStore,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.WatcherRunning,
		m.AlertsPublished,
	}
}
