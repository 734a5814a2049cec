package mapbox

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joliver3/gfs-winter-weather/internal/domain"
	"github.com/joliver3/gfs-winter-weather/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lru.Cache[string, domain.GeocodingResult]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder holding at
// most maxEntries places.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, domain.GeocodingResult](max(maxEntries, 1))
	return &CachedGeocoder{
		inner:   inner,
		cache:   cache,
		metrics: metrics,
	}
}

// ReverseGeocode serves repeated lookups of the same coordinate (to about
// 100 m) from the cache.
func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	key := cacheKey(lat, lon)
	if result, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues(methodReverse, "hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues(methodReverse, "miss").Inc()
	result, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return result, err
	}
	// Empty results are retried on the next request.
	if result.FormattedAddress != "" {
		c.cache.Add(key, result)
	}
	return result, nil
}

// Len returns the number of cached places.
func (c *CachedGeocoder) Len() int {
	return c.cache.Len()
}

func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("rev:%.3f,%.3f", lat, lon)
}
