package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheStatsFunc devuelve claves, hits y misses del backend de cache.
type CacheStatsFunc func(ctx context.Context) (keys, hits, misses int64, err error)

type cacheCollector struct {
	stats CacheStatsFunc

	keysDesc   *prometheus.Desc
	hitsDesc   *prometheus.Desc
	missesDesc *prometheus.Desc
}

// NewCacheCollector expone las estadísticas propias del backend de cache
// (para redis, las de todo el servidor). Un error de stats omite la muestra.
func NewCacheCollector(driver string, stats CacheStatsFunc) prometheus.Collector {
	labels := prometheus.Labels{"driver": driver}
	return &cacheCollector{
		stats:      stats,
		keysDesc:   prometheus.NewDesc("cache_keys", "Claves en el cache", nil, labels),
		hitsDesc:   prometheus.NewDesc("cache_backend_hits", "Hits reportados por el backend", nil, labels),
		missesDesc: prometheus.NewDesc("cache_backend_misses", "Misses reportados por el backend", nil, labels),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keysDesc
	ch <- c.hitsDesc
	ch <- c.missesDesc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	keys, hits, misses, err := c.stats(ctx)
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.keysDesc, prometheus.GaugeValue, float64(keys))
	ch <- prometheus.MustNewConstMetric(c.hitsDesc, prometheus.GaugeValue, float64(hits))
	ch <- prometheus.MustNewConstMetric(c.missesDesc, prometheus.GaugeValue, float64(misses))
}
