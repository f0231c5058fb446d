package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keithlinneman/linnemanlabs-api/internal/cache"
)

// cacheCollector reads cache.Stats at scrape time. Hits and misses are
// gauges: Clear resets them, so they are not monotonic.
type cacheCollector struct {
	stats func() cache.Stats

	size     *prometheus.Desc
	capacity *prometheus.Desc
	hits     *prometheus.Desc
	misses   *prometheus.Desc
}

func newCacheCollector(name string, stats func() cache.Stats) *cacheCollector {
	labels := prometheus.Labels{"cache": name}
	return &cacheCollector{
		stats:    stats,
		size:     prometheus.NewDesc("cache_entries", "Entries currently stored", nil, labels),
		capacity: prometheus.NewDesc("cache_capacity_entries", "Maximum number of entries", nil, labels),
		hits:     prometheus.NewDesc("cache_hits", "Hits since start or last clear", nil, labels),
		misses:   prometheus.NewDesc("cache_misses", "Misses since start or last clear", nil, labels),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.capacity
	ch <- c.hits
	ch <- c.misses
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.MaxSize))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.GaugeValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.GaugeValue, float64(s.Misses))
}
