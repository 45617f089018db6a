package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// JobCounter reports the number of outbox jobs per status.
type JobCounter interface {
	CountJobs() (map[string]int, error)
}

var jobsDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "outbox", "jobs"),
	"Outbox jobs by status.",
	[]string{"status"}, nil,
)

// jobsCollector reads the job counts at scrape time.
type jobsCollector struct {
	counter JobCounter
	logger  *slog.Logger
}

func (c jobsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- jobsDesc
}

func (c jobsCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.counter.CountJobs()
	if err != nil {
		c.logger.Warn("counting outbox jobs failed", "error", err)
		return
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(jobsDesc, prometheus.GaugeValue, float64(n), status)
	}
}

// WatchJobs exports the outbox queue depth per status.
func (m *Metrics) WatchJobs(counter JobCounter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	return m.registry.Register(jobsCollector{counter: counter, logger: logger})
}
