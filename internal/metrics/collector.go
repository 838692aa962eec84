package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ServiceStats provides the collector access to live service state.
type ServiceStats interface {
	EngineAvailable() bool
	ModelAvailable() bool
	InFlight() int64
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats ServiceStats

	engineAvailable *prometheus.Desc
	modelAvailable  *prometheus.Desc
	inFlight        *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (all gauges report 0).
func NewCollector(stats ServiceStats) *Collector {
	return &Collector{
		stats: stats,
		engineAvailable: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "engine_available"),
			"1 if the whisper.cpp binary resolves, 0 otherwise.",
			nil, nil,
		),
		modelAvailable: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "model_available"),
			"1 if the configured model file was found, 0 otherwise.",
			nil, nil,
		),
		inFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "transcriptions_in_flight"),
			"Transcriptions currently being processed.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.engineAvailable
	ch <- c.modelAvailable
	ch <- c.inFlight
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var engine, model, inFlight float64
	if c.stats != nil {
		engine = boolGauge(c.stats.EngineAvailable())
		model = boolGauge(c.stats.ModelAvailable())
		inFlight = float64(c.stats.InFlight())
	}
	ch <- prometheus.MustNewConstMetric(c.engineAvailable, prometheus.GaugeValue, engine)
	ch <- prometheus.MustNewConstMetric(c.modelAvailable, prometheus.GaugeValue, model)
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, inFlight)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
