// Package metrics exposes Prometheus collectors for hexbin inspection.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Kinds of stale results.
const (
	KindSummary  = "summary"
	KindGraphics = "graphics"
)

// Collector holds the inspector metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	SummaryFetches       prometheus.Counter
	SummaryFetchFailures prometheus.Counter
	SummaryFetchDuration prometheus.Histogram
	StaleResults         *prometheus.CounterVec
	GraphicsRebuilds     prometheus.Counter
	GraphicsDisplayed    prometheus.Gauge
	ActiveSessions       prometheus.Gauge
}

// NewCollector registers the inspector metrics against reg (default registerer
// when nil). Registering twice against the same registry reuses the existing
// collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fetches, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexbin_summary_fetches_total",
		Help: "Summary fetches issued (one per selection, three queries each).",
	}), "hexbin_summary_fetches_total")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexbin_summary_fetch_failures_total",
		Help: "Summary fetches where at least one query failed.",
	}), "hexbin_summary_fetch_failures_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hexbin_summary_fetch_duration_seconds",
		Help:    "Time until all three summary queries completed.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}), "hexbin_summary_fetch_duration_seconds")
	if err != nil {
		return nil, err
	}

	stale, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexbin_stale_results_total",
		Help: "Async completions discarded because a newer selection or filter superseded them.",
	}, []string{"kind"}), "hexbin_stale_results_total")
	if err != nil {
		return nil, err
	}

	rebuilds, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexbin_graphics_rebuilds_total",
		Help: "Graphics rebuilds triggered by filter predicate changes.",
	}), "hexbin_graphics_rebuilds_total")
	if err != nil {
		return nil, err
	}

	displayed, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hexbin_graphics_displayed",
		Help: "Hexbins in the most recently applied collection.",
	}), "hexbin_graphics_displayed")
	if err != nil {
		return nil, err
	}

	sessions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hexbin_sessions_active",
		Help: "Open inspection sessions.",
	}), "hexbin_sessions_active")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:             gatherer,
		SummaryFetches:       fetches,
		SummaryFetchFailures: failures,
		SummaryFetchDuration: duration,
		StaleResults:         stale,
		GraphicsRebuilds:     rebuilds,
		GraphicsDisplayed:    displayed,
		ActiveSessions:       sessions,
	}, nil
}

// Gatherer returns the gatherer associated with the collector.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// IncSummaryFetches counts an issued summary fetch.
func (c *Collector) IncSummaryFetches() {
	if c == nil || c.SummaryFetches == nil {
		return
	}
	c.SummaryFetches.Inc()
}

// IncSummaryFetchFailures counts a failed summary fetch.
func (c *Collector) IncSummaryFetchFailures() {
	if c == nil || c.SummaryFetchFailures == nil {
		return
	}
	c.SummaryFetchFailures.Inc()
}

// ObserveSummaryFetch records how long a summary fetch took.
func (c *Collector) ObserveSummaryFetch(d time.Duration) {
	if c == nil || c.SummaryFetchDuration == nil {
		return
	}
	c.SummaryFetchDuration.Observe(d.Seconds())
}

// IncStaleResults counts a discarded completion of the given kind.
func (c *Collector) IncStaleResults(kind string) {
	if c == nil || c.StaleResults == nil {
		return
	}
	c.StaleResults.WithLabelValues(kind).Inc()
}

// IncGraphicsRebuilds counts a started graphics rebuild.
func (c *Collector) IncGraphicsRebuilds() {
	if c == nil || c.GraphicsRebuilds == nil {
		return
	}
	c.GraphicsRebuilds.Inc()
}

// SetGraphicsDisplayed updates the displayed hexbin gauge.
func (c *Collector) SetGraphicsDisplayed(n int) {
	if c == nil || c.GraphicsDisplayed == nil {
		return
	}
	c.GraphicsDisplayed.Set(float64(n))
}

// SetActiveSessions updates the open session gauge.
func (c *Collector) SetActiveSessions(n int) {
	if c == nil || c.ActiveSessions == nil {
		return
	}
	c.ActiveSessions.Set(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
