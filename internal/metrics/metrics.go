// Package metrics records evaluation counters in a private prometheus
// registry. A run writes them to a node-exporter textfile on exit.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/signalnine/envgrade/internal/result"
)

// Metrics is safe to use through a nil pointer; every method is then a
// no-op.
type Metrics struct {
	reg *prometheus.Registry

	// builds counts image builds by outcome
	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram

	// checks counts check executions by kind and outcome
	checks        *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec

	cleanupErrors *prometheus.CounterVec
	score         prometheus.Gauge
	maxScore      prometheus.Gauge
	successRate   prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		builds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "envgrade_builds_total",
			Help: "Image builds by outcome",
		}, []string{"outcome"}),
		buildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "envgrade_build_duration_seconds",
			Help:    "Image build duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 13), // 1s to ~68m
		}),
		checks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "envgrade_checks_total",
			Help: "Check executions by kind and outcome",
		}, []string{"kind", "outcome"}),
		checkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "envgrade_check_duration_seconds",
			Help:    "Check duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		cleanupErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "envgrade_cleanup_errors_total",
			Help: "Failed cleanup steps by step",
		}, []string{"step"}),
		score: f.NewGauge(prometheus.GaugeOpts{
			Name: "envgrade_total_score",
			Help: "Weighted score of the last evaluation",
		}),
		maxScore: f.NewGauge(prometheus.GaugeOpts{
			Name: "envgrade_max_score",
			Help: "Sum of declared weights of the last evaluation",
		}),
		successRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "envgrade_success_rate",
			Help: "Passed sub-checks over evaluated sub-checks",
		}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

func (m *Metrics) ObserveBuild(success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(outcome(success)).Inc()
	m.buildDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCheck(kind string, passed bool, d time.Duration) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(kind, outcome(passed)).Inc()
	m.checkDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) CleanupFailed(step string) {
	if m == nil {
		return
	}
	m.cleanupErrors.WithLabelValues(step).Inc()
}

func (m *Metrics) ObserveSummary(s result.Summary) {
	if m == nil {
		return
	}
	m.score.Set(s.TotalScore)
	m.maxScore.Set(s.MaxScore)
	m.successRate.Set(s.SuccessRate)
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// WriteTextfile writes every metric in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
