// Package metrics records analysis counters on a private Prometheus registry
// and exports them in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for the analyses counter.
const (
	OutcomeScanned    = "scanned"
	OutcomeFallback   = "fallback"
	OutcomeUnreadable = "unreadable"
	OutcomeRejected   = "rejected"
	OutcomeError      = "error"
)

// Recorder is safe for concurrent use. A nil Recorder records nothing.
type Recorder struct {
	reg       *prometheus.Registry
	analyses  *prometheus.CounterVec
	files     prometheus.Counter
	warnings  prometheus.Counter
	knownBad  prometheus.Counter
	cacheHits prometheus.Counter
	riskScore prometheus.Histogram
	duration  prometheus.Histogram
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgtriage_analyses_total",
			Help: "Analyses completed, by outcome.",
		}, []string{"outcome"}),
		files: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgtriage_files_enumerated_total",
			Help: "Regular files discovered inside mounted volumes.",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgtriage_parse_warnings_total",
			Help: "Traversal and per-file warnings accumulated during analyses.",
		}),
		knownBad: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgtriage_known_bad_files_total",
			Help: "Files whose SHA-256 matched the known-bad digest list.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgtriage_cache_hits_total",
			Help: "Analyses answered from the result cache.",
		}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgtriage_risk_score",
			Help:    "Distribution of final risk scores.",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgtriage_analysis_duration_seconds",
			Help:    "Wall time of a single analysis.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
	r.reg.MustRegister(r.analyses, r.files, r.warnings, r.knownBad, r.cacheHits, r.riskScore, r.duration)
	return r
}

// Analysis holds the per-call figures fed to ObserveAnalysis.
type Analysis struct {
	Outcome   string
	Files     int
	Warnings  int
	KnownBad  int
	RiskScore int
	Elapsed   time.Duration
}

func (r *Recorder) ObserveAnalysis(a Analysis) {
	if r == nil {
		return
	}
	r.analyses.WithLabelValues(a.Outcome).Inc()
	if a.Outcome == OutcomeRejected || a.Outcome == OutcomeError {
		return
	}
	r.files.Add(float64(a.Files))
	r.warnings.Add(float64(a.Warnings))
	r.knownBad.Add(float64(a.KnownBad))
	r.riskScore.Observe(float64(a.RiskScore))
	r.duration.Observe(a.Elapsed.Seconds())
}

func (r *Recorder) CacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// WriteTextfile atomically writes the current values to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return errors.Wrap(err, "write metrics textfile")
	}
	return nil
}
