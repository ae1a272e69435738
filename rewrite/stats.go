package rewrite

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Stats collects rewrite counters in a private registry.
type Stats struct {
	registry *prometheus.Registry
	rewrites *prometheus.CounterVec
	cases    *prometheus.CounterVec
	chainLen prometheus.Histogram
	blocks   prometheus.Counter
}

func NewStats() *Stats {
	s := &Stats{
		registry: prometheus.NewRegistry(),
		rewrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avx2rw_instructions_total",
				Help: "Wide instructions seen by the rewriter, by opcode and outcome.",
			},
			[]string{"opcode", "outcome"},
		),
		cases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avx2rw_cases_total",
				Help: "Replacement chains produced, by substitution case.",
			},
			[]string{"case", "strategy"},
		),
		chainLen: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "avx2rw_chain_length",
				Help:    "Instructions per replacement chain.",
				Buckets: prometheus.LinearBuckets(1, 2, 12),
			},
		),
		blocks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "avx2rw_blocks_total",
				Help: "Blocks rewritten.",
			},
		),
	}
	s.registry.MustRegister(s.rewrites, s.cases, s.chainLen, s.blocks)
	return s
}

// Registry exposes the collectors, e.g. for an HTTP handler.
func (s *Stats) Registry() *prometheus.Registry { return s.registry }

func (s *Stats) observe(op, outcome string, c Chain) {
	if s == nil {
		return
	}
	s.rewrites.WithLabelValues(op, outcome).Inc()
	if c.First != nil {
		s.cases.WithLabelValues(c.Label(), c.Strategy.String()).Inc()
		s.chainLen.Observe(float64(c.Len()))
	}
}

func (s *Stats) block() {
	if s != nil {
		s.blocks.Inc()
	}
}

// WriteText dumps every metric in the Prometheus text format.
func (s *Stats) WriteText(w io.Writer) error {
	mfs, err := s.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
