package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coremetrics "github.com/hfujita/wastematch/core/metrics"
)

// PromSink records assignment events in Prometheus metrics.
type PromSink struct {
	assignments *prometheus.CounterVec
	bids        *prometheus.CounterVec
	matches     prometheus.Counter
	candidates  prometheus.Histogram
	matchTime   prometheus.Histogram
}

// NewPromSink registers the assignment metrics on the default Prometheus
// registerer. The HTTP server is started separately with StartPromServer.
func NewPromSink() (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "case_assignments_total",
		Help: "Total number of case assignments",
	}, []string{"method"})
	bids := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_total",
		Help: "Total number of accepted auction bids",
	}, []string{"resubmission"})
	matches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matching_runs_total",
		Help: "Total number of matching runs",
	})
	candidates := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matching_candidates",
		Help:    "Candidate count per matching run",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})
	matchTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matching_duration_seconds",
		Help:    "Wall time of a matching run",
		Buckets: prometheus.DefBuckets,
	})

	if err := reg.Register(assignments); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			assignments = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(bids); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			bids = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(matches); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			matches = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(candidates); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			candidates = are.ExistingCollector.(prometheus.Histogram)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(matchTime); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			matchTime = are.ExistingCollector.(prometheus.Histogram)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		assignments: assignments,
		bids:        bids,
		matches:     matches,
		candidates:  candidates,
		matchTime:   matchTime,
	}, nil
}

// RecordAssignment increments the assignment counter per method.
func (s *PromSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	s.assignments.WithLabelValues(ev.Method).Inc()
	return nil
}

// RecordMatch records one matching run.
func (s *PromSink) RecordMatch(ev coremetrics.MatchEvent) error {
	s.matches.Inc()
	s.candidates.Observe(float64(ev.Candidates))
	s.matchTime.Observe(ev.Duration.Seconds())
	return nil
}

// RecordBid increments the bid counter.
func (s *PromSink) RecordBid(ev coremetrics.BidEvent) error {
	s.bids.WithLabelValues(strconv.FormatBool(ev.Resubmission)).Inc()
	return nil
}

// StartPromServer exposes /metrics on the given port until the context is
// cancelled.
func StartPromServer(ctx context.Context, port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":" + port, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv
}
