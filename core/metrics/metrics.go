// Package metrics defines the observability sink interfaces of the engine.
// Implementations live under infra/metrics.
package metrics

import "time"

// AssignmentEvent is recorded once per successful award.
type AssignmentEvent struct {
	CaseID    string
	CarrierID string
	// Method is auction, auto or manual.
	Method string
	Amount float64
	Time   time.Time
}

// MatchEvent is recorded once per matching run.
type MatchEvent struct {
	CaseID     string
	Candidates int
	TopScore   float64
	Duration   time.Duration
	Time       time.Time
}

// BidEvent is recorded for every accepted bid.
type BidEvent struct {
	CaseID       string
	CarrierID    string
	Amount       float64
	Resubmission bool
	Time         time.Time
}

// Sink records assignment engine events for observability purposes.
type Sink interface {
	RecordAssignment(ev AssignmentEvent) error
	RecordMatch(ev MatchEvent) error
	RecordBid(ev BidEvent) error
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordAssignment(AssignmentEvent) error { return nil }
func (NopSink) RecordMatch(MatchEvent) error           { return nil }
func (NopSink) RecordBid(BidEvent) error               { return nil }

// Config selects the enabled sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`

	InfluxEnabled bool   `json:"influx_enabled"`
	InfluxURL     string `json:"influx_url"`
	InfluxToken   string `json:"influx_token"`
	InfluxOrg     string `json:"influx_org"`
	InfluxBucket  string `json:"influx_bucket"`
}
