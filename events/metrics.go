package events

import (
	"context"
	"strconv"

	"verifychain/metrics"
)

// MetricsSink counts events into Prometheus collectors.
type MetricsSink struct {
	m *metrics.Metrics
}

func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{m: m}
}

func (s *MetricsSink) Emit(_ context.Context, e Event) error {
	switch ev := e.(type) {
	case Admission:
		result := "allowed"
		if !ev.Allowed {
			result = "rejected"
		}
		s.m.Admissions.WithLabelValues(result).Inc()
	case Verdict:
		s.m.Verifications.WithLabelValues(strconv.FormatBool(ev.Result.IsAuthentic)).Inc()
		s.m.ConfidenceScore.Observe(float64(ev.Result.ConfidenceScore))
	case DisputeOpened:
		s.m.Disputes.WithLabelValues(string(ev.Report.Status)).Inc()
	case VoteCast:
		s.m.Votes.Inc()
	case Resolved:
		s.m.Disputes.WithLabelValues(string(ev.Resolution.Outcome)).Inc()
	}
	return nil
}
