package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events as structured log lines.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(_ context.Context, e Event) error {
	switch ev := e.(type) {
	case Admission:
		if ev.Allowed {
			s.log.Debug("Request admitted",
				zap.String("identity", string(ev.Identity)),
				zap.Int("remaining", ev.Remaining))
			return nil
		}
		s.log.Warn("Rate limit exceeded",
			zap.String("identity", string(ev.Identity)),
			zap.Int("limit", ev.Limit),
			zap.Time("reset_at", ev.ResetAt))
	case Verdict:
		s.log.Info("Verification completed",
			zap.String("product_id", ev.Result.ProductID),
			zap.Int("score", ev.Result.ConfidenceScore),
			zap.Bool("authentic", ev.Result.IsAuthentic),
			zap.Int("anomalies", len(ev.Result.AnomalousTransfers)))
	case DisputeOpened:
		s.log.Info("Counterfeit report opened",
			zap.String("report_id", ev.Report.ID),
			zap.String("product_id", ev.Report.ProductID),
			zap.String("reporter", string(ev.Report.Reporter)),
			zap.Uint64("stake", ev.Report.Stake))
	case VoteCast:
		s.log.Info("Vote cast",
			zap.String("report_id", ev.Vote.ReportID),
			zap.String("voter", string(ev.Vote.Voter)),
			zap.String("choice", string(ev.Vote.Choice)),
			zap.Uint64("weight", ev.Vote.Weight))
	case Resolved:
		s.log.Info("Counterfeit report resolved",
			zap.String("report_id", ev.Resolution.ReportID),
			zap.String("outcome", string(ev.Resolution.Outcome)),
			zap.Int("votes", ev.Resolution.Tally.Votes),
			zap.Int("reputation_delta", ev.Resolution.ReputationDelta))
	default:
		s.log.Info("Event", zap.String("kind", e.Kind()))
	}
	return nil
}
