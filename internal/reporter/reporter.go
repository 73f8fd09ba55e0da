package reporter

import (
	"context"
	"errors"
	"fmt"

	"rdtpbench/internal/bench"

	"github.com/sirupsen/logrus"
)

// Reporter publishes a finished benchmark run
type Reporter interface {
	Report(ctx context.Context, run *bench.Run) error
}

// LogReporter writes one structured entry per protocol
type LogReporter struct {
	log logrus.FieldLogger
}

// NewLogReporter creates a reporter logging through log
func NewLogReporter(log logrus.FieldLogger) *LogReporter {
	return &LogReporter{log: log}
}

// Report logs the summary of every protocol of run
func (l *LogReporter) Report(_ context.Context, run *bench.Run) error {
	for _, res := range run.Results {
		s := res.Summary
		l.log.WithFields(logrus.Fields{
			"run":          run.ID,
			"protocol":     res.Protocol,
			"trials":       len(res.Trials),
			"failures":     res.Failures,
			"setup_avg":    s.Setup.Avg,
			"transfer_avg": s.Transfer.Avg,
			"teardown_avg": s.Teardown.Avg,
			"total_avg":    s.Total.Avg,
			"total_min":    s.Total.Min,
			"total_max":    s.Total.Max,
			"setup_pct":    fmt.Sprintf("%.0f%%", s.Breakdown.Setup),
			"transfer_pct": fmt.Sprintf("%.0f%%", s.Breakdown.Transfer),
			"teardown_pct": fmt.Sprintf("%.0f%%", s.Breakdown.Teardown),
		}).Info("Benchmark result")
	}
	return nil
}

// multiReporter fans a run out to several reporters
type multiReporter []Reporter

// Multi returns a reporter calling each of reporters in order. Every
// reporter runs even if an earlier one fails.
func Multi(reporters ...Reporter) Reporter {
	return multiReporter(reporters)
}

func (m multiReporter) Report(ctx context.Context, run *bench.Run) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
