package app

import (
	"context"
	"fmt"

	"rdtpbench/internal/bench"
	"rdtpbench/internal/config"
	"rdtpbench/internal/processor"
	"rdtpbench/internal/reporter"
	"rdtpbench/internal/ui"
	"rdtpbench/pkg/types"

	"github.com/sirupsen/logrus"
)

// BenchOptions configures the benchmark application behavior
type BenchOptions struct {
	FilePath  string   // Required: payload sent by every trial
	Protocols []string // Optional: overrides bench.protocols
}

// BenchApp runs repeated trials of every protocol and reports the summary
type BenchApp struct {
	config   *config.Config
	log      logrus.FieldLogger
	ui       ui.BenchUI
	reporter reporter.Reporter
}

// NewBenchApp creates a new benchmark application
func NewBenchApp(cfg *config.Config, log logrus.FieldLogger, ui ui.BenchUI, rep reporter.Reporter) *BenchApp {
	return &BenchApp{
		config:   cfg,
		log:      log,
		ui:       ui,
		reporter: rep,
	}
}

// Run starts the benchmark with the given options
func (b *BenchApp) Run(ctx context.Context, opts *BenchOptions) error {
	if opts.FilePath == "" {
		return ErrFilePathRequired
	}

	protocols := opts.Protocols
	if len(protocols) == 0 {
		protocols = b.config.Bench.Protocols
	}
	targets, err := newTargets(b.config, protocols, b.log)
	if err != nil {
		return err
	}

	payload, err := processor.LoadPayload(opts.FilePath, b.log)
	if err != nil {
		return err
	}
	info := bench.PayloadInfo{Name: payload.Name, Size: payload.Size, Checksum: payload.Checksum}

	progressCh := make(chan types.TrialProgress)
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.ui.TrackProgress(ctx, progressCh)
		// Keep the runner unblocked if the UI stopped early
		for range progressCh {
		}
	}()

	runner := bench.NewRunner(b.config.Bench, b.log)
	runner.Progress = progressCh
	run, err := runner.Run(ctx, payload.Data, info, targets)
	close(progressCh)
	<-done
	if err != nil {
		return fmt.Errorf("benchmark aborted: %w", err)
	}

	b.ui.ShowRun(run)

	if err := b.reporter.Report(ctx, run); err != nil {
		return fmt.Errorf("failed to report run %s: %w", run.ID, err)
	}
	return nil
}

// NewReporter returns the reporters enabled in cfg. Runs are always logged
// and additionally stored in Firebase when a database is configured.
func NewReporter(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (reporter.Reporter, error) {
	reporters := []reporter.Reporter{reporter.NewLogReporter(log)}

	if cfg.Firebase.Enabled() {
		fb, err := reporter.NewFirebaseReporter(ctx, cfg.Firebase, log)
		if err != nil {
			return nil, err
		}
		reporters = append(reporters, fb)
	}
	return reporter.Multi(reporters...), nil
}
