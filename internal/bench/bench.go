// Package bench runs repeated transfers per protocol and aggregates their
// timing.
package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rdtpbench/internal/config"
	"rdtpbench/internal/metrics"
	"rdtpbench/internal/rdtp"
	"rdtpbench/pkg/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNoTargets is returned when a run has nothing to measure
var ErrNoTargets = errors.New("no protocols to benchmark")

// Protocol performs one complete transfer of payload
type Protocol func(ctx context.Context, payload []byte) (metrics.Metrics, error)

// Target is a protocol under test
type Target struct {
	Name string
	Send Protocol
}

// PayloadInfo describes what was transferred
type PayloadInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// Trial is the outcome of one transfer attempt
type Trial struct {
	Metrics metrics.Metrics `json:"metrics"`
	Error   string          `json:"error,omitempty"`
	// UncleanClose marks a transfer whose payload was confirmed but whose
	// close handshake failed. Its metrics are kept.
	UncleanClose bool `json:"unclean_close,omitempty"`
}

// Succeeded reports whether the trial counts towards the summary
func (t Trial) Succeeded() bool {
	return t.Error == "" || t.UncleanClose
}

// Result holds every trial of one protocol and their aggregation over the
// successful ones
type Result struct {
	Protocol string          `json:"protocol"`
	Trials   []Trial         `json:"trials"`
	Failures int             `json:"failures"`
	Summary  metrics.Summary `json:"summary"`
}

// Run is a complete benchmark
type Run struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Payload    PayloadInfo `json:"payload"`
	Results    []Result    `json:"results"`
}

// Runner executes the configured number of trials per target with a pause
// before each trial
type Runner struct {
	trials int
	pause  time.Duration
	log    logrus.FieldLogger

	// Progress, when set, receives one update per finished trial. The
	// runner blocks on it, so the consumer must keep reading.
	Progress chan<- types.TrialProgress
}

// NewRunner creates a runner from the bench settings
func NewRunner(cfg config.BenchConfig, log logrus.FieldLogger) *Runner {
	return &Runner{
		trials: cfg.Trials,
		pause:  cfg.Pause,
		log:    log.WithField("role", "bench"),
	}
}

// Run measures every target in order. A failed trial is recorded and the
// run goes on; only cancellation stops it early.
func (r *Runner) Run(ctx context.Context, payload []byte, info PayloadInfo, targets []Target) (*Run, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Payload:   info,
	}
	log := r.log.WithField("run", run.ID)

	for _, target := range targets {
		res, err := r.runTarget(ctx, log, payload, target)
		if err != nil {
			return nil, err
		}
		run.Results = append(run.Results, res)
	}

	run.FinishedAt = time.Now().UTC()
	return run, nil
}

func (r *Runner) runTarget(ctx context.Context, log logrus.FieldLogger, payload []byte, target Target) (Result, error) {
	log = log.WithField("protocol", target.Name)
	res := Result{Protocol: target.Name}
	var samples []metrics.Metrics

	for i := 1; i <= r.trials; i++ {
		if err := sleep(ctx, r.pause); err != nil {
			return Result{}, err
		}

		m, err := target.Send(ctx, payload)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}

		trial := Trial{Metrics: m}
		if err != nil {
			trial.Error = err.Error()
			trial.UncleanClose = rdtp.DataDelivered(err)
		}
		res.Trials = append(res.Trials, trial)

		entry := log.WithFields(logrus.Fields{"trial": fmt.Sprintf("%d/%d", i, r.trials), "total": m.Total})
		switch {
		case err == nil:
			entry.Info("Trial completed")
		case trial.UncleanClose:
			entry.WithError(err).Warn("Trial delivered the payload but did not close cleanly")
		default:
			entry.WithError(err).Warn("Trial failed")
		}

		if trial.Succeeded() {
			samples = append(samples, m)
		} else {
			res.Failures++
		}

		if r.Progress != nil {
			select {
			case r.Progress <- types.TrialProgress{Protocol: target.Name, Trial: i, Trials: r.trials, Elapsed: m.Total, Err: err}:
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
	}

	res.Summary = metrics.Summarize(samples)
	return res, nil
}

// sleep waits for d unless ctx is cancelled first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
