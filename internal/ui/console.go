package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"rdtpbench/internal/bench"
	"rdtpbench/internal/metrics"
	"rdtpbench/internal/rdtp"
	"rdtpbench/pkg/types"
	"rdtpbench/pkg/utils"

	"github.com/schollz/progressbar/v3"
)

const separator = "----------------------------------------"

// ConsoleUI renders benchmark progress bars and result tables on a terminal
type ConsoleUI struct {
	out    io.Writer // results
	barOut io.Writer // progress bars

	bar      *progressbar.ProgressBar
	protocol string // protocol the current bar tracks
	failed   int
}

// NewConsoleUI creates a console UI printing results to stdout and progress
// to stderr
func NewConsoleUI() *ConsoleUI {
	return NewConsoleUIWithWriters(os.Stdout, os.Stderr)
}

// NewConsoleUIWithWriters creates a console UI on the given writers
func NewConsoleUIWithWriters(out, barOut io.Writer) *ConsoleUI {
	return &ConsoleUI{out: out, barOut: barOut}
}

// ShowMessage displays a message to the user
func (c *ConsoleUI) ShowMessage(message string) {
	fmt.Fprintln(c.out, message)
}

// TrackProgress renders one progress bar per protocol, advancing it on
// every finished trial
func (c *ConsoleUI) TrackProgress(ctx context.Context, progressCh <-chan types.TrialProgress) {
	defer c.completeProgress()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-progressCh:
			if !ok {
				return
			}
			c.updateProgress(update)
		}
	}
}

func (c *ConsoleUI) updateProgress(update types.TrialProgress) {
	if c.bar == nil || update.Protocol != c.protocol {
		c.completeProgress()
		c.initProgressBar(update.Protocol, update.Trials)
	}

	// A trial that delivered the payload but failed to close still counts
	if update.Err != nil && !rdtp.DataDelivered(update.Err) {
		c.failed++
		c.bar.Describe(fmt.Sprintf("%s (%d failed)", strings.ToUpper(c.protocol), c.failed))
	}
	_ = c.bar.Add(1)
}

// initProgressBar starts a bar counting the trials of protocol
func (c *ConsoleUI) initProgressBar(protocol string, trials int) {
	c.protocol = protocol
	c.failed = 0
	c.bar = progressbar.NewOptions(trials,
		progressbar.OptionSetDescription(strings.ToUpper(protocol)),
		progressbar.OptionSetWriter(c.barOut),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(c.barOut)
		}),
	)
}

// completeProgress finishes the current bar, if any
func (c *ConsoleUI) completeProgress() {
	if c.bar == nil {
		return
	}
	_ = c.bar.Finish()
	c.bar = nil
}

// ShowMetrics displays the timing of a single transfer
func (c *ConsoleUI) ShowMetrics(protocol string, m metrics.Metrics) {
	fmt.Fprintf(c.out, "\n%s transfer:\n", strings.ToUpper(protocol))
	fmt.Fprintf(c.out, "+ Setup:    %s\n", ms(m.Setup))
	fmt.Fprintf(c.out, "+ Transfer: %s\n", ms(m.Transfer))
	fmt.Fprintf(c.out, "+ Teardown: %s\n", ms(m.Teardown))
	fmt.Fprintf(c.out, "+ Total:    %s\n", ms(m.Total))
}

// ShowRun displays min/avg/max per phase and the percentage breakdown of
// every protocol in run
func (c *ConsoleUI) ShowRun(run *bench.Run) {
	fmt.Fprintf(c.out, "\nRun %s\n", run.ID)
	fmt.Fprintf(c.out, "Payload: %s (%s)\n", run.Payload.Name, utils.FormatFileSize(run.Payload.Size))
	fmt.Fprintln(c.out, separator)

	for _, res := range run.Results {
		s := res.Summary
		fmt.Fprintf(c.out, "%s Results (%d/%d trials succeeded):\n",
			strings.ToUpper(res.Protocol), len(res.Trials)-res.Failures, len(res.Trials))

		if s.Trials == 0 {
			fmt.Fprintln(c.out, "No successful trials")
			fmt.Fprintln(c.out, separator)
			continue
		}

		c.showStat("Setup Time", s.Setup)
		c.showStat("Transfer Time", s.Transfer)
		c.showStat("Teardown Time", s.Teardown)
		c.showStat("Total Time", s.Total)

		fmt.Fprintln(c.out, "\nPercentage Breakdown:")
		fmt.Fprintf(c.out, "Setup: %.0f%%\n", s.Breakdown.Setup)
		fmt.Fprintf(c.out, "Transfer: %.0f%%\n", s.Breakdown.Transfer)
		fmt.Fprintf(c.out, "Teardown: %.0f%%\n", s.Breakdown.Teardown)

		for i, trial := range res.Trials {
			if trial.UncleanClose {
				fmt.Fprintf(c.out, "Trial %d delivered the payload but did not close cleanly\n", i+1)
			}
		}
		fmt.Fprintln(c.out, separator)
	}
}

func (c *ConsoleUI) showStat(name string, st metrics.Stat) {
	fmt.Fprintf(c.out, "%s: avg=%s min=%s max=%s\n", name, ms(st.Avg), ms(st.Min), ms(st.Max))
}

// ms formats d in milliseconds with one decimal
func ms(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
}
