// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package ui

import (
	"context"

	"rdtpbench/internal/bench"
	"rdtpbench/internal/metrics"
	"rdtpbench/pkg/types"
)

// BenchUI defines how benchmark progress and results are shown to the user
type BenchUI interface {
	// ShowMessage displays a message to the user
	ShowMessage(message string)

	// TrackProgress renders trial updates until the channel is closed
	TrackProgress(ctx context.Context, progressCh <-chan types.TrialProgress)

	// ShowMetrics displays the timing of a single transfer
	ShowMetrics(protocol string, m metrics.Metrics)

	// ShowRun displays the aggregated results of a benchmark run
	ShowRun(run *bench.Run)
}
