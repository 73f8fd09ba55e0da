// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package app

import (
	"context"
	"net"

	"rdtpbench/internal/metrics"
)

// PayloadSender transfers one payload to a receiver and reports how long
// each phase took
type PayloadSender interface {
	Send(ctx context.Context, payload []byte, address string) (metrics.Metrics, error)
}

// receiver is a bound protocol receiver
type receiver interface {
	// Serve handles peers until ctx is cancelled or the receiver is closed
	Serve(ctx context.Context) error
	// Addr returns the bound address
	Addr() net.Addr
	// Close releases the listening socket
	Close() error
}
