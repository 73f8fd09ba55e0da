package rdtp

import (
	"errors"
	"fmt"
)

var (
	// Phase failures. Each one also matches ErrRetryBudgetExhausted.
	ErrHandshakeTimeout    = errors.New("handshake timeout")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrTerminationTimeout means the payload was confirmed delivered but the
	// close handshake never completed.
	ErrTerminationTimeout = errors.New("termination timeout")

	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	ErrFraming              = errors.New("framing error")
	ErrTransport            = errors.New("transport error")

	// ErrTimeout is returned by Transport.ReceiveDatagram when nothing arrived in time
	ErrTimeout = errors.New("receive timeout")
	// ErrClosed is returned by a Transport after Close
	ErrClosed = errors.New("transport closed")

	ErrPayloadTooLarge = errors.New("payload exceeds the protocol size limit")
)

// phaseError builds the fatal error of a phase whose retry budget ran out
func phaseError(phase error, attempts int) error {
	return fmt.Errorf("%w: %w after %d attempts", phase, ErrRetryBudgetExhausted, attempts)
}

// framingError wraps ErrFraming with a description of what was wrong
func framingError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFraming, fmt.Sprintf(format, args...))
}

// DataDelivered reports whether err is a failure that happened after the
// receiver confirmed the whole payload, i.e. only the close handshake failed.
func DataDelivered(err error) bool {
	return errors.Is(err, ErrTerminationTimeout)
}
