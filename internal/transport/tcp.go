package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"rdtpbench/internal/config"
	"rdtpbench/internal/metrics"
	"rdtpbench/internal/rdtp"

	"github.com/sirupsen/logrus"
)

// doneReply is what a baseline receiver answers once it has the whole payload
var doneReply = []byte("DONE")

const (
	lengthPrefixSize = 4
	// tcpReadStep bounds how much is read per deadline extension
	tcpReadStep = 64 * 1024
)

// TCPSender sends one payload per connection: length prefix, payload, then
// waits for DONE
type TCPSender struct {
	config config.TCPConfig
	log    logrus.FieldLogger
}

// NewTCPSender creates a TCP baseline sender
func NewTCPSender(cfg config.TCPConfig, log logrus.FieldLogger) *TCPSender {
	return &TCPSender{
		config: cfg,
		log:    log.WithField("role", "tcp-sender"),
	}
}

// Send connects to address, transfers payload and closes the connection.
// Dial is reported as setup and close as teardown.
func (s *TCPSender) Send(ctx context.Context, payload []byte, address string) (metrics.Metrics, error) {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return metrics.Metrics{}, fmt.Errorf("%w: %d bytes", rdtp.ErrPayloadTooLarge, len(payload))
	}

	sw := metrics.StartStopwatch()
	var conn net.Conn

	err := sw.Setup(func() error {
		dialer := &net.Dialer{Timeout: s.config.Timeout}
		c, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", address, err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return sw.Stop(), err
	}

	// Unblock reads and writes when ctx is cancelled mid-transfer
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	err = sw.Transfer(func() error {
		if err := conn.SetDeadline(time.Now().Add(s.config.Timeout)); err != nil {
			return fmt.Errorf("failed to set deadline: %w", err)
		}

		header := binary.BigEndian.AppendUint32(nil, uint32(len(payload)))
		if _, err := (&net.Buffers{header, payload}).WriteTo(conn); err != nil {
			return fmt.Errorf("failed to write payload: %w", err)
		}

		reply := make([]byte, len(doneReply))
		if _, err := io.ReadFull(conn, reply); err != nil {
			return fmt.Errorf("failed to read completion reply: %w", err)
		}
		if !bytes.Equal(reply, doneReply) {
			return fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
		}
		return nil
	})
	if err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return sw.Stop(), err
	}

	err = sw.Teardown(func() error {
		if tc, ok := conn.(*net.TCPConn); ok {
			if err := tc.CloseWrite(); err != nil {
				conn.Close()
				return fmt.Errorf("failed to shut down connection: %w", err)
			}
		}
		return conn.Close()
	})

	m := sw.Stop()
	s.log.WithFields(logrus.Fields{"peer": address, "size": len(payload), "total": m.Total}).Debug("TCP transfer completed")
	return m, err
}

// TCPReceiver accepts connections and reads one length-prefixed payload
// from each
type TCPReceiver struct {
	listener net.Listener
	config   config.TCPConfig
	log      logrus.FieldLogger
	sink     rdtp.PayloadSink
}

// ListenTCP binds a TCP baseline receiver to address. sink may be nil.
func ListenTCP(address string, cfg config.TCPConfig, log logrus.FieldLogger, sink rdtp.PayloadSink) (*TCPReceiver, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return &TCPReceiver{
		listener: l,
		config:   cfg,
		log:      log.WithField("role", "tcp-receiver"),
		sink:     sink,
	}, nil
}

// Addr returns the bound address
func (r *TCPReceiver) Addr() net.Addr {
	return r.listener.Addr()
}

// Close stops accepting connections
func (r *TCPReceiver) Close() error {
	err := r.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Serve accepts connections until ctx is cancelled or the receiver is
// closed, then waits for the connections in progress
func (r *TCPReceiver) Serve(ctx context.Context) error {
	r.log.WithField("addr", r.Addr()).Info("TCP receiver listening")

	stop := context.AfterFunc(ctx, func() { r.listener.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			if err := r.handleConn(conn); err != nil {
				r.log.WithError(err).WithField("peer", conn.RemoteAddr()).Warn("TCP transfer failed")
			}
		}()
	}
}

// handleConn reads the length prefix and the payload, then answers DONE
func (r *TCPReceiver) handleConn(conn net.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(r.config.Timeout)); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	header := make([]byte, lengthPrefixSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return fmt.Errorf("failed to read length prefix: %w", err)
	}
	size := int64(binary.BigEndian.Uint32(header))

	// Grow as bytes arrive instead of trusting the announced size up front
	var buf bytes.Buffer
	for remaining := size; remaining > 0; {
		if err := conn.SetReadDeadline(time.Now().Add(r.config.Timeout)); err != nil {
			return fmt.Errorf("failed to set deadline: %w", err)
		}
		n, err := io.CopyN(&buf, conn, min(remaining, tcpReadStep))
		remaining -= n
		if err != nil {
			return fmt.Errorf("failed to read payload after %d of %d bytes: %w", size-remaining, size, err)
		}
	}

	if err := conn.SetWriteDeadline(time.Now().Add(r.config.Timeout)); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}
	if _, err := conn.Write(doneReply); err != nil {
		return fmt.Errorf("failed to send completion reply: %w", err)
	}

	r.log.WithFields(logrus.Fields{"peer": conn.RemoteAddr(), "size": size}).Info("TCP payload received")

	if r.sink != nil {
		if err := r.sink.Deliver(conn.RemoteAddr(), buf.Bytes()); err != nil {
			return fmt.Errorf("failed to deliver payload: %w", err)
		}
	}
	return nil
}
