package rdtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// Transport is the datagram socket RDTP runs on. ReceiveDatagram blocks for
// at most timeout and returns ErrTimeout when nothing arrived, the context
// error when ctx is cancelled, and ErrClosed once Close was called.
type Transport interface {
	SendDatagram(b []byte, dst net.Addr) error
	ReceiveDatagram(ctx context.Context, timeout time.Duration) ([]byte, net.Addr, error)
	LocalAddr() net.Addr
	Close() error
}

// UDPSocket is a Transport over a single UDP socket. One goroutine may
// receive at a time; sends may happen concurrently.
type UDPSocket struct {
	conn *net.UDPConn
	buf  []byte

	closeOnce sync.Once
}

// ListenUDP opens a UDP socket bound to address ("host:port", port 0 picks
// a free one). A non-zero tos sets the IPv4 type-of-service byte on
// outgoing datagrams.
func ListenUDP(address string, tos int) (*UDPSocket, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", address, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	if tos != 0 {
		if err := ipv4.NewConn(conn).SetTOS(tos); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set TOS %#x on %s: %w", tos, address, err)
		}
	}

	return &UDPSocket{
		conn: conn,
		buf:  make([]byte, MaxDatagramSize+1),
	}, nil
}

// SendDatagram sends b to dst
func (s *UDPSocket) SendDatagram(b []byte, dst net.Addr) error {
	if _, err := s.conn.WriteTo(b, dst); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("%w: send to %s: %w", ErrTransport, dst, err)
	}
	return nil
}

// ReceiveDatagram waits for the next datagram. Cancelling ctx unblocks the
// read immediately.
func (s *UDPSocket) ReceiveDatagram(ctx context.Context, timeout time.Duration) ([]byte, net.Addr, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrClosed
		}
		return nil, nil, fmt.Errorf("%w: set deadline: %w", ErrTransport, err)
	}

	// Push the deadline into the past on cancellation so the read returns now
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	n, addr, err := s.conn.ReadFromUDP(s.buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil, ErrTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrClosed
		}
		return nil, nil, fmt.Errorf("%w: receive: %w", ErrTransport, err)
	}

	return bytes.Clone(s.buf[:n]), addr, nil
}

// LocalAddr returns the bound address
func (s *UDPSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the socket and unblocks a pending ReceiveDatagram
func (s *UDPSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// sameAddr reports whether two addresses name the same endpoint
func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.IP.Equal(ub.IP) && ua.Port == ub.Port
	}
	return a.String() == b.String()
}
