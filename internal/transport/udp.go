package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"rdtpbench/internal/config"
	"rdtpbench/internal/metrics"
	"rdtpbench/internal/rdtp"

	"github.com/sirupsen/logrus"
)

// Best-effort UDP baseline framing. Every datagram starts with a big-endian
// int32: -1 start header, -2 end marker, otherwise a chunk sequence number.
const (
	udpMarkerStart int32 = -1
	udpMarkerEnd   int32 = -2

	udpStartSize       = 12
	udpChunkHeaderSize = 8

	// idlePoll is how often an idle receiver wakes up to check for shutdown
	idlePoll = time.Second
	// staleTransfer is how long a transfer may go without datagrams before
	// the receiver forgets it. Lost end markers would otherwise pin it.
	staleTransfer = 10 * time.Second
)

type udpFrameKind int

const (
	udpFrameStart udpFrameKind = iota
	udpFrameChunk
	udpFrameEnd
)

// udpFrame is one decoded baseline datagram
type udpFrame struct {
	kind udpFrameKind

	// start header
	totalChunks uint32
	totalSize   uint32

	// chunk
	seq     uint32
	payload []byte
}

func encodeUDPStart(totalChunks, totalSize uint32) []byte {
	b := make([]byte, udpStartSize)
	putInt32(b, udpMarkerStart)
	binary.BigEndian.PutUint32(b[4:], totalChunks)
	binary.BigEndian.PutUint32(b[8:], totalSize)
	return b
}

func encodeUDPChunk(seq uint32, chunk []byte) []byte {
	b := make([]byte, udpChunkHeaderSize+len(chunk))
	binary.BigEndian.PutUint32(b, seq)
	binary.BigEndian.PutUint32(b[4:], uint32(len(chunk)))
	copy(b[udpChunkHeaderSize:], chunk)
	return b
}

func encodeUDPEnd() []byte {
	b := make([]byte, 4)
	putInt32(b, udpMarkerEnd)
	return b
}

func putInt32(b []byte, v int32) {
	binary.BigEndian.PutUint32(b, uint32(v))
}

func decodeUDPFrame(b []byte) (udpFrame, error) {
	if len(b) < 4 {
		return udpFrame{}, fmt.Errorf("%w: %d bytes", ErrMalformedDatagram, len(b))
	}

	marker := int32(binary.BigEndian.Uint32(b))
	switch {
	case marker == udpMarkerStart:
		if len(b) != udpStartSize {
			return udpFrame{}, fmt.Errorf("%w: start header of %d bytes", ErrMalformedDatagram, len(b))
		}
		return udpFrame{
			kind:        udpFrameStart,
			totalChunks: binary.BigEndian.Uint32(b[4:]),
			totalSize:   binary.BigEndian.Uint32(b[8:]),
		}, nil

	case marker == udpMarkerEnd:
		return udpFrame{kind: udpFrameEnd}, nil

	case marker >= 0:
		if len(b) < udpChunkHeaderSize {
			return udpFrame{}, fmt.Errorf("%w: chunk %d without length", ErrMalformedDatagram, marker)
		}
		length := binary.BigEndian.Uint32(b[4:])
		if int(length) != len(b)-udpChunkHeaderSize {
			return udpFrame{}, fmt.Errorf("%w: chunk %d announces %d bytes, carries %d",
				ErrMalformedDatagram, marker, length, len(b)-udpChunkHeaderSize)
		}
		return udpFrame{kind: udpFrameChunk, seq: uint32(marker), payload: b[udpChunkHeaderSize:]}, nil

	default:
		return udpFrame{}, fmt.Errorf("%w: unknown marker %d", ErrMalformedDatagram, marker)
	}
}

// UDPSender fires the payload at the receiver without any recovery. Lost
// chunks stay lost; the only feedback is an optional DONE.
type UDPSender struct {
	config config.UDPConfig
	log    logrus.FieldLogger
}

// NewUDPSender creates a UDP baseline sender
func NewUDPSender(cfg config.UDPConfig, log logrus.FieldLogger) *UDPSender {
	return &UDPSender{
		config: cfg,
		log:    log.WithField("role", "udp-sender"),
	}
}

// Send transfers payload to address. UDP has no connection, so the whole
// span is reported as transfer time.
func (s *UDPSender) Send(ctx context.Context, payload []byte, address string) (metrics.Metrics, error) {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return metrics.Metrics{}, fmt.Errorf("%w: %d bytes", rdtp.ErrPayloadTooLarge, len(payload))
	}

	dst, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return metrics.Metrics{}, fmt.Errorf("failed to resolve %s: %w", address, err)
	}

	total, err := metrics.Measure(func() error {
		sock, err := rdtp.ListenUDP(":0", 0)
		if err != nil {
			return err
		}
		defer sock.Close()
		return s.send(ctx, sock, payload, dst)
	})
	if err != nil {
		return metrics.Metrics{}, err
	}

	m := metrics.Connectionless(total)
	s.log.WithFields(logrus.Fields{"peer": address, "size": len(payload), "total": m.Total}).Debug("UDP transfer completed")
	return m, nil
}

func (s *UDPSender) send(ctx context.Context, sock rdtp.Transport, payload []byte, dst net.Addr) error {
	chunks := rdtp.ChunkCount(len(payload), s.config.ChunkSize)

	if err := sock.SendDatagram(encodeUDPStart(uint32(chunks), uint32(len(payload))), dst); err != nil {
		return fmt.Errorf("failed to send start header: %w", err)
	}
	for seq := 0; seq < chunks; seq++ {
		chunk := rdtp.Chunk(payload, seq, s.config.ChunkSize)
		if err := sock.SendDatagram(encodeUDPChunk(uint32(seq), chunk), dst); err != nil {
			return fmt.Errorf("failed to send chunk %d: %w", seq, err)
		}
	}
	if err := sock.SendDatagram(encodeUDPEnd(), dst); err != nil {
		return fmt.Errorf("failed to send end marker: %w", err)
	}

	reply, _, err := sock.ReceiveDatagram(ctx, s.config.DoneTimeout)
	switch {
	case errors.Is(err, rdtp.ErrTimeout):
		s.log.WithField("timeout", s.config.DoneTimeout).Info("No completion reply, continuing")
		return nil
	case err != nil:
		return fmt.Errorf("failed to await completion reply: %w", err)
	case !bytes.Equal(reply, doneReply):
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
	}
	return nil
}

// UDPReceiver counts the chunks of each announced transfer and answers the
// end marker with DONE
type UDPReceiver struct {
	socket *rdtp.UDPSocket
	log    logrus.FieldLogger
	sink   rdtp.PayloadSink

	transfers map[string]*udpTransfer
	stale     time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// udpTransfer is what one peer announced and what arrived so far
type udpTransfer struct {
	totalChunks uint32
	totalSize   uint32
	chunks      map[uint32][]byte
	bytes       int
	lastSeen    time.Time
}

// ListenUDP binds a UDP baseline receiver to address. sink may be nil.
func ListenUDP(address string, log logrus.FieldLogger, sink rdtp.PayloadSink) (*UDPReceiver, error) {
	sock, err := rdtp.ListenUDP(address, 0)
	if err != nil {
		return nil, err
	}
	return &UDPReceiver{
		socket:    sock,
		log:       log.WithField("role", "udp-receiver"),
		sink:      sink,
		transfers: make(map[string]*udpTransfer),
		stale:     staleTransfer,
		now:       time.Now,
	}, nil
}

// Addr returns the bound address
func (r *UDPReceiver) Addr() net.Addr {
	return r.socket.LocalAddr()
}

// Close releases the socket
func (r *UDPReceiver) Close() error {
	return r.socket.Close()
}

// Serve handles datagrams until ctx is cancelled or the receiver is closed
func (r *UDPReceiver) Serve(ctx context.Context) error {
	r.log.WithField("addr", r.Addr()).Info("UDP receiver listening")

	for {
		raw, from, err := r.socket.ReceiveDatagram(ctx, idlePoll)
		r.sweep()
		switch {
		case err == nil:
		case errors.Is(err, rdtp.ErrTimeout):
			continue
		case ctx.Err() != nil, errors.Is(err, rdtp.ErrClosed):
			return nil
		default:
			return err
		}

		frame, err := decodeUDPFrame(raw)
		if err != nil {
			r.log.WithError(err).WithField("peer", from).Warn("Dropping malformed datagram")
			continue
		}
		if err := r.handle(frame, from); err != nil {
			if errors.Is(err, rdtp.ErrClosed) {
				return nil
			}
			r.log.WithError(err).WithField("peer", from).Warn("Failed to reply")
		}
	}
}

func (r *UDPReceiver) handle(frame udpFrame, from net.Addr) error {
	key := from.String()

	switch frame.kind {
	case udpFrameStart:
		r.transfers[key] = &udpTransfer{
			totalChunks: frame.totalChunks,
			totalSize:   frame.totalSize,
			chunks:      make(map[uint32][]byte),
			lastSeen:    r.now(),
		}
		r.log.WithFields(logrus.Fields{
			"peer":   from,
			"size":   frame.totalSize,
			"chunks": frame.totalChunks,
		}).Info("UDP transfer started")

	case udpFrameChunk:
		t := r.transfers[key]
		if t == nil || frame.seq >= t.totalChunks {
			r.log.WithFields(logrus.Fields{"peer": from, "seq": frame.seq}).Debug("Dropping chunk outside of a transfer")
			return nil
		}
		t.lastSeen = r.now()
		if _, dup := t.chunks[frame.seq]; !dup {
			t.chunks[frame.seq] = frame.payload
			t.bytes += len(frame.payload)
		}

	case udpFrameEnd:
		if err := r.socket.SendDatagram(doneReply, from); err != nil {
			return err
		}
		r.finish(key, from)
	}
	return nil
}

// sweep forgets transfers whose end marker never arrived. It scans at most
// once per idlePoll.
func (r *UDPReceiver) sweep() {
	now := r.now()
	if now.Sub(r.lastSweep) < idlePoll {
		return
	}
	r.lastSweep = now

	for key, t := range r.transfers {
		if now.Sub(t.lastSeen) < r.stale {
			continue
		}
		delete(r.transfers, key)
		r.log.WithFields(logrus.Fields{
			"peer":     key,
			"received": len(t.chunks),
			"expected": t.totalChunks,
		}).Warn("Dropping UDP transfer without end marker")
	}
}

// finish logs what arrived and hands a complete payload to the sink
func (r *UDPReceiver) finish(key string, from net.Addr) {
	t := r.transfers[key]
	delete(r.transfers, key)
	if t == nil {
		return
	}

	received := len(t.chunks)
	r.log.WithFields(logrus.Fields{
		"peer":     from,
		"received": received,
		"expected": t.totalChunks,
		"bytes":    t.bytes,
	}).Info("UDP transfer complete")

	if r.sink == nil || uint32(received) != t.totalChunks || t.bytes != int(t.totalSize) {
		return
	}

	payload := make([]byte, 0, t.totalSize)
	for seq := uint32(0); seq < t.totalChunks; seq++ {
		payload = append(payload, t.chunks[seq]...)
	}
	if err := r.sink.Deliver(from, payload); err != nil {
		r.log.WithError(err).Error("Failed to deliver payload")
	}
}
