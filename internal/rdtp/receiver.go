package rdtp

import (
	"bytes"
	"context"
	"errors"
	"net"

	"rdtpbench/internal/config"

	"github.com/sirupsen/logrus"
)

// PayloadSink receives the reassembled payload of every completed session
type PayloadSink interface {
	Deliver(peer net.Addr, payload []byte) error
}

// Receiver is the server side of RDTP. It is purely reactive: it never
// retransmits or times out a sender, it only answers what it is sent.
type Receiver struct {
	transport Transport
	config    config.RDTPConfig
	log       logrus.FieldLogger
	sink      PayloadSink

	state   ReceiverState
	session *session
}

// session is the transfer currently being received
type session struct {
	peer      net.Addr
	totalSize uint32
	chunkSize uint32
	received  *receivedSet
	chunks    [][]byte // kept only when a sink is configured
	delivered bool
}

// NewReceiver creates a receiver on the given transport. sink may be nil when
// only receipt needs to be tracked.
func NewReceiver(t Transport, cfg config.RDTPConfig, log logrus.FieldLogger, sink PayloadSink) *Receiver {
	return &Receiver{
		transport: t,
		config:    cfg,
		log:       log.WithField("role", "rdtp-receiver"),
		sink:      sink,
		state:     ReceiverIdle,
	}
}

// Serve handles datagrams until ctx is cancelled or the transport is closed.
// Malformed datagrams are logged and dropped.
func (r *Receiver) Serve(ctx context.Context) error {
	r.log.WithField("addr", r.transport.LocalAddr()).Info("RDTP receiver listening")

	for {
		raw, from, err := r.transport.ReceiveDatagram(ctx, r.config.IdleTimeout)
		switch {
		case err == nil:
		case errors.Is(err, ErrTimeout):
			r.expire()
			continue
		case ctx.Err() != nil, errors.Is(err, ErrClosed):
			return nil
		default:
			return err
		}

		pkt, err := Decode(raw)
		if err != nil {
			r.log.WithError(err).WithField("peer", from).Warn("Dropping malformed packet")
			continue
		}

		if err := r.handle(pkt, from); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			r.log.WithError(err).WithField("peer", from).Warn("Failed to reply")
		}
	}
}

// handle dispatches one decoded packet
func (r *Receiver) handle(pkt Packet, from net.Addr) error {
	switch pkt.Kind {
	case KindInit:
		return r.handleInit(pkt, from)
	case KindData:
		return r.handleData(pkt, from)
	case KindStatus:
		return r.handleStatus(from)
	case KindTerminate:
		return r.handleTerminate(from)
	default:
		r.log.WithField("packet", pkt.String()).Debug("Ignoring unexpected packet")
		return nil
	}
}

// handleInit starts a new session, or re-acknowledges a retransmitted init
// of the session that was just started. An init without a chunk size uses
// the configured one.
func (r *Receiver) handleInit(pkt Packet, from net.Addr) error {
	chunkSize := pkt.ChunkSize
	if chunkSize == 0 {
		chunkSize = uint32(r.config.ChunkSize)
	}
	if chunkSize == 0 || chunkSize > MaxChunkSize {
		r.log.WithField("chunk_size", chunkSize).Warn("Dropping init with invalid chunk size")
		return nil
	}
	if pkt.TotalSize > MaxPayloadSize {
		r.log.WithField("size", pkt.TotalSize).Warn("Dropping init announcing an oversized payload")
		return nil
	}
	total := ChunkCount(int(pkt.TotalSize), int(chunkSize))
	if total > MaxChunks {
		r.log.WithFields(logrus.Fields{"size": pkt.TotalSize, "chunks": total}).Warn("Dropping init announcing too many chunks")
		return nil
	}

	if s := r.session; s != nil && r.state == ReceiverExpecting && sameAddr(s.peer, from) &&
		s.totalSize == pkt.TotalSize && s.chunkSize == chunkSize && s.received.count == 0 {
		r.log.WithField("peer", from).Debug("Duplicate init, re-sending ack")
		return r.reply(pkt, from)
	}

	if r.state != ReceiverIdle {
		r.log.WithField("peer", r.session.peer).Warn("New init replaces the session in progress")
	}

	s := &session{
		peer:      from,
		totalSize: pkt.TotalSize,
		chunkSize: chunkSize,
		received:  newReceivedSet(total),
	}
	if r.sink != nil {
		s.chunks = make([][]byte, total)
	}
	r.session = s
	r.fire(evInit)

	r.log.WithFields(logrus.Fields{
		"peer":   from,
		"size":   pkt.TotalSize,
		"chunks": total,
	}).Info("Transfer announced")

	if total == 0 {
		r.complete()
	}

	// The ack echoes the init in the form it arrived
	return r.reply(InitPacket(pkt.TotalSize, pkt.ChunkSize), from)
}

// handleData records a chunk and reports the gaps when the sender marked it
// as the last one of the round, or when the payload just became complete
func (r *Receiver) handleData(pkt Packet, from net.Addr) error {
	s := r.session
	if s == nil || !sameAddr(s.peer, from) {
		r.log.WithField("peer", from).Debug("Dropping data outside of a session")
		return nil
	}

	total := s.received.total()
	if int(pkt.Seq) >= total || int(pkt.Highest) >= total {
		r.log.WithFields(logrus.Fields{"seq": pkt.Seq, "highest": pkt.Highest}).Warn("Dropping out of range chunk")
		return nil
	}
	if want := chunkLen(int(s.totalSize), int(pkt.Seq), int(s.chunkSize)); len(pkt.Payload) != want {
		r.log.WithFields(logrus.Fields{"seq": pkt.Seq, "len": len(pkt.Payload), "want": want}).Warn("Dropping chunk of wrong length")
		return nil
	}

	fresh := s.received.add(pkt.Seq)
	if fresh && s.chunks != nil {
		s.chunks[pkt.Seq] = pkt.Payload
	}

	justCompleted := fresh && s.received.complete()
	if justCompleted {
		r.complete()
	}

	if pkt.Seq == pkt.Highest || justCompleted {
		return r.sendGapReport(from)
	}
	return nil
}

// handleStatus answers an explicit request for the current gaps
func (r *Receiver) handleStatus(from net.Addr) error {
	if r.session == nil || !sameAddr(r.session.peer, from) {
		r.log.WithField("peer", from).Debug("Ignoring status request outside of a session")
		return nil
	}
	return r.sendGapReport(from)
}

// handleTerminate closes the session. The ack is sent in every state so a
// sender whose first ack got lost can still finish.
func (r *Receiver) handleTerminate(from net.Addr) error {
	if s := r.session; s != nil && sameAddr(s.peer, from) {
		if !s.received.complete() {
			r.log.WithField("missing", s.received.total()-s.received.count).Warn("Terminate received with chunks still missing")
			if err := r.sendGapReport(from); err != nil {
				return err
			}
		}
		r.session = nil
		r.fire(evTerminate)
		r.log.WithField("peer", from).Info("Transfer terminated")
	}

	return r.reply(TerminatePacket(), from)
}

// complete moves the session to Draining and hands the payload to the sink
func (r *Receiver) complete() {
	s := r.session
	r.fire(evComplete)

	if r.sink == nil || s.delivered {
		return
	}
	s.delivered = true
	if err := r.sink.Deliver(s.peer, bytes.Join(s.chunks, nil)); err != nil {
		r.log.WithError(err).Error("Failed to deliver payload")
	}
	s.chunks = nil
}

// expire abandons a session whose sender went silent
func (r *Receiver) expire() {
	if r.state == ReceiverIdle {
		return
	}
	r.log.WithField("peer", r.session.peer).Warn("Abandoning idle session")
	r.session = nil
	r.fire(evIdleTimeout)
}

func (r *Receiver) sendGapReport(to net.Addr) error {
	missing := r.session.received.missing(MaxGapEntries)
	r.log.WithField("missing", len(missing)).Debug("Sending gap report")
	return r.reply(GapReportPacket(missing), to)
}

func (r *Receiver) reply(pkt Packet, to net.Addr) error {
	raw, err := Encode(pkt)
	if err != nil {
		return err
	}
	return r.transport.SendDatagram(raw, to)
}

func (r *Receiver) fire(ev receiverEvent) {
	next, ok := r.state.next(ev)
	if !ok {
		r.log.Errorf("Ignoring event %s in state %s", ev, r.state)
		return
	}
	if next != r.state {
		r.log.Debugf("Receiver state: %s -> %s", r.state, next)
	}
	r.state = next
}
