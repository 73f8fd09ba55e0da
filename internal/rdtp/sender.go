package rdtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"rdtpbench/internal/config"
	"rdtpbench/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Sender is the client side of RDTP. It drives one transfer at a time over
// its transport.
type Sender struct {
	transport Transport
	config    config.RDTPConfig
	log       logrus.FieldLogger
}

// NewSender creates a sender using the given transport and protocol tuning
func NewSender(t Transport, cfg config.RDTPConfig, log logrus.FieldLogger) *Sender {
	return &Sender{
		transport: t,
		config:    cfg,
		log:       log.WithField("role", "rdtp-sender"),
	}
}

// Transfer moves payload to the receiver at dst and returns the timing of
// each phase. The payload must not be modified until Transfer returns.
//
// On ErrTerminationTimeout the returned metrics are still meaningful: the
// payload was delivered and only the close handshake failed.
func (s *Sender) Transfer(ctx context.Context, payload []byte, dst net.Addr) (metrics.Metrics, error) {
	if len(payload) > MaxPayloadSize {
		return metrics.Metrics{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	if s.config.ChunkSize <= 0 || s.config.ChunkSize > MaxChunkSize {
		return metrics.Metrics{}, fmt.Errorf("invalid chunk size %d", s.config.ChunkSize)
	}
	if n := ChunkCount(len(payload), s.config.ChunkSize); n > MaxChunks {
		return metrics.Metrics{}, fmt.Errorf("%w: %d chunks of %d bytes", ErrPayloadTooLarge, n, s.config.ChunkSize)
	}

	t := newTransfer(s, payload, dst)
	return t.run(ctx)
}

// transfer owns all state of one logical transfer. It is only touched by
// the goroutine running Transfer.
type transfer struct {
	*Sender

	dst       net.Addr
	payload   []byte
	chunkSize int
	total     uint32 // number of chunks
	highest   uint32 // sequence whose arrival makes the receiver report
	pending   *pendingBuffer
	state     SenderState
	log       *logrus.Entry

	rounds        int
	retransmitted int
}

func newTransfer(s *Sender, payload []byte, dst net.Addr) *transfer {
	total := ChunkCount(len(payload), s.config.ChunkSize)
	t := &transfer{
		Sender:    s,
		dst:       dst,
		payload:   payload,
		chunkSize: s.config.ChunkSize,
		total:     uint32(total),
		pending:   newPendingBuffer(total),
		state:     SenderIdle,
		log: s.log.WithFields(logrus.Fields{
			"peer":   dst.String(),
			"size":   len(payload),
			"chunks": total,
		}),
	}
	if total > 0 {
		t.highest = uint32(total - 1)
	}
	return t
}

// run walks the transfer through every phase and records their timing
func (t *transfer) run(ctx context.Context) (metrics.Metrics, error) {
	defer t.pending.release()

	sw := metrics.StartStopwatch()
	t.fire(evStart)

	if err := sw.Setup(func() error { return t.handshake(ctx) }); err != nil {
		return t.abandon(sw, err)
	}

	err := sw.Transfer(func() error {
		if err := t.burst(); err != nil {
			return err
		}
		return t.confirm(ctx)
	})
	if err != nil {
		return t.abandon(sw, err)
	}

	if err := sw.Teardown(func() error { return t.terminate(ctx) }); err != nil {
		return t.abandon(sw, err)
	}

	m := sw.Stop()
	t.log.WithFields(logrus.Fields{
		"rounds":        t.rounds,
		"retransmitted": t.retransmitted,
		"total":         m.Total,
	}).Info("Transfer completed")
	return m, nil
}

func (t *transfer) abandon(sw *metrics.Stopwatch, err error) (metrics.Metrics, error) {
	t.fire(evAbandon)
	t.log.WithError(err).Warn("Transfer failed")
	return sw.Stop(), err
}

// fire applies ev to the state machine
func (t *transfer) fire(ev senderEvent) {
	next, ok := t.state.next(ev)
	if !ok {
		t.log.Errorf("Ignoring event %s in state %s", ev, t.state)
		return
	}
	if next != t.state {
		t.log.Debugf("Sender state: %s -> %s", t.state, next)
	}
	t.state = next
}

// handshake announces the transfer until the receiver echoes the init
func (t *transfer) handshake(ctx context.Context) error {
	announce := InitPacket(uint32(len(t.payload)), uint32(t.chunkSize))
	raw, err := Encode(announce)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= t.config.InitRetries; attempt++ {
		if err := t.transport.SendDatagram(raw, t.dst); err != nil {
			return err
		}

		_, err := t.await(ctx, t.config.InitTimeout, func(p Packet) bool {
			return p.Kind == KindInit && p.TotalSize == announce.TotalSize && p.ChunkSize == announce.ChunkSize
		})
		switch {
		case err == nil:
			t.fire(evInitAcked)
			return nil
		case errors.Is(err, ErrTimeout):
			t.log.WithField("attempt", attempt).Debug("Init not acknowledged")
		default:
			return err
		}
	}

	return phaseError(ErrHandshakeTimeout, t.config.InitRetries)
}

// burst sends every chunk once without waiting for acknowledgements
func (t *transfer) burst() error {
	for seq := uint32(0); seq < t.total; seq++ {
		chunk := Chunk(t.payload, int(seq), t.chunkSize)
		t.pending.put(seq, chunk)
		if err := t.sendChunk(seq, chunk); err != nil {
			return err
		}
	}
	t.rounds = 1
	t.fire(evBurstSent)
	return nil
}

// confirm waits for gap reports and retransmits what they list until the
// receiver reports nothing missing
func (t *transfer) confirm(ctx context.Context) error {
	if t.total == 0 {
		// No chunk will ever trigger a report, ask for one
		if err := t.nudge(); err != nil {
			return err
		}
	}

	timeouts := 0
	for {
		report, err := t.await(ctx, t.config.ConfirmTimeout, t.validReport)
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				return err
			}
			timeouts++
			if timeouts > t.config.ConfirmRetries {
				return phaseError(ErrConfirmationTimeout, t.config.ConfirmRetries)
			}
			t.log.WithField("attempt", timeouts).Debug("No gap report, resending last chunk")
			if err := t.nudge(); err != nil {
				return err
			}
			continue
		}

		if len(report.Missing) == 0 {
			t.fire(evConfirmed)
			return nil
		}

		timeouts = 0
		t.rounds++
		t.fire(evGapsReported)
		if err := t.retransmit(report.Missing); err != nil {
			return err
		}
	}
}

// validReport accepts gap reports that only name chunks of this transfer
func (t *transfer) validReport(p Packet) bool {
	if p.Kind != KindGapReport {
		return false
	}
	for _, seq := range p.Missing {
		if seq >= t.total {
			t.log.WithField("seq", seq).Warn("Dropping gap report with out of range sequence")
			return false
		}
	}
	return true
}

// retransmit resends exactly the listed chunks, tagging them with the new
// highest missing sequence so the receiver knows when the round is over
func (t *transfer) retransmit(missing []uint32) error {
	seqs := slices.Clone(missing)
	slices.Sort(seqs)
	seqs = slices.Compact(seqs)

	t.highest = seqs[len(seqs)-1]
	t.log.WithFields(logrus.Fields{
		"missing": len(seqs),
		"highest": t.highest,
		"round":   t.rounds,
	}).Debug("Retransmitting missing chunks")

	for _, seq := range seqs {
		chunk, ok := t.pending.get(seq)
		if !ok {
			continue
		}
		if err := t.sendChunk(seq, chunk); err != nil {
			return err
		}
		t.retransmitted++
	}
	return nil
}

// nudge prompts a silent receiver. The most likely loss is the final chunk
// of the round, whose arrival is what makes the receiver report.
func (t *transfer) nudge() error {
	if t.total == 0 {
		raw, err := Encode(StatusPacket())
		if err != nil {
			return err
		}
		return t.transport.SendDatagram(raw, t.dst)
	}
	chunk, _ := t.pending.get(t.highest)
	return t.sendChunk(t.highest, chunk)
}

// terminate closes the session once the payload is confirmed
func (t *transfer) terminate(ctx context.Context) error {
	raw, err := Encode(TerminatePacket())
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= t.config.TermRetries; attempt++ {
		if err := t.transport.SendDatagram(raw, t.dst); err != nil {
			return err
		}

		_, err := t.await(ctx, t.config.TermTimeout, func(p Packet) bool {
			return p.Kind == KindTerminate
		})
		switch {
		case err == nil:
			t.fire(evTerminateAcked)
			return nil
		case errors.Is(err, ErrTimeout):
			t.log.WithField("attempt", attempt).Debug("Terminate not acknowledged")
		default:
			return err
		}
	}

	return phaseError(ErrTerminationTimeout, t.config.TermRetries)
}

func (t *transfer) sendChunk(seq uint32, chunk []byte) error {
	raw, err := Encode(DataPacket(seq, t.highest, chunk))
	if err != nil {
		return err
	}
	return t.transport.SendDatagram(raw, t.dst)
}

// await reads datagrams from the peer until one satisfies accept or timeout
// elapses. Malformed, foreign and unexpected datagrams are dropped.
func (t *transfer) await(ctx context.Context, timeout time.Duration, accept func(Packet) bool) (Packet, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Packet{}, ErrTimeout
		}

		raw, from, err := t.transport.ReceiveDatagram(ctx, remaining)
		if err != nil {
			return Packet{}, err
		}
		if !sameAddr(from, t.dst) {
			t.log.WithField("from", from).Debug("Dropping datagram from unknown peer")
			continue
		}

		pkt, err := Decode(raw)
		if err != nil {
			t.log.WithError(err).Warn("Dropping malformed packet")
			continue
		}
		if accept(pkt) {
			return pkt, nil
		}
		t.log.WithFields(logrus.Fields{"packet": pkt.String(), "state": t.state}).Debug("Ignoring unexpected packet")
	}
}
