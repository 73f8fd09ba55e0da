package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"rdtpbench/internal/config"
	"rdtpbench/internal/rdtp"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSink chan []byte

func (c chanSink) Deliver(_ net.Addr, payload []byte) error {
	c <- payload
	return nil
}

func (c chanSink) next(t *testing.T) []byte {
	t.Helper()
	select {
	case p := <-c:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no payload delivered")
		return nil
	}
}

// serve runs a receiver until the test ends
func serve(t *testing.T, fn func(ctx context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func payloadOf(n int) []byte {
	return bytes.Repeat([]byte("rdtp"), n/4)
}

func TestTCPRoundTrip(t *testing.T) {
	log, _ := test.NewNullLogger()
	sink := make(chanSink, 1)
	cfg := config.TCPConfig{Timeout: 2 * time.Second}

	r, err := ListenTCP("127.0.0.1:0", cfg, log, sink)
	require.NoError(t, err)
	serve(t, r.Serve)

	payload := payloadOf(300_000)
	m, err := NewTCPSender(cfg, log).Send(context.Background(), payload, r.Addr().String())
	require.NoError(t, err)

	assert.Equal(t, payload, sink.next(t))
	assert.Positive(t, m.Setup)
	assert.Positive(t, m.Transfer)
	assert.GreaterOrEqual(t, m.Total, m.Setup+m.Transfer+m.Teardown)
}

func TestTCPEmptyPayload(t *testing.T) {
	log, _ := test.NewNullLogger()
	sink := make(chanSink, 1)
	cfg := config.TCPConfig{Timeout: time.Second}

	r, err := ListenTCP("127.0.0.1:0", cfg, log, sink)
	require.NoError(t, err)
	serve(t, r.Serve)

	_, err = NewTCPSender(cfg, log).Send(context.Background(), nil, r.Addr().String())
	require.NoError(t, err)
	assert.Empty(t, sink.next(t))
}

func TestTCPUnexpectedReply(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		header := make([]byte, lengthPrefixSize)
		io.ReadFull(conn, header)
		io.CopyN(io.Discard, conn, 3)
		conn.Write([]byte("NOPE"))
	}()

	log, _ := test.NewNullLogger()
	_, err = NewTCPSender(config.TCPConfig{Timeout: time.Second}, log).Send(context.Background(), []byte("abc"), l.Addr().String())
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestTCPDialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	log, _ := test.NewNullLogger()
	m, err := NewTCPSender(config.TCPConfig{Timeout: time.Second}, log).Send(context.Background(), []byte("abc"), addr)
	assert.Error(t, err)
	assert.Zero(t, m.Transfer)
}

func TestUDPRoundTrip(t *testing.T) {
	log, _ := test.NewNullLogger()
	sink := make(chanSink, 1)

	r, err := ListenUDP("127.0.0.1:0", log, sink)
	require.NoError(t, err)
	defer r.Close()
	serve(t, r.Serve)

	cfg := config.UDPConfig{ChunkSize: 8192, DoneTimeout: 2 * time.Second}
	payload := payloadOf(40_000)
	m, err := NewUDPSender(cfg, log).Send(context.Background(), payload, r.Addr().String())
	require.NoError(t, err)

	assert.Equal(t, payload, sink.next(t))
	assert.Zero(t, m.Setup)
	assert.Zero(t, m.Teardown)
	assert.Equal(t, m.Total, m.Transfer)
}

func TestUDPMissingDoneIsTolerated(t *testing.T) {
	silent, err := rdtp.ListenUDP("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer silent.Close()

	log, _ := test.NewNullLogger()
	cfg := config.UDPConfig{ChunkSize: 1024, DoneTimeout: 50 * time.Millisecond}
	m, err := NewUDPSender(cfg, log).Send(context.Background(), payloadOf(4000), silent.LocalAddr().String())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, m.Total, 50*time.Millisecond)
}

func TestUDPReceiverSkipsIncompleteTransfer(t *testing.T) {
	log, _ := test.NewNullLogger()
	sink := make(chanSink, 1)
	r := &UDPReceiver{log: log, sink: sink, transfers: make(map[string]*udpTransfer), now: time.Now}
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}

	require.NoError(t, r.handle(udpFrame{kind: udpFrameStart, totalChunks: 2, totalSize: 6}, peer))
	require.NoError(t, r.handle(udpFrame{kind: udpFrameChunk, seq: 0, payload: []byte("abc")}, peer))
	require.NoError(t, r.handle(udpFrame{kind: udpFrameChunk, seq: 5, payload: []byte("zzz")}, peer))

	r.finish(peer.String(), peer)
	assert.Empty(t, sink)
	assert.Empty(t, r.transfers)
}

func TestUDPReceiverForgetsTransferWithoutEnd(t *testing.T) {
	log, _ := test.NewNullLogger()
	clock := time.Unix(1000, 0)
	r := &UDPReceiver{
		log:       log,
		transfers: make(map[string]*udpTransfer),
		stale:     10 * time.Second,
		now:       func() time.Time { return clock },
	}
	lost := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	active := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10}

	require.NoError(t, r.handle(udpFrame{kind: udpFrameStart, totalChunks: 2, totalSize: 6}, lost))
	require.NoError(t, r.handle(udpFrame{kind: udpFrameChunk, seq: 0, payload: []byte("abc")}, lost))
	// end marker of lost never arrives

	clock = clock.Add(8 * time.Second)
	require.NoError(t, r.handle(udpFrame{kind: udpFrameStart, totalChunks: 1, totalSize: 3}, active))
	r.sweep()
	assert.Len(t, r.transfers, 2, "neither transfer is stale yet")

	clock = clock.Add(5 * time.Second)
	r.sweep()
	assert.NotContains(t, r.transfers, lost.String())
	assert.Contains(t, r.transfers, active.String())

	clock = clock.Add(10 * time.Second)
	r.sweep()
	assert.Empty(t, r.transfers)
}

func TestUDPFrameCodec(t *testing.T) {
	frame, err := decodeUDPFrame(encodeUDPStart(3, 150000))
	require.NoError(t, err)
	assert.Equal(t, udpFrame{kind: udpFrameStart, totalChunks: 3, totalSize: 150000}, frame)

	frame, err = decodeUDPFrame(encodeUDPChunk(2, []byte("tail")))
	require.NoError(t, err)
	assert.Equal(t, udpFrameChunk, frame.kind)
	assert.Equal(t, uint32(2), frame.seq)
	assert.Equal(t, []byte("tail"), frame.payload)

	frame, err = decodeUDPFrame(encodeUDPEnd())
	require.NoError(t, err)
	assert.Equal(t, udpFrameEnd, frame.kind)

	bad := [][]byte{
		{0, 1},
		{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 1},
		{0, 0, 0, 1, 0, 0},
		{0, 0, 0, 1, 0, 0, 0, 9, 'x'},
		{0xff, 0xff, 0xff, 0xf0},
	}
	for _, b := range bad {
		_, err := decodeUDPFrame(b)
		assert.ErrorIs(t, err, ErrMalformedDatagram, "%x", b)
	}
}
