package rdtp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memAddr names an endpoint of a memNet
type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type datagram struct {
	data []byte
	from net.Addr
	to   net.Addr
}

// memNet is an in-memory datagram network. Datagrams to unknown endpoints
// vanish and a drop filter can discard selected datagrams.
type memNet struct {
	mu   sync.Mutex
	ends map[string]*memEnd
	sent []datagram
	drop func(d datagram) bool
}

func newMemNet() *memNet {
	return &memNet{ends: make(map[string]*memEnd)}
}

// setDrop installs a filter deciding which datagrams are lost
func (n *memNet) setDrop(drop func(d datagram) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = drop
}

func (n *memNet) endpoint(name string) *memEnd {
	n.mu.Lock()
	defer n.mu.Unlock()
	e := &memEnd{
		net:    n,
		addr:   memAddr(name),
		inbox:  make(chan datagram, 1024),
		closed: make(chan struct{}),
	}
	n.ends[name] = e
	return e
}

// sentFrom returns every datagram the endpoint handed to the network,
// including dropped ones
func (n *memNet) sentFrom(name string) []datagram {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []datagram
	for _, d := range n.sent {
		if d.from.String() == name {
			out = append(out, d)
		}
	}
	return out
}

// decodedFrom decodes everything sent by the endpoint
func (n *memNet) decodedFrom(t *testing.T, name string) []Packet {
	t.Helper()
	var out []Packet
	for _, d := range n.sentFrom(name) {
		pkt, err := Decode(d.data)
		require.NoError(t, err)
		out = append(out, pkt)
	}
	return out
}

type memEnd struct {
	net    *memNet
	addr   memAddr
	inbox  chan datagram
	closed chan struct{}
	once   sync.Once
}

func (e *memEnd) SendDatagram(b []byte, dst net.Addr) error {
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}

	d := datagram{data: append([]byte(nil), b...), from: e.addr, to: dst}

	e.net.mu.Lock()
	e.net.sent = append(e.net.sent, d)
	drop := e.net.drop
	peer := e.net.ends[dst.String()]
	e.net.mu.Unlock()

	if peer == nil || (drop != nil && drop(d)) {
		return nil
	}
	select {
	case peer.inbox <- d:
	default:
	}
	return nil
}

func (e *memEnd) ReceiveDatagram(ctx context.Context, timeout time.Duration) ([]byte, net.Addr, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-e.inbox:
		return d.data, d.from, nil
	case <-timer.C:
		return nil, nil, ErrTimeout
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-e.closed:
		return nil, nil, ErrClosed
	}
}

func (e *memEnd) LocalAddr() net.Addr { return e.addr }

func (e *memEnd) Close() error {
	e.once.Do(func() { close(e.closed) })
	return nil
}

// scriptedPeer lets a test play the receiver by hand
type scriptedPeer struct {
	t   *testing.T
	end *memEnd
}

func (p *scriptedPeer) recv() (Packet, net.Addr) {
	p.t.Helper()
	raw, from, err := p.end.ReceiveDatagram(context.Background(), 2*time.Second)
	require.NoError(p.t, err)
	pkt, err := Decode(raw)
	require.NoError(p.t, err)
	return pkt, from
}

func (p *scriptedPeer) send(pkt Packet, to net.Addr) {
	p.t.Helper()
	raw, err := Encode(pkt)
	require.NoError(p.t, err)
	require.NoError(p.t, p.end.SendDatagram(raw, to))
}
