package app

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"rdtpbench/internal/bench"
	"rdtpbench/internal/config"
	"rdtpbench/internal/metrics"
	"rdtpbench/internal/processor"
	"rdtpbench/internal/rdtp"
	"rdtpbench/internal/transport"

	"github.com/sirupsen/logrus"
)

// rdtpSender opens a fresh socket for every transfer so that trials never
// see each other's late datagrams
type rdtpSender struct {
	config config.RDTPConfig
	log    logrus.FieldLogger
}

func (s *rdtpSender) Send(ctx context.Context, payload []byte, address string) (metrics.Metrics, error) {
	dst, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return metrics.Metrics{}, fmt.Errorf("failed to resolve %s: %w", address, err)
	}

	sock, err := rdtp.ListenUDP(":0", s.config.TOS)
	if err != nil {
		return metrics.Metrics{}, err
	}
	defer sock.Close()

	return rdtp.NewSender(sock, s.config, s.log).Transfer(ctx, payload, dst)
}

// newSender returns the sending side of protocol
func newSender(cfg *config.Config, protocol string, log logrus.FieldLogger) (PayloadSender, error) {
	switch protocol {
	case config.ProtocolTCP:
		return transport.NewTCPSender(cfg.TCP, log), nil
	case config.ProtocolUDP:
		return transport.NewUDPSender(cfg.UDP, log), nil
	case config.ProtocolRDTP:
		return &rdtpSender{config: cfg.RDTP, log: log}, nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownProtocol, protocol)
}

// port returns the configured port of protocol
func port(cfg *config.Config, protocol string) int {
	switch protocol {
	case config.ProtocolTCP:
		return cfg.Ports.TCP
	case config.ProtocolUDP:
		return cfg.Ports.UDP
	default:
		return cfg.Ports.RDTP
	}
}

// targetAddress is where the sender reaches the receiver of protocol
func targetAddress(cfg *config.Config, protocol string) string {
	return net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port(cfg, protocol)))
}

// bindAddress is where the receiver of protocol listens
func bindAddress(cfg *config.Config, protocol string) string {
	return net.JoinHostPort(cfg.Server.Bind, strconv.Itoa(port(cfg, protocol)))
}

// newTargets builds one benchmark target per protocol
func newTargets(cfg *config.Config, protocols []string, log logrus.FieldLogger) ([]bench.Target, error) {
	targets := make([]bench.Target, 0, len(protocols))
	for _, protocol := range protocols {
		sender, err := newSender(cfg, protocol, log)
		if err != nil {
			return nil, err
		}
		address := targetAddress(cfg, protocol)
		targets = append(targets, bench.Target{
			Name: protocol,
			Send: func(ctx context.Context, payload []byte) (metrics.Metrics, error) {
				return sender.Send(ctx, payload, address)
			},
		})
	}
	return targets, nil
}

// rdtpReceiver ties a receiver to the socket it owns
type rdtpReceiver struct {
	*rdtp.Receiver
	socket *rdtp.UDPSocket
}

func (r *rdtpReceiver) Addr() net.Addr {
	return r.socket.LocalAddr()
}

func (r *rdtpReceiver) Close() error {
	return r.socket.Close()
}

// listen binds the receiver of protocol
func listen(cfg *config.Config, protocol string, log logrus.FieldLogger, sink rdtp.PayloadSink) (receiver, error) {
	address := bindAddress(cfg, protocol)

	switch protocol {
	case config.ProtocolTCP:
		return transport.ListenTCP(address, cfg.TCP, log, sink)
	case config.ProtocolUDP:
		return transport.ListenUDP(address, log, sink)
	case config.ProtocolRDTP:
		sock, err := rdtp.ListenUDP(address, cfg.RDTP.TOS)
		if err != nil {
			return nil, err
		}
		return &rdtpReceiver{
			Receiver: rdtp.NewReceiver(sock, cfg.RDTP, log, sink),
			socket:   sock,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownProtocol, protocol)
}

// newSink returns a writer saving payloads under dir, or nil when dir is
// empty
func newSink(dir, protocol string, log logrus.FieldLogger) (rdtp.PayloadSink, error) {
	if dir == "" {
		return nil, nil
	}
	w, err := processor.NewPayloadWriter(dir, protocol, log)
	if err != nil {
		return nil, err
	}
	return w, nil
}
