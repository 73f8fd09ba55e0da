package app

import (
	"context"
	"fmt"

	"rdtpbench/internal/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// serverProtocols are the receivers a server always runs
var serverProtocols = []string{config.ProtocolTCP, config.ProtocolUDP, config.ProtocolRDTP}

// ServerOptions configures the server application behavior
type ServerOptions struct {
	OutDir string // Optional: directory received payloads are saved to
}

// ServerApp runs the receiving side of every protocol at once
type ServerApp struct {
	config *config.Config
	log    logrus.FieldLogger
}

// NewServerApp creates a new server application
func NewServerApp(cfg *config.Config, log logrus.FieldLogger) *ServerApp {
	return &ServerApp{
		config: cfg,
		log:    log,
	}
}

// Run serves until ctx is cancelled or one of the receivers fails
func (s *ServerApp) Run(ctx context.Context, opts *ServerOptions) error {
	receivers, err := s.listen(opts)
	if err != nil {
		return err
	}

	if opts.OutDir != "" {
		s.log.WithField("dir", opts.OutDir).Info("Saving received payloads")
	}

	g, gctx := errgroup.WithContext(ctx)
	for protocol, r := range receivers {
		protocol, r := protocol, r
		g.Go(func() error {
			if err := r.Serve(gctx); err != nil {
				return fmt.Errorf("%s receiver: %w", protocol, err)
			}
			return nil
		})
	}

	// Closing unblocks every receiver once one fails or ctx is done
	g.Go(func() error {
		<-gctx.Done()
		closeAll(receivers, s.log)
		return nil
	})

	return g.Wait()
}

// listen binds every receiver, releasing the ones already bound if one fails
func (s *ServerApp) listen(opts *ServerOptions) (map[string]receiver, error) {
	receivers := make(map[string]receiver, len(serverProtocols))
	for _, protocol := range serverProtocols {
		r, err := s.listenOne(protocol, opts)
		if err != nil {
			closeAll(receivers, s.log)
			return nil, fmt.Errorf("failed to start %s receiver: %w", protocol, err)
		}
		receivers[protocol] = r
	}
	return receivers, nil
}

func (s *ServerApp) listenOne(protocol string, opts *ServerOptions) (receiver, error) {
	sink, err := newSink(opts.OutDir, protocol, s.log)
	if err != nil {
		return nil, err
	}
	return listen(s.config, protocol, s.log, sink)
}

func closeAll(receivers map[string]receiver, log logrus.FieldLogger) {
	for protocol, r := range receivers {
		if err := r.Close(); err != nil {
			log.WithError(err).WithField("protocol", protocol).Debug("Error closing receiver")
		}
	}
}
