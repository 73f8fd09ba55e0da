package app

import (
	"context"
	"errors"
	"fmt"

	"rdtpbench/internal/config"
	"rdtpbench/internal/processor"
	"rdtpbench/internal/rdtp"
	"rdtpbench/internal/ui"
	"rdtpbench/pkg/utils"

	"github.com/sirupsen/logrus"
)

var (
	ErrFilePathRequired = errors.New("file path is required")
)

// SenderOptions configures the sender application behavior
type SenderOptions struct {
	FilePath string // Required: path to file to send
	Protocol string // Required: one of tcp, udp or rdtp
}

// SenderApp sends a single file over one protocol and shows its timing
type SenderApp struct {
	config *config.Config
	log    logrus.FieldLogger
	ui     ui.BenchUI
}

// NewSenderApp creates a new sender application
func NewSenderApp(cfg *config.Config, log logrus.FieldLogger, ui ui.BenchUI) *SenderApp {
	return &SenderApp{
		config: cfg,
		log:    log,
		ui:     ui,
	}
}

// Run starts the sender application with the given options
func (s *SenderApp) Run(ctx context.Context, opts *SenderOptions) error {
	if opts.FilePath == "" {
		return ErrFilePathRequired
	}
	sender, err := newSender(s.config, opts.Protocol, s.log)
	if err != nil {
		return err
	}

	payload, err := processor.LoadPayload(opts.FilePath, s.log)
	if err != nil {
		return err
	}

	address := targetAddress(s.config, opts.Protocol)
	s.ui.ShowMessage(fmt.Sprintf("Sending %s (%s) to %s over %s",
		payload.Name, utils.FormatFileSize(payload.Size), address, opts.Protocol))

	m, err := sender.Send(ctx, payload.Data, address)
	switch {
	case rdtp.DataDelivered(err):
		s.ui.ShowMessage(fmt.Sprintf("Payload delivered but the session did not close cleanly: %v", err))
	case err != nil:
		return fmt.Errorf("%s transfer failed: %w", opts.Protocol, err)
	}

	s.ui.ShowMetrics(opts.Protocol, m)
	return nil
}
