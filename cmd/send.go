package cmd

import (
	"fmt"

	"rdtpbench/internal/app"
	"rdtpbench/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type SendFlags struct {
	FilePath string
	Protocol string
}

var sendFlags SendFlags

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a file once over one protocol",
	Long: `Send a file to a running 'rdtpbench serve' over a single protocol and
print how long the setup, transfer and teardown phases took.

Use --file to specify the path to the file you want to send and --protocol
to pick tcp, udp or rdtp.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateSendFlags(&sendFlags)
	},
	Run: func(cmd *cobra.Command, args []string) {
		log.WithField("file", sendFlags.FilePath).Info("Starting sender")
		if err := runSenderApp(&sendFlags); err != nil {
			log.Fatalf("Sender failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	// Define flags with struct binding
	sendCmd.Flags().StringVarP(&sendFlags.FilePath, "file", "f", "", "Path to file to send (required)")
	sendCmd.Flags().StringVarP(&sendFlags.Protocol, "protocol", "p", config.ProtocolRDTP, "Protocol to send with: tcp, udp or rdtp")

	// Mark required flags
	sendCmd.MarkFlagRequired("file")

	// Bind flags to viper for environment variable support
	viper.BindPFlag("send.file", sendCmd.Flags().Lookup("file"))
	viper.BindPFlag("send.protocol", sendCmd.Flags().Lookup("protocol"))
}

// validateSendFlags validates the send command flags
func validateSendFlags(flags *SendFlags) error {
	if flags.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	if !config.IsKnownProtocol(flags.Protocol) {
		return fmt.Errorf("%w: %q", config.ErrUnknownProtocol, flags.Protocol)
	}
	return nil
}

// runSenderApp creates and runs the sender application
func runSenderApp(flags *SendFlags) error {
	ctx := createContext()

	opts := &app.SenderOptions{
		FilePath: flags.FilePath,
		Protocol: flags.Protocol,
	}

	senderApp := app.NewSenderApp(cfg, log, createUI())
	return senderApp.Run(ctx, opts)
}
