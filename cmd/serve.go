package cmd

import (
	"rdtpbench/internal/app"
	"rdtpbench/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type ServeFlags struct {
	OutDir string
}

var serveFlags ServeFlags

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TCP, UDP and RDTP receivers",
	Long: `Run the receiving side of every protocol until interrupted.

The receivers listen on server.bind at ports.tcp, ports.udp and ports.rdtp.
Use --out to save every received payload into a directory.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateServeFlags(&serveFlags)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServerApp(&serveFlags); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	},
}

// validateServeFlags resolves the output directory, if any
func validateServeFlags(flags *ServeFlags) error {
	flags.OutDir = viper.GetString("serve.out")
	if flags.OutDir == "" {
		return nil
	}
	dir, err := utils.ResolveOutputDir(flags.OutDir)
	if err != nil {
		return err
	}
	flags.OutDir = dir
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Define flags with struct binding
	serveCmd.Flags().StringVarP(&serveFlags.OutDir, "out", "o", "", "Directory to save received payloads (optional)")

	// Bind flags to viper for environment variable support
	viper.BindPFlag("serve.out", serveCmd.Flags().Lookup("out"))
}

// runServerApp creates and runs the server application
func runServerApp(flags *ServeFlags) error {
	ctx := createContext()

	opts := &app.ServerOptions{
		OutDir: flags.OutDir,
	}

	serverApp := app.NewServerApp(cfg, log)
	return serverApp.Run(ctx, opts)
}
