package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"rdtpbench/internal/config"
	"rdtpbench/internal/logger"
	"rdtpbench/internal/ui"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg     *config.Config
	log     *logrus.Logger
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rdtpbench",
	Short: "rdtpbench - reliable datagram transfer protocol benchmark",
	Long: `rdtpbench compares three ways of moving a file between two machines:

  tcp   a plain TCP stream
  udp   best-effort UDP datagrams without any recovery
  rdtp  a reliable datagram protocol over UDP that bursts the whole payload
        and then retransmits only the chunks the receiver reports missing

Every transfer is timed in setup, transfer and teardown phases.

Usage:
  Run the receivers:    rdtpbench serve
  Send a single file:   rdtpbench send --file /path/to/file --protocol rdtp
  Benchmark all three:  rdtpbench bench --file /path/to/file --trials 10`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Initialize viper configuration
		initConfig()

		var err error
		cfg, err = config.Load(viper.GetViper())
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		log, err = logger.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			logrus.Fatalf("Invalid logger configuration: %v", err)
		}
		if used := viper.ConfigFileUsed(); used != "" {
			log.WithField("file", used).Debug("Using config file")
		}
	},
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rdtpbench.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	// Set up viper environment variable support
	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("RDTPBENCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			logrus.Warnf("Could not find home directory: %v", err)
			return
		}

		// Search config in home directory with name ".rdtpbench" (without extension)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rdtpbench")
	}

	// A missing default config file is fine, a broken one is not
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			logrus.Fatalf("Failed to read config file: %v", err)
		}
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	return ctx
}

// createUI creates the console used by send and bench
func createUI() *ui.ConsoleUI {
	return ui.NewConsoleUI()
}
