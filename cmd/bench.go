package cmd

import (
	"fmt"

	"rdtpbench/internal/app"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type BenchFlags struct {
	FilePath string
	Trials   int
}

var benchFlags BenchFlags

// benchCmd represents the bench command
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark TCP, UDP and RDTP against a running server",
	Long: `Send the same file repeatedly over every protocol in bench.protocols and
report min, average and max of each timing phase together with the share of
the total each phase took.

Failed trials are recorded and excluded from the averages. Results are
logged and, when firebase.database_url is set, stored in Firebase.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateBenchFlags(&benchFlags)
	},
	Run: func(cmd *cobra.Command, args []string) {
		log.WithFields(logrus.Fields{
			"file":   benchFlags.FilePath,
			"trials": cfg.Bench.Trials,
		}).Info("Starting benchmark")
		if err := runBenchApp(&benchFlags); err != nil {
			log.Fatalf("Benchmark failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)

	// Define flags with struct binding
	benchCmd.Flags().StringVarP(&benchFlags.FilePath, "file", "f", "", "Path to file to send (required)")
	benchCmd.Flags().IntVarP(&benchFlags.Trials, "trials", "n", 5, "Number of trials per protocol")

	// Mark required flags
	benchCmd.MarkFlagRequired("file")

	// Bind flags to viper for environment variable support
	viper.BindPFlag("bench.file", benchCmd.Flags().Lookup("file"))
	viper.BindPFlag("bench.trials", benchCmd.Flags().Lookup("trials"))
}

// validateBenchFlags validates the bench command flags
func validateBenchFlags(flags *BenchFlags) error {
	if flags.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	if cfg.Bench.Trials <= 0 {
		return fmt.Errorf("trials must be positive, got %d", cfg.Bench.Trials)
	}
	return nil
}

// runBenchApp creates and runs the benchmark application
func runBenchApp(flags *BenchFlags) error {
	ctx := createContext()

	rep, err := app.NewReporter(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to set up reporters: %w", err)
	}

	opts := &app.BenchOptions{
		FilePath: flags.FilePath,
	}

	benchApp := app.NewBenchApp(cfg, log, createUI(), rep)
	return benchApp.Run(ctx, opts)
}
