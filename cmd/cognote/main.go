// Command cognote is a demo CLI driving the cognote reasoning engine:
// assert/retract facts and rules, run queries, and inspect status. It
// loads a YAML config (internal/config), builds one engine.Engine per
// invocation, and shuts it down on exit.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cognote/internal/config"
	"cognote/internal/engine"
	"cognote/internal/logging"
)

var (
	verbose    bool
	configPath string
	timeout    time.Duration

	logger *zap.Logger
	eng    *engine.Engine
)

var rootCmd = &cobra.Command{
	Use:   "cognote",
	Short: "cognote - a justification-based knowledge reasoning engine",
	Long: `cognote stores logical assertions written as S-expressions, derives new
assertions from rules via forward chaining, equality rewriting and universal
instantiation, answers goal-directed queries via backward chaining, and
maintains justification-based belief so retracting a supporting assertion
invalidates everything that depended on it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lg, err := logging.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = lg

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		loaded.Logging.Verbose = verbose

		e, err := engine.New(loaded, logger)
		if err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}
		eng = e
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if eng != nil {
			eng.Stop()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cognote.yaml", "Path to config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Query timeout")

	rootCmd.AddCommand(assertCmd, retractCmd, askCmd, rulesCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
