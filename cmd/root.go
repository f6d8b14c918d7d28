// Package cmd implements the autocapture command line using Cobra.
package cmd

import (
	"context"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autocapture/config"
	"autocapture/logging"
)

var (
	// Global flags
	flagConfig  string
	flagVerbose bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "autocapture",
	Short: "autocapture - full-page screenshots for lists of URLs",
	Long: `autocapture loads every URL in a list in one browser session and saves a
full-page capture of each under a folder tree that mirrors the URL paths.

Pages behind a login wall are detected; a visible browser lets you sign in
once and keeps the session for the rest of the run. Failed URLs can be
retried later and the output tree packed into size-limited zip parts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(flagVerbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command. Cancelling ctx aborts the running command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// Logger returns the process logger once a command has started.
func Logger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

var (
	activeMu   sync.Mutex
	activeStop func()
)

func setActive(stop func()) {
	activeMu.Lock()
	defer activeMu.Unlock()
	activeStop = stop
}

// Interrupt asks an active capture run to stop after the current item. It
// reports false when nothing was running.
func Interrupt() bool {
	activeMu.Lock()
	stop := activeStop
	activeMu.Unlock()
	if stop == nil {
		return false
	}
	stop()
	return true
}

// loadConfig reads the config file and applies changed flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(changedFlags(cmd)); err != nil {
		return nil, err
	}
	return cfg, nil
}
