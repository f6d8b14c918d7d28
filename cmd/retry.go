package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"autocapture/config"
	"autocapture/runner"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Capture the URLs that failed in the last run again",
	Long: `Retry reads the report the last run left in <out>/.autocapture and runs
the failed URLs again, in their original order, with the settings that
run used. Flags given here override those settings.`,
	Args: cobra.NoArgs,
	RunE: runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)
	addOutputFlag(retryCmd)
	addBrowserFlags(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Output.Dir == "" {
		return runner.ErrNoOutputDir
	}

	report, err := runner.LoadReport(cfg.Output.Dir)
	if errors.Is(err, runner.ErrNoReport) {
		return fmt.Errorf("no previous run found in %s", cfg.Output.Dir)
	}
	if err != nil {
		return err
	}
	items := runner.FailedItems(report.Failed)
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No failed URLs to retry.")
		return nil
	}

	restoreOptions(cfg, report.Options)
	if err := cfg.ApplyFlags(changedFlags(cmd)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Retrying %d failed URL(s) from run %s\n", len(items), report.RunID)

	p, err := newPipeline(cmd, cfg)
	if err != nil {
		return err
	}
	_, err = p.run(cmd.Context(), items)
	return err
}

// restoreOptions applies the settings recorded in a run report. Values
// decoded from JSON arrive as float64, string or bool.
func restoreOptions(cfg *config.Config, opts map[string]any) {
	str := func(key string, dst *string) {
		if v, ok := opts[key].(string); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := opts[key].(float64); ok {
			*dst = int(v)
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := opts[key].(bool); ok {
			*dst = v
		}
	}
	str("format", &cfg.Output.Format)
	str("driver", &cfg.Browser.Driver)
	num("width", &cfg.Browser.Width)
	num("delay", &cfg.Browser.Delay)
	flag("include_domain", &cfg.Output.IncludeDomain)
	flag("skip_login", &cfg.Capture.SkipLogin)
	flag("keep_session", &cfg.Browser.KeepSession)
}
