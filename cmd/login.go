package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autocapture/browser"
	"autocapture/config"
	"autocapture/runner"
)

var loginCmd = &cobra.Command{
	Use:   "login [urls...]",
	Short: "Sign in through a visible browser, then capture",
	Long: `Login opens a visible browser on the persistent profile and waits while
you sign in. Press Enter when done; the given URLs are then captured in that
same window, which stays open until the capture finishes.

URLs come from arguments or --file; standard input is reserved for the
Enter prompt.

Without URLs the command only stores the login in the profile, so later
runs with --keep-session are already signed in.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	addOutputFlag(loginCmd)
	addInputFlags(loginCmd)
	addLayoutFlags(loginCmd)
	addBrowserFlags(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Browser.KeepSession = true
	cfg.Browser.Headless = false

	var items []runner.WorkItem
	if len(args) > 0 || flagFile != "" {
		// Stdin is kept for the Enter prompt.
		if items, err = readItems(cmd, args, cfg, false); err != nil {
			return err
		}
	}
	if cfg.Output.Dir == "" {
		if len(items) > 0 {
			return runner.ErrNoOutputDir
		}
		// Nothing is written; the pipeline only needs somewhere to point.
		cfg.Output.Dir = os.TempDir()
	}

	p, err := newPipeline(cmd, cfg)
	if err != nil {
		return err
	}
	defer p.manager.Shutdown()

	ctx := cmd.Context()
	sess, err := p.manager.OpenForLogin(ctx)
	if err != nil {
		return err
	}
	if len(items) > 0 {
		navCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		if err := sess.Navigate(navCtx, items[0].URL); err != nil {
			Logger().Warn("Could not open the first URL", zap.Error(err))
		}
		cancel()
	}

	p.sink.Statusf("Log in in the browser window, then press Enter here to continue.")
	if err := waitForEnter(ctx, cmd.InOrStdin()); err != nil {
		return err
	}
	if len(items) == 0 {
		p.sink.Statusf("Login stored in %s", loginProfile(cfg))
		return nil
	}

	_, err = p.run(ctx, items)
	return err
}

func loginProfile(cfg *config.Config) string {
	if cfg.Browser.ProfileDir != "" {
		return cfg.Browser.ProfileDir
	}
	return browser.DefaultProfileDir()
}

// waitForEnter blocks until a line is read from in or ctx ends.
func waitForEnter(ctx context.Context, in io.Reader) error {
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(in).ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		return nil
	}
}
