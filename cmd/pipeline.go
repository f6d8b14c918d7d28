package cmd

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autocapture/browser"
	"autocapture/config"
	"autocapture/logging"
	"autocapture/outpath"
	"autocapture/runner"
	"autocapture/screenshot"
)

// pipeline is everything one capture command wires together.
type pipeline struct {
	cfg     *config.Config
	root    string
	manager *browser.Manager
	runner  *runner.Runner
	sink    *logging.Sink
	out     io.Writer
}

func newPipeline(cmd *cobra.Command, cfg *config.Config) (*pipeline, error) {
	root := cfg.Output.Dir
	if root == "" {
		return nil, runner.ErrNoOutputDir
	}
	log := Logger()

	driver, err := browser.NewDriver(cfg.Browser.Driver, browser.WithLogger(log))
	if err != nil {
		return nil, err
	}
	manager := browser.NewManager(driver, cfg.BrowserSession(), log)

	writer, err := outpath.NewWriter(root, log)
	if err != nil {
		return nil, err
	}

	sink := logging.NewSink(cmd.OutOrStdout(), log)
	engine := screenshot.NewEngine(cfg.EngineOptions(), nil, nil, log)
	engine.OnLoginWall = func(url, finalURL string) {
		sink.Statusf("LOGIN REQUIRED: %s redirected to %s", url, finalURL)
		sink.Statusf("Log in in the browser window; the page is checked again in a few seconds.")
	}

	r, err := runner.New(manager, engine, writer, runner.Options{
		Encoder: cfg.Encoder(),
		Sink:    sink,
	}, log)
	if err != nil {
		return nil, err
	}
	return &pipeline{cfg: cfg, root: root, manager: manager, runner: r, sink: sink, out: cmd.OutOrStdout()}, nil
}

// run executes one batch, stores the run report and prints the summary.
func (p *pipeline) run(ctx context.Context, items []runner.WorkItem) (runner.Summary, error) {
	setActive(p.runner.Stop)
	defer setActive(nil)

	sum, err := p.runner.Run(ctx, items)
	if err != nil {
		return sum, err
	}

	reportPath, err := runner.SaveReport(p.root, runner.Report{Summary: sum, Options: p.cfg.Summary()})
	if err != nil {
		Logger().Warn("Failed to save run report", zap.Error(err))
		reportPath = ""
	}
	printSummary(p.out, sum, p.root, reportPath)
	return sum, nil
}

// stdinIfPiped returns stdin when it is not a terminal.
func stdinIfPiped(cmd *cobra.Command) io.Reader {
	in := cmd.InOrStdin()
	f, ok := in.(*os.File)
	if !ok {
		return in
	}
	info, err := f.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return nil
	}
	return f
}
