package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"autocapture/config"
	"autocapture/runner"
	"autocapture/urls"
)

var captureCmd = &cobra.Command{
	Use:   "capture [urls...]",
	Short: "Capture full-page screenshots of a list of URLs",
	Long: `Capture loads each URL in one browser session and writes a full-page
capture under the output folder, mirroring the URL path.

URLs are taken from the arguments, from --file and from piped stdin; any
text works, URLs are picked out of it and duplicates dropped.

Examples:
  autocapture capture https://example.com/docs https://example.com/blog --out ./caps
  autocapture capture --file urls.txt --out ./caps --format pdf --include-domain
  pbpaste | autocapture capture --out ./caps --skip-login`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	addOutputFlag(captureCmd)
	addInputFlags(captureCmd)
	addLayoutFlags(captureCmd)
	addBrowserFlags(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	items, err := readItems(cmd, args, cfg, true)
	if err != nil {
		return err
	}

	p, err := newPipeline(cmd, cfg)
	if err != nil {
		return err
	}
	_, err = p.run(cmd.Context(), items)
	return err
}

// readItems extracts and deduplicates the URLs from args, --file and, when
// stdin is set, piped standard input.
func readItems(cmd *cobra.Command, args []string, cfg *config.Config, stdin bool) ([]runner.WorkItem, error) {
	var in io.Reader
	if stdin {
		in = stdinIfPiped(cmd)
	}
	text, err := urls.ReadInput(args, flagFile, in)
	if err != nil {
		return nil, err
	}
	res := urls.Extract(text)
	if len(res.URLs) == 0 {
		return nil, runner.ErrNoURLs
	}
	if res.Dropped > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Found %d URL(s), %d duplicate or invalid entries dropped\n", len(res.URLs), res.Dropped)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Found %d URL(s)\n", len(res.URLs))
	}
	return runner.NewItems(res.URLs, cfg.Sanitizer())
}
