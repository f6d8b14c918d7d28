package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"autocapture/archive"
	"autocapture/runner"
)

var zipCmd = &cobra.Command{
	Use:   "zip",
	Short: "Pack the capture folder into size-limited zip files",
	Long: `Zip packs every file under the output folder into a zip archive. When the
archive would grow past --max-size it continues in name_part2.zip,
name_part3.zip and so on. Existing zip files are not included.`,
	Args: cobra.NoArgs,
	RunE: runZip,
}

func init() {
	rootCmd.AddCommand(zipCmd)
	addOutputFlag(zipCmd)
	zipCmd.Flags().StringVar(&flagDest, "dest", "", "Path of the first zip file (default: captures_<timestamp>.zip next to the output folder)")
	zipCmd.Flags().IntVar(&flagMaxSize, "max-size", 29, "Maximum size of each zip file in MB")
}

func runZip(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	root := cfg.Output.Dir
	if root == "" {
		return runner.ErrNoOutputDir
	}

	dest := flagDest
	if dest == "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		dest = filepath.Join(filepath.Dir(abs), fmt.Sprintf("captures_%s.zip", time.Now().Format("20060102_150405")))
	}

	p := archive.NewPackager(Logger())
	p.MaxPartSize = cfg.MaxPartSize()
	p.CompressionEstimate = cfg.Zip.CompressionEstimate
	p.SkipDirs = []string{runner.StateDir}

	parts, err := p.Pack(cmd.Context(), root, dest)
	if len(parts) > 0 {
		printParts(cmd.OutOrStdout(), parts)
	}
	return err
}
