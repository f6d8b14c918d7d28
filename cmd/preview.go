package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var previewCmd = &cobra.Command{
	Use:   "preview [urls...]",
	Short: "Show where each URL would be saved without capturing",
	RunE:  runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)
	addOutputFlag(previewCmd)
	addInputFlags(previewCmd)
	addLayoutFlags(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	items, err := readItems(cmd, args, cfg, true)
	if err != nil {
		return err
	}

	root := cfg.Output.Dir
	if root == "" {
		root = "."
	}
	out := cmd.OutOrStdout()
	for _, it := range items {
		path := filepath.Join(root, filepath.FromSlash(it.TargetDir), it.Filename)
		fmt.Fprintf(out, "%s\n  %s %s\n", it.URL, mutedStyle.Render("->"), path)
	}
	return nil
}
