package cmd

import (
	"github.com/spf13/cobra"

	"autocapture/config"
)

// Flag variables shared by the commands that take them.
var (
	flagOut           string
	flagFile          string
	flagFormat        string
	flagWidth         int
	flagDelay         int
	flagIncludeDomain bool
	flagSkipLogin     bool
	flagKeepSession   bool
	flagHeadless      bool
	flagDriver        string
	flagMaxSize       int
	flagDest          string
)

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagOut, "out", "o", "", "Root folder for captures")
}

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagFile, "file", "f", "", "Read URLs from a text file")
}

func addLayoutFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagFormat, "format", "png", "Output format: png, jpg or pdf")
	cmd.Flags().BoolVar(&flagIncludeDomain, "include-domain", false, "Nest captures under a folder per domain")
}

func addBrowserFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flagWidth, "width", 1400, "Viewport width: 1920, 1400, 1280, 1024 or 768")
	cmd.Flags().IntVar(&flagDelay, "delay", 2, "Page load delay in seconds: 1, 2, 3, 5 or 10")
	cmd.Flags().BoolVar(&flagSkipLogin, "skip-login", false, "Skip pages that redirect to a login page")
	cmd.Flags().BoolVar(&flagKeepSession, "keep-session", false, "Use a persistent browser profile so logins survive between runs")
	cmd.Flags().BoolVar(&flagHeadless, "headless", false, "Run the browser without a window")
	cmd.Flags().StringVar(&flagDriver, "driver", "chromedp", "Browser driver: chromedp or rod")
}

// changedFlags collects the flags the user actually set.
func changedFlags(cmd *cobra.Command) config.Flags {
	var f config.Flags
	changed := cmd.Flags().Changed
	if changed("out") {
		f.OutputDir = &flagOut
	}
	if changed("format") {
		f.Format = &flagFormat
	}
	if changed("include-domain") {
		f.IncludeDomain = &flagIncludeDomain
	}
	if changed("width") {
		f.Width = &flagWidth
	}
	if changed("delay") {
		f.Delay = &flagDelay
	}
	if changed("skip-login") {
		f.SkipLogin = &flagSkipLogin
	}
	if changed("keep-session") {
		f.KeepSession = &flagKeepSession
	}
	if changed("headless") {
		f.Headless = &flagHeadless
	}
	if changed("driver") {
		f.Driver = &flagDriver
	}
	if changed("max-size") {
		f.MaxSizeMB = &flagMaxSize
	}
	return f
}
