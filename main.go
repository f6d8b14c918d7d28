package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"autocapture/browser"
	"autocapture/cmd"
)

func main() {
	// Create context with cancel for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal finishes the current page, the second aborts the run
	signalChan := make(chan os.Signal, 2)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger := cmd.Logger()
		if cmd.Interrupt() {
			logger.Info("Received signal, stopping after the current page (press Ctrl+C again to abort)", zap.Stringer("signal", sig))
			sig = <-signalChan
		}
		logger.Info("Received signal, shutting down", zap.Stringer("signal", sig))
		cancel()
		browser.CleanupDockerContainer(logger)
		// Allow some time for cleanup then exit if it takes too long
		time.Sleep(5 * time.Second)
		os.Exit(1)
	}()

	err := cmd.Execute(ctx)
	browser.CleanupDockerContainer(cmd.Logger())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
