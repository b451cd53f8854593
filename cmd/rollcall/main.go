package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// waitForSignal blocks until SIGINT or SIGTERM, or until errCh yields. It
// returns the error received, if any.
func waitForSignal(errCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		return nil
	case err := <-errCh:
		return err
	}
}
