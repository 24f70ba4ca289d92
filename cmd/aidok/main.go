package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alexban14/ai.dok/internal/domain"
)

// CLI exit codes.
const (
	exitOK        = 0
	exitConfig    = 2
	exitIO        = 3
	exitCancelled = 4
	exitInternal  = 5
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfig):
		return exitConfig
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrIndexCorrupt),
		errors.Is(err, domain.ErrExternalUnavailable),
		errors.Is(err, domain.ErrTimeout):
		return exitIO
	case errors.Is(err, domain.ErrCancelled):
		return exitCancelled
	default:
		return exitInternal
	}
}
