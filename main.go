package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	Ms "github.com/maroda/cuebridge/server"
)

// Process exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitUnavailable = 2
	exitAmbiguous   = 3
)

// ExitCode maps a run error onto the process exit status.
// A stop signal during startup is a clean exit.
func ExitCode(err error) int {
	var ambiguous *Ms.AmbiguousTriggerError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.Is(err, Ms.ErrConnectionUnavailable):
		return exitUnavailable
	case errors.As(err, &ambiguous):
		return exitAmbiguous
	default:
		return exitFailure
	}
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitCode(err))
	}
}
