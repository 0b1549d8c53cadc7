// Package main provides the pipeline CLI entry point: start, stop, status,
// clear, and test-connections against the C1-C9 triangulation pipeline.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/fairyhunter13/cogtriangulate/internal/adapter/observability"
	"github.com/fairyhunter13/cogtriangulate/internal/config"
)

func main() {
	if cfg, err := config.Load(); err == nil {
		slog.SetDefault(observability.SetupLogger(cfg))
	}

	if err := newRootCmd().Execute(); err != nil {
		var ce *cliError
		code := 1
		if errors.As(err, &ce) {
			code = ce.code
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(code)
	}
}
