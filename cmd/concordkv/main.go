// Package main provides the entry point for concordkv, the ConcordKV
// admin CLI: start an engine, inspect its on-disk state, or trigger
// compaction out of band, per SPEC_FULL.md §6.2.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/concordkv/concordkv/internal/infra/buildinfo"
)

func main() {
	app := &cli.App{
		Name:    "concordkv",
		Usage:   "ConcordKV storage engine admin CLI",
		Version: buildinfo.String(),
		Commands: []*cli.Command{
			serveCommand(),
			inspectCommand(),
			compactCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
