package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/hugo-lorenzo-mato/assert-lsp/cmd/assert-lsp/cmd"
)

// Version information - set by goreleaser at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, cmd.ErrCheckFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
