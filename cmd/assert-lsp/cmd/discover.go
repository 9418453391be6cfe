package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/lsp"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/service"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <file>",
	Short: "Print the tests every matching adapter discovers in a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	engine, err := service.NewEngine(service.EngineOptions{
		Root:      root,
		NewLoader: newLoader,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving %s: %w", args[0], err)
	}
	found, err := engine.DiscoverFile(commandContext(cmd), path)
	if err != nil {
		return err
	}

	out := lsp.DiscoverResult{Path: path, Adapters: make([]lsp.DiscoveredAdapter, 0, len(found))}
	failed := false
	for _, d := range found {
		da := lsp.DiscoveredAdapter{Adapter: d.Adapter, Tests: d.Root, Messages: d.Messages}
		if d.Err != nil {
			da.Error = d.Err.Error()
			failed = true
		}
		out.Adapters = append(out.Adapters, da)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("discovery failed for at least one adapter")
	}
	return nil
}
