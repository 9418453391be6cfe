package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/service"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List the configured adapters",
	Long: `List the adapters resolved from the configuration, or the detected
projects when nothing is configured.

Examples:
  # Which adapters run when src/lib.rs is saved?
  assert-lsp adapters --file src/lib.rs

  # Show one adapter
  assert-lsp adapters --name unit`,
	RunE: runAdapters,
}

var (
	adaptersFile string
	adaptersName string
	adaptersJSON bool
)

func init() {
	rootCmd.AddCommand(adaptersCmd)
	adaptersCmd.Flags().StringVar(&adaptersFile, "file", "", "only list adapters that apply to this file")
	adaptersCmd.Flags().StringVar(&adaptersName, "name", "", "only show the adapter with this name")
	adaptersCmd.Flags().BoolVar(&adaptersJSON, "json", false, "print the adapters as JSON")
}

type adapterView struct {
	Name                 string   `json:"name"`
	Path                 string   `json:"path"`
	ExtraArgs            []string `json:"extra_args,omitempty"`
	EnvKeys              []string `json:"env_keys,omitempty"`
	Include              []string `json:"include"`
	Exclude              []string `json:"exclude,omitempty"`
	WorkDir              string   `json:"work_dir,omitempty"`
	Timeout              string   `json:"timeout,omitempty"`
	WorkspaceDiagnostics bool     `json:"workspace_diagnostics"`
	Batch                bool     `json:"batch"`
}

func viewOf(def core.AdapterDefinition) adapterView {
	v := adapterView{
		Name:                 def.Name,
		Path:                 def.Path,
		ExtraArgs:            def.ExtraArgs,
		Include:              def.Include,
		Exclude:              def.Exclude,
		WorkDir:              def.WorkDir,
		WorkspaceDiagnostics: def.WorkspaceDiagnostics,
		Batch:                def.Batch,
	}
	if def.Timeout > 0 {
		v.Timeout = def.Timeout.String()
	}
	for k := range def.Env {
		v.EnvKeys = append(v.EnvKeys, k)
	}
	sort.Strings(v.EnvKeys)
	return v
}

func runAdapters(cmd *cobra.Command, _ []string) error {
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

	registry := engine.Registry()
	defs := registry.Definitions()

	if adaptersName != "" {
		def, ok := registry.Lookup(adaptersName)
		if !ok {
			hint := ""
			if s := registry.Suggest(adaptersName); len(s) > 0 {
				hint = fmt.Sprintf("; did you mean: %s?", strings.Join(s, ", "))
			}
			return fmt.Errorf("%w%s", core.ErrNotFound("adapter", adaptersName), hint)
		}
		defs = []core.AdapterDefinition{def}
	}

	if adaptersFile != "" {
		path, err := filepath.Abs(adaptersFile)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", adaptersFile, err)
		}
		matched := registry.Match(path)
		if adaptersName != "" {
			matched = filterByName(matched, adaptersName)
		}
		if len(matched) == 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "no adapter applies to %s\n", relPath(root, path))
		}
		defs = matched
	}

	views := make([]adapterView, 0, len(defs))
	for _, d := range defs {
		views = append(views, viewOf(d))
	}

	if adaptersJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	renderAdapters(cmd.OutOrStdout(), views, engine.Warnings())
	return nil
}

func filterByName(defs []core.AdapterDefinition, name string) []core.AdapterDefinition {
	var out []core.AdapterDefinition
	for _, d := range defs {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

func renderAdapters(w io.Writer, views []adapterView, warnings []string) {
	st := newStyles()
	for _, v := range views {
		var tags []string
		if v.WorkspaceDiagnostics {
			tags = append(tags, "workspace")
		}
		if v.Batch {
			tags = append(tags, "batch")
		}
		line := st.heading.Render(v.Name) + "  " + v.Path
		if len(v.ExtraArgs) > 0 {
			line += " -- " + strings.Join(v.ExtraArgs, " ")
		}
		if len(tags) > 0 {
			line += "  " + st.muted.Render("("+strings.Join(tags, ", ")+")")
		}
		fmt.Fprintln(w, line)
		fmt.Fprintf(w, "  include: %s\n", strings.Join(v.Include, " "))
		if len(v.Exclude) > 0 {
			fmt.Fprintf(w, "  exclude: %s\n", strings.Join(v.Exclude, " "))
		}
		if v.WorkDir != "" {
			fmt.Fprintf(w, "  work_dir: %s\n", v.WorkDir)
		}
		if v.Timeout != "" {
			fmt.Fprintf(w, "  timeout: %s\n", v.Timeout)
		}
	}
	for _, warning := range warnings {
		fmt.Fprintf(w, "%s %s\n", st.warn.Render("warning:"), warning)
	}
}
