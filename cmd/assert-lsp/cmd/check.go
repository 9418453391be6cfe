package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/events"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/service"
)

var checkCmd = &cobra.Command{
	Use:   "check [files...]",
	Short: "Run the adapters once and print the diagnostics",
	Long: `Run every adapter that applies to the given files, or the workspace
run of every adapter with workspace_diagnostics when no file is given.
Exits with status 1 when a test fails or an adapter fails.`,
	RunE: runCheck,
}

var checkJSON bool

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the result as JSON")
}

// collector is the Publisher of one-shot runs: it keeps the latest
// diagnostics per file.
type collector struct {
	mu    sync.Mutex
	files map[string][]core.Diagnostic
}

func newCollector() *collector {
	return &collector{files: make(map[string][]core.Diagnostic)}
}

func (c *collector) PublishDiagnostics(file string, diags []core.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(diags) == 0 {
		delete(c.files, file)
		return
	}
	c.files[file] = append([]core.Diagnostic(nil), diags...)
}

func (c *collector) snapshot() map[string][]core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]core.Diagnostic, len(c.files))
	for f, d := range c.files {
		out[f] = d
	}
	return out
}

type checkFile struct {
	Path        string            `json:"path"`
	Diagnostics []core.Diagnostic `json:"diagnostics"`
}

type checkResult struct {
	Root     string           `json:"root"`
	Files    []checkFile      `json:"files"`
	Failing  []service.Health `json:"failing_adapters"`
	Messages []string         `json:"messages,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
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

	results := newCollector()
	bus := events.New(256)
	defer bus.Close()
	adapterMessages := bus.Subscribe(events.TypeAdapterMessage)

	engine, err := service.NewEngine(service.EngineOptions{
		Root:      root,
		NewLoader: newLoader,
		Publisher: results,
		Events:    bus,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := commandContext(cmd)

	if len(args) == 0 {
		if err := engine.HandleTrigger(ctx, core.Workspace()); err != nil {
			return err
		}
	}
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", arg, err)
		}
		err = engine.HandleTrigger(ctx, core.FileChanged(path))
		if errors.Is(err, core.ErrNoMatchingAdapterSentinel) {
			fmt.Fprintf(cmd.ErrOrStderr(), "no adapter applies to %s\n", relPath(root, path))
			continue
		}
		if err != nil {
			return err
		}
	}
	engine.Wait()

	var messages []string
drain:
	for {
		select {
		case ev := <-adapterMessages:
			if m, ok := ev.(events.AdapterMessageEvent); ok {
				messages = append(messages, fmt.Sprintf("%s: %s", m.Adapter, m.Message))
			}
		default:
			break drain
		}
	}

	files := results.snapshot()
	failing := engine.Coordinator().Status().Failing()

	if checkJSON {
		out := checkResult{Root: root, Files: []checkFile{}, Failing: failing, Messages: messages}
		if out.Failing == nil {
			out.Failing = []service.Health{}
		}
		paths := make([]string, 0, len(files))
		for p := range files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			out.Files = append(out.Files, checkFile{Path: p, Diagnostics: files[p]})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		renderReport(cmd.OutOrStdout(), root, files, failing, messages)
	}

	if len(files) > 0 || len(failing) > 0 {
		return ErrCheckFailed
	}
	return nil
}
