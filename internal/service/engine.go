package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/config"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/events"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/logging"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/watch"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Root is the workspace root. Required.
	Root string
	// NewLoader returns the loader used for the file config on start and on
	// every reload. config.NewLoader is used when nil.
	NewLoader func() *config.Loader
	// RequestAdapters come from the editor and are merged with the file
	// config according to server.config_precedence.
	RequestAdapters []config.AdapterConfig
	// RequestWarnings are reported together with the config warnings.
	RequestWarnings []string
	Publisher       core.Publisher
	// Events receives lifecycle and warning events. A private bus is
	// created when nil.
	Events *events.EventBus
	// Runner replaces the process-backed adapter client.
	Runner core.TestRunner
	// Watch enables the filesystem watcher when server.watch is also set.
	Watch  bool
	Logger *logging.Logger
}

// Engine wires configuration, the adapter registry, the process-backed
// client, the diagnostics store and the coordinator for one workspace.
type Engine struct {
	opts    EngineOptions
	root    string
	logger  *logging.Logger
	bus     *events.EventBus
	ownsBus bool

	registry *cli.Registry
	store    *diagnostics.Store
	coord    *Coordinator
	watcher  *watch.Watcher

	reloadMu sync.Mutex
	mu       sync.Mutex
	cfg      *config.Config
	warnings []string
	closed   bool
}

// NewEngine loads the configuration for opts.Root and builds the engine.
// Invalid adapter entries only produce warnings; an invalid server section
// is an error.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Root == "" {
		return nil, core.ErrValidation("EMPTY_ROOT", "workspace root required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if opts.NewLoader == nil {
		opts.NewLoader = config.NewLoader
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	e := &Engine{
		opts:   opts,
		root:   root,
		logger: opts.Logger,
		bus:    opts.Events,
	}
	if e.bus == nil {
		e.bus = events.New(100)
		e.ownsBus = true
	}

	cfg, loadWarnings, err := e.load()
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	rt := config.ResolveRuntime(cfg)
	defs, warnings := e.resolve(cfg)
	warnings = append(append(append([]string(nil), opts.RequestWarnings...), loadWarnings...), warnings...)

	e.cfg = cfg
	e.warnings = warnings
	e.registry = cli.NewRegistry(root, defs)
	e.store = diagnostics.NewStore(opts.Publisher, e.logger)

	runner := opts.Runner
	if runner == nil {
		pm := cli.NewProcessManager(cli.ProcessOptions{
			Root:           e.registry.Root,
			DefaultTimeout: rt.DefaultTimeout,
			GracePeriod:    rt.GracePeriod,
			Logger:         e.logger,
		})
		runner = cli.NewClient(pm, e.logger)
	}
	e.coord = NewCoordinator(CoordinatorOptions{
		Registry:       e.registry,
		Runner:         runner,
		Store:          e.store,
		Events:         e.bus,
		Backoff:        NewBackoff(WithBaseDelay(rt.BackoffBase), WithMaxDelay(rt.BackoffMax)),
		MaxConcurrency: rt.MaxConcurrency,
		Logger:         e.logger,
	})
	e.redact(defs)

	if opts.Watch && cfg.Server.Watch {
		e.startWatcher()
	}

	e.logger.Info("engine started", "root", root, "adapters", adapterNames(defs),
		"max_concurrency", rt.MaxConcurrency)
	e.report(warnings)
	return e, nil
}

// Root returns the absolute workspace root.
func (e *Engine) Root() string { return e.root }

// Registry returns the adapter registry.
func (e *Engine) Registry() *cli.Registry { return e.registry }

// Store returns the diagnostics store.
func (e *Engine) Store() *diagnostics.Store { return e.store }

// Coordinator returns the dispatch coordinator.
func (e *Engine) Coordinator() *Coordinator { return e.coord }

// Events returns the event bus.
func (e *Engine) Events() *events.EventBus { return e.bus }

// Config returns the configuration currently in effect.
func (e *Engine) Config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Warnings returns the configuration warnings of the last load.
func (e *Engine) Warnings() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.warnings...)
}

// HandleTrigger forwards trig to the coordinator. Relative paths are taken
// relative to the workspace root.
func (e *Engine) HandleTrigger(ctx context.Context, trig core.Trigger) error {
	if trig.Path != "" && !filepath.IsAbs(trig.Path) {
		trig.Path = filepath.Join(e.root, trig.Path)
	}
	if trig.Kind == core.TriggerFileChanged && e.watcher != nil && trig.Path != "" {
		if err := e.watcher.AddFile(trig.Path); err != nil {
			e.logger.Debug("not watching directory", "file", trig.Path, "error", err)
		}
	}
	return e.coord.HandleTrigger(ctx, trig)
}

// DiscoverFile lists the tests of path with every matching adapter.
func (e *Engine) DiscoverFile(ctx context.Context, path string) ([]Discovery, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.root, path)
	}
	return e.coord.DiscoverFile(ctx, path)
}

// Reload re-reads the file config and replaces the adapter set. Server
// and backoff settings keep their startup values. On error the previous
// adapter set stays in place.
func (e *Engine) Reload() error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return core.ErrValidation("ENGINE_CLOSED", "engine is closed")
	}
	e.mu.Unlock()

	cfg, loadWarnings, err := e.load()
	if err != nil {
		e.logger.Warn("config reload failed, keeping previous adapters", "error", err)
		e.bus.Publish(events.NewConfigWarningEvent("", fmt.Sprintf("config reload failed: %v", err)))
		return err
	}
	defs, warnings := e.resolve(cfg)
	warnings = append(append([]string(nil), loadWarnings...), warnings...)

	e.mu.Lock()
	e.cfg = cfg
	e.warnings = warnings
	e.mu.Unlock()

	e.registry.Replace(e.root, defs)
	removed := e.coord.Reconcile()
	e.redact(defs)

	names := adapterNames(defs)
	e.logger.Info("configuration reloaded", "adapters", names, "removed", removed)
	e.report(warnings)
	e.bus.Publish(events.NewConfigReloadedEvent(names, removed))
	return nil
}

// Wait blocks until all scheduled work has finished.
func (e *Engine) Wait() {
	e.coord.Wait()
}

// Close stops the watcher, cancels in-flight invocations and waits for
// them.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	if e.watcher != nil {
		_ = e.watcher.Close()
	}
	e.coord.Close()
	if e.ownsBus {
		e.bus.Close()
	}
}

func (e *Engine) load() (*config.Config, []string, error) {
	loader := e.opts.NewLoader().WithRoot(e.root)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, loader.Warnings(), nil
}

// resolve merges the file and request adapters. With neither configured,
// adapters are detected from the project markers under the root.
func (e *Engine) resolve(cfg *config.Config) ([]core.AdapterDefinition, []string) {
	adapters := config.Merge(cfg.Adapters, e.opts.RequestAdapters, cfg.Server.ConfigPrecedence)
	if len(adapters) == 0 {
		adapters = config.DetectAdapters(e.root)
		if len(adapters) > 0 {
			names := make([]string, 0, len(adapters))
			for _, a := range adapters {
				names = append(names, a.Name)
			}
			e.logger.Info("no adapters configured, using detected projects", "adapters", names)
		} else {
			e.logger.Warn("no adapters configured and no project detected", "root", e.root)
		}
	}
	defs, warnings := config.Resolve(adapters)
	// Injected runners never execute Path.
	if e.opts.Runner == nil {
		warnings = append(warnings, config.ExecutableWarnings(e.root, defs)...)
	}
	return defs, warnings
}

// AdapterFiles lists the workspace files one adapter covers.
type AdapterFiles struct {
	Adapter string   `json:"adapter"`
	Files   []string `json:"files"`
}

// WorkspaceFiles walks the workspace once per adapter, in parallel, and
// returns the files each adapter covers in adapter order.
func (e *Engine) WorkspaceFiles(ctx context.Context) ([]AdapterFiles, error) {
	defs := e.registry.Definitions()
	out := make([]AdapterFiles, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	for i, def := range defs {
		g.Go(func() error {
			files, err := e.registry.WorkspaceFiles(gctx, def)
			if err != nil {
				return fmt.Errorf("listing files for %s: %w", def.Name, err)
			}
			if files == nil {
				files = []string{}
			}
			out[i] = AdapterFiles{Adapter: def.Name, Files: files}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// redact keeps adapter environment values out of the logs.
func (e *Engine) redact(defs []core.AdapterDefinition) {
	var values []string
	for _, d := range defs {
		for _, v := range d.Env {
			values = append(values, v)
		}
	}
	e.logger.Sanitizer().SetLiterals(values)
}

func (e *Engine) report(warnings []string) {
	for _, w := range warnings {
		e.logger.Warn("configuration warning", "message", w)
		e.bus.Publish(events.NewConfigWarningEvent("", w))
	}
}

func (e *Engine) startWatcher() {
	files := config.ConfigCandidates(e.root)
	w, err := watch.New(watch.Options{
		ConfigFiles: files,
		OnConfigChange: func() {
			_ = e.Reload()
		},
		OnRemove: func(path string) {
			_ = e.coord.HandleTrigger(context.Background(), core.FileDeleted(path))
		},
		Logger: e.logger,
	})
	if err != nil {
		e.logger.Warn("filesystem watcher unavailable", "error", err)
		return
	}
	if err := w.Add(e.root); err != nil {
		e.logger.Debug("workspace root not watched", "error", err)
	}
	e.watcher = w
}

func adapterNames(defs []core.AdapterDefinition) []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}
