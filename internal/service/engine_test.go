package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/config"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/events"
)

type published struct {
	mu    sync.Mutex
	files map[string][]core.Diagnostic
}

func (p *published) PublishDiagnostics(file string, diags []core.Diagnostic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.files == nil {
		p.files = make(map[string][]core.Diagnostic)
	}
	p.files[file] = diags
}

func (p *published) get(file string) ([]core.Diagnostic, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.files[file]
	return d, ok
}

const engineConfig = `
adapters:
  - name: unit
    path: assert-unit
    include: ["src/**/*.rs"]
    env: ["TOKEN=super-secret-value"]
  - name: broken
    path: assert-broken
`

func engineRoot(t *testing.T, cfg string) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := t.TempDir()
	if cfg != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, ".assert-lsp.yaml"), []byte(cfg), 0o644))
	}
	return root
}

func newEngine(t *testing.T, opts EngineOptions) (*Engine, *fakeRunner, *published) {
	t.Helper()
	runner := &fakeRunner{}
	pub := &published{}
	opts.Runner = runner
	opts.Publisher = pub
	e, err := NewEngine(opts)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, runner, pub
}

func TestEngine_StartupWarningsAndDispatch(t *testing.T) {
	root := engineRoot(t, engineConfig)
	bus := events.New(100)
	defer bus.Close()
	warnings := bus.Subscribe(events.TypeConfigWarning)

	e, runner, pub := newEngine(t, EngineOptions{
		Root:            root,
		Events:          bus,
		RequestWarnings: []string{"request warning"},
	})

	require.Len(t, e.Registry().Definitions(), 1)
	assert.Equal(t, "unit", e.Registry().Definitions()[0].Name)
	assert.Equal(t, "[REDACTED]", e.logger.Sanitize("super-secret-value"))

	got := e.Warnings()
	require.Len(t, got, 2)
	assert.Equal(t, "request warning", got[0])
	assert.Contains(t, got[1], "adapter disabled")
	for range got {
		select {
		case ev := <-warnings:
			assert.Equal(t, events.TypeConfigWarning, ev.EventType())
		case <-time.After(time.Second):
			t.Fatal("missing config warning event")
		}
	}

	runner.run = func(_ context.Context, _ core.AdapterDefinition, paths, _ []string) (*core.Result, error) {
		return failing(paths[0], "boom", 2), nil
	}
	require.NoError(t, e.HandleTrigger(t.Context(), core.FileChanged("src/lib.rs")))
	e.Wait()

	file := filepath.Join(root, "src", "lib.rs")
	diags, ok := pub.get(file)
	require.True(t, ok, "diagnostics published for %s", file)
	require.Len(t, diags, 1)
	assert.Equal(t, "boom", diags[0].Message)
	assert.Len(t, e.Store().Merged(file), 1)
}

func TestEngine_MissingExecutableWarning(t *testing.T) {
	root := engineRoot(t, engineConfig)

	e, err := NewEngine(EngineOptions{Root: root})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	var found bool
	for _, w := range e.Warnings() {
		if strings.Contains(w, `"assert-unit" not found in PATH`) {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", e.Warnings())
	require.Len(t, e.Registry().Definitions(), 1, "the adapter stays enabled")
}

func TestEngine_WorkspaceFiles(t *testing.T) {
	root := engineRoot(t, engineConfig+`  - name: docs
    path: assert-docs
    include: ["docs/**/*.md"]
`)
	for _, rel := range []string{"src/lib.rs", "src/nested/mod.rs", "docs/guide.md", "README.md"} {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	e, _, _ := newEngine(t, EngineOptions{Root: root})

	got, err := e.WorkspaceFiles(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "unit", got[0].Adapter)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "src", "lib.rs"),
		filepath.Join(root, "src", "nested", "mod.rs"),
	}, got[0].Files)
	assert.Equal(t, "docs", got[1].Adapter)
	assert.Equal(t, []string{filepath.Join(root, "docs", "guide.md")}, got[1].Files)
}

func TestEngine_RequestAdaptersMerge(t *testing.T) {
	root := engineRoot(t, engineConfig)

	e, _, _ := newEngine(t, EngineOptions{
		Root: root,
		RequestAdapters: []config.AdapterConfig{
			{Name: "unit", Path: "editor-unit", Include: []string{"**/*.rs"}},
			{Name: "js", Path: "assert-adapter-jest", Include: []string{"**/*.test.ts"}},
		},
	})

	defs := e.Registry().Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "editor-unit", defs[0].Path)
	assert.Equal(t, "js", defs[1].Name)
}

func TestEngine_Reload(t *testing.T) {
	root := engineRoot(t, engineConfig)
	bus := events.New(100)
	defer bus.Close()
	reloaded := bus.Subscribe(events.TypeConfigReloaded)

	e, _, pub := newEngine(t, EngineOptions{Root: root, Events: bus})

	require.NoError(t, e.HandleTrigger(t.Context(), core.FileChanged(filepath.Join(root, "src", "a.rs"))))
	e.Wait()
	require.True(t, e.Store().Has(filepath.Join(root, "src", "a.rs")))

	require.NoError(t, os.WriteFile(filepath.Join(root, ".assert-lsp.yaml"), []byte(`
adapters:
  - name: js
    path: assert-adapter-jest
    include: ["**/*.test.ts"]
`), 0o644))
	require.NoError(t, e.Reload())

	select {
	case ev := <-reloaded:
		r := ev.(events.ConfigReloadedEvent)
		assert.Equal(t, []string{"js"}, r.Adapters)
		assert.Equal(t, []string{"unit"}, r.Removed)
	case <-time.After(time.Second):
		t.Fatal("no config_reloaded event")
	}
	assert.False(t, e.Store().Has(filepath.Join(root, "src", "a.rs")))
	diags, ok := pub.get(filepath.Join(root, "src", "a.rs"))
	assert.True(t, ok)
	assert.Empty(t, diags)
	assert.Empty(t, e.Warnings())
}

func TestEngine_ReloadKeepsAdaptersOnError(t *testing.T) {
	root := engineRoot(t, engineConfig)
	e, _, _ := newEngine(t, EngineOptions{Root: root})

	require.NoError(t, os.WriteFile(filepath.Join(root, ".assert-lsp.yaml"), []byte("adapters: [oops\n"), 0o644))
	assert.Error(t, e.Reload())
	assert.Len(t, e.Registry().Definitions(), 1)
}

func TestEngine_DetectsAdaptersWithoutConfig(t *testing.T) {
	root := engineRoot(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o644))

	e, _, _ := newEngine(t, EngineOptions{Root: root})

	defs := e.Registry().Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "go-test", defs[0].Name)
	assert.True(t, defs[0].Batch)
	assert.True(t, defs[0].WorkspaceDiagnostics)
}

func TestEngine_InvalidServerConfig(t *testing.T) {
	root := engineRoot(t, "server:\n  config_precedence: editor\n")
	_, err := NewEngine(EngineOptions{Root: root, Runner: &fakeRunner{}})
	assert.Error(t, err)

	_, err = NewEngine(EngineOptions{})
	assert.Error(t, err)
}

func TestEngine_WatcherReloadsOnConfigChange(t *testing.T) {
	root := engineRoot(t, engineConfig)
	e, _, _ := newEngine(t, EngineOptions{Root: root, Watch: true})
	require.NotNil(t, e.watcher)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".assert-lsp.yaml"), []byte(`
adapters:
  - name: other
    path: assert-other
    include: ["**/*.py"]
`), 0o644))

	require.Eventually(t, func() bool {
		defs := e.Registry().Definitions()
		return len(defs) == 1 && defs[0].Name == "other"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	root := engineRoot(t, engineConfig)
	e, err := NewEngine(EngineOptions{Root: root, Runner: &fakeRunner{}})
	require.NoError(t, err)
	e.Close()
	e.Close()
	assert.Error(t, e.Reload())
}
