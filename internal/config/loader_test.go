package config

import (
	"os"
	"path/filepath"
	"testing"
)

// isolate keeps the user config directory out of the test.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return t.TempDir()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_Defaults(t *testing.T) {
	root := isolate(t)

	cfg, err := NewLoader().WithRoot(root).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "auto")
	}
	if cfg.Server.DefaultTimeout != DefaultTimeout {
		t.Errorf("Server.DefaultTimeout = %q, want %q", cfg.Server.DefaultTimeout, DefaultTimeout)
	}
	if cfg.Server.ConfigPrecedence != PrecedenceRequest {
		t.Errorf("Server.ConfigPrecedence = %q, want %q", cfg.Server.ConfigPrecedence, PrecedenceRequest)
	}
	if !cfg.Server.Watch {
		t.Error("Server.Watch = false, want true")
	}
	if len(cfg.Adapters) != 0 {
		t.Errorf("Adapters = %v, want none", cfg.Adapters)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	root := isolate(t)
	t.Setenv("ASSERT_LSP_LOG_LEVEL", "debug")
	t.Setenv("ASSERT_LSP_SERVER_MAX_CONCURRENCY", "3")

	cfg, err := NewLoader().WithRoot(root).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Server.MaxConcurrency != 3 {
		t.Errorf("Server.MaxConcurrency = %d, want 3", cfg.Server.MaxConcurrency)
	}
}

func TestLoader_ProjectFile(t *testing.T) {
	root := isolate(t)
	writeFile(t, filepath.Join(root, ".assert-lsp.yaml"), `
log:
  level: warn
server:
  max_concurrency: 4
adapters:
  - name: go
    path: assert-adapter-go-test
    include: ["**/*_test.go"]
    env: ["GOFLAGS=-count=1"]
    timeout: 30s
    batch: true
`)

	loader := NewLoader().WithRoot(root)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := loader.ConfigFile(); got != filepath.Join(root, ".assert-lsp.yaml") {
		t.Errorf("ConfigFile() = %q", got)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
	if cfg.Server.MaxConcurrency != 4 {
		t.Errorf("Server.MaxConcurrency = %d, want 4", cfg.Server.MaxConcurrency)
	}
	if len(cfg.Adapters) != 1 {
		t.Fatalf("len(Adapters) = %d, want 1", len(cfg.Adapters))
	}
	a := cfg.Adapters[0]
	if a.Name != "go" || a.Path != "assert-adapter-go-test" || !a.Batch || a.Timeout != "30s" {
		t.Errorf("unexpected adapter: %+v", a)
	}
	if len(a.Env) != 1 || a.Env[0] != "GOFLAGS=-count=1" {
		t.Errorf("Env = %v", a.Env)
	}
}

func TestLoader_UserFileFallback(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	writeFile(t, filepath.Join(xdg, "assert-lsp", "config.yaml"), "log:\n  level: error\n")

	cfg, err := NewLoader().WithRoot(t.TempDir()).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want error", cfg.Log.Level)
	}
}

func TestLoader_ProjectFileWinsOverUserFile(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	writeFile(t, filepath.Join(xdg, "assert-lsp", "config.yaml"), "log:\n  level: error\n")
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".assert-lsp.toml"), "[log]\nlevel = \"debug\"\n")

	cfg, err := NewLoader().WithRoot(root).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoader_LegacyAdapterCommand(t *testing.T) {
	root := isolate(t)
	writeFile(t, filepath.Join(root, ".assert-lsp.toml"), `
enable_workspace_diagnostics = true

[adapter_command.rust]
test_kind = "cargo-test"
extra_arg = ["--workspace"]
include = ["/**/*.rs"]
exclude = ["/target/**"]

[adapter_command.rust.env]
RUST_LOG = "debug"
`)

	loader := NewLoader().WithRoot(root)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Adapters) != 1 {
		t.Fatalf("len(Adapters) = %d, want 1", len(cfg.Adapters))
	}
	a := cfg.Adapters[0]
	if a.Name != "rust" {
		t.Errorf("Name = %q, want rust", a.Name)
	}
	if a.Path != "assert-adapter-cargo-test" {
		t.Errorf("Path = %q, want assert-adapter-cargo-test", a.Path)
	}
	if !a.WorkspaceDiagnostics {
		t.Error("WorkspaceDiagnostics = false, want true")
	}
	if len(a.Env) != 1 || a.Env[0] != "RUST_LOG=debug" {
		t.Errorf("Env = %v, want [RUST_LOG=debug]", a.Env)
	}
	if len(a.ExtraArgs) != 1 || a.ExtraArgs[0] != "--workspace" {
		t.Errorf("ExtraArgs = %v", a.ExtraArgs)
	}
	if len(loader.Warnings()) != 1 {
		t.Errorf("Warnings() = %v, want one env warning", loader.Warnings())
	}

	defs, warnings := Resolve(cfg.Adapters)
	if len(warnings) != 0 {
		t.Fatalf("Resolve warnings = %v", warnings)
	}
	if defs[0].Include[0] != "**/*.rs" || defs[0].Exclude[0] != "target/**" {
		t.Errorf("patterns not normalized: %v %v", defs[0].Include, defs[0].Exclude)
	}
}

func TestLoader_LegacyDuplicateOfList(t *testing.T) {
	root := isolate(t)
	writeFile(t, filepath.Join(root, ".assert-lsp.yaml"), `
adapters:
  - name: rust
    path: my-adapter
    include: ["**/*.rs"]
adapter_command:
  rust:
    test_kind: cargo-test
    include: ["**/*.rs"]
  web:
    test_kind: karma
    include: ["**/*.spec.js"]
`)

	loader := NewLoader().WithRoot(root)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Adapters) != 2 {
		t.Fatalf("len(Adapters) = %d, want 2", len(cfg.Adapters))
	}
	if cfg.Adapters[0].Path != "my-adapter" {
		t.Errorf("list entry should win, got %q", cfg.Adapters[0].Path)
	}
	if cfg.Adapters[1].Name != "web" {
		t.Errorf("Adapters[1].Name = %q, want web", cfg.Adapters[1].Name)
	}
	if len(loader.Warnings()) != 2 {
		t.Errorf("Warnings() = %v, want duplicate and unknown kind", loader.Warnings())
	}
}

func TestLoader_ExplicitFileMissing(t *testing.T) {
	isolate(t)
	_, err := NewLoader().WithConfigFile(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoader_InvalidFile(t *testing.T) {
	root := isolate(t)
	writeFile(t, filepath.Join(root, ".assert-lsp.yaml"), "log: [unterminated\n")

	if _, err := NewLoader().WithRoot(root).Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoader_GetSetIsSet(t *testing.T) {
	isolate(t)
	loader := NewLoader()
	loader.Set("log.level", "debug")
	if !loader.IsSet("log.level") {
		t.Error("IsSet(log.level) = false")
	}
	if got := loader.Get("log.level"); got != "debug" {
		t.Errorf("Get(log.level) = %v", got)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("explicit Set should win, got %q", cfg.Log.Level)
	}
}

func TestUserConfigPath(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	got, err := UserConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(xdg, "assert-lsp", "config.yaml"); got != want {
		t.Errorf("UserConfigPath() = %q, want %q", got, want)
	}
}

func TestFindConfigFile_None(t *testing.T) {
	root := isolate(t)
	if got := FindConfigFile(root); got != "" {
		t.Errorf("FindConfigFile() = %q, want empty", got)
	}
}

func TestConfigCandidates(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	root := t.TempDir()

	got := ConfigCandidates(root)
	if len(got) != 8 {
		t.Fatalf("len(ConfigCandidates) = %d, want 8", len(got))
	}
	if got[0] != filepath.Join(root, ".assert-lsp.yaml") {
		t.Errorf("first candidate = %q", got[0])
	}
	if got[7] != filepath.Join(xdg, "assert-lsp", "config.json") {
		t.Errorf("last candidate = %q", got[7])
	}
	if n := len(ConfigCandidates("")); n != 4 {
		t.Errorf("without root: %d candidates, want 4", n)
	}
}
