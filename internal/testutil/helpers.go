// Package testutil sets up throwaway workspaces for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ConfigFile is the project config name Workspace writes.
const ConfigFile = ".assert-lsp.yaml"

// Workspace creates an empty workspace root and writes cfg as its project
// config when cfg is non-empty. XDG_CONFIG_HOME points at a fresh directory
// so a user-level config never leaks into the test.
func Workspace(t *testing.T, cfg string) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := t.TempDir()
	if cfg != "" {
		WriteFile(t, root, ConfigFile, cfg)
	}
	return root
}

// WriteFile writes content to the slash-separated rel below root, creating
// parent directories, and returns the absolute path.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating parent of %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
	return path
}
