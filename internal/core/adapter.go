package core

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// AdapterDefinition is a fully resolved adapter configuration.
// Definitions are created by the config package and never mutated after
// they are handed to the registry.
type AdapterDefinition struct {
	Name      string
	Path      string
	ExtraArgs []string
	Env       map[string]string
	Include   []string
	Exclude   []string
	// WorkDir overrides the directory the adapter runs in. Relative values
	// are resolved against the workspace root.
	WorkDir string
	// Timeout bounds a single invocation. Zero means the server default.
	Timeout time.Duration
	// WorkspaceDiagnostics opts the adapter into workspace-scoped triggers.
	WorkspaceDiagnostics bool
	// Batch adapters accept the whole file set in one invocation.
	Batch bool
}

// Command resolves Path into the executable and any leading arguments.
// A Path naming an existing file or a program on PATH is used whole, so
// directories with spaces work. Anything else is split on whitespace, so
// multi-word commands such as "npx vitest-adapter" work. Relative paths are
// checked against dir, the directory the adapter runs in.
func (d AdapterDefinition) Command(dir string) (string, []string) {
	path := strings.TrimSpace(d.Path)
	if path == "" {
		return "", nil
	}
	if strings.ContainsAny(path, " \t") && Executable(path, dir) {
		return path, nil
	}
	parts := strings.Fields(path)
	return parts[0], parts[1:]
}

// Executable reports whether path names a file, or a program on PATH when
// it has no directory part.
func Executable(path, dir string) bool {
	if !strings.ContainsAny(path, `/\`) {
		_, err := exec.LookPath(path)
		return err == nil
	}
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Clone returns a deep copy.
func (d AdapterDefinition) Clone() AdapterDefinition {
	out := d
	out.ExtraArgs = append([]string(nil), d.ExtraArgs...)
	out.Include = append([]string(nil), d.Include...)
	out.Exclude = append([]string(nil), d.Exclude...)
	if d.Env != nil {
		out.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			out.Env[k] = v
		}
	}
	return out
}
