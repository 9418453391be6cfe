package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
)

// Runtime holds the parsed server-wide settings.
type Runtime struct {
	MaxConcurrency int
	DefaultTimeout time.Duration
	GracePeriod    time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// ResolveRuntime parses the duration fields of cfg. Unparsable values fall
// back to the defaults; Validate reports them.
func ResolveRuntime(cfg *Config) Runtime {
	rt := Runtime{
		MaxConcurrency: cfg.Server.MaxConcurrency,
		DefaultTimeout: durationOr(cfg.Server.DefaultTimeout, DefaultTimeout),
		GracePeriod:    durationOr(cfg.Server.GracePeriod, DefaultGracePeriod),
		BackoffBase:    durationOr(cfg.Backoff.Base, DefaultBackoffBase),
		BackoffMax:     durationOr(cfg.Backoff.Max, DefaultBackoffMax),
	}
	if rt.MaxConcurrency <= 0 {
		rt.MaxConcurrency = runtime.NumCPU()
	}
	return rt
}

// Resolve turns adapter entries into definitions. Invalid entries and
// repeated names are skipped; each skip yields a warning.
func Resolve(adapters []AdapterConfig) ([]core.AdapterDefinition, []string) {
	var (
		defs     []core.AdapterDefinition
		warnings []string
	)
	seen := make(map[string]bool, len(adapters))
	for i := range adapters {
		a := adapters[i]
		label := fmt.Sprintf("adapters[%d]", i)
		if a.Name != "" {
			label = fmt.Sprintf("adapter %q", a.Name)
		}

		v := NewValidator()
		v.ValidateAdapter(label, &a)
		if errs := v.Errors(); errs.HasErrors() {
			for _, e := range errs {
				warnings = append(warnings, fmt.Sprintf("%s: %s (got: %v), adapter disabled", e.Field, e.Message, e.Value))
			}
			continue
		}
		if seen[a.Name] {
			warnings = append(warnings, fmt.Sprintf("%s: declared more than once, later entry ignored", label))
			continue
		}
		seen[a.Name] = true
		defs = append(defs, toDefinition(a))
	}
	return defs, warnings
}

// ExecutableWarnings reports adapters whose executable cannot be found
// from root. Such adapters stay enabled; the executable may be installed
// later.
func ExecutableWarnings(root string, defs []core.AdapterDefinition) []string {
	var warnings []string
	for _, def := range defs {
		dir := root
		if def.WorkDir != "" {
			dir = def.WorkDir
			if !filepath.IsAbs(dir) && root != "" {
				dir = filepath.Join(root, dir)
			}
		}
		exe, _ := def.Command(dir)
		if exe == "" || core.Executable(exe, dir) {
			continue
		}
		if strings.ContainsAny(exe, `/\`) {
			warnings = append(warnings, fmt.Sprintf("adapter %q: path %q does not exist", def.Name, exe))
		} else {
			warnings = append(warnings, fmt.Sprintf("adapter %q: %q not found in PATH", def.Name, exe))
		}
	}
	return warnings
}

func toDefinition(a AdapterConfig) core.AdapterDefinition {
	def := core.AdapterDefinition{
		Name:                 a.Name,
		Path:                 strings.TrimSpace(a.Path),
		ExtraArgs:            append([]string(nil), a.ExtraArgs...),
		Include:              normalizePatterns(a.Include),
		Exclude:              normalizePatterns(a.Exclude),
		WorkDir:              a.WorkDir,
		WorkspaceDiagnostics: a.WorkspaceDiagnostics,
		Batch:                a.Batch,
	}
	if len(a.Env) > 0 {
		def.Env = make(map[string]string, len(a.Env))
		for _, kv := range a.Env {
			key, value, _ := strings.Cut(kv, "=")
			def.Env[strings.TrimSpace(key)] = value
		}
	}
	if a.Timeout != "" {
		def.Timeout, _ = time.ParseDuration(a.Timeout)
	}
	return def
}

// NormalizePattern makes a glob relative to the workspace root. A leading
// "/" or "./" anchors at the root, which relative globs already are.
func NormalizePattern(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "./")
	return strings.TrimLeft(p, "/")
}

func normalizePatterns(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		out = append(out, NormalizePattern(p))
	}
	return out
}

func durationOr(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}
