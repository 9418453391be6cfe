package cli

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sahilm/fuzzy"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/fsutil"
)

// snapshot is an immutable view of the configured adapters.
type snapshot struct {
	root string
	defs []core.AdapterDefinition
}

// Registry answers which adapters apply to a file. Reads never block:
// Replace swaps in a new snapshot and callers holding the previous one keep
// using it.
type Registry struct {
	current atomic.Pointer[snapshot]
}

// NewRegistry creates a registry for the workspace rooted at root.
func NewRegistry(root string, defs []core.AdapterDefinition) *Registry {
	r := &Registry{}
	r.Replace(root, defs)
	return r
}

// Replace installs a new adapter set.
func (r *Registry) Replace(root string, defs []core.AdapterDefinition) {
	cloned := make([]core.AdapterDefinition, len(defs))
	for i, d := range defs {
		cloned[i] = d.Clone()
	}
	if root != "" {
		root = filepath.Clean(root)
	}
	r.current.Store(&snapshot{root: root, defs: cloned})
}

// Root returns the workspace root.
func (r *Registry) Root() string {
	return r.current.Load().root
}

// Definitions returns the adapters in declaration order.
func (r *Registry) Definitions() []core.AdapterDefinition {
	return append([]core.AdapterDefinition(nil), r.current.Load().defs...)
}

// Lookup returns the adapter called name.
func (r *Registry) Lookup(name string) (core.AdapterDefinition, bool) {
	for _, d := range r.current.Load().defs {
		if d.Name == name {
			return d, true
		}
	}
	return core.AdapterDefinition{}, false
}

// Match returns the adapters whose include globs match path and whose
// exclude globs do not, in declaration order.
func (r *Registry) Match(path string) []core.AdapterDefinition {
	snap := r.current.Load()
	rel, ok := fsutil.RelSlash(snap.root, path)
	if !ok {
		return nil
	}
	var out []core.AdapterDefinition
	for _, d := range snap.defs {
		if Matches(d, rel) {
			out = append(out, d)
		}
	}
	return out
}

// Suggest returns configured adapter names resembling name.
func (r *Registry) Suggest(name string) []string {
	snap := r.current.Load()
	names := make([]string, 0, len(snap.defs))
	for _, d := range snap.defs {
		names = append(names, d.Name)
	}
	matches := fuzzy.Find(name, names)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Str)
	}
	return out
}

// WorkspaceFiles walks the workspace and returns the absolute paths of all
// files def applies to, in lexical order.
func (r *Registry) WorkspaceFiles(ctx context.Context, def core.AdapterDefinition) ([]string, error) {
	root := r.Root()
	if root == "" {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, ok := fsutil.RelSlash(root, path)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if path != root && (strings.HasPrefix(d.Name(), ".") || dirExcluded(def, rel)) {
				return fs.SkipDir
			}
			return nil
		}
		if Matches(def, rel) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Matches reports whether the slash-separated relative path rel is covered by
// def's include globs and not by its exclude globs.
func Matches(def core.AdapterDefinition, rel string) bool {
	if !anyMatch(def.Include, rel) {
		return false
	}
	return !anyMatch(def.Exclude, rel)
}

// ValidatePattern reports whether pattern is a well-formed glob.
func ValidatePattern(pattern string) bool {
	return doublestar.ValidatePattern(pattern)
}

func anyMatch(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// dirExcluded reports whether an exclude pattern of the form "prefix/**"
// covers the directory rel entirely.
func dirExcluded(def core.AdapterDefinition, rel string) bool {
	for _, p := range def.Exclude {
		prefix, ok := strings.CutSuffix(p, "/**")
		if !ok {
			continue
		}
		if matched, err := doublestar.Match(prefix, rel); err == nil && matched {
			return true
		}
	}
	return false
}
