package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/fsutil"
)

// DetectedProject is a test setup found from marker files.
type DetectedProject struct {
	TestKind string
	// Dir is the project directory relative to the detection root; "" is
	// the root itself.
	Dir string
}

// kindPatterns holds the include/exclude globs per test kind.
var kindPatterns = map[string][2][]string{
	"cargo-test":    {{"**/*.rs"}, {"**/target/**"}},
	"cargo-nextest": {{"**/*.rs"}, {"**/target/**"}},
	"jest":          {{"**/*.test.{js,ts,jsx,tsx}", "**/*.spec.{js,ts,jsx,tsx}"}, {"**/node_modules/**"}},
	"vitest":        {{"**/*.test.{js,ts,jsx,tsx}", "**/*.spec.{js,ts,jsx,tsx}"}, {"**/node_modules/**"}},
	"node-test":     {{"**/*.test.{js,mjs}"}, {"**/node_modules/**"}},
	"deno":          {{"**/*_test.ts", "**/*.test.ts"}, nil},
	"go-test":       {{"**/*_test.go"}, {"**/vendor/**"}},
	"phpunit":       {{"**/*Test.php"}, {"**/vendor/**"}},
}

// batchKinds run the whole package at once, so one invocation covers every
// file.
var batchKinds = map[string]bool{
	"cargo-test":    true,
	"cargo-nextest": true,
	"go-test":       true,
}

// skipDirs are never searched for nested projects.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
}

// Detect looks for project markers in root and its direct subdirectories.
func Detect(root string) []DetectedProject {
	projects := detectDir(root, "")

	entries, err := os.ReadDir(root)
	if err != nil {
		return projects
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || skipDirs[name] {
			continue
		}
		projects = append(projects, detectDir(filepath.Join(root, name), name)...)
	}
	return projects
}

func detectDir(dir, rel string) []DetectedProject {
	var out []DetectedProject
	add := func(kind string) {
		out = append(out, DetectedProject{TestKind: kind, Dir: rel})
	}

	if exists(filepath.Join(dir, "Cargo.toml")) {
		add("cargo-test")
	}
	if pkg, ok := readPackageJSON(filepath.Join(dir, "package.json")); ok {
		switch {
		case pkg.has("vitest"):
			add("vitest")
		case pkg.has("jest"):
			add("jest")
		case strings.Contains(pkg.Scripts["test"], "node --test"):
			add("node-test")
		}
	}
	if exists(filepath.Join(dir, "deno.json")) || exists(filepath.Join(dir, "deno.jsonc")) {
		add("deno")
	}
	if exists(filepath.Join(dir, "go.mod")) {
		add("go-test")
	}
	if composer, ok := readPackageJSON(filepath.Join(dir, "composer.json")); ok {
		if composer.has("phpunit/phpunit") || exists(filepath.Join(dir, "phpunit.xml")) ||
			exists(filepath.Join(dir, "phpunit.xml.dist")) {
			add("phpunit")
		}
	}
	return out
}

// AdapterFromDetected builds an adapter entry for p.
func AdapterFromDetected(p DetectedProject) AdapterConfig {
	patterns := kindPatterns[p.TestKind]
	name := p.TestKind
	if p.Dir != "" {
		name = p.TestKind + "-" + filepath.Base(p.Dir)
	}
	return AdapterConfig{
		Name:                 name,
		Path:                 LegacyAdapterPrefix + p.TestKind,
		Include:              prefixPatterns(p.Dir, patterns[0]),
		Exclude:              prefixPatterns(p.Dir, patterns[1]),
		WorkDir:              filepath.ToSlash(p.Dir),
		WorkspaceDiagnostics: true,
		Batch:                batchKinds[p.TestKind],
	}
}

// DetectAdapters runs Detect and converts the results, giving every
// adapter a unique name.
func DetectAdapters(root string) []AdapterConfig {
	var out []AdapterConfig
	used := make(map[string]int)
	for _, p := range Detect(root) {
		a := AdapterFromDetected(p)
		used[a.Name]++
		if n := used[a.Name]; n > 1 {
			a.Name = fmt.Sprintf("%s-%d", a.Name, n)
		}
		out = append(out, a)
	}
	return out
}

func prefixPatterns(dir string, patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if dir != "" {
			p = filepath.ToSlash(dir) + "/" + p
		}
		out = append(out, p)
	}
	return out
}

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Require         map[string]string `json:"require"`
	RequireDev      map[string]string `json:"require-dev"`
	Scripts         map[string]string `json:"scripts"`
}

func (p packageJSON) has(dep string) bool {
	for _, m := range []map[string]string{p.Dependencies, p.DevDependencies, p.Require, p.RequireDev} {
		if _, ok := m[dep]; ok {
			return true
		}
	}
	return false
}

// readPackageJSON reads package.json or composer.json. Both keep their
// dependencies in flat name maps.
func readPackageJSON(path string) (packageJSON, bool) {
	data, err := fsutil.ReadFileScoped(path, fsutil.MaxManifestSize)
	if err != nil {
		return packageJSON{}, false
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return packageJSON{}, true
	}
	return pkg, true
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SortedKinds returns the test kinds init knows how to configure.
func SortedKinds() []string {
	kinds := make([]string, 0, len(kindPatterns))
	for k := range kindPatterns {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
