// Package fsutil holds the workspace path helpers shared by the registry
// and project detection.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxManifestSize bounds reads of project manifests (package.json,
// composer.json).
const MaxManifestSize = 1 << 20

// ReadFileScoped reads at most limit bytes of a file by opening a root at
// the file's directory, so the base name cannot escape it.
func ReadFileScoped(path string, limit int64) ([]byte, error) {
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid file path: %q", path)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	file, err := root.Open(base)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, limit)
	}
	return data, nil
}

// RelSlash converts path to a slash-separated path relative to root.
// Relative input is taken as already relative. Paths outside root report
// false.
func RelSlash(root, path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if !filepath.IsAbs(path) {
		rel := filepath.ToSlash(filepath.Clean(path))
		if escapes(rel) {
			return "", false
		}
		return rel, true
	}
	if root == "" {
		return "", false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if escapes(rel) {
		return "", false
	}
	return rel, true
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, "../")
}
