package api

import (
	"net/http"
	"path/filepath"
	"sort"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/diagnostics"
)

// FileDiagnostics is the published state of one file.
type FileDiagnostics struct {
	Path        string              `json:"path"`
	Diagnostics []core.Diagnostic   `json:"diagnostics"`
	Adapters    diagnostics.FileSet `json:"adapters"`
}

// DiagnosticsResponse lists every file holding diagnostics entries.
type DiagnosticsResponse struct {
	Root  string            `json:"root"`
	Files []FileDiagnostics `json:"files"`
	Total int               `json:"total"`
}

func (s *Server) handleListDiagnostics(w http.ResponseWriter, _ *http.Request) {
	state := s.engine.Store().SnapshotWorkspace()

	paths := make([]string, 0, len(state))
	for path := range state {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	resp := DiagnosticsResponse{Root: s.engine.Root(), Files: make([]FileDiagnostics, 0, len(paths))}
	for _, path := range paths {
		merged := state[path].Merged()
		resp.Total += len(merged)
		resp.Files = append(resp.Files, FileDiagnostics{
			Path:        path,
			Diagnostics: merged,
			Adapters:    state[path],
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleFileDiagnostics answers for ?path=, absolute or relative to the
// workspace root. Files no adapter applies to are 404.
func (s *Server) handleFileDiagnostics(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondDomainError(w, core.ErrValidation("MISSING_PATH", "query parameter path is required"))
		return
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.engine.Root(), path)
	}
	path = filepath.Clean(path)

	store := s.engine.Store()
	if !store.Has(path) && len(s.engine.Registry().Match(path)) == 0 {
		respondDomainError(w, core.ErrNoMatchingAdapter(path))
		return
	}

	set := store.Snapshot(path)
	respondJSON(w, http.StatusOK, FileDiagnostics{
		Path:        path,
		Diagnostics: set.Merged(),
		Adapters:    set,
	})
}

// handleWorkspaceDiagnostics schedules a workspace run. Results land in the
// store and reach the editor through publishDiagnostics.
func (s *Server) handleWorkspaceDiagnostics(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.HandleTrigger(r.Context(), core.Workspace()); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}
