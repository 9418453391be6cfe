package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/service"
)

// AdapterResponse describes one configured adapter. Environment values are
// never exposed, only their keys.
type AdapterResponse struct {
	Name                 string                  `json:"name"`
	Path                 string                  `json:"path"`
	ExtraArgs            []string                `json:"extra_args,omitempty"`
	EnvKeys              []string                `json:"env_keys,omitempty"`
	Include              []string                `json:"include"`
	Exclude              []string                `json:"exclude,omitempty"`
	WorkDir              string                  `json:"work_dir,omitempty"`
	Timeout              string                  `json:"timeout,omitempty"`
	WorkspaceDiagnostics bool                    `json:"workspace_diagnostics"`
	Batch                bool                    `json:"batch"`
	Health               service.Health          `json:"health"`
	Metrics              *service.AdapterMetrics `json:"metrics,omitempty"`
}

// AdaptersResponse is the adapter listing.
type AdaptersResponse struct {
	Adapters []AdapterResponse `json:"adapters"`
	Summary  service.Summary   `json:"summary"`
	Warnings []string          `json:"warnings,omitempty"`
}

func (s *Server) handleListAdapters(w http.ResponseWriter, _ *http.Request) {
	defs := s.engine.Registry().Definitions()
	resp := AdaptersResponse{
		Adapters: make([]AdapterResponse, 0, len(defs)),
		Summary:  s.engine.Coordinator().Metrics().GetSummary(),
		Warnings: s.engine.Warnings(),
	}
	for _, def := range defs {
		resp.Adapters = append(resp.Adapters, s.adapterResponse(def))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAdapter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	def, ok := s.engine.Registry().Lookup(name)
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":       core.ErrNotFound("adapter", name).Error(),
			"suggestions": s.engine.Registry().Suggest(name),
		})
		return
	}
	respondJSON(w, http.StatusOK, s.adapterResponse(def))
}

func (s *Server) adapterResponse(def core.AdapterDefinition) AdapterResponse {
	coord := s.engine.Coordinator()
	out := AdapterResponse{
		Name:                 def.Name,
		Path:                 def.Path,
		ExtraArgs:            def.ExtraArgs,
		Include:              def.Include,
		Exclude:              def.Exclude,
		WorkDir:              def.WorkDir,
		WorkspaceDiagnostics: def.WorkspaceDiagnostics,
		Batch:                def.Batch,
		Health:               coord.Status().Get(def.Name),
	}
	if def.Timeout > 0 {
		out.Timeout = def.Timeout.String()
	}
	for k := range def.Env {
		out.EnvKeys = append(out.EnvKeys, k)
	}
	sort.Strings(out.EnvKeys)
	if m, ok := coord.Metrics().GetAdapterMetrics(def.Name); ok {
		out.Metrics = m
	}
	return out
}
