package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Merge combines the adapters of the config file with the ones the editor
// sent. Entries are matched by name and the side named by precedence wins
// wholesale. File adapters keep their order; request-only adapters follow
// in request order.
func Merge(file, request []AdapterConfig, precedence string) []AdapterConfig {
	byName := make(map[string]AdapterConfig, len(request))
	for _, a := range request {
		byName[a.Name] = a
	}

	out := make([]AdapterConfig, 0, len(file)+len(request))
	seen := make(map[string]bool, len(file))
	for _, a := range file {
		if req, ok := byName[a.Name]; ok && precedence != PrecedenceFile {
			a = req
		}
		out = append(out, a)
		seen[a.Name] = true
	}
	for _, a := range request {
		if seen[a.Name] {
			continue
		}
		out = append(out, a)
		seen[a.Name] = true
	}
	return out
}

// requestOptions is the editor-supplied configuration carried in
// initializationOptions.
type requestOptions struct {
	Adapters                   []AdapterConfig                `json:"adapters"`
	AdapterCommand             map[string]legacyAdapterConfig `json:"adapter_command"`
	EnableWorkspaceDiagnostics bool                           `json:"enable_workspace_diagnostics"`
}

// ParseRequestAdapters decodes the adapters of an initializationOptions
// object. Both the list form and the legacy adapter_command map are
// accepted. Empty or null input yields no adapters.
func ParseRequestAdapters(raw []byte) ([]AdapterConfig, []string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil, nil
	}
	var opts requestOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, nil, fmt.Errorf("decoding initializationOptions: %w", err)
	}
	adapters, warnings := fromLegacy(opts.Adapters, opts.AdapterCommand, opts.EnableWorkspaceDiagnostics)
	return adapters, warnings, nil
}
