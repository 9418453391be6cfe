package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// LegacyAdapterPrefix names the executable a legacy test_kind maps to:
// test_kind "cargo-test" runs "assert-adapter-cargo-test".
const LegacyAdapterPrefix = "assert-adapter-"

// KnownTestKinds are the runners shipped as assert-adapter-<kind>.
var KnownTestKinds = []string{
	"cargo-test",
	"cargo-nextest",
	"jest",
	"vitest",
	"go-test",
	"phpunit",
	"node-test",
	"deno",
}

// legacyAdapterConfig is the older map-shaped adapter section:
//
//	enable_workspace_diagnostics = true
//	[adapter_command.rust]
//	test_kind = "cargo-test"
//	include = ["/**/*.rs"]
type legacyAdapterConfig struct {
	TestKind     string            `mapstructure:"test_kind" json:"test_kind"`
	ExtraArg     []string          `mapstructure:"extra_arg" json:"extra_arg"`
	Env          map[string]string `mapstructure:"env" json:"env"`
	Include      []string          `mapstructure:"include" json:"include"`
	Exclude      []string          `mapstructure:"exclude" json:"exclude"`
	WorkspaceDir string            `mapstructure:"workspace_dir" json:"workspace_dir"`
}

// applyLegacyAdapters appends adapters declared under adapter_command to
// cfg.Adapters, skipping names the list form already defines. Map order is
// lost, so legacy adapters are appended in name order.
func applyLegacyAdapters(v *viper.Viper, cfg *Config) ([]string, error) {
	if !v.IsSet("adapter_command") {
		return nil, nil
	}
	var legacy map[string]legacyAdapterConfig
	if err := v.UnmarshalKey("adapter_command", &legacy); err != nil {
		return nil, err
	}

	// viper lowercases map keys; environment names are upper case far
	// more often than not.
	var warnings []string
	for name, lc := range legacy {
		if len(lc.Env) == 0 {
			continue
		}
		upper := make(map[string]string, len(lc.Env))
		for k, val := range lc.Env {
			upper[strings.ToUpper(k)] = val
		}
		lc.Env = upper
		legacy[name] = lc
		warnings = append(warnings, fmt.Sprintf("adapter %q: env map keys are upper-cased, use env: [\"KEY=VALUE\"] to keep their case", name))
	}
	sort.Strings(warnings)

	adapters, more := fromLegacy(cfg.Adapters, legacy, v.GetBool("enable_workspace_diagnostics"))
	cfg.Adapters = adapters
	return append(warnings, more...), nil
}

// fromLegacy appends the legacy entries to adapters in name order, skipping
// names adapters already defines.
func fromLegacy(adapters []AdapterConfig, legacy map[string]legacyAdapterConfig, workspace bool) ([]AdapterConfig, []string) {
	existing := make(map[string]bool, len(adapters))
	for _, a := range adapters {
		existing[a.Name] = true
	}
	names := make([]string, 0, len(legacy))
	for name := range legacy {
		names = append(names, name)
	}
	sort.Strings(names)

	var warnings []string
	for _, name := range names {
		if existing[name] {
			warnings = append(warnings, fmt.Sprintf("adapter %q: adapter_command entry ignored, adapters list defines it", name))
			continue
		}
		lc := legacy[name]
		if !isKnownTestKind(lc.TestKind) {
			warnings = append(warnings, fmt.Sprintf("adapter %q: unknown test_kind %q. Valid values are: %s",
				name, lc.TestKind, strings.Join(KnownTestKinds, ", ")))
		}
		adapters = append(adapters, AdapterConfig{
			Name:                 name,
			Path:                 LegacyAdapterPrefix + lc.TestKind,
			ExtraArgs:            lc.ExtraArg,
			Env:                  envList(lc.Env),
			Include:              lc.Include,
			Exclude:              lc.Exclude,
			WorkDir:              lc.WorkspaceDir,
			WorkspaceDiagnostics: workspace,
		})
	}
	return adapters, warnings
}

func isKnownTestKind(kind string) bool {
	for _, k := range KnownTestKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// envList converts a map to sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
