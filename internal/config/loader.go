package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ASSERT_LSP_LOG_LEVEL.
const EnvPrefix = "ASSERT_LSP"

// configExtensions are tried in order when searching for a config file.
var configExtensions = []string{"yaml", "yml", "toml", "json"}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	root       string
	envPrefix  string
	warnings   []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: EnvPrefix,
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithRoot sets the workspace root searched for a project config file.
func (l *Loader) WithRoot(root string) *Loader {
	l.root = root
	return l
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (ASSERT_LSP_*)
// 3. Project config (.assert-lsp.{yaml,toml,json} in the workspace root)
// 4. User config (~/.config/assert-lsp/config.{yaml,toml,json})
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.warnings = nil
	setDefaults(l.v)

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	path := l.configFile
	if path == "" {
		path = FindConfigFile(l.root)
	}
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if l.configFile == "" && errors.Is(err, os.ErrNotExist) {
				path = ""
			} else {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	warnings, err := applyLegacyAdapters(l.v, &cfg)
	if err != nil {
		return nil, fmt.Errorf("reading legacy adapter_command: %w", err)
	}
	l.warnings = warnings

	return &cfg, nil
}

// Warnings returns non-fatal problems found by the last Load.
func (l *Loader) Warnings() []string {
	return append([]string(nil), l.warnings...)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// FindConfigFile returns the first existing config file: the project file
// in root, then the user file. It returns "" when there is none.
func FindConfigFile(root string) string {
	for _, c := range ConfigCandidates(root) {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// ConfigCandidates lists every path FindConfigFile looks at, in order.
func ConfigCandidates(root string) []string {
	var candidates []string
	if root != "" {
		for _, ext := range configExtensions {
			candidates = append(candidates, filepath.Join(root, ConfigFileName+"."+ext))
		}
	}
	if dir, err := UserConfigDir(); err == nil {
		for _, ext := range configExtensions {
			candidates = append(candidates, filepath.Join(dir, "config."+ext))
		}
	}
	return candidates
}

// ProjectConfigPath returns where `init` writes the project config.
func ProjectConfigPath(root string) string {
	return filepath.Join(root, ConfigFileName+".yaml")
}
