package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the server-wide sections. Adapter entries are checked
// separately by ValidateAdapter so a broken adapter does not stop the
// others from loading.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateBackoff(&cfg.Backoff)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.MaxConcurrency < 0 {
		v.addError("server.max_concurrency", cfg.MaxConcurrency, "must be non-negative")
	}
	v.validateDuration("server.default_timeout", cfg.DefaultTimeout, false)
	v.validateDuration("server.grace_period", cfg.GracePeriod, false)

	switch cfg.ConfigPrecedence {
	case PrecedenceRequest, PrecedenceFile:
	default:
		v.addError("server.config_precedence", cfg.ConfigPrecedence, "must be one of: request, file")
	}

	if cfg.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.StatusAddr); err != nil {
			v.addError("server.status_addr", cfg.StatusAddr, "must be host:port")
		}
	}
}

func (v *Validator) validateBackoff(cfg *BackoffConfig) {
	base, okBase := v.validateDuration("backoff.base", cfg.Base, false)
	maxDelay, okMax := v.validateDuration("backoff.max", cfg.Max, false)
	if okBase && okMax && maxDelay < base {
		v.addError("backoff.max", cfg.Max, "must be >= backoff.base")
	}
}

// validateDuration checks a positive duration. Empty is accepted when
// optional is set.
func (v *Validator) validateDuration(field, value string, optional bool) (time.Duration, bool) {
	if value == "" && optional {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return 0, false
	}
	if d <= 0 {
		v.addError(field, value, "must be positive")
		return 0, false
	}
	return d, true
}

// ValidateAdapter checks one adapter entry. prefix names it in messages,
// e.g. "adapters[0]".
func (v *Validator) ValidateAdapter(prefix string, cfg *AdapterConfig) {
	if strings.TrimSpace(cfg.Name) == "" {
		v.addError(prefix+".name", cfg.Name, "name required")
	}
	if strings.TrimSpace(cfg.Path) == "" {
		v.addError(prefix+".path", cfg.Path, "path required")
	}
	if len(cfg.Include) == 0 {
		v.addError(prefix+".include", cfg.Include, "at least one include pattern required")
	}
	for _, p := range cfg.Include {
		if !doublestar.ValidatePattern(NormalizePattern(p)) {
			v.addError(prefix+".include", p, "invalid glob pattern")
		}
	}
	for _, p := range cfg.Exclude {
		if !doublestar.ValidatePattern(NormalizePattern(p)) {
			v.addError(prefix+".exclude", p, "invalid glob pattern")
		}
	}
	for _, kv := range cfg.Env {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			v.addError(prefix+".env", kv, "must be KEY=VALUE")
		}
	}
	v.validateDuration(prefix+".timeout", cfg.Timeout, true)
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
