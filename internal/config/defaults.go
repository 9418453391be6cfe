package config

import "github.com/spf13/viper"

// Default values shared by the loader and `assert-lsp init`.
const (
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "auto"
	DefaultTimeout          = "2m"
	DefaultGracePeriod      = "3s"
	DefaultBackoffBase      = "1s"
	DefaultBackoffMax       = "5m"
	DefaultConfigPrecedence = PrecedenceRequest
)

// ConfigFileName is the base name searched for in the workspace root.
const ConfigFileName = ".assert-lsp"

// DefaultConfigHeader is written at the top of generated config files.
const DefaultConfigHeader = `# assert-lsp configuration
#
# Each adapter is an executable speaking the assert-lsp adapter protocol:
#   <path> discover --file-paths <file>... [-- <extra_args>]
#   <path> run-tests --file-paths <file>... --test-ids <id>... [-- <extra_args>]
# Adapters are tried in the order listed; every matching adapter runs.
`

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.file", "")

	v.SetDefault("server.max_concurrency", 0)
	v.SetDefault("server.default_timeout", DefaultTimeout)
	v.SetDefault("server.grace_period", DefaultGracePeriod)
	v.SetDefault("server.config_precedence", DefaultConfigPrecedence)
	v.SetDefault("server.status_addr", "")
	v.SetDefault("server.watch", true)

	v.SetDefault("backoff.base", DefaultBackoffBase)
	v.SetDefault("backoff.max", DefaultBackoffMax)
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Server: ServerConfig{
			DefaultTimeout:   DefaultTimeout,
			GracePeriod:      DefaultGracePeriod,
			ConfigPrecedence: DefaultConfigPrecedence,
			Watch:            true,
		},
		Backoff: BackoffConfig{
			Base: DefaultBackoffBase,
			Max:  DefaultBackoffMax,
		},
	}
}
