package config

// Config holds all application configuration.
type Config struct {
	Log      LogConfig       `mapstructure:"log" yaml:"log,omitempty"`
	Server   ServerConfig    `mapstructure:"server" yaml:"server,omitempty"`
	Backoff  BackoffConfig   `mapstructure:"backoff" yaml:"backoff,omitempty"`
	Adapters []AdapterConfig `mapstructure:"adapters" yaml:"adapters"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level,omitempty"`
	Format string `mapstructure:"format" yaml:"format,omitempty"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// ServerConfig configures dispatch and the outer surfaces.
type ServerConfig struct {
	// MaxConcurrency caps concurrently running adapter processes.
	// Zero means the number of CPUs.
	MaxConcurrency int    `mapstructure:"max_concurrency" yaml:"max_concurrency,omitempty"`
	DefaultTimeout string `mapstructure:"default_timeout" yaml:"default_timeout,omitempty"`
	GracePeriod    string `mapstructure:"grace_period" yaml:"grace_period,omitempty"`
	// ConfigPrecedence decides which side wins when the config file and the
	// editor both define an adapter: "request" or "file".
	ConfigPrecedence string `mapstructure:"config_precedence" yaml:"config_precedence,omitempty"`
	StatusAddr       string `mapstructure:"status_addr" yaml:"status_addr,omitempty"`
	Watch            bool   `mapstructure:"watch" yaml:"watch,omitempty"`
}

// BackoffConfig configures suppression of adapters that fail to start.
type BackoffConfig struct {
	Base string `mapstructure:"base" yaml:"base,omitempty"`
	Max  string `mapstructure:"max" yaml:"max,omitempty"`
}

// AdapterConfig configures a single test adapter.
type AdapterConfig struct {
	Name      string   `mapstructure:"name" yaml:"name" json:"name"`
	Path      string   `mapstructure:"path" yaml:"path" json:"path"`
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args,omitempty" json:"extra_args,omitempty"`
	// Env holds KEY=VALUE overrides layered over the server environment.
	Env                  []string `mapstructure:"env" yaml:"env,omitempty" json:"env,omitempty"`
	Include              []string `mapstructure:"include" yaml:"include" json:"include"`
	Exclude              []string `mapstructure:"exclude" yaml:"exclude,omitempty" json:"exclude,omitempty"`
	WorkDir              string   `mapstructure:"work_dir" yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
	Timeout              string   `mapstructure:"timeout" yaml:"timeout,omitempty" json:"timeout,omitempty"`
	WorkspaceDiagnostics bool     `mapstructure:"workspace_diagnostics" yaml:"workspace_diagnostics,omitempty" json:"workspace_diagnostics,omitempty"`
	Batch                bool     `mapstructure:"batch" yaml:"batch,omitempty" json:"batch,omitempty"`
}

// Precedence values for ServerConfig.ConfigPrecedence.
const (
	PrecedenceRequest = "request"
	PrecedenceFile    = "file"
)
