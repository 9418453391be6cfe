package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/config"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	rootDir   string
	noColor   bool

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

// ErrCheckFailed is returned by check when diagnostics or adapter failures
// were reported. The output already explains why.
var ErrCheckFailed = errors.New("check failed")

var rootCmd = &cobra.Command{
	Use:   "assert-lsp",
	Short: "Language server that reports failing tests as diagnostics",
	Long: `assert-lsp runs external test adapters when files change and turns
failing tests into editor diagnostics.

Running 'assert-lsp' without arguments starts the language server on stdio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion injects build information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .assert-lsp.yaml in the workspace, then ~/.config/assert-lsp/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "",
		"workspace root (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")

	addServeFlags(rootCmd)
}

// newLoader returns a loader honoring --config and the logging flags. The
// engine calls it again on every reload.
func newLoader() *config.Loader {
	v := viper.New()
	if f := rootCmd.PersistentFlags().Lookup("log-level"); f != nil && f.Changed {
		_ = v.BindPFlag("log.level", f)
	}
	if f := rootCmd.PersistentFlags().Lookup("log-format"); f != nil && f.Changed {
		_ = v.BindPFlag("log.format", f)
	}
	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	return loader
}

// workspaceRoot returns the absolute --root, or the working directory.
func workspaceRoot() (string, error) {
	if rootDir != "" {
		return filepath.Abs(rootDir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return cwd, nil
}

// loadConfig reads the configuration for root.
func loadConfig(root string) (*config.Config, error) {
	cfg, err := newLoader().WithRoot(root).Load()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from cfg. Logs never go to stdout:
// in server mode it carries the LSP stream.
func newLogger(cfg *config.Config) (*logging.Logger, func(), error) {
	var out io.Writer = os.Stderr
	closer := func() {}
	if cfg.Log.File != "" {
		f, err := logging.OpenFile(cfg.Log.File)
		if err != nil {
			return nil, nil, err
		}
		out = f
		closer = func() { _ = f.Close() }
	}
	format := cfg.Log.Format
	if noColor && (format == "" || format == "auto") {
		format = "text"
	}
	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: format,
		Output: out,
	})
	return logger, closer, nil
}

// commandContext returns the command's context, which is nil when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
