package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/api"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/lsp"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the language server on stdio",
	Long: `Start the language server. Requests are read from stdin and responses
written to stdout; logs go to stderr or log.file.

Examples:
  # What editors run
  assert-lsp serve --stdio

  # Also expose diagnostics and adapter health over HTTP
  assert-lsp serve --status-addr 127.0.0.1:7420`,
	RunE: runServe,
}

var (
	serveStatusAddr string
	serveNoWatch    bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd)
}

// addServeFlags registers the server flags on c. The root command serves
// too, so both carry them.
func addServeFlags(c *cobra.Command) {
	c.Flags().StringVar(&serveStatusAddr, "status-addr", "",
		"serve the HTTP status endpoints on host:port (overrides server.status_addr)")
	c.Flags().BoolVar(&serveNoWatch, "no-watch", false,
		"do not watch the config file and workspace for changes")
	// Editors pass --stdio; it is the only transport.
	c.Flags().Bool("stdio", true, "communicate over stdin/stdout")
}

func runServe(cmd *cobra.Command, _ []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	statusAddr := cfg.Server.StatusAddr
	if serveStatusAddr != "" {
		statusAddr = serveStatusAddr
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := lsp.NewServer(os.Stdin, os.Stdout, lsp.Options{
		Version:   appVersion,
		NewLoader: newLoader,
		Watch:     !serveNoWatch,
		Logger:    logger,
		OnInitialized: func(engine *service.Engine) {
			if statusAddr == "" {
				return
			}
			status := api.NewServer(engine, api.WithLogger(logger))
			go func() {
				if err := status.ListenAndServe(ctx, statusAddr); err != nil {
					logger.Error("status server failed", "addr", statusAddr, "error", err)
				}
			}()
		},
	})

	// A signal unblocks the pending read so Serve can stop the adapters.
	go func() {
		<-ctx.Done()
		_ = os.Stdin.Close()
	}()

	logger.Info("assert-lsp starting", "version", appVersion, "pid", os.Getpid())
	err = srv.Serve(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
