package cli

import (
	"context"
	"errors"
	"time"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/logging"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/protocol"
)

// Invoker runs an adapter command. ProcessManager is the production
// implementation.
type Invoker interface {
	Invoke(ctx context.Context, def core.AdapterDefinition, command core.CommandKind, targets, testIDs []string, timeout time.Duration) (*RawOutput, error)
}

// Client speaks the adapter protocol on top of an Invoker.
type Client struct {
	invoker Invoker
	logger  *logging.Logger
}

var _ core.TestRunner = (*Client)(nil)

// NewClient creates a protocol client.
func NewClient(invoker Invoker, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{invoker: invoker, logger: logger}
}

// Discover lists the tests in paths.
func (c *Client) Discover(ctx context.Context, def core.AdapterDefinition, paths []string) (*core.Result, error) {
	return c.call(ctx, def, core.CommandDiscover, paths, nil)
}

// Run executes testIDs and returns their results.
func (c *Client) Run(ctx context.Context, def core.AdapterDefinition, paths, testIDs []string) (*core.Result, error) {
	return c.call(ctx, def, core.CommandRun, paths, testIDs)
}

func (c *Client) call(ctx context.Context, def core.AdapterDefinition, command core.CommandKind, paths, testIDs []string) (*core.Result, error) {
	out, err := c.invoker.Invoke(ctx, def, command, paths, testIDs, 0)
	if err != nil {
		if !errors.Is(err, core.ErrNonZeroExitSentinel) || out == nil {
			return nil, err
		}
		// Some runners exit non-zero whenever a test fails. Their payload
		// is still authoritative if it decodes.
		res, decErr := protocol.DecodeResult(out.Stdout)
		if decErr != nil {
			return nil, err
		}
		logging.FromContext(ctx, c.logger).Debug("cli: accepted payload from non-zero exit",
			"adapter", def.Name,
			"command", string(command),
			"exit_code", out.ExitCode,
		)
		return res, nil
	}
	return protocol.DecodeResult(out.Stdout)
}
