package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/logging"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/protocol"
)

// Environment markers set on every adapter process.
const (
	EnvManaged = "ASSERT_LSP_MANAGED"
	EnvAdapter = "ASSERT_LSP_ADAPTER"
)

const (
	defaultTimeout     = 2 * time.Minute
	defaultGracePeriod = 3 * time.Second
	maxStderrCapture   = 64 * 1024
)

// RawOutput is what an adapter process produced.
type RawOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ProcessOptions configures a ProcessManager.
type ProcessOptions struct {
	// Root returns the workspace root used to resolve working directories.
	Root func() string
	// DefaultTimeout applies when neither the call nor the definition sets one.
	DefaultTimeout time.Duration
	// GracePeriod is the time between SIGTERM and SIGKILL.
	GracePeriod time.Duration
	Logger      *logging.Logger
}

// ProcessManager launches adapter processes. It holds no per-invocation
// state and is safe for concurrent use.
type ProcessManager struct {
	root           func() string
	defaultTimeout time.Duration
	grace          time.Duration
	logger         *logging.Logger
}

// NewProcessManager creates a process manager.
func NewProcessManager(opts ProcessOptions) *ProcessManager {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	if opts.Root == nil {
		opts.Root = func() string { return "" }
	}
	return &ProcessManager{
		root:           opts.Root,
		defaultTimeout: opts.DefaultTimeout,
		grace:          opts.GracePeriod,
		logger:         opts.Logger,
	}
}

// Invoke runs one adapter command and waits for it to exit.
//
// A non-zero exit returns both the output and a NonZeroExit error so the
// caller can decide whether stdout is still usable. Timeouts and
// cancellation terminate the whole process tree.
func (m *ProcessManager) Invoke(ctx context.Context, def core.AdapterDefinition, command core.CommandKind, targets, testIDs []string, timeout time.Duration) (*RawOutput, error) {
	if timeout <= 0 {
		timeout = def.Timeout
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	dir := m.workDir(def)
	exe, lead := def.Command(dir)
	if exe == "" {
		return nil, core.ErrSpawnFailure(def.Name, errors.New("adapter path not configured"))
	}
	args := append(lead, protocol.EncodeArgs(command, targets, testIDs, def.ExtraArgs)...)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := logging.FromContext(ctx, m.logger).WithAdapter(def.Name)

	// #nosec G204 -- executable and args come from validated adapter config
	cmd := exec.CommandContext(runCtx, exe, args...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), def.Env, map[string]string{
		EnvManaged: "true",
		EnvAdapter: def.Name,
	})
	configureProcAttr(cmd)

	var stdout bytes.Buffer
	stderr := newStderrWriter(logger, maxStderrCapture)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	term := &treeTerminator{}
	cmd.Cancel = func() error {
		return term.terminate(cmd.Process)
	}
	cmd.WaitDelay = m.grace

	logger.Debug("cli: executing adapter",
		"command", string(command),
		"path", exe,
		"args", args,
		"work_dir", cmd.Dir,
		"targets", len(targets),
		"timeout", timeout,
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Warn("cli: adapter could not be started", "path", exe, "error", err)
		return nil, core.ErrSpawnFailure(def.Name, fmt.Errorf("starting %s: %w", exe, err))
	}
	logger.Debug("cli: process started", "pid", cmd.Process.Pid)

	waitErr := cmd.Wait()
	stderr.Flush()
	if term.fired() {
		term.kill(cmd.Process)
	}

	out := &RawOutput{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	switch {
	case ctx.Err() != nil:
		logger.Debug("cli: invocation cancelled", "duration", out.Duration)
		return out, core.ErrCancelled(def.Name).WithCause(ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		logger.Warn("cli: adapter timed out",
			"duration", out.Duration,
			"timeout", timeout,
			"stderr_length", len(out.Stderr),
		)
		return out, core.ErrTimeout(def.Name, timeout)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			logger.Debug("cli: adapter exited non-zero",
				"exit_code", out.ExitCode,
				"duration", out.Duration,
				"stdout_length", len(out.Stdout),
			)
			return out, core.ErrNonZeroExit(def.Name, out.ExitCode).WithCause(waitErr)
		}
		if errors.Is(waitErr, exec.ErrWaitDelay) {
			// Exited cleanly; a descendant kept the pipes open.
			logger.Debug("cli: adapter left output pipes open", "duration", out.Duration)
		} else {
			return out, fmt.Errorf("waiting for %s: %w", def.Name, waitErr)
		}
	}

	logger.Debug("cli: adapter completed",
		"command", string(command),
		"duration", out.Duration,
		"stdout_length", len(out.Stdout),
	)
	return out, nil
}

func (m *ProcessManager) workDir(def core.AdapterDefinition) string {
	root := m.root()
	if def.WorkDir == "" {
		return root
	}
	if filepath.IsAbs(def.WorkDir) || root == "" {
		return def.WorkDir
	}
	return filepath.Join(root, def.WorkDir)
}

// mergeEnv overlays layers onto base. Later layers win and every key
// appears exactly once, in first-seen order.
func mergeEnv(base []string, layers ...map[string]string) []string {
	values := make(map[string]string, len(base))
	order := make([]string, 0, len(base))
	set := func(k, v string) {
		if _, ok := values[k]; !ok {
			order = append(order, k)
		}
		values[k] = v
	}
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		set(k, v)
	}
	for _, layer := range layers {
		keys := make([]string, 0, len(layer))
		for k := range layer {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			set(k, layer[k])
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+values[k])
	}
	return out
}

// treeTerminator stops an adapter and everything it spawned.
type treeTerminator struct {
	mu      sync.Mutex
	started bool
	victims []*process.Process
}

// terminate sends the polite signal to the process group and to every
// descendant known at this point.
func (t *treeTerminator) terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	victims := descendants(p.Pid)

	t.mu.Lock()
	t.started = true
	t.victims = victims
	t.mu.Unlock()

	for _, v := range victims {
		_ = v.Terminate()
	}
	return signalGroup(p, false)
}

func (t *treeTerminator) fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// kill force-stops whatever survived the grace period.
func (t *treeTerminator) kill(p *os.Process) {
	t.mu.Lock()
	victims := t.victims
	t.mu.Unlock()

	_ = signalGroup(p, true)
	for _, v := range victims {
		if running, err := v.IsRunning(); err == nil && running {
			_ = v.Kill()
		}
	}
}

// descendants lists the process tree below pid. It is best effort: an
// empty result is returned when the platform does not expose children.
func descendants(pid int) []*process.Process {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var out []*process.Process
	queue := []*process.Process{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := cur.Children()
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}

// stderrWriter logs adapter stderr line by line and keeps a bounded copy.
type stderrWriter struct {
	mu      sync.Mutex
	logger  *logging.Logger
	limit   int
	partial []byte
	buf     bytes.Buffer
}

func newStderrWriter(logger *logging.Logger, limit int) *stderrWriter {
	return &stderrWriter{logger: logger, limit: limit}
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if room := w.limit - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}

	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx < 0 {
			break
		}
		w.emit(w.partial[:idx])
		w.partial = w.partial[idx+1:]
	}
	// A line longer than limit is logged in limit-sized pieces.
	for w.limit > 0 && len(w.partial) > w.limit {
		w.emit(w.partial[:w.limit])
		w.partial = append(w.partial[:0], w.partial[w.limit:]...)
	}
	return len(p), nil
}

// Flush logs a trailing line without newline.
func (w *stderrWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = nil
	}
}

func (w *stderrWriter) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	w.logger.Debug("cli: adapter stderr", "line", text)
}

// Bytes returns the captured stderr.
func (w *stderrWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}
