package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/logging"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/protocol"
)

func evalSymlinks(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return resolved
}

func newTestManager(root string) *ProcessManager {
	return NewProcessManager(ProcessOptions{
		Root:           func() string { return root },
		DefaultTimeout: 20 * time.Second,
		GracePeriod:    200 * time.Millisecond,
	})
}

func TestProcessManager_Args(t *testing.T) {
	t.Parallel()
	def := fakeDef(t, "fake", "args")
	def.ExtraArgs = []string{"--release"}

	out, err := newTestManager(t.TempDir()).Invoke(t.Context(), def, core.CommandRun,
		[]string{"/w/a.rs"}, []string{"t1", "t2"}, 0)
	require.NoError(t, err)

	root, err := protocol.Decode(out.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "run-tests --file-paths /w/a.rs --test-ids t1 t2 -- --release", root.Name)
}

func TestProcessManager_MultiWordPath(t *testing.T) {
	t.Parallel()
	def := fakeDef(t, "fake", "args")
	def.Path += " adapter-sub"

	out, err := newTestManager("").Invoke(t.Context(), def, core.CommandDiscover, []string{"x"}, nil, 0)
	require.NoError(t, err)

	root, err := protocol.Decode(out.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "adapter-sub discover --file-paths x", root.Name)
}

func TestProcessManager_PathWithSpaces(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}
	t.Parallel()
	def := fakeDef(t, "fake", "args")
	dir := filepath.Join(t.TempDir(), "My Tools")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	link := filepath.Join(dir, "adapter")
	require.NoError(t, os.Symlink(def.Path, link))
	def.Path = link

	out, err := newTestManager("").Invoke(t.Context(), def, core.CommandDiscover, []string{"x"}, nil, 0)
	require.NoError(t, err)

	root, err := protocol.Decode(out.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "discover --file-paths x", root.Name)
}

func TestProcessManager_EnvOverride(t *testing.T) {
	t.Setenv("FAKE_ENV_VALUE", "inherited")
	def := fakeDef(t, "envcheck", "env")
	def.Env["FAKE_ENV_VALUE"] = "override"

	out, err := newTestManager("").Invoke(t.Context(), def, core.CommandDiscover, nil, nil, 0)
	require.NoError(t, err)

	root, err := protocol.Decode(out.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "override|true|envcheck|1", root.Message)
}

func TestProcessManager_EnvInherited(t *testing.T) {
	t.Setenv("FAKE_ENV_VALUE", "inherited")
	def := fakeDef(t, "envcheck", "env")

	out, err := newTestManager("").Invoke(t.Context(), def, core.CommandDiscover, nil, nil, 0)
	require.NoError(t, err)

	root, err := protocol.Decode(out.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "inherited|true|envcheck|1", root.Message)
}

func TestProcessManager_WorkDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	sub := filepath.Join(root, "crates", "core")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	tests := []struct {
		name    string
		workDir string
		want    string
	}{
		{"defaults to root", "", root},
		{"relative to root", "crates/core", sub},
		{"absolute", sub, sub},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := fakeDef(t, "pwd", "pwd")
			def.WorkDir = tt.workDir

			out, err := newTestManager(root).Invoke(t.Context(), def, core.CommandDiscover, nil, nil, 0)
			require.NoError(t, err)
			node, err := protocol.Decode(out.Stdout)
			require.NoError(t, err)
			assert.Equal(t, evalSymlinks(t, tt.want), evalSymlinks(t, node.Name))
		})
	}
}

func TestProcessManager_StderrSeparated(t *testing.T) {
	t.Parallel()
	out, err := newTestManager("").Invoke(t.Context(), fakeDef(t, "noisy", "stderr"), core.CommandDiscover, nil, nil, 0)
	require.NoError(t, err)

	root, err := protocol.Decode(out.Stdout)
	require.NoError(t, err, "stderr must not leak into stdout")
	assert.Equal(t, "quiet", root.Name)
	assert.Contains(t, string(out.Stderr), "warming up")
	assert.Contains(t, string(out.Stderr), "no trailing newline")
}

func TestProcessManager_NonZeroExitKeepsOutput(t *testing.T) {
	t.Parallel()
	out, err := newTestManager("").Invoke(t.Context(), fakeDef(t, "x", "exit-garbage"), core.CommandRun, nil, nil, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNonZeroExitSentinel))
	require.NotNil(t, out)
	assert.Equal(t, 2, out.ExitCode)
	assert.Contains(t, string(out.Stdout), "panicked")
}

func TestProcessManager_SpawnFailure(t *testing.T) {
	t.Parallel()
	def := core.AdapterDefinition{Name: "ghost", Path: filepath.Join(t.TempDir(), "does-not-exist")}

	out, err := newTestManager("").Invoke(t.Context(), def, core.CommandDiscover, nil, nil, 0)
	assert.Nil(t, out)
	assert.Equal(t, core.FailureSpawn, core.Classify(err))

	_, err = newTestManager("").Invoke(t.Context(), core.AdapterDefinition{Name: "blank"}, core.CommandDiscover, nil, nil, 0)
	assert.Equal(t, core.FailureSpawn, core.Classify(err))
}

func TestProcessManager_Timeout(t *testing.T) {
	t.Parallel()
	start := time.Now()
	_, err := newTestManager("").Invoke(t.Context(), fakeDef(t, "slow", "sleep"), core.CommandRun, nil, nil, 300*time.Millisecond)

	require.Error(t, err)
	assert.Equal(t, core.FailureTimeout, core.Classify(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestProcessManager_TimeoutEscalatesToKill(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("SIGTERM cannot be ignored on Windows")
	}
	t.Parallel()
	start := time.Now()
	_, err := newTestManager("").Invoke(t.Context(), fakeDef(t, "stubborn", "ignore-term"), core.CommandRun, nil, nil, 300*time.Millisecond)

	require.Error(t, err)
	assert.Equal(t, core.FailureTimeout, core.Classify(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestProcessManager_DefinitionTimeout(t *testing.T) {
	t.Parallel()
	def := fakeDef(t, "slow", "sleep")
	def.Timeout = 300 * time.Millisecond

	_, err := newTestManager("").Invoke(t.Context(), def, core.CommandRun, nil, nil, 0)
	assert.Equal(t, core.FailureTimeout, core.Classify(err))
}

func TestProcessManager_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := newTestManager("").Invoke(ctx, fakeDef(t, "slow", "sleep"), core.CommandRun, nil, nil, time.Minute)
	require.Error(t, err)
	assert.Equal(t, core.FailureCancelled, core.Classify(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestMergeEnv(t *testing.T) {
	t.Parallel()
	got := mergeEnv(
		[]string{"A=1", "B=2", "A=3", "broken", "=x"},
		map[string]string{"B": "override", "C": "new"},
		map[string]string{"C": "last"},
	)
	assert.Equal(t, []string{"A=3", "B=override", "C=last"}, got)
}

func TestStderrWriter_Bounded(t *testing.T) {
	t.Parallel()
	w := newStderrWriter(logging.NewNop(), 8)
	n, err := w.Write([]byte("0123456789\nabc"))
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	w.Flush()
	assert.Equal(t, "01234567", string(w.Bytes()))
	assert.Empty(t, w.partial)
}

func TestStderrWriter_LongLineWithoutNewline(t *testing.T) {
	t.Parallel()
	w := newStderrWriter(logging.NewNop(), 8)
	for i := 0; i < 100; i++ {
		_, err := w.Write([]byte("abcdef"))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(w.partial), 8)
	}
	assert.Equal(t, "abcdefab", string(w.Bytes()))
}
