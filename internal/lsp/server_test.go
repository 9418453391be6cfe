package lsp

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/events"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/service"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/testutil"
)

type stubRunner struct {
	mu  sync.Mutex
	run func(paths []string) (*core.Result, error)
}

func (r *stubRunner) Discover(_ context.Context, def core.AdapterDefinition, paths []string) (*core.Result, error) {
	root := &core.TestNode{Kind: core.NodeNamespace, Name: def.Name}
	for _, p := range paths {
		root.Children = append(root.Children, &core.TestNode{Kind: core.NodeTest, ID: "it_works", Name: "it_works", Path: p})
	}
	return &core.Result{Root: root}, nil
}

func (r *stubRunner) Run(_ context.Context, _ core.AdapterDefinition, paths, _ []string) (*core.Result, error) {
	r.mu.Lock()
	run := r.run
	r.mu.Unlock()
	if run != nil {
		return run(paths)
	}
	return &core.Result{Root: &core.TestNode{Kind: core.NodeNamespace, Name: "ok"}}, nil
}

func (r *stubRunner) setRun(fn func(paths []string) (*core.Result, error)) {
	r.mu.Lock()
	r.run = fn
	r.mu.Unlock()
}

func failingResult(path string) *core.Result {
	return &core.Result{Root: &core.TestNode{
		Kind: core.NodeNamespace, Name: "suite", Path: path,
		Children: []*core.TestNode{{
			Kind: core.NodeTest, ID: "it_works", Name: "it_works", Path: path,
			Status: core.StatusFailed, Message: "expected 1, got 2",
			Range: &core.Range{Start: core.Position{Line: 4}, End: core.Position{Line: 4, Character: 10}},
		}},
	}}
}

func failFirst(paths []string) (*core.Result, error) {
	if len(paths) == 0 {
		return &core.Result{Root: &core.TestNode{Kind: core.NodeNamespace, Name: "empty"}}, nil
	}
	return failingResult(paths[0]), nil
}

type client struct {
	t      *testing.T
	conn   *Conn
	in     io.Closer
	msgs   chan *Message
	seen   []*Message
	nextID int
	done   chan struct{}
	err    error
	engine chan *service.Engine
}

const lspConfig = `
adapters:
  - name: unit
    path: assert-unit
    include: ["src/**/*.rs"]
`

func startServer(t *testing.T, runner core.TestRunner) *client {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	c := &client{
		t:      t,
		conn:   NewConn(outR, inW),
		in:     inW,
		msgs:   make(chan *Message, 256),
		done:   make(chan struct{}),
		engine: make(chan *service.Engine, 1),
	}
	srv := NewServer(inR, outW, Options{
		Version:       "test",
		Runner:        runner,
		OnInitialized: func(e *service.Engine) { c.engine <- e },
	})
	go func() {
		c.err = srv.Serve(context.Background())
		_ = outW.Close()
		close(c.done)
	}()
	go func() {
		defer close(c.msgs)
		for {
			m, err := c.conn.Read()
			if err != nil {
				return
			}
			c.msgs <- m
		}
	}()
	t.Cleanup(func() {
		_ = inW.Close()
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return c
}

func (c *client) call(method string, params interface{}) *Message {
	c.t.Helper()
	c.nextID++
	id := strconv.Itoa(c.nextID)
	require.NoError(c.t, c.conn.Call(int64(c.nextID), method, params))
	return c.await(func(m *Message) bool { return m.IsResponse() && string(m.ID) == id })
}

func (c *client) notify(method string, params interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.Notify(method, params))
}

func (c *client) await(match func(*Message) bool) *Message {
	c.t.Helper()
	for i, m := range c.seen {
		if match(m) {
			c.seen = append(c.seen[:i], c.seen[i+1:]...)
			return m
		}
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m, ok := <-c.msgs:
			if !ok {
				c.t.Fatal("server closed the stream")
			}
			if match(m) {
				return m
			}
			c.seen = append(c.seen, m)
		case <-deadline:
			c.t.Fatal("timed out waiting for message")
			return nil
		}
	}
}

func (c *client) awaitNotification(method string, match func(json.RawMessage) bool) json.RawMessage {
	c.t.Helper()
	m := c.await(func(m *Message) bool {
		return m.IsNotification() && m.Method == method && (match == nil || match(m.Params))
	})
	return m.Params
}

func (c *client) initialize(root string, options interface{}) *Message {
	c.t.Helper()
	params := map[string]interface{}{
		"processId": nil,
		"rootUri":   PathToURI(root),
	}
	if options != nil {
		params["initializationOptions"] = options
	}
	return c.call("initialize", params)
}

func TestServer_Lifecycle(t *testing.T) {
	root := testutil.Workspace(t, lspConfig)
	c := startServer(t, &stubRunner{})

	resp := c.initialize(root, nil)
	require.Nil(t, resp.Error)
	var result InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.True(t, result.Capabilities.DiagnosticProvider.WorkspaceDiagnostics)
	assert.True(t, result.Capabilities.TextDocumentSync.OpenClose)
	assert.Equal(t, ServerName, result.ServerInfo.Name)
	assert.Equal(t, "test", result.ServerInfo.Version)

	engine := <-c.engine
	assert.Equal(t, "unit", engine.Registry().Definitions()[0].Name)

	again := c.initialize(root, nil)
	require.NotNil(t, again.Error)
	assert.Equal(t, CodeInvalidRequest, again.Error.Code)

	resp = c.call("shutdown", nil)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "null", string(resp.Result))

	resp = c.call("$/runWorkspaceTest", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)

	c.notify("exit", nil)
	<-c.done
	assert.NoError(t, c.err)
}

func TestServer_ExitWithoutShutdown(t *testing.T) {
	root := testutil.Workspace(t, lspConfig)
	c := startServer(t, &stubRunner{})
	c.initialize(root, nil)

	c.notify("exit", nil)
	<-c.done
	assert.ErrorIs(t, c.err, ErrExitWithoutShutdown)
}

func TestServer_RequestsBeforeInitialize(t *testing.T) {
	c := startServer(t, &stubRunner{})
	resp := c.call("shutdown", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeServerNotInitialized, resp.Error.Code)
}

func TestServer_UnknownMethod(t *testing.T) {
	root := testutil.Workspace(t, lspConfig)
	c := startServer(t, &stubRunner{})
	c.initialize(root, nil)

	resp := c.call("textDocument/hover", map[string]string{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestServer_DidSavePublishesDiagnostics(t *testing.T) {
	root := testutil.Workspace(t, lspConfig)
	runner := &stubRunner{}
	runner.setRun(failFirst)
	c := startServer(t, runner)
	c.initialize(root, nil)
	c.notify("initialized", struct{}{})

	file := filepath.Join(root, "src", "lib.rs")
	uri := PathToURI(file)
	c.notify("textDocument/didSave", TextDocumentParams{TextDocument: TextDocumentIdentifier{URI: uri}})

	var params PublishDiagnosticsParams
	c.awaitNotification("textDocument/publishDiagnostics", func(raw json.RawMessage) bool {
		return json.Unmarshal(raw, &params) == nil && params.URI == uri && len(params.Diagnostics) > 0
	})
	require.Len(t, params.Diagnostics, 1)
	d := params.Diagnostics[0]
	assert.Equal(t, int(core.SeverityError), d.Severity)
	assert.Equal(t, "it_works", d.Code)
	assert.Equal(t, "unit", d.Source)
	assert.Equal(t, 4, d.Range.Start.Line)
	assert.Contains(t, d.Message, "expected 1, got 2")

	c.notify("workspace/didChangeWatchedFiles", DidChangeWatchedFilesParams{
		Changes: []FileEvent{{URI: uri, Type: FileDeleted}},
	})
	raw := c.awaitNotification("textDocument/publishDiagnostics", func(raw json.RawMessage) bool {
		var p PublishDiagnosticsParams
		return json.Unmarshal(raw, &p) == nil && p.URI == uri && len(p.Diagnostics) == 0
	})
	assert.JSONEq(t, `{"uri":"`+uri+`","diagnostics":[]}`, string(raw))
}

func TestServer_PullDiagnosticsRequest(t *testing.T) {
	root := testutil.Workspace(t, lspConfig)
	runner := &stubRunner{}
	runner.setRun(failFirst)
	c := startServer(t, runner)
	c.initialize(root, nil)

	uri := PathToURI(filepath.Join(root, "src", "lib.rs"))
	resp := c.call("textDocument/diagnostic", TextDocumentParams{TextDocument: TextDocumentIdentifier{URI: uri}})
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"kind":"full","items":[]}`, string(resp.Result))

	c.awaitNotification("textDocument/publishDiagnostics", func(raw json.RawMessage) bool {
		var p PublishDiagnosticsParams
		return json.Unmarshal(raw, &p) == nil && p.URI == uri && len(p.Diagnostics) == 1
	})
}

func TestServer_AdapterFailureShowsMessage(t *testing.T) {
	root := testutil.Workspace(t, lspConfig)
	runner := &stubRunner{}
	runner.setRun(func([]string) (*core.Result, error) {
		return nil, core.ErrMalformedPayload("unexpected token", []byte("garbage"))
	})
	c := startServer(t, runner)
	c.initialize(root, nil)

	c.call("$/runFileTest", URIParams{URI: PathToURI(filepath.Join(root, "src", "lib.rs"))})

	raw := c.awaitNotification("window/showMessage", nil)
	var msg ShowMessageParams
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, MessageError, msg.Type)
	assert.Contains(t, msg.Message, "unit")
	assert.Contains(t, msg.Message, "malformed payload")
}

func TestServer_InitializationOptionsWarnings(t *testing.T) {
	root := testutil.Workspace(t, "")
	c := startServer(t, &stubRunner{})

	resp := c.initialize(root, map[string]interface{}{
		"adapter_command": map[string]interface{}{
			"web": map[string]interface{}{"test_kind": "karma", "include": []string{"**/*.js"}},
		},
	})
	require.Nil(t, resp.Error)

	raw := c.awaitNotification("window/showMessage", nil)
	var msg ShowMessageParams
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, MessageWarning, msg.Type)
	assert.Contains(t, msg.Message, `unknown test_kind "karma"`)

	engine := <-c.engine
	defs := engine.Registry().Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "assert-adapter-karma", defs[0].Path)
}

func TestServer_DiscoverFileTest(t *testing.T) {
	root := testutil.Workspace(t, lspConfig)
	c := startServer(t, &stubRunner{})
	c.initialize(root, nil)

	file := filepath.Join(root, "src", "lib.rs")
	resp := c.call("$/discoverFileTest", URIParams{URI: PathToURI(file)})
	require.Nil(t, resp.Error)

	var result DiscoverResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, file, result.Path)
	require.Len(t, result.Adapters, 1)
	assert.Equal(t, "unit", result.Adapters[0].Adapter)
	require.NotNil(t, result.Adapters[0].Tests)
	require.Len(t, result.Adapters[0].Tests.Children, 1)
	assert.Equal(t, "it_works", result.Adapters[0].Tests.Children[0].ID)

	resp = c.call("$/discoverFileTest", URIParams{URI: PathToURI(filepath.Join(root, "README.md"))})
	require.Nil(t, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Empty(t, result.Adapters)

	resp = c.call("$/discoverFileTest", URIParams{URI: "untitled:1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestServer_WorkDoneProgress(t *testing.T) {
	root := testutil.Workspace(t, lspConfig)
	c := startServer(t, &stubRunner{})
	resp := c.call("initialize", map[string]interface{}{
		"rootUri":      PathToURI(root),
		"capabilities": map[string]interface{}{"window": map[string]interface{}{"workDoneProgress": true}},
	})
	require.Nil(t, resp.Error)

	c.notify("$/runFileTest", URIParams{URI: PathToURI(filepath.Join(root, "src", "lib.rs"))})

	create := c.await(func(m *Message) bool { return m.IsRequest() && m.Method == "window/workDoneProgress/create" })
	var token WorkDoneProgressCreateParams
	require.NoError(t, json.Unmarshal(create.Params, &token))

	kinds := map[string]bool{}
	for len(kinds) < 2 {
		raw := c.awaitNotification("$/progress", nil)
		var p struct {
			Token string `json:"token"`
			Value struct {
				Kind string `json:"kind"`
			} `json:"value"`
		}
		require.NoError(t, json.Unmarshal(raw, &p))
		assert.Equal(t, token.Token, p.Token)
		kinds[p.Value.Kind] = true
	}
	assert.True(t, kinds["begin"])
	assert.True(t, kinds["end"])
}

func TestServer_ProgressSurvivesEventOverflow(t *testing.T) {
	inR, _ := io.Pipe()
	outR, outW := io.Pipe()
	srv := NewServer(inR, outW, Options{})
	srv.progress = true

	// Fill the regular subscription past its buffer before anyone reads.
	for i := 0; i < 300; i++ {
		srv.bus.Publish(events.NewAdapterMessageEvent("unit", "info", "line "+strconv.Itoa(i)))
	}
	require.Positive(t, srv.bus.DroppedCount())

	received := make(chan []*Message, 1)
	go func() {
		var msgs []*Message
		conn := NewConn(outR, io.Discard)
		for {
			m, err := conn.Read()
			if err != nil {
				received <- msgs
				return
			}
			msgs = append(msgs, m)
		}
	}()

	srv.wg.Add(1)
	go srv.pump()

	const invocations = 80
	for i := 0; i < invocations; i++ {
		id := "inv-" + strconv.Itoa(i)
		srv.bus.PublishPriority(events.NewInvocationStartedEvent("unit", id, "discover", []string{"/w/a.rs"}))
		srv.bus.PublishPriority(events.NewInvocationFinishedEvent("unit", id, "completed", "", time.Millisecond, 0))
	}
	// Cancelled before it ever started.
	srv.bus.PublishPriority(events.NewInvocationFinishedEvent("unit", "queued", "cancelled", "cancelled", 0, 0))

	srv.bus.Close()
	srv.wg.Wait()
	require.NoError(t, outW.Close())
	msgs := <-received

	begins, ends := map[string]int{}, map[string]int{}
	for _, m := range msgs {
		if m.Method != "$/progress" {
			continue
		}
		var p struct {
			Token string `json:"token"`
			Value struct {
				Kind string `json:"kind"`
			} `json:"value"`
		}
		require.NoError(t, json.Unmarshal(m.Params, &p))
		switch p.Value.Kind {
		case "begin":
			begins[p.Token]++
		case "end":
			ends[p.Token]++
		}
	}
	assert.Len(t, begins, invocations)
	assert.Equal(t, begins, ends, "every begun token ends exactly once")
	assert.NotContains(t, ends, progressToken("queued"))
	assert.Empty(t, srv.begun)
}

func TestServer_DetectedWorkspace(t *testing.T) {
	root := testutil.Workspace(t, lspConfig)
	lib := testutil.WriteFile(t, root, "src/lib.rs", "fn main() {}\n")
	testutil.WriteFile(t, root, "README.md", "# readme\n")
	c := startServer(t, &stubRunner{})
	require.Nil(t, c.initialize(root, nil).Error)

	c.notify("initialized", struct{}{})

	raw := c.awaitNotification("$/detectedWorkspace", nil)
	var params DetectedWorkspaceParams
	require.NoError(t, json.Unmarshal(raw, &params))
	assert.Equal(t, root, params.Root)
	require.Len(t, params.Adapters, 1)
	assert.Equal(t, "unit", params.Adapters[0].Adapter)
	assert.Equal(t, []string{lib}, params.Adapters[0].Files)
}

func TestServer_InitializeRejectsBadConfig(t *testing.T) {
	root := testutil.Workspace(t, "server:\n  max_concurrency: -4\n")
	c := startServer(t, &stubRunner{})
	resp := c.initialize(root, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)

	resp = c.call("shutdown", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeServerNotInitialized, resp.Error.Code)
}

func TestWorkspaceRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	root, err := workspaceRoot(InitializeParams{
		RootURI:          "file:///ignored",
		WorkspaceFolders: []WorkspaceFolder{{URI: "file:///first"}, {URI: "file:///second"}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/first"), root)

	root, err = workspaceRoot(InitializeParams{RootPath: "/legacy"})
	require.NoError(t, err)
	assert.Equal(t, "/legacy", root)

	cwd, _ := os.Getwd()
	root, err = workspaceRoot(InitializeParams{})
	require.NoError(t, err)
	assert.Equal(t, cwd, root)
}
