// Package lsp serves the engine to editors over a Content-Length framed
// JSON-RPC stream.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/config"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/events"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/logging"
	"github.com/hugo-lorenzo-mato/assert-lsp/internal/service"
)

// ServerName is reported in the initialize response.
const ServerName = "assert-lsp"

// ErrExitWithoutShutdown is returned by Serve when the client sent exit
// before shutdown.
var ErrExitWithoutShutdown = errors.New("exit received before shutdown")

// Options configures a Server.
type Options struct {
	Version string
	// NewLoader is passed on to the engine; see service.EngineOptions.
	NewLoader func() *config.Loader
	// Runner replaces the process-backed adapter client.
	Runner core.TestRunner
	// Watch enables the filesystem watcher.
	Watch bool
	// OnInitialized runs once the engine exists, e.g. to start the status
	// endpoint.
	OnInitialized func(*service.Engine)
	Logger        *logging.Logger
}

// Server is one LSP session.
type Server struct {
	conn   *Conn
	opts   Options
	logger *logging.Logger
	bus    *events.EventBus

	regular  <-chan events.Event
	priority <-chan events.Event

	mu       sync.Mutex
	engine   *service.Engine
	shutdown bool
	progress bool
	begun    map[string]bool // progress tokens awaiting their end
	inflight map[string]context.CancelFunc

	workspaceChecked atomic.Bool
	nextID           atomic.Int64
	wg               sync.WaitGroup
}

var _ core.Publisher = (*Server)(nil)

// NewServer creates a server reading requests from r and writing to w.
func NewServer(r io.Reader, w io.Writer, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	bus := events.New(256)
	return &Server{
		conn:   NewConn(r, w),
		opts:   opts,
		logger: opts.Logger,
		bus:    bus,
		regular: bus.Subscribe(
			events.TypeAdapterMessage,
			events.TypeConfigWarning,
			events.TypeConfigReloaded,
		),
		// Progress begin and end must pair up, so invocation events
		// never go through the lossy subscription.
		priority: bus.SubscribePriority(
			events.TypeAdapterFailed,
			events.TypeAdapterRecovered,
			events.TypeInvocationStarted,
			events.TypeInvocationFinished,
		),
		begun:    make(map[string]bool),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Serve processes messages until exit or end of input.
func (s *Server) Serve(ctx context.Context) error {
	s.wg.Add(1)
	go s.pump()
	defer s.stop()

	for {
		msg, err := s.conn.Read()
		if err != nil {
			var rpcErr *ResponseError
			if errors.As(err, &rpcErr) {
				s.logger.Warn("lsp: unparsable message", "error", err)
				_ = s.conn.ReplyError(nil, rpcErr.Code, rpcErr.Message)
				continue
			}
			if errors.Is(err, io.EOF) {
				s.logger.Info("lsp: input closed")
				return nil
			}
			return err
		}

		switch {
		case msg.IsRequest():
			s.handleRequest(ctx, msg)
		case msg.IsNotification():
			if msg.Method == "exit" {
				s.mu.Lock()
				clean := s.shutdown
				s.mu.Unlock()
				if !clean {
					return ErrExitWithoutShutdown
				}
				return nil
			}
			s.handleNotification(ctx, msg)
		case msg.IsResponse():
			if msg.Error != nil {
				s.logger.Debug("lsp: client returned error", "id", string(msg.ID), "error", msg.Error.Message)
			}
		default:
			_ = s.conn.ReplyError(msg.ID, CodeInvalidRequest, "invalid message")
		}
	}
}

// PublishDiagnostics implements core.Publisher.
func (s *Server) PublishDiagnostics(file string, diags []core.Diagnostic) {
	params := PublishDiagnosticsParams{URI: PathToURI(file), Diagnostics: toDiagnostics(diags)}
	if err := s.conn.Notify("textDocument/publishDiagnostics", params); err != nil {
		s.logger.Debug("lsp: publishing diagnostics failed", "file", file, "error", err)
	}
}

// Engine returns the engine created by initialize, or nil.
func (s *Server) Engine() *service.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *Server) handleRequest(ctx context.Context, msg *Message) {
	if msg.Method == "initialize" {
		s.initialize(msg)
		return
	}

	s.mu.Lock()
	engine, shutdown := s.engine, s.shutdown
	s.mu.Unlock()
	if engine == nil {
		_ = s.conn.ReplyError(msg.ID, CodeServerNotInitialized, "server not initialized")
		return
	}
	if shutdown {
		_ = s.conn.ReplyError(msg.ID, CodeInvalidRequest, "server is shutting down")
		return
	}

	switch msg.Method {
	case "shutdown":
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		engine.Close()
		_ = s.conn.Reply(msg.ID, nil)
	case "textDocument/diagnostic":
		_ = s.conn.Reply(msg.ID, DocumentDiagnosticReport{Kind: "full", Items: []Diagnostic{}})
		s.documentTrigger(ctx, engine, msg.Params)
	case "workspace/diagnostic":
		_ = s.conn.Reply(msg.ID, WorkspaceDiagnosticReport{Items: []json.RawMessage{}})
		s.workspaceTrigger(ctx, engine)
	case "$/runWorkspaceTest":
		s.workspaceTrigger(ctx, engine)
		_ = s.conn.Reply(msg.ID, nil)
	case "$/runFileTest":
		s.uriTrigger(ctx, engine, msg.Params)
		_ = s.conn.Reply(msg.ID, nil)
	case "$/discoverFileTest":
		s.discover(ctx, engine, msg)
	default:
		_ = s.conn.ReplyError(msg.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method))
	}
}

func (s *Server) handleNotification(ctx context.Context, msg *Message) {
	if msg.Method == "$/cancelRequest" {
		s.cancelRequest(msg.Params)
		return
	}

	engine := s.Engine()
	if engine == nil {
		s.logger.Debug("lsp: notification before initialize", "method", msg.Method)
		return
	}

	switch msg.Method {
	case "initialized", "workspace/diagnostic", "$/runWorkspaceTest":
		s.workspaceTrigger(ctx, engine)
	case "textDocument/didSave", "textDocument/diagnostic":
		s.documentTrigger(ctx, engine, msg.Params)
	case "$/runFileTest":
		s.uriTrigger(ctx, engine, msg.Params)
	case "textDocument/didOpen":
		if !s.workspaceChecked.Load() {
			s.workspaceTrigger(ctx, engine)
		}
	case "textDocument/didClose", "textDocument/didChange", "$/setTrace":
	case "workspace/didChangeWatchedFiles":
		s.watchedFiles(ctx, engine, msg.Params)
	default:
		s.logger.Debug("lsp: unhandled notification", "method", msg.Method)
	}
}

func (s *Server) initialize(msg *Message) {
	s.mu.Lock()
	already := s.engine != nil
	s.mu.Unlock()
	if already {
		_ = s.conn.ReplyError(msg.ID, CodeInvalidRequest, "server already initialized")
		return
	}

	var params InitializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			_ = s.conn.ReplyError(msg.ID, CodeInvalidParams, err.Error())
			return
		}
	}
	root, err := workspaceRoot(params)
	if err != nil {
		_ = s.conn.ReplyError(msg.ID, CodeInvalidParams, err.Error())
		return
	}

	adapters, warnings, err := config.ParseRequestAdapters(params.InitializationOptions)
	if err != nil {
		warnings = append(warnings, err.Error())
	}

	engine, err := service.NewEngine(service.EngineOptions{
		Root:            root,
		NewLoader:       s.opts.NewLoader,
		RequestAdapters: adapters,
		RequestWarnings: warnings,
		Publisher:       s,
		Events:          s.bus,
		Runner:          s.opts.Runner,
		Watch:           s.opts.Watch,
		Logger:          s.logger,
	})
	if err != nil {
		s.logger.Error("lsp: initialize failed", "root", root, "error", err)
		_ = s.conn.ReplyError(msg.ID, CodeInternalError, err.Error())
		return
	}

	s.mu.Lock()
	s.engine = engine
	s.progress = params.Capabilities.Window.WorkDoneProgress
	s.mu.Unlock()

	_ = s.conn.Reply(msg.ID, InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync:   TextDocumentSyncOptions{OpenClose: true, Save: SaveOptions{}},
			DiagnosticProvider: DiagnosticOptions{Identifier: ServerName, WorkspaceDiagnostics: true},
		},
		ServerInfo: ServerInfo{Name: ServerName, Version: s.opts.Version},
	})
	s.logger.Info("lsp: initialized", "root", root)

	if s.opts.OnInitialized != nil {
		s.opts.OnInitialized(engine)
	}
}

func (s *Server) workspaceTrigger(ctx context.Context, engine *service.Engine) {
	s.workspaceChecked.Store(true)
	if err := engine.HandleTrigger(ctx, core.Workspace()); err != nil {
		s.logger.Debug("lsp: workspace trigger rejected", "error", err)
	}
	s.announceWorkspace(ctx, engine)
}

// announceWorkspace sends the files each adapter covers as
// $/detectedWorkspace.
func (s *Server) announceWorkspace(ctx context.Context, engine *service.Engine) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		files, err := engine.WorkspaceFiles(ctx)
		if err != nil {
			s.logger.Debug("lsp: listing workspace files failed", "error", err)
			return
		}
		_ = s.conn.Notify("$/detectedWorkspace", DetectedWorkspaceParams{Root: engine.Root(), Adapters: files})
	}()
}

func (s *Server) documentTrigger(ctx context.Context, engine *service.Engine, raw json.RawMessage) {
	var params TextDocumentParams
	if err := json.Unmarshal(raw, &params); err != nil {
		s.logger.Warn("lsp: invalid text document params", "error", err)
		return
	}
	s.fileTrigger(ctx, engine, params.TextDocument.URI)
}

func (s *Server) uriTrigger(ctx context.Context, engine *service.Engine, raw json.RawMessage) {
	var params URIParams
	if err := json.Unmarshal(raw, &params); err != nil {
		s.logger.Warn("lsp: invalid uri params", "error", err)
		return
	}
	s.fileTrigger(ctx, engine, params.URI)
}

func (s *Server) fileTrigger(ctx context.Context, engine *service.Engine, uri string) {
	path, err := URIToPath(uri)
	if err != nil {
		s.logger.Debug("lsp: ignoring document", "uri", uri, "error", err)
		return
	}
	err = engine.HandleTrigger(ctx, core.FileChanged(path))
	if err != nil && !errors.Is(err, core.ErrNoMatchingAdapterSentinel) {
		s.logger.Warn("lsp: file trigger rejected", "file", path, "error", err)
	}
}

func (s *Server) watchedFiles(ctx context.Context, engine *service.Engine, raw json.RawMessage) {
	var params DidChangeWatchedFilesParams
	if err := json.Unmarshal(raw, &params); err != nil {
		s.logger.Warn("lsp: invalid didChangeWatchedFiles params", "error", err)
		return
	}
	configs := make(map[string]bool)
	for _, c := range config.ConfigCandidates(engine.Root()) {
		configs[c] = true
	}

	reload := false
	for _, change := range params.Changes {
		path, err := URIToPath(change.URI)
		if err != nil {
			continue
		}
		if configs[filepath.Clean(path)] {
			reload = true
			continue
		}
		switch change.Type {
		case FileDeleted:
			_ = engine.HandleTrigger(ctx, core.FileDeleted(path))
		case FileCreated, FileChanged:
			s.fileTrigger(ctx, engine, change.URI)
		}
	}
	if reload {
		_ = engine.Reload()
	}
}

func (s *Server) discover(ctx context.Context, engine *service.Engine, msg *Message) {
	var params URIParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		_ = s.conn.ReplyError(msg.ID, CodeInvalidParams, err.Error())
		return
	}
	path, err := URIToPath(params.URI)
	if err != nil {
		_ = s.conn.ReplyError(msg.ID, CodeInvalidParams, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	key := string(msg.ID)
	s.mu.Lock()
	s.inflight[key] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
			cancel()
		}()

		found, err := engine.DiscoverFile(ctx, path)
		switch {
		case errors.Is(err, core.ErrNoMatchingAdapterSentinel):
			found = nil
		case ctx.Err() != nil:
			_ = s.conn.ReplyError(msg.ID, CodeRequestCancelled, "request cancelled")
			return
		case err != nil:
			_ = s.conn.ReplyError(msg.ID, CodeInternalError, err.Error())
			return
		}

		result := DiscoverResult{Path: path, Adapters: make([]DiscoveredAdapter, 0, len(found))}
		for _, d := range found {
			da := DiscoveredAdapter{Adapter: d.Adapter, Tests: d.Root, Messages: d.Messages}
			if d.Err != nil {
				da.Error = d.Err.Error()
			}
			result.Adapters = append(result.Adapters, da)
		}
		_ = s.conn.Reply(msg.ID, result)
	}()
}

func (s *Server) cancelRequest(raw json.RawMessage) {
	var params struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return
	}
	s.mu.Lock()
	cancel, ok := s.inflight[string(params.ID)]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// pump turns bus events into editor notifications until the bus closes.
func (s *Server) pump() {
	defer s.wg.Done()
	regular, priority := s.regular, s.priority
	for regular != nil || priority != nil {
		select {
		case ev, ok := <-priority:
			if !ok {
				priority = nil
				continue
			}
			s.notifyEvent(ev)
		case ev, ok := <-regular:
			if !ok {
				regular = nil
				continue
			}
			s.notifyEvent(ev)
		}
	}
}

func (s *Server) notifyEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.AdapterFailedEvent:
		s.showMessage(MessageError, e.Message)
	case events.AdapterRecoveredEvent:
		s.showMessage(MessageInfo, fmt.Sprintf("adapter %s recovered", e.Adapter))
	case events.AdapterMessageEvent:
		s.showMessage(messageType(e.Severity), fmt.Sprintf("%s: %s", e.Adapter, e.Message))
	case events.ConfigWarningEvent:
		s.showMessage(MessageWarning, e.Message)
	case events.ConfigReloadedEvent:
		_ = s.conn.Notify("window/logMessage", ShowMessageParams{
			Type:    MessageLog,
			Message: fmt.Sprintf("configuration reloaded, adapters: %s", strings.Join(e.Adapters, ", ")),
		})
		if engine := s.Engine(); engine != nil {
			s.announceWorkspace(context.Background(), engine)
		}
	case events.InvocationStartedEvent:
		if s.beginProgress(e.InvocationID) {
			token := progressToken(e.InvocationID)
			_ = s.conn.Call(s.nextID.Add(1), "window/workDoneProgress/create", WorkDoneProgressCreateParams{Token: token})
			_ = s.conn.Notify("$/progress", ProgressParams{Token: token, Value: WorkDoneProgressBegin{
				Kind:    "begin",
				Title:   "Testing",
				Message: fmt.Sprintf("%s: testing %d files", e.Adapter, len(e.Targets)),
			}})
		}
	case events.InvocationFinishedEvent:
		if s.endProgress(e.InvocationID) {
			_ = s.conn.Notify("$/progress", ProgressParams{Token: progressToken(e.InvocationID), Value: WorkDoneProgressEnd{
				Kind:    "end",
				Message: fmt.Sprintf("%s: %s", e.Adapter, e.State),
			}})
		}
	}
}

func (s *Server) showMessage(typ int, message string) {
	if err := s.conn.Notify("window/showMessage", ShowMessageParams{Type: typ, Message: message}); err != nil {
		s.logger.Debug("lsp: showMessage failed", "error", err)
	}
}

// beginProgress records a progress token for the invocation when the
// client supports work-done progress.
func (s *Server) beginProgress(invocationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.progress {
		return false
	}
	s.begun[invocationID] = true
	return true
}

// endProgress reports whether the invocation has a begun token and
// retires it.
func (s *Server) endProgress(invocationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begun[invocationID] {
		return false
	}
	delete(s.begun, invocationID)
	return true
}

// stop closes the engine and the bus and waits for the pump and pending
// requests.
func (s *Server) stop() {
	s.mu.Lock()
	for _, cancel := range s.inflight {
		cancel()
	}
	engine := s.engine
	s.mu.Unlock()

	if engine != nil {
		engine.Close()
	}
	s.bus.Close()
	s.wg.Wait()
}

func progressToken(invocationID string) string {
	return ServerName + "/" + invocationID
}

func messageType(severity string) int {
	switch core.ParseSeverity(severity) {
	case core.SeverityError:
		return MessageError
	case core.SeverityWarning:
		return MessageWarning
	default:
		return MessageInfo
	}
}

// workspaceRoot picks the first workspace folder, then rootUri, then
// rootPath, then the working directory.
func workspaceRoot(params InitializeParams) (string, error) {
	if len(params.WorkspaceFolders) > 0 {
		return URIToPath(params.WorkspaceFolders[0].URI)
	}
	if params.RootURI != "" {
		return URIToPath(params.RootURI)
	}
	if params.RootPath != "" {
		return params.RootPath, nil
	}
	return os.Getwd()
}
