package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"workbench/internal/tooling"
)

type Status string

const (
	StatusConfigured Status = "configured"
	StatusStarting   Status = "starting"
	StatusReady      Status = "ready"
	StatusDegraded   Status = "degraded"
)

const (
	defaultRestartBudget    = 3
	defaultHandshakeTimeout = 10 * time.Second
	maxFrameBytes           = 8 << 20
)

var ErrServerUnavailable = errors.New("mcp server unavailable")

// Server 受管理的 MCP 子进程及其 JSON-RPC 连接
// Server is one managed stdio server process and its JSON-RPC session.
type Server struct {
	def         tooling.MCPServer
	logger      *log.Logger
	handshake   time.Duration
	status      Status
	lastError   string
	restartLeft int
	tools       []Tool

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	nextID  int64
	pending map[int64]*pendingCall
	startMu sync.Mutex
	writeMu sync.Mutex
	mu      sync.Mutex
}

type pendingCall struct {
	done     chan message
	onNotify func(ProgressParams)
}

type Snapshot struct {
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Status  Status   `json:"status"`
	Error   string   `json:"error,omitempty"`
	Tools   []string `json:"tools"`
}

type Options struct {
	Logger           *log.Logger
	HandshakeTimeout time.Duration
}

// Manager keeps one Server per enabled tooling definition.
type Manager struct {
	mu        sync.Mutex
	servers   map[string]*Server
	logger    *log.Logger
	handshake time.Duration
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	handshake := opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	return &Manager{
		servers:   map[string]*Server{},
		logger:    logger.With("component", "mcp"),
		handshake: handshake,
	}
}

// Sync reconciles managed servers with defs: removed or changed definitions
// are stopped, new ones are registered. Servers start lazily on first use.
func (m *Manager) Sync(defs []tooling.MCPServer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := map[string]tooling.MCPServer{}
	for _, d := range defs {
		key := strings.ToLower(strings.TrimSpace(d.Name))
		if key == "" {
			continue
		}
		wanted[key] = d
	}
	for key, s := range m.servers {
		d, ok := wanted[key]
		if ok && reflect.DeepEqual(d, s.def) {
			continue
		}
		s.Stop()
		delete(m.servers, key)
		m.logger.Debug("mcp server removed", "name", s.def.Name)
	}
	for key, d := range wanted {
		if _, ok := m.servers[key]; ok {
			continue
		}
		m.servers[key] = &Server{
			def:         d,
			logger:      m.logger.With("server", d.Name),
			handshake:   m.handshake,
			status:      StatusConfigured,
			restartLeft: defaultRestartBudget,
		}
	}
}

// Server returns the managed server registered under name (case-insensitive).
func (m *Manager) Server(name string) (*Server, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// StartEnabled starts every enabled server one after another and stops early
// once ctx is done. Failures are logged; the server stays degraded.
func (m *Manager) StartEnabled(ctx context.Context) {
	m.mu.Lock()
	servers := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.mu.Unlock()
	sort.Slice(servers, func(i, j int) bool { return servers[i].def.Name < servers[j].def.Name })
	for _, s := range servers {
		if ctx.Err() != nil {
			return
		}
		if !s.Enabled() {
			continue
		}
		if err := s.Start(ctx); err != nil {
			m.logger.Warn("mcp server failed to start", "name", s.def.Name, "error", err)
		}
	}
}

// Snapshots lists every managed server ordered by name.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	servers := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(servers))
	for _, s := range servers {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close stops every managed process.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.servers {
		s.Stop()
	}
}

func (s *Server) Name() string { return s.def.Name }

func (s *Server) Enabled() bool { return s.def.Enabled }

func (s *Server) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tools))
	for _, t := range s.tools {
		names = append(names, t.Name)
	}
	return Snapshot{Name: s.def.Name, Enabled: s.def.Enabled, Status: s.status, Error: s.lastError, Tools: names}
}

// HasTool reports whether the server advertised name in tools/list.
func (s *Server) HasTool(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Start spawns the process if needed and performs the initialize handshake
// followed by tools/list. It is a no-op for a ready server.
func (s *Server) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if !s.def.Enabled {
		s.status = StatusConfigured
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is disabled", ErrServerUnavailable, s.def.Name)
	}
	if s.status == StatusReady && s.cmd != nil {
		s.mu.Unlock()
		return nil
	}
	if s.status == StatusDegraded && s.restartLeft <= 0 {
		err := fmt.Errorf("%w: %s: %s", ErrServerUnavailable, s.def.Name, s.lastError)
		s.mu.Unlock()
		return err
	}
	if err := s.spawnLocked(); err != nil {
		s.status = StatusDegraded
		s.lastError = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	s.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, s.handshake)
	defer cancel()
	if err := s.handshakeTools(hctx); err != nil {
		s.mu.Lock()
		s.markErrorLocked(fmt.Errorf("handshake: %w", err))
		s.mu.Unlock()
		return fmt.Errorf("%w: %s handshake: %v", ErrServerUnavailable, s.def.Name, err)
	}
	s.mu.Lock()
	s.status = StatusReady
	s.lastError = ""
	s.mu.Unlock()
	s.logger.Info("mcp server ready", "tools", len(s.tools))
	return nil
}

func (s *Server) spawnLocked() error {
	if strings.TrimSpace(s.def.Command) == "" {
		return errors.New("missing command")
	}
	s.status = StatusStarting
	cmd := exec.Command(s.def.Command, s.def.Args...)
	if s.def.Cwd != "" {
		cmd.Dir = s.def.Cwd
	}
	if len(s.def.Env) > 0 {
		env := os.Environ()
		for k, v := range s.def.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	cmd.Stderr = &logWriter{logger: s.logger}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	s.cmd = cmd
	s.stdin = stdin
	s.pending = map[int64]*pendingCall{}
	go s.readLoop(cmd, stdout)
	return nil
}

func (s *Server) handshakeTools(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo":      implementation{Name: "workbench", Version: "0.1.0"},
		"capabilities":    map[string]any{},
	}
	if _, err := s.request(ctx, MethodInitialize, params, nil); err != nil {
		return err
	}
	if err := s.notify(MethodInitialized, nil); err != nil {
		return err
	}
	raw, err := s.request(ctx, MethodToolsList, map[string]any{}, nil)
	if err != nil {
		return err
	}
	var list toolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("decode tools/list: %w", err)
	}
	s.mu.Lock()
	s.tools = list.Tools
	s.mu.Unlock()
	return nil
}

// CallTool 调用工具；进度通知通过 onProgress 转发
// CallTool invokes tools/call, starting the server first if needed. Progress
// notifications for this call are forwarded to onProgress as they arrive.
func (s *Server) CallTool(ctx context.Context, name string, args any, onProgress func(ProgressParams)) (ToolResult, error) {
	if err := s.Start(ctx); err != nil {
		return ToolResult{}, err
	}
	argBytes, err := json.Marshal(args)
	if err != nil {
		return ToolResult{}, fmt.Errorf("encode arguments: %w", err)
	}
	raw, err := s.request(ctx, MethodToolsCall, func(id int64) any {
		return callParams{Name: name, Arguments: argBytes, Meta: &callMeta{ProgressToken: id}}
	}, onProgress)
	if err != nil {
		return ToolResult{}, err
	}
	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ToolResult{}, fmt.Errorf("decode tools/call: %w", err)
	}
	if result.IsError {
		return result, fmt.Errorf("tool %s failed: %s", name, result.Text())
	}
	return result, nil
}

// request sends one call and waits for its response. params may be a
// func(id int64) any when the body needs the request id.
func (s *Server) request(ctx context.Context, method string, params any, onProgress func(ProgressParams)) (json.RawMessage, error) {
	s.mu.Lock()
	if s.cmd == nil || s.pending == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s not running", ErrServerUnavailable, s.def.Name)
	}
	s.nextID++
	id := s.nextID
	call := &pendingCall{done: make(chan message, 1), onNotify: onProgress}
	s.pending[id] = call
	s.mu.Unlock()

	if build, ok := params.(func(int64) any); ok {
		params = build(id)
	}
	body, err := json.Marshal(params)
	if err != nil {
		s.forget(id)
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	if err := s.write(message{JSONRPC: "2.0", ID: &id, Method: method, Params: body}); err != nil {
		s.forget(id)
		s.mu.Lock()
		s.markErrorLocked(fmt.Errorf("write request: %w", err))
		s.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		s.forget(id)
		return nil, ctx.Err()
	case resp, ok := <-call.done:
		if !ok {
			return nil, fmt.Errorf("%w: %s exited", ErrServerUnavailable, s.def.Name)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (s *Server) notify(method string, params any) error {
	var body json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		body = b
	}
	return s.write(message{JSONRPC: "2.0", Method: method, Params: body})
}

func (s *Server) write(msg message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("%w: %s not running", ErrServerUnavailable, s.def.Name)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = stdin.Write(append(line, '\n'))
	return err
}

func (s *Server) forget(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Server) readLoop(cmd *exec.Cmd, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			s.logger.Debug("skip non-json line", "line", line)
			continue
		}
		s.dispatch(msg)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	if s.cmd == cmd {
		s.markErrorLocked(fmt.Errorf("read response: %w", err))
	}
	s.mu.Unlock()
	_ = cmd.Wait()
}

func (s *Server) dispatch(msg message) {
	if msg.isResponse() {
		s.mu.Lock()
		call, ok := s.pending[*msg.ID]
		delete(s.pending, *msg.ID)
		s.mu.Unlock()
		if ok {
			call.done <- msg
		}
		return
	}
	if msg.Method != MethodProgress {
		return
	}
	var p ProgressParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		return
	}
	s.mu.Lock()
	call, ok := s.pending[p.ProgressToken]
	s.mu.Unlock()
	if ok && call.onNotify != nil {
		call.onNotify(p)
	}
}

// markErrorLocked records err, fails in-flight calls and, while the restart
// budget lasts, resets the server so the next call respawns it.
func (s *Server) markErrorLocked(err error) {
	s.lastError = err.Error()
	s.status = StatusDegraded
	s.stopLocked()
	if s.restartLeft > 0 {
		s.restartLeft--
		s.status = StatusConfigured
	}
	s.logger.Warn("mcp server degraded", "error", err, "restarts_left", s.restartLeft)
}

func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.status = StatusConfigured
}

func (s *Server) stopLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	for id, call := range s.pending {
		close(call.done)
		delete(s.pending, id)
	}
	s.stdin = nil
	s.cmd = nil
	s.pending = nil
}

type logWriter struct {
	logger *log.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			w.logger.Debug("stderr", "line", line)
		}
	}
	return len(p), nil
}
