package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"workbench/internal/tooling"
)

type echoHandler struct{}

func (echoHandler) Tools() []Tool {
	return []Tool{{Name: "echo", Description: "echo arguments", InputSchema: map[string]any{"type": "object"}}}
}

func (echoHandler) CallTool(ctx context.Context, name string, args json.RawMessage, progress func(ProgressParams) error) (ToolResult, error) {
	switch name {
	case "echo":
		_ = progress(ProgressParams{Progress: 1, Total: 2, Message: "halfway", Data: json.RawMessage(`{"stage":"planning"}`)})
		return ToolResult{Content: []Content{{Type: "text", Text: string(args)}}}, nil
	case "fail":
		return ToolResult{}, errors.New("boom")
	default:
		return ToolResult{}, UnknownTool(name)
	}
}

// TestHelperProcess runs Serve on stdio when spawned by the manager tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("WORKBENCH_MCP_HELPER") != "1" {
		return
	}
	_ = Serve(context.Background(), os.Stdin, os.Stdout, ServerInfo{Name: "helper", Version: "test"}, echoHandler{})
	os.Exit(0)
}

func helperDef(name string) tooling.MCPServer {
	return tooling.MCPServer{
		Name:      name,
		Transport: tooling.TransportStdio,
		Command:   os.Args[0],
		Args:      []string{"-test.run=TestHelperProcess"},
		Env:       map[string]string{"WORKBENCH_MCP_HELPER": "1"},
		Enabled:   true,
	}
}

func TestManagerCallToolWithProgress(t *testing.T) {
	mgr := NewManager(Options{HandshakeTimeout: 5 * time.Second})
	t.Cleanup(mgr.Close)
	mgr.Sync([]tooling.MCPServer{helperDef("Helper")})

	server, ok := mgr.Server("helper")
	if !ok {
		t.Fatalf("server not registered")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	var notes []ProgressParams
	result, err := server.CallTool(ctx, "echo", map[string]string{"q": "hi"}, func(p ProgressParams) {
		mu.Lock()
		notes = append(notes, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.Text() != `{"q":"hi"}` {
		t.Fatalf("text=%q", result.Text())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(notes) != 1 || notes[0].Message != "halfway" || string(notes[0].Data) != `{"stage":"planning"}` {
		t.Fatalf("progress=%+v", notes)
	}
	snap := server.Snapshot()
	if snap.Status != StatusReady || len(snap.Tools) != 1 || !server.HasTool("echo") {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestManagerToolError(t *testing.T) {
	mgr := NewManager(Options{})
	t.Cleanup(mgr.Close)
	mgr.Sync([]tooling.MCPServer{helperDef("helper")})
	server, _ := mgr.Server("helper")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := server.CallTool(ctx, "fail", nil, nil); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err=%v, want boom", err)
	}
	var rpcErr *RPCError
	if _, err := server.CallTool(ctx, "nope", nil, nil); !errors.As(err, &rpcErr) {
		t.Fatalf("err=%v, want RPCError", err)
	}
}

func TestStartMissingCommand(t *testing.T) {
	mgr := NewManager(Options{})
	mgr.Sync([]tooling.MCPServer{{Name: "ghost", Command: "/nonexistent/workbench-ghost", Enabled: true}})
	server, _ := mgr.Server("ghost")
	if err := server.Start(context.Background()); !errors.Is(err, ErrServerUnavailable) {
		t.Fatalf("err=%v, want ErrServerUnavailable", err)
	}
	if snap := server.Snapshot(); snap.Status != StatusDegraded || snap.Error == "" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestStartDisabled(t *testing.T) {
	mgr := NewManager(Options{})
	def := helperDef("off")
	def.Enabled = false
	mgr.Sync([]tooling.MCPServer{def})
	server, _ := mgr.Server("off")
	if err := server.Start(context.Background()); !errors.Is(err, ErrServerUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestStartEnabled(t *testing.T) {
	mgr := NewManager(Options{HandshakeTimeout: 5 * time.Second})
	t.Cleanup(mgr.Close)
	off := helperDef("off")
	off.Enabled = false
	mgr.Sync([]tooling.MCPServer{
		helperDef("helper"),
		off,
		{Name: "ghost", Command: "/nonexistent/workbench-ghost", Enabled: true},
	})

	mgr.StartEnabled(context.Background())

	want := map[string]Status{"ghost": StatusDegraded, "helper": StatusReady, "off": StatusConfigured}
	snaps := mgr.Snapshots()
	if len(snaps) != 3 || snaps[0].Name != "ghost" || snaps[2].Name != "off" {
		t.Fatalf("snapshots=%+v", snaps)
	}
	for _, snap := range snaps {
		if snap.Status != want[snap.Name] {
			t.Fatalf("%s status=%s, want %s", snap.Name, snap.Status, want[snap.Name])
		}
	}
	if snaps[1].Tools[0] != "echo" {
		t.Fatalf("helper tools=%v", snaps[1].Tools)
	}
}

func TestStartEnabledStopsOnCancel(t *testing.T) {
	mgr := NewManager(Options{})
	t.Cleanup(mgr.Close)
	mgr.Sync([]tooling.MCPServer{helperDef("helper")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mgr.StartEnabled(ctx)
	if snaps := mgr.Snapshots(); snaps[0].Status != StatusConfigured {
		t.Fatalf("cancelled start should not spawn: %+v", snaps)
	}
}

func TestSyncReconciles(t *testing.T) {
	mgr := NewManager(Options{})
	mgr.Sync([]tooling.MCPServer{helperDef("a"), helperDef("b")})
	first, _ := mgr.Server("a")

	changed := helperDef("a")
	changed.Args = append(changed.Args, "-test.v")
	mgr.Sync([]tooling.MCPServer{changed})

	if _, ok := mgr.Server("b"); ok {
		t.Fatalf("removed server still registered")
	}
	second, ok := mgr.Server("a")
	if !ok || second == first {
		t.Fatalf("changed definition should replace the server")
	}
	mgr.Sync([]tooling.MCPServer{changed})
	third, _ := mgr.Server("a")
	if third != second {
		t.Fatalf("unchanged definition should keep the server")
	}
	if snaps := mgr.Snapshots(); len(snaps) != 1 || snaps[0].Status != StatusConfigured {
		t.Fatalf("snapshots=%+v", snaps)
	}
}

func TestServeProtocol(t *testing.T) {
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"x":1},"_meta":{"progressToken":3}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"resources/list"}`,
		`not json`,
	}, "\n") + "\n"
	var out bytes.Buffer
	if err := Serve(context.Background(), strings.NewReader(in), &out, ServerInfo{Name: "t", Version: "1"}, echoHandler{}); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	byID := map[int64]message{}
	var progress []message
	var parseErrors int
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var msg message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		switch {
		case msg.Method == MethodProgress:
			progress = append(progress, msg)
		case msg.ID != nil:
			byID[*msg.ID] = msg
		case msg.Error != nil:
			parseErrors++
		}
	}
	var init initializeResult
	if err := json.Unmarshal(byID[1].Result, &init); err != nil || init.ProtocolVersion != ProtocolVersion || init.ServerInfo.Name != "t" {
		t.Fatalf("initialize=%s err=%v", byID[1].Result, err)
	}
	var list toolsListResult
	if err := json.Unmarshal(byID[2].Result, &list); err != nil || len(list.Tools) != 1 {
		t.Fatalf("tools/list=%s", byID[2].Result)
	}
	var call ToolResult
	if err := json.Unmarshal(byID[3].Result, &call); err != nil || call.Text() != `{"x":1}` {
		t.Fatalf("tools/call=%s", byID[3].Result)
	}
	if byID[4].Error == nil || byID[4].Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method response=%+v", byID[4])
	}
	if len(progress) != 1 || parseErrors != 1 {
		t.Fatalf("progress=%d parseErrors=%d", len(progress), parseErrors)
	}
	var p ProgressParams
	_ = json.Unmarshal(progress[0].Params, &p)
	if p.ProgressToken != 3 {
		t.Fatalf("progressToken=%d, want 3", p.ProgressToken)
	}
}
