package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Handler serves tools for Serve.
type Handler interface {
	Tools() []Tool
	// CallTool runs a tool. progress sends a notifications/progress frame
	// bound to the caller's progress token.
	CallTool(ctx context.Context, name string, args json.RawMessage, progress func(ProgressParams) error) (ToolResult, error)
}

// ServerInfo names the implementation in the initialize result.
type ServerInfo struct {
	Name    string
	Version string
}

// Serve 在 r/w 上提供 stdio JSON-RPC 服务，直到输入结束或 ctx 取消
// Serve answers line-delimited JSON-RPC frames read from r until r is
// exhausted or ctx is done. tools/call requests run concurrently; writes to w
// are serialized.
func Serve(ctx context.Context, r io.Reader, w io.Writer, info ServerInfo, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := &frameWriter{w: w}
	var wg sync.WaitGroup
	defer wg.Wait()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			var msg message
			if err := json.Unmarshal(line, &msg); err != nil {
				_ = out.write(message{JSONRPC: "2.0", Error: &RPCError{Code: codeParseError, Message: err.Error()}})
				continue
			}
			if msg.ID == nil || msg.Method == "" {
				continue
			}
			switch msg.Method {
			case MethodInitialize:
				out.result(*msg.ID, initializeResult{
					ProtocolVersion: ProtocolVersion,
					ServerInfo:      implementation{Name: info.Name, Version: info.Version},
					Capabilities:    map[string]any{"tools": map[string]any{}},
				})
			case MethodPing:
				out.result(*msg.ID, map[string]any{})
			case MethodToolsList:
				out.result(*msg.ID, toolsListResult{Tools: h.Tools()})
			case MethodToolsCall:
				wg.Add(1)
				go func(msg message) {
					defer wg.Done()
					handleCall(ctx, out, h, msg)
				}(msg)
			default:
				out.fail(*msg.ID, codeMethodNotFound, "method not found: "+msg.Method)
			}
		}
	}
}

func handleCall(ctx context.Context, out *frameWriter, h Handler, msg message) {
	id := *msg.ID
	var params callParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		out.fail(id, codeInvalidParams, err.Error())
		return
	}
	token := id
	if params.Meta != nil {
		token = params.Meta.ProgressToken
	}
	progress := func(p ProgressParams) error {
		p.ProgressToken = token
		body, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return out.write(message{JSONRPC: "2.0", Method: MethodProgress, Params: body})
	}

	result, err := h.CallTool(ctx, params.Name, params.Arguments, progress)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			out.fail(id, rpcErr.Code, rpcErr.Message)
			return
		}
		out.result(id, ToolResult{Content: []Content{{Type: "text", Text: err.Error()}}, IsError: true})
		return
	}
	out.result(id, result)
}

// UnknownTool is returned by handlers for a tool name they do not serve.
func UnknownTool(name string) error {
	return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown tool: %s", name)}
}

type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (f *frameWriter) write(msg message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err = f.w.Write(append(line, '\n'))
	return err
}

func (f *frameWriter) result(id int64, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		f.fail(id, codeInternalError, err.Error())
		return
	}
	_ = f.write(message{JSONRPC: "2.0", ID: &id, Result: body})
}

func (f *frameWriter) fail(id int64, code int, text string) {
	_ = f.write(message{JSONRPC: "2.0", ID: &id, Error: &RPCError{Code: code, Message: text}})
}
