package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"workbench/internal/i18n"
	"workbench/internal/mcp"
	"workbench/internal/planner"
	"workbench/internal/runner"
	"workbench/internal/runstate"
)

// Backend 后端侧：同时服务 mcp-serve 与 exec-chat
// Backend is the far side of both channels. It runs the planner and reports
// its stages as stream events.
type Backend struct {
	planner planner.Planner
	logger  *log.Logger
}

func NewBackend(p planner.Planner, logger *log.Logger) *Backend {
	if logger == nil {
		logger = log.Default()
	}
	return &Backend{planner: p, logger: logger.With("component", "backend")}
}

// Chat emits planning, then fallback when the local planner had to answer.
func (b *Backend) Chat(ctx context.Context, req planner.Request, emit func(runstate.StreamEvent)) (planner.Reply, error) {
	emit(runstate.Event(req.RequestID, runstate.StagePlanning, i18n.T("stage.planning"), nil))
	reply, err := b.planner.Plan(ctx, req)
	if err != nil {
		b.logger.Error("planning failed", "request_id", req.RequestID, "error", err)
		return planner.Reply{}, err
	}
	if reply.Degraded != "" {
		emit(runstate.Event(req.RequestID, runstate.StageFallback, i18n.T("stage.fallback"),
			&runstate.EventMeta{Reason: runstate.String(reply.Degraded)}))
	}
	return reply, nil
}

// Tools implements mcp.Handler.
func (b *Backend) Tools() []mcp.Tool {
	return []mcp.Tool{{
		Name:        ChatTool,
		Description: "Plan a reply and proposed workbench actions for a conversation",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"requestId":    map[string]any{"type": "string"},
				"messages":     map[string]any{"type": "array"},
				"provider":     map[string]any{"type": "object"},
				"capabilities": map[string]any{"type": "object"},
			},
			"required": []string{"messages"},
		},
	}}
}

// CallTool implements mcp.Handler. Each stream event becomes one progress
// notification with the event in its data field.
func (b *Backend) CallTool(ctx context.Context, name string, args json.RawMessage, progress func(mcp.ProgressParams) error) (mcp.ToolResult, error) {
	if name != ChatTool {
		return mcp.ToolResult{}, mcp.UnknownTool(name)
	}
	var req planner.Request
	if err := json.Unmarshal(args, &req); err != nil {
		return mcp.ToolResult{}, fmt.Errorf("decode request: %w", err)
	}
	step := 0
	reply, err := b.Chat(ctx, req, func(ev runstate.StreamEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		step++
		_ = progress(mcp.ProgressParams{Progress: float64(step), Message: ev.Message, Data: data})
	})
	if err != nil {
		return mcp.ToolResult{}, err
	}
	text, err := json.Marshal(reply)
	if err != nil {
		return mcp.ToolResult{}, err
	}
	return mcp.ToolResult{Content: []mcp.Content{{Type: "text", Text: string(text)}}}, nil
}

// ServeExec answers one request read from r, writing event frames and a
// final reply frame (or an error frame) to w.
func (b *Backend) ServeExec(ctx context.Context, r io.Reader, w io.Writer) error {
	fw := runner.NewFrameWriter(w)
	var req planner.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		err = fmt.Errorf("decode request: %w", err)
		_ = fw.Error(err)
		return err
	}
	reply, err := b.Chat(ctx, req, func(ev runstate.StreamEvent) { _ = fw.Event(ev) })
	if err != nil {
		_ = fw.Error(err)
		return err
	}
	return fw.Reply(reply)
}
