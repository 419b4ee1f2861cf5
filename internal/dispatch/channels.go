package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"workbench/internal/mcp"
	"workbench/internal/planner"
	"workbench/internal/runner"
	"workbench/internal/runstate"
)

// ChatTool is the tool a structured backend must advertise.
const ChatTool = "agent.chat"

// MCPChannel reaches the backend through a managed stdio MCP server.
type MCPChannel struct {
	manager *mcp.Manager
	server  string
}

func NewMCPChannel(manager *mcp.Manager, server string) *MCPChannel {
	return &MCPChannel{manager: manager, server: strings.TrimSpace(server)}
}

func (c *MCPChannel) Name() string { return "mcp:" + c.server }

func (c *MCPChannel) Available(ctx context.Context) error {
	s, err := c.lookup()
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	if !s.HasTool(ChatTool) {
		return fmt.Errorf("server %s does not provide %s", c.server, ChatTool)
	}
	return nil
}

// Servers lists the managed servers, the backend one included.
func (c *MCPChannel) Servers() []mcp.Snapshot {
	if c.manager == nil {
		return nil
	}
	return c.manager.Snapshots()
}

func (c *MCPChannel) lookup() (*mcp.Server, error) {
	if c.manager == nil || c.server == "" {
		return nil, errors.New("no mcp server configured")
	}
	s, ok := c.manager.Server(c.server)
	if !ok {
		return nil, fmt.Errorf("mcp server %q is not defined", c.server)
	}
	if !s.Enabled() {
		return nil, fmt.Errorf("mcp server %q is disabled", c.server)
	}
	return s, nil
}

// Chat calls ChatTool. Progress notifications carry stream events in their
// data field; the tool result text is the reply JSON.
func (c *MCPChannel) Chat(ctx context.Context, req planner.Request, emit func(runstate.StreamEvent)) (planner.Reply, error) {
	s, err := c.lookup()
	if err != nil {
		return planner.Reply{}, err
	}
	result, err := s.CallTool(ctx, ChatTool, req, func(p mcp.ProgressParams) {
		if len(p.Data) == 0 {
			return
		}
		var ev runstate.StreamEvent
		if err := json.Unmarshal(p.Data, &ev); err == nil {
			emit(ev)
		}
	})
	if err != nil {
		return planner.Reply{}, err
	}
	var reply planner.Reply
	if err := json.Unmarshal([]byte(result.Text()), &reply); err != nil {
		return planner.Reply{}, fmt.Errorf("decode %s result: %w", ChatTool, err)
	}
	return reply, nil
}

// ExecChannel runs the backend as a plain process per request.
type ExecChannel struct {
	runner *runner.Runner
}

func NewExecChannel(r *runner.Runner) *ExecChannel {
	return &ExecChannel{runner: r}
}

func (c *ExecChannel) Name() string { return "exec" }

func (c *ExecChannel) Available(context.Context) error {
	if c.runner == nil {
		return runner.ErrNoCommand
	}
	return c.runner.Available()
}

// Chat prefers a reply frame. A command that only prints text is treated as
// raw model output and parsed like a model reply.
func (c *ExecChannel) Chat(ctx context.Context, req planner.Request, emit func(runstate.StreamEvent)) (planner.Reply, error) {
	res, err := c.runner.Run(ctx, req, func(raw json.RawMessage) {
		var ev runstate.StreamEvent
		if err := json.Unmarshal(raw, &ev); err == nil {
			emit(ev)
		}
	})
	if err != nil {
		return planner.Reply{}, err
	}
	if len(res.Reply) > 0 {
		var reply planner.Reply
		if err := json.Unmarshal(res.Reply, &reply); err != nil {
			return planner.Reply{}, fmt.Errorf("decode exec reply: %w", err)
		}
		return reply, nil
	}
	reply, err := planner.ParseReply(res.Plain)
	if err != nil {
		return planner.Reply{}, fmt.Errorf("exec backend returned no reply: %w", err)
	}
	return reply, nil
}
