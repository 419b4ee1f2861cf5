package planner

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"workbench/internal/action"
	"workbench/internal/chat"
	"workbench/internal/tooling"
	"workbench/internal/workbench"
)

// Request 规划请求，经 MCP 或进程通道传给后端
// Request is what a channel carries to the planning backend.
type Request struct {
	RequestID    string                `json:"requestId"`
	Messages     []chat.Message        `json:"messages"`
	Provider     chat.ProviderSettings `json:"provider"`
	Capabilities tooling.Capabilities  `json:"capabilities"`
}

// Reply 后端回复：文本与待审批动作
// Reply is the assistant text plus proposals awaiting approval.
type Reply struct {
	Reply   string            `json:"reply"`
	Actions []action.Proposal `json:"actions"`
	// Degraded holds the model failure when the local planner answered.
	Degraded string `json:"degraded,omitempty"`
}

type Planner interface {
	Plan(ctx context.Context, req Request) (Reply, error)
}

// SnapshotSource is the read side of the workbench store.
type SnapshotSource interface {
	Snapshot(ctx context.Context, today string) (workbench.Snapshot, error)
}

type fallbackPlanner struct {
	primary Planner
	local   *LocalPlanner
	logger  *log.Logger
}

// WithFallback answers from local whenever primary fails, unless the
// request context itself is done.
func WithFallback(primary Planner, local *LocalPlanner, logger *log.Logger) Planner {
	switch {
	case primary == nil:
		return local
	case local == nil:
		return primary
	}
	if logger == nil {
		logger = log.Default()
	}
	return fallbackPlanner{primary: primary, local: local, logger: logger.With("component", "planner")}
}

func (p fallbackPlanner) Plan(ctx context.Context, req Request) (Reply, error) {
	reply, err := p.primary.Plan(ctx, req)
	if err == nil {
		return reply, nil
	}
	if ctx.Err() != nil {
		return Reply{}, ctx.Err()
	}
	p.logger.Warn("model planner failed, using local planner", "request_id", req.RequestID, "error", err)
	return p.local.PlanDegraded(ctx, req, err)
}

func today(now func() time.Time) string {
	return now().Format("2006-01-02")
}
