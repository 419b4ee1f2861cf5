package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"workbench/internal/action"
	"workbench/internal/chat"
	"workbench/internal/i18n"
)

// LocalPlanner 本地建议模式：不调用模型，只基于快照生成回复
// LocalPlanner answers without a model, summarising the current snapshot
// and proposing a query.snapshot action.
type LocalPlanner struct {
	snapshots SnapshotSource
	now       func() time.Time
}

func NewLocalPlanner(snapshots SnapshotSource, now func() time.Time) *LocalPlanner {
	if now == nil {
		now = time.Now
	}
	return &LocalPlanner{snapshots: snapshots, now: now}
}

func (p *LocalPlanner) Plan(ctx context.Context, req Request) (Reply, error) {
	return p.PlanDegraded(ctx, req, nil)
}

// PlanDegraded is Plan with the model failure that caused the fallback.
// A snapshot read error is not fatal; the counts are reported as zero.
func (p *LocalPlanner) PlanDegraded(ctx context.Context, req Request, cause error) (Reply, error) {
	latest, ok := chat.LatestUser(req.Messages)
	if !ok {
		latest = i18n.T("planner.default_input")
	}

	var pending, events int
	if p.snapshots != nil {
		if snap, err := p.snapshots.Snapshot(ctx, today(p.now)); err == nil {
			pending = len(snap.PendingTodos)
			events = len(snap.TodayEvents)
		}
	}

	text := i18n.T("planner.local_reply", latest, pending, events)
	reply := Reply{}
	if cause != nil {
		text += i18n.T("planner.local_degraded", cause.Error())
		reply.Degraded = cause.Error()
	}
	reply.Reply = text
	reply.Actions = []action.Proposal{{
		ID:               fmt.Sprintf("snapshot-%d", p.now().UnixMilli()),
		Type:             action.TypeQuerySnapshot,
		Title:            i18n.T("planner.snapshot_title"),
		Reason:           i18n.T("planner.snapshot_reason"),
		Payload:          json.RawMessage("{}"),
		RequiresApproval: true,
	}}
	return reply, nil
}
