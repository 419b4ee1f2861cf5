package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"workbench/internal/action"
	"workbench/internal/i18n"
	"workbench/internal/policy"
	"workbench/internal/workbench"
)

// ErrBlocked is the audit error for proposals the policy refused.
var ErrBlocked = errors.New("blocked by policy")

// AuditRecord 每个已执行动作的审计记录，写入后不再修改
// AuditRecord is the write-once record of one executed proposal.
type AuditRecord struct {
	ID          string          `json:"id"`
	BatchID     string          `json:"batchId"`
	ActionID    string          `json:"actionId"`
	ActionType  action.Type     `json:"actionType"`
	Payload     json.RawMessage `json:"payload"`
	BeforeState json.RawMessage `json:"beforeState,omitempty"`
	AfterState  json.RawMessage `json:"afterState,omitempty"`
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Outcome pairs a record with the user-facing result message.
type Outcome struct {
	Record  AuditRecord
	Message string
}

// Progress is reported after each action of a batch.
type Progress struct {
	Completed int
	Total     int
	Success   int
	Failed    int
	Last      AuditRecord
}

// Policy decides whether a proposal may run.
type Policy interface {
	Evaluate(ctx context.Context, in policy.Input) (policy.Decision, error)
}

type Options struct {
	Store  workbench.Store
	Policy Policy
	Now    func() time.Time
	Logger *log.Logger
}

// Executor 批量执行器：逐个执行已批准的动作并生成审计记录
// Executor applies approved proposals one at a time against the store. A
// failing action never stops its siblings.
type Executor struct {
	store  workbench.Store
	policy Policy
	now    func() time.Time
	logger *log.Logger
}

func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{store: opts.Store, policy: opts.Policy, now: now, logger: logger.With("component", "executor")}
}

// NewBatchID allocates the id shared by every record of one execute call.
func NewBatchID() string {
	return "batch_" + uuid.NewString()
}

// Execute runs proposals in order under batchID. onProgress, when set, is
// called after every action.
func (e *Executor) Execute(ctx context.Context, batchID string, proposals []action.Proposal, onProgress func(Progress)) []Outcome {
	out := make([]Outcome, 0, len(proposals))
	var p Progress
	p.Total = len(proposals)
	for _, proposal := range proposals {
		o := e.executeOne(ctx, batchID, proposal)
		out = append(out, o)
		p.Completed++
		if o.Record.Success {
			p.Success++
		} else {
			p.Failed++
		}
		p.Last = o.Record
		if onProgress != nil {
			onProgress(p)
		}
	}
	return out
}

func (e *Executor) executeOne(ctx context.Context, batchID string, p action.Proposal) Outcome {
	rec := AuditRecord{
		ID:         "audit_" + uuid.NewString(),
		BatchID:    batchID,
		ActionID:   p.ID,
		ActionType: p.Type,
		Payload:    p.Payload,
		CreatedAt:  e.now().UTC(),
	}
	if len(rec.Payload) == 0 {
		rec.Payload = json.RawMessage("{}")
	}
	fail := func(err error) Outcome {
		rec.Error = err.Error()
		e.logger.Warn("action failed", "batch_id", batchID, "action_id", p.ID, "type", p.Type, "error", err)
		return Outcome{Record: rec, Message: rec.Error}
	}

	act, err := action.Decode(p)
	if err != nil {
		return fail(err)
	}
	if e.policy != nil {
		decision, err := e.policy.Evaluate(ctx, policy.Input{Type: string(p.Type), Title: p.Title, Reason: p.Reason, Payload: rec.Payload})
		if err != nil {
			e.logger.Error("policy evaluation failed", "action_id", p.ID, "error", err)
			return fail(ErrBlocked)
		}
		if decision == policy.Block {
			return fail(ErrBlocked)
		}
	}
	if e.store == nil {
		return fail(errors.New("workbench store is not configured"))
	}

	if before, ok := e.before(ctx, act); ok {
		rec.BeforeState = before
	}
	after, key, err := e.apply(ctx, act)
	if err != nil {
		return fail(err)
	}
	if after != nil {
		raw, err := json.Marshal(after)
		if err == nil {
			rec.AfterState = raw
		}
	}
	rec.Success = true
	e.logger.Info("action executed", "batch_id", batchID, "action_id", p.ID, "type", p.Type)
	return Outcome{Record: rec, Message: i18n.T(key)}
}

// before reads the target of an update or delete. Creates and missing
// targets have no before state.
func (e *Executor) before(ctx context.Context, act action.Action) (json.RawMessage, bool) {
	var (
		v   any
		err error
	)
	switch a := act.(type) {
	case action.UpdateTodo:
		v, err = e.store.Todo(ctx, a.ID)
	case action.DeleteTodo:
		v, err = e.store.Todo(ctx, a.ID)
	case action.UpdateProjectProgress:
		v, err = e.store.Project(ctx, a.ID)
	case action.DeleteProject:
		v, err = e.store.Project(ctx, a.ID)
	case action.UpdateEvent:
		v, err = e.store.Event(ctx, a.ID)
	case action.DeleteEvent:
		v, err = e.store.Event(ctx, a.ID)
	case action.UpdatePersonalTask:
		v, err = e.store.PersonalTask(ctx, a.ID)
	case action.DeletePersonalTask:
		v, err = e.store.PersonalTask(ctx, a.ID)
	default:
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// apply runs the mutation and returns the after state and the i18n key of
// the result message.
func (e *Executor) apply(ctx context.Context, act action.Action) (any, string, error) {
	switch a := act.(type) {
	case action.CreateTodo:
		t, err := e.store.CreateTodo(ctx, a.Title, a.Priority)
		return t, "exec.todo_created", err
	case action.UpdateTodo:
		t, err := e.store.UpdateTodo(ctx, a.ID, workbench.TodoPatch{Title: a.Title, Completed: a.Completed, Priority: a.Priority})
		return t, "exec.todo_updated", err
	case action.DeleteTodo:
		return nil, "exec.todo_deleted", e.store.DeleteTodo(ctx, a.ID)
	case action.CreateProject:
		p, err := e.store.CreateProject(ctx, a.Title, a.Deadline)
		return p, "exec.project_created", err
	case action.UpdateProjectProgress:
		p, err := e.store.UpdateProjectProgress(ctx, a.ID, a.Progress)
		return p, "exec.project_progress", err
	case action.DeleteProject:
		return nil, "exec.project_deleted", e.store.DeleteProject(ctx, a.ID)
	case action.CreateEvent:
		ev, err := e.store.CreateEvent(ctx, workbench.Event{Title: a.Title, Date: a.Date, Color: a.Color, Note: a.Note})
		return ev, "exec.event_created", err
	case action.UpdateEvent:
		ev, err := e.store.UpdateEvent(ctx, a.ID, workbench.EventPatch{Title: a.Title, Date: a.Date, Color: a.Color, Note: a.Note})
		return ev, "exec.event_updated", err
	case action.DeleteEvent:
		return nil, "exec.event_deleted", e.store.DeleteEvent(ctx, a.ID)
	case action.CreatePersonalTask:
		t, err := e.store.CreatePersonalTask(ctx, workbench.PersonalTask{Title: a.Title, Budget: a.Budget, Date: a.Date, Location: a.Location, Note: a.Note})
		return t, "exec.personal_created", err
	case action.UpdatePersonalTask:
		t, err := e.store.UpdatePersonalTask(ctx, a.ID, workbench.PersonalTaskPatch{Title: a.Title, Budget: a.Budget, Date: a.Date, Location: a.Location, Note: a.Note})
		return t, "exec.personal_updated", err
	case action.DeletePersonalTask:
		return nil, "exec.personal_deleted", e.store.DeletePersonalTask(ctx, a.ID)
	case action.QuerySnapshot:
		snap, err := e.store.Snapshot(ctx, e.now().Format("2006-01-02"))
		return snap, "exec.snapshot", err
	default:
		return nil, "", fmt.Errorf("%w: %s", action.ErrUnsupportedType, act.Kind())
	}
}
