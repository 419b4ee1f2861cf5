package runstate

import (
	"context"
	"math"
	"sync"
	"time"

	"workbench/internal/ring"
)

// EventLogLimit is the number of most recent events a run keeps.
const EventLogLimit = 80

// Stage 运行阶段
// Stage is a named point in a run's lifecycle.
type Stage string

const (
	StageRuntimeDetect Stage = "runtime_detect"
	StageMCPConnect    Stage = "mcp_connect"
	StageExecFallback  Stage = "exec_fallback"
	StagePlanning      Stage = "planning"
	StageExecuting     Stage = "executing"
	StageFallback      Stage = "fallback"
	StageCompleted     Stage = "completed"
	StageError         Stage = "error"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusFallback  Status = "fallback"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

var basePercent = map[Stage]int{
	StageRuntimeDetect: 10,
	StageMCPConnect:    20,
	StageExecFallback:  20,
	StagePlanning:      60,
	StageExecuting:     70,
	StageFallback:      90,
	StageCompleted:     100,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	if s == StageError {
		return true
	}
	_, ok := basePercent[s]
	return ok
}

// EventMeta 事件的可选元数据；nil 字段表示不更新
// EventMeta carries optional event metadata. Nil fields leave the run unchanged.
type EventMeta struct {
	Total     *int    `json:"total,omitempty"`
	Completed *int    `json:"completed,omitempty"`
	Success   *int    `json:"success,omitempty"`
	Failed    *int    `json:"failed,omitempty"`
	Reason    *string `json:"reason,omitempty"`
	Retryable *bool   `json:"retryable,omitempty"`
}

// StreamEvent is pushed by a backend channel while a run is in flight.
type StreamEvent struct {
	RequestID string     `json:"requestId"`
	Stage     Stage      `json:"stage"`
	Message   string     `json:"message"`
	Meta      *EventMeta `json:"meta,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type ActionProgress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
}

type RunError struct {
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// RunState 单次请求的运行状态快照
// RunState is an immutable snapshot of one run.
type RunState struct {
	RequestID      string         `json:"requestId"`
	Status         Status         `json:"status"`
	Stage          Stage          `json:"stage"`
	Percent        int            `json:"percent"`
	Message        string         `json:"message"`
	StartedAt      time.Time      `json:"startedAt"`
	EndedAt        *time.Time     `json:"endedAt,omitempty"`
	DurationMS     *int64         `json:"durationMs,omitempty"`
	ActionProgress ActionProgress `json:"actionProgress"`
	Events         []StreamEvent  `json:"events"`
	Error          *RunError      `json:"error,omitempty"`
}

// Active reports whether the run has not reached a terminal status.
func (s RunState) Active() bool {
	return s.Status == StatusRunning || s.Status == StatusFallback
}

func (s RunState) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusError
}

// Machine 将事件流折叠进单个 RunState
// Machine folds a stream of events into a single run. It is safe for
// concurrent use; Apply never blocks on I/O.
type Machine struct {
	mu       sync.Mutex
	state    RunState
	events   *ring.Buffer[StreamEvent]
	applied  int
	fallback bool
	now      func() time.Time
}

// NewMachine starts a run in stage runtime_detect. A nil clock means time.Now.
func NewMachine(requestID string, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{
		state: RunState{
			RequestID: requestID,
			Status:    StatusRunning,
			Stage:     StageRuntimeDetect,
			Percent:   basePercent[StageRuntimeDetect],
			StartedAt: now().UTC(),
		},
		events: ring.New[StreamEvent](EventLogLimit),
		now:    now,
	}
}

// RequestID returns the canonical request id, which may have been adopted
// from the first applied event.
func (m *Machine) RequestID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.RequestID
}

// Apply folds ev into the run and reports whether it was accepted.
//
// An event whose request id differs from the run's is dropped, except for the
// very first event: a run with no applied events adopts that event's id.
// Events arriving after a terminal status and events with an unknown stage
// are dropped as well.
func (m *Machine) Apply(ev StreamEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Terminal() {
		return false
	}
	return m.apply(ev)
}

// Finish ends the run with a completed or error event on behalf of the run's
// owner. Unlike Apply it also overrides a terminal status reached earlier,
// so the owner's outcome is the one the run keeps. Finishing with the status
// the run already has is a no-op.
func (m *Machine) Finish(ev StreamEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var want Status
	switch ev.Stage {
	case StageCompleted:
		want = StatusCompleted
	case StageError:
		want = StatusError
	default:
		return false
	}
	if m.state.Status == want {
		return false
	}
	ev.RequestID = m.state.RequestID
	m.state.Error = nil
	return m.apply(ev)
}

func (m *Machine) apply(ev StreamEvent) bool {
	if !ev.Stage.Valid() {
		return false
	}
	if ev.RequestID != m.state.RequestID {
		if m.applied > 0 || ev.RequestID == "" {
			return false
		}
		m.state.RequestID = ev.RequestID
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now().UTC()
	}

	if ev.Meta != nil {
		applyProgress(&m.state.ActionProgress, ev.Meta)
	}
	m.state.Stage = ev.Stage
	m.state.Message = ev.Message
	m.state.Percent = m.percentFor(ev.Stage)

	switch ev.Stage {
	case StageCompleted:
		m.state.Status = StatusCompleted
		m.finish(ev.CreatedAt)
	case StageError:
		m.state.Status = StatusError
		m.state.Error = errorFrom(ev)
		m.finish(ev.CreatedAt)
	case StageFallback, StageExecFallback:
		m.fallback = true
		m.state.Status = StatusFallback
	default:
		if m.fallback {
			m.state.Status = StatusFallback
		} else {
			m.state.Status = StatusRunning
		}
	}

	m.events.Push(ev)
	m.applied++
	return true
}

func (m *Machine) percentFor(stage Stage) int {
	if stage == StageError {
		return m.state.Percent
	}
	progress := m.state.ActionProgress
	if stage == StageExecuting && progress.Total > 0 {
		ratio := math.Min(1, float64(progress.Completed)/float64(progress.Total))
		return int(math.Round(60 + ratio*35))
	}
	return basePercent[stage]
}

func (m *Machine) finish(at time.Time) {
	ended := at
	if ended.Before(m.state.StartedAt) {
		ended = m.state.StartedAt
	}
	duration := ended.Sub(m.state.StartedAt).Milliseconds()
	m.state.EndedAt = &ended
	m.state.DurationMS = &duration
}

func applyProgress(p *ActionProgress, meta *EventMeta) {
	if meta.Total != nil {
		p.Total = *meta.Total
	}
	if meta.Completed != nil {
		p.Completed = *meta.Completed
	}
	if meta.Success != nil {
		p.Success = *meta.Success
	}
	if meta.Failed != nil {
		p.Failed = *meta.Failed
	}
}

func errorFrom(ev StreamEvent) *RunError {
	out := &RunError{Reason: ev.Message, Retryable: true}
	if ev.Meta == nil {
		return out
	}
	if ev.Meta.Reason != nil && *ev.Meta.Reason != "" {
		out.Reason = *ev.Meta.Reason
	}
	if ev.Meta.Retryable != nil {
		out.Retryable = *ev.Meta.Retryable
	}
	return out
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.state
	out.Events = m.events.Items()
	if out.Error != nil {
		e := *out.Error
		out.Error = &e
	}
	return out
}

// Applied returns how many events have been accepted.
func (m *Machine) Applied() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}

// Drain 阻塞读取事件通道直到关闭或 ctx 取消
// Drain applies events from ch in arrival order until ch is closed or ctx is
// done. onApply, when set, receives a snapshot after every accepted event.
func (m *Machine) Drain(ctx context.Context, ch <-chan StreamEvent, onApply func(RunState)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if m.Apply(ev) && onApply != nil {
				onApply(m.Snapshot())
			}
		}
	}
}

// Event builds a StreamEvent stamped with the current time.
func Event(requestID string, stage Stage, message string, meta *EventMeta) StreamEvent {
	return StreamEvent{
		RequestID: requestID,
		Stage:     stage,
		Message:   message,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}
}

// Int and Bool are helpers for building sparse metadata.
func Int(v int) *int { return &v }

func Bool(v bool) *bool { return &v }

func String(v string) *string { return &v }
