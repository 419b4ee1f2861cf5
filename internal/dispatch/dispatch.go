package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"workbench/internal/i18n"
	"workbench/internal/mcp"
	"workbench/internal/planner"
	"workbench/internal/runstate"
)

// DefaultTimeout bounds one whole exchange, fallback included.
const DefaultTimeout = 120 * time.Second

const eventBuffer = 16

var (
	ErrChannelUnavailable = errors.New("channel unavailable")
	ErrTimeout            = errors.New("request timed out")
)

// Error is a DispatchFailure: the request could not be answered by any channel.
type Error struct {
	Channel string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch via %s: %v", e.Channel, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Channel 后端通道：结构化协议 (MCP) 或进程执行
// Channel carries one chat request to a planning backend. emit may be called
// from any goroutine while Chat is running.
type Channel interface {
	Name() string
	// Available returns nil when the channel can take a request right now.
	Available(ctx context.Context) error
	Chat(ctx context.Context, req planner.Request, emit func(runstate.StreamEvent)) (planner.Reply, error)
}

type Options struct {
	Structured Channel
	Process    Channel
	Timeout    time.Duration
	Logger     *log.Logger
}

// Dispatcher 选择通道并在结构化通道失败时回退到进程通道
// Dispatcher sends a request over the preferred channel and falls back from
// the structured channel to the process channel within the same run.
type Dispatcher struct {
	structured Channel
	process    Channel
	timeout    time.Duration
	logger     *log.Logger
}

func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		structured: opts.Structured,
		process:    opts.Process,
		timeout:    timeout,
		logger:     logger.With("component", "dispatch"),
	}
}

// Timeout is the bound on one whole exchange.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Run is one in-flight dispatch. Its event channel is owned by the
// dispatcher and closed once the exchange is over; callers must drain it.
type Run struct {
	events chan runstate.StreamEvent
	done   chan struct{}
	reply  planner.Reply
	err    error
}

// Events yields stage events in emission order.
func (r *Run) Events() <-chan runstate.StreamEvent { return r.events }

// Wait blocks until the exchange is over.
func (r *Run) Wait() (planner.Reply, error) {
	<-r.done
	return r.reply, r.err
}

// Dispatch starts the exchange in the background. A completed stage event is
// emitted on success; on failure the returned error is a *Error and no
// terminal event is emitted.
func (d *Dispatcher) Dispatch(ctx context.Context, req planner.Request, preferMCP bool) *Run {
	run := &Run{
		events: make(chan runstate.StreamEvent, eventBuffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(run.done)
		defer close(run.events)

		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		em := &emitter{ctx: ctx, ch: run.events, requestID: req.RequestID, logger: d.logger}
		reply, err := d.exchange(ctx, req, preferMCP, em)
		if err != nil {
			run.err = err
			d.logger.Warn("dispatch failed", "request_id", req.RequestID, "error", err)
			return
		}
		run.reply = normalizeReply(reply)
		em.stage(runstate.StageCompleted, i18n.T("stage.completed"))
	}()
	return run
}

func (d *Dispatcher) exchange(ctx context.Context, req planner.Request, preferMCP bool, em *emitter) (planner.Reply, error) {
	if preferMCP && d.structured != nil {
		name := d.structured.Name()
		em.stage(runstate.StageMCPConnect, i18n.T("stage.mcp_connect", name))
		reply, err := d.try(ctx, d.structured, req, em)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return planner.Reply{}, d.wrap(ctx, name, err)
		}
		d.logger.Warn("structured channel failed, falling back", "request_id", req.RequestID, "channel", name, "error", err)
		if d.process == nil {
			return planner.Reply{}, &Error{Channel: name, Err: err}
		}
		em.stage(runstate.StageExecFallback, i18n.T("stage.exec_fallback", d.process.Name()))
	}
	if d.process == nil {
		return planner.Reply{}, &Error{Channel: "exec", Err: ErrChannelUnavailable}
	}
	reply, err := d.try(ctx, d.process, req, em)
	if err != nil {
		return planner.Reply{}, d.wrap(ctx, d.process.Name(), err)
	}
	return reply, nil
}

func (d *Dispatcher) try(ctx context.Context, ch Channel, req planner.Request, em *emitter) (planner.Reply, error) {
	if err := ch.Available(ctx); err != nil {
		return planner.Reply{}, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return ch.Chat(ctx, req, em.forward)
}

func (d *Dispatcher) wrap(ctx context.Context, channel string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Channel: channel, Err: fmt.Errorf("%w after %s", ErrTimeout, d.timeout)}
	}
	return &Error{Channel: channel, Err: err}
}

// emitter forwards events to the run channel. Events are stamped with the
// first id that went out, so a backend that renames the request keeps
// receiving the dispatcher's own stage events under the adopted id.
type emitter struct {
	mu        sync.Mutex
	ctx       context.Context
	ch        chan<- runstate.StreamEvent
	requestID string
	sent      bool
	logger    *log.Logger
}

// forward passes a backend event on. Terminal stages belong to the
// dispatcher: a channel that reports completed or error may still fall back
// or fail afterwards, so those events are dropped here.
func (e *emitter) forward(ev runstate.StreamEvent) {
	if ev.Stage == runstate.StageCompleted || ev.Stage == runstate.StageError {
		if e.logger != nil {
			e.logger.Debug("dropped backend terminal event", "request_id", ev.RequestID, "stage", ev.Stage, "message", ev.Message)
		}
		return
	}
	e.send(ev)
}

func (e *emitter) send(ev runstate.StreamEvent) {
	e.mu.Lock()
	if ev.RequestID == "" {
		ev.RequestID = e.requestID
	}
	if !e.sent {
		e.requestID = ev.RequestID
		e.sent = true
	}
	e.mu.Unlock()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	select {
	case e.ch <- ev:
	case <-e.ctx.Done():
	}
}

func (e *emitter) stage(stage runstate.Stage, message string) {
	e.mu.Lock()
	id := e.requestID
	e.mu.Unlock()
	e.send(runstate.Event(id, stage, message, nil))
}

func normalizeReply(r planner.Reply) planner.Reply {
	r.Reply = strings.TrimSpace(r.Reply)
	if r.Reply == "" {
		r.Reply = i18n.T("planner.default_reply")
	}
	for i := range r.Actions {
		r.Actions[i] = r.Actions[i].Normalize()
	}
	return r
}

// ChannelHealth is one side of a health probe.
type ChannelHealth struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type Health struct {
	Structured ChannelHealth  `json:"structured"`
	Process    ChannelHealth  `json:"process"`
	TimeoutMS  int64          `json:"timeoutMs"`
	Servers    []mcp.Snapshot `json:"servers,omitempty"`
}

// serverLister is implemented by channels backed by managed MCP servers.
type serverLister interface {
	Servers() []mcp.Snapshot
}

// Probe reports whether each channel could currently take a request, along
// with the exchange timeout and the state of any managed MCP servers.
func (d *Dispatcher) Probe(ctx context.Context) Health {
	h := Health{
		Structured: probe(ctx, d.structured, "mcp"),
		Process:    probe(ctx, d.process, "exec"),
		TimeoutMS:  d.Timeout().Milliseconds(),
	}
	if l, ok := d.structured.(serverLister); ok {
		h.Servers = l.Servers()
	}
	return h
}

func probe(ctx context.Context, ch Channel, fallbackName string) ChannelHealth {
	if ch == nil {
		return ChannelHealth{Name: fallbackName, Error: "not configured"}
	}
	h := ChannelHealth{Name: ch.Name()}
	if err := ch.Available(ctx); err != nil {
		h.Error = err.Error()
		return h
	}
	h.Available = true
	return h
}
