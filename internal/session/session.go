package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"workbench/internal/action"
	"workbench/internal/chat"
	"workbench/internal/dispatch"
	"workbench/internal/executor"
	"workbench/internal/i18n"
	"workbench/internal/planner"
	"workbench/internal/ring"
	"workbench/internal/runstate"
	"workbench/internal/storage"
	"workbench/internal/tooling"
)

// AuditMemoryLimit is the in-memory audit cap; storage keeps fewer.
const AuditMemoryLimit = 50

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("session is busy")
	ErrNotPending   = errors.New("action is not pending")
	ErrNoPriorInput = errors.New("no prior user input")
)

// Dispatcher starts one chat exchange; see dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, req planner.Request, preferMCP bool) *dispatch.Run
}

// Executor applies approved proposals; see executor.Executor.
type Executor interface {
	Execute(ctx context.Context, batchID string, proposals []action.Proposal, onProgress func(executor.Progress)) []executor.Outcome
}

type CapabilitySource interface {
	Capabilities() tooling.Capabilities
}

type Options struct {
	Dispatcher   Dispatcher
	Executor     Executor
	Store        storage.Store
	Capabilities CapabilitySource
	// Settings seeds the session when the store has none.
	Settings chat.Settings
	Now      func() time.Time
	Logger   *log.Logger
}

// Session 会话管理：消息、设置、待审批动作、审计日志与当前运行
// Session owns the conversation, settings, pending proposals, audit log and
// the active runs. At most one send and, independently, at most one
// execution are in flight.
type Session struct {
	dispatcher Dispatcher
	executor   Executor
	store      storage.Store
	caps       CapabilitySource
	now        func() time.Time
	logger     *log.Logger
	hub        *hub

	mu        sync.Mutex
	messages  []chat.Message
	settings  chat.Settings
	pending   []action.Proposal
	audit     *ring.Buffer[executor.AuditRecord]
	run       *runstate.Machine
	execRun   *runstate.Machine
	sending   bool
	executing bool
}

// State is a point-in-time copy of the whole session.
type State struct {
	Messages     []chat.Message         `json:"messages"`
	Settings     chat.Settings          `json:"settings"`
	Run          *runstate.RunState     `json:"run,omitempty"`
	ExecutionRun *runstate.RunState     `json:"executionRun,omitempty"`
	Pending      []action.Proposal      `json:"pending"`
	Audit        []executor.AuditRecord `json:"audit"`
	Sending      bool                   `json:"isSending"`
	Executing    bool                   `json:"isExecuting"`
}

// SendResult is the outcome of a completed exchange.
type SendResult struct {
	RequestID string            `json:"requestId"`
	Reply     string            `json:"reply"`
	Actions   []action.Proposal `json:"actions"`
	Run       runstate.RunState `json:"run"`
}

type ExecResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type BatchResult struct {
	Success bool                   `json:"success"`
	BatchID string                 `json:"batchId"`
	Message string                 `json:"message"`
	Records []executor.AuditRecord `json:"records"`
}

// New restores persisted settings, messages and audit records from
// opts.Store, seeding a greeting when there is no history.
func New(opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Session{
		dispatcher: opts.Dispatcher,
		executor:   opts.Executor,
		store:      opts.Store,
		caps:       opts.Capabilities,
		now:        now,
		logger:     logger.With("component", "session"),
		hub:        newHub(),
		settings:   opts.Settings,
		audit:      ring.New[executor.AuditRecord](AuditMemoryLimit),
	}
	if s.store == nil {
		s.messages = []chat.Message{s.greeting()}
		return s, nil
	}

	settings, ok, err := s.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	if ok {
		s.settings = settings
	} else if err := s.store.SaveSettings(s.settings); err != nil {
		return nil, err
	}
	messages, err := s.store.LoadMessages()
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		messages = []chat.Message{s.greeting()}
	}
	s.messages = messages
	records, err := s.store.LoadAudit()
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		s.audit.Push(records[i])
	}
	return s, nil
}

func (s *Session) greeting() chat.Message {
	return chat.NewMessage(chat.RoleAssistant, i18n.T("session.greeting"), s.now())
}

// Subscribe returns a stream of updates and a function that ends it.
func (s *Session) Subscribe() (<-chan Update, func()) {
	return s.hub.subscribe()
}

func (s *Session) publish(kind UpdateKind, run *runstate.RunState) {
	s.hub.publish(Update{Kind: kind, Run: run, At: s.now().UTC()})
}

// --- Conversation ---

// SendMessage appends content as a user message and runs one exchange. It
// blocks until the run is terminal. A dispatch failure still returns the
// run alongside the error; the session has already recorded an apology.
func (s *Session) SendMessage(ctx context.Context, content string) (SendResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return SendResult{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return SendResult{}, ErrBusy
	}
	s.sending = true
	requestID := "req_" + uuid.NewString()
	machine := runstate.NewMachine(requestID, s.now)
	s.run = machine
	s.messages = appendMessage(s.messages, chat.NewMessage(chat.RoleUser, content, s.now()))
	history := append([]chat.Message(nil), s.messages...)
	settings := s.settings
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
		s.publish(UpdateState, nil)
	}()
	s.persistMessages()
	initial := machine.Snapshot()
	s.publish(UpdateRun, &initial)

	req := planner.Request{RequestID: requestID, Messages: history, Provider: settings.Provider}
	if s.caps != nil {
		req.Capabilities = s.caps.Capabilities()
	}
	if s.dispatcher == nil {
		return s.failRun(machine, &dispatch.Error{Channel: "none", Err: dispatch.ErrChannelUnavailable})
	}

	run := s.dispatcher.Dispatch(ctx, req, settings.PreferMCP)
	if err := machine.Drain(ctx, run.Events(), func(st runstate.RunState) {
		s.publish(UpdateRun, &st)
	}); err != nil {
		s.logger.Debug("stopped draining run events", "request_id", requestID, "error", err)
	}
	reply, err := run.Wait()
	if err != nil {
		return s.failRun(machine, err)
	}
	machine.Finish(runstate.Event(machine.RequestID(), runstate.StageCompleted, i18n.T("stage.completed"), nil))

	proposals := uniqueByID(reply.Actions)
	s.mu.Lock()
	s.messages = appendMessage(s.messages, chat.NewMessage(chat.RoleAssistant, reply.Reply, s.now()))
	s.pending = proposals
	s.mu.Unlock()
	s.persistMessages()

	final := machine.Snapshot()
	s.publish(UpdateRun, &final)
	s.logger.Info("run completed", "request_id", final.RequestID, "actions", len(proposals), "status", final.Status)
	return SendResult{
		RequestID: final.RequestID,
		Reply:     reply.Reply,
		Actions:   append([]action.Proposal(nil), proposals...),
		Run:       final,
	}, nil
}

// failRun ends the run in a retryable error and appends one apology.
func (s *Session) failRun(machine *runstate.Machine, cause error) (SendResult, error) {
	reason := cause.Error()
	machine.Finish(runstate.Event(machine.RequestID(), runstate.StageError, reason,
		&runstate.EventMeta{Reason: runstate.String(reason), Retryable: runstate.Bool(true)}))

	s.mu.Lock()
	s.messages = appendMessage(s.messages, chat.NewMessage(chat.RoleAssistant, i18n.T("session.dispatch_failed", reason), s.now()))
	s.mu.Unlock()
	s.persistMessages()

	final := machine.Snapshot()
	s.publish(UpdateRun, &final)
	s.logger.Warn("run failed", "request_id", final.RequestID, "error", cause)
	return SendResult{RequestID: final.RequestID, Run: final}, cause
}

// RetryLastMessage resends the most recent user input verbatim.
func (s *Session) RetryLastMessage(ctx context.Context) (SendResult, error) {
	s.mu.Lock()
	busy := s.sending
	last, ok := chat.LatestUser(s.messages)
	s.mu.Unlock()
	if busy {
		return SendResult{}, ErrBusy
	}
	if !ok {
		return SendResult{}, ErrNoPriorInput
	}
	return s.SendMessage(ctx, last)
}

// ClearSession resets the conversation to the greeting and drops pending
// proposals and the chat run. The audit log is kept.
func (s *Session) ClearSession() error {
	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return ErrBusy
	}
	s.messages = []chat.Message{s.greeting()}
	s.pending = nil
	s.run = nil
	s.mu.Unlock()

	s.persistMessages()
	s.publish(UpdateState, nil)
	return nil
}

// --- Settings ---

func (s *Session) Settings() chat.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings merges p into the settings. Runs and proposals are untouched.
func (s *Session) UpdateSettings(p chat.SettingsPatch) chat.Settings {
	s.mu.Lock()
	s.settings = s.settings.Merge(p)
	out := s.settings
	s.mu.Unlock()
	s.persistSettings(out)
	s.publish(UpdateState, nil)
	return out
}

func (s *Session) UpdateReminderConfig(p chat.ReminderPatch) chat.ReminderConfig {
	return s.UpdateSettings(chat.SettingsPatch{Reminder: &p}).Reminder
}

// --- Approval gate ---

// Pending returns the proposals awaiting approval.
func (s *Session) Pending() []action.Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]action.Proposal(nil), s.pending...)
}

// DismissAction removes id from the pending set without executing it. It
// reports whether the proposal was pending.
func (s *Session) DismissAction(id string) bool {
	s.mu.Lock()
	next, removed := without(s.pending, id)
	if removed {
		s.pending = next
	}
	s.mu.Unlock()
	if removed {
		s.publish(UpdateState, nil)
	}
	return removed
}

// ExecuteAction executes one pending proposal in its own batch.
func (s *Session) ExecuteAction(ctx context.Context, id string) (ExecResult, error) {
	res, outcomes, err := s.execute(ctx, []string{id})
	if err != nil {
		return ExecResult{}, err
	}
	out := ExecResult{Success: res.Success, Message: res.Message}
	if len(outcomes) == 1 {
		out.Message = outcomes[0].Message
	}
	return out, nil
}

// ExecuteBatch executes the pending proposals named by ids, in order, under
// one batch id. Ids that are not pending are skipped; ErrNotPending is
// returned only when none of them is.
func (s *Session) ExecuteBatch(ctx context.Context, ids []string) (BatchResult, error) {
	res, _, err := s.execute(ctx, ids)
	return res, err
}

// Audit returns the in-memory audit log, newest first.
func (s *Session) Audit() []executor.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audit.Newest(0)
}

// Run returns the current chat run, if any.
func (s *Session) Run() (runstate.RunState, bool) {
	s.mu.Lock()
	m := s.run
	s.mu.Unlock()
	if m == nil {
		return runstate.RunState{}, false
	}
	return m.Snapshot(), true
}

func (s *Session) ExecutionRun() (runstate.RunState, bool) {
	s.mu.Lock()
	m := s.execRun
	s.mu.Unlock()
	if m == nil {
		return runstate.RunState{}, false
	}
	return m.Snapshot(), true
}

func (s *Session) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.messages...)
}

func (s *Session) State() State {
	s.mu.Lock()
	st := State{
		Messages:  append([]chat.Message(nil), s.messages...),
		Settings:  s.settings,
		Pending:   append([]action.Proposal(nil), s.pending...),
		Audit:     s.audit.Newest(0),
		Sending:   s.sending,
		Executing: s.executing,
	}
	run, execRun := s.run, s.execRun
	s.mu.Unlock()
	if run != nil {
		snap := run.Snapshot()
		st.Run = &snap
	}
	if execRun != nil {
		snap := execRun.Snapshot()
		st.ExecutionRun = &snap
	}
	return st
}

// --- Persistence ---

func (s *Session) persistMessages() {
	if s.store == nil {
		return
	}
	if err := s.store.SaveMessages(s.Messages()); err != nil {
		s.logger.Warn("persist messages failed", "error", err)
	}
}

func (s *Session) persistSettings(settings chat.Settings) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSettings(settings); err != nil {
		s.logger.Warn("persist settings failed", "error", err)
	}
}

func (s *Session) persistAudit() {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	records := s.audit.Newest(storage.AuditLimit)
	s.mu.Unlock()
	if err := s.store.SaveAudit(records); err != nil {
		s.logger.Warn("persist audit failed", "error", err)
	}
}

// appendMessage returns a new slice; readers holding the old one are unaffected.
func appendMessage(messages []chat.Message, msg chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(messages)+1)
	out = append(out, messages...)
	return append(out, msg)
}

func uniqueByID(proposals []action.Proposal) []action.Proposal {
	seen := make(map[string]bool, len(proposals))
	out := make([]action.Proposal, 0, len(proposals))
	for _, p := range proposals {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

func without(proposals []action.Proposal, id string) ([]action.Proposal, bool) {
	for i, p := range proposals {
		if p.ID != id {
			continue
		}
		out := make([]action.Proposal, 0, len(proposals)-1)
		out = append(out, proposals[:i]...)
		return append(out, proposals[i+1:]...), true
	}
	return proposals, false
}
