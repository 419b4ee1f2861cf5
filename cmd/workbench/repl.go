package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	charmLog "github.com/charmbracelet/log"
	"github.com/chzyer/readline"

	"workbench/internal/action"
	"workbench/internal/api"
	"workbench/internal/chat"
	"workbench/internal/config"
	"workbench/internal/i18n"
	"workbench/internal/runstate"
	"workbench/internal/session"
	"workbench/internal/tooling"
	"workbench/internal/tui"
)

type replCommand struct {
	name  string
	usage string
	help  string
}

var replCommands = []replCommand{
	{"/approve", "/approve <id>|all", "cmd.approve"},
	{"/dismiss", "/dismiss <id>", "cmd.dismiss"},
	{"/pending", "/pending", "cmd.pending"},
	{"/audit", "/audit", "cmd.audit"},
	{"/retry", "/retry", "cmd.retry"},
	{"/clear", "/clear", "cmd.clear"},
	{"/prefer", "/prefer mcp|exec", "cmd.prefer"},
	{"/status", "/status", "cmd.status"},
	{"/tooling", "/tooling", "cmd.tooling"},
	{"/reload", "/reload", "cmd.reload"},
	{"/commands", "/commands", "cmd.commands"},
	{"/skills", "/skills", "cmd.skills"},
	{"/help", "/help", "cmd.help"},
	{"/exit", "/exit", "cmd.exit"},
}

// followGrace is how long the progress view may keep drawing after the work
// itself returned, so the terminal snapshot gets rendered.
const followGrace = 200 * time.Millisecond

type repl struct {
	session  *session.Session
	tooling  *tooling.Registry
	prober   api.Prober
	in       lineInput
	out      io.Writer
	theme    tui.Theme
	width    int
	progress bool

	// background is closed when work the user stopped waiting for ends.
	background <-chan struct{}
}

func runREPL(ctx context.Context, cfg config.Config, opts replCmd, logger *charmLog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	in, err := newLineInput(filepath.Join(cfg.Storage.BaseDir, "repl.history"))
	if err != nil {
		logger.Warn("readline unavailable, using plain input", "error", err)
	}
	defer in.Close()

	tty := readline.IsTerminal(int(os.Stdout.Fd()))
	width := 100
	if tty {
		if w := readline.GetScreenWidth(); w > 20 {
			width = w
		}
	}
	r := &repl{
		session:  a.session,
		tooling:  a.tooling,
		prober:   a.dispatcher,
		in:       in,
		out:      os.Stdout,
		theme:    tui.DarkTheme(),
		width:    width,
		progress: tty && !opts.NoProgress,
	}
	return r.loop(ctx)
}

func (r *repl) loop(ctx context.Context) error {
	fmt.Fprintln(r.out, r.theme.TitleStyle.Render(i18n.T("repl.welcome")))
	if pending := r.session.Pending(); len(pending) > 0 {
		fmt.Fprintln(r.out, tui.RenderProposals(pending, r.theme))
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		r.reportBackground()
		line, err := r.in.ReadLine("> ")
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if r.command(ctx, input) {
				return nil
			}
			continue
		}
		r.send(ctx, input)
	}
}

// command runs one slash command. It reports true when the REPL should exit.
func (r *repl) command(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false
	}
	switch parts[0] {
	case "/exit", "/quit":
		return true
	case "/help":
		r.printHelp()
	case "/approve":
		if len(parts) < 2 {
			r.usage("/approve")
			return false
		}
		if parts[1] == "all" {
			r.approveAll(ctx)
			return false
		}
		r.approve(ctx, parts[1])
	case "/dismiss":
		if len(parts) < 2 {
			r.usage("/dismiss")
			return false
		}
		if !r.session.DismissAction(parts[1]) {
			r.fail(session.ErrNotPending)
			return false
		}
		fmt.Fprintln(r.out, tui.RenderProposals(r.session.Pending(), r.theme))
	case "/pending":
		fmt.Fprintln(r.out, tui.RenderProposals(r.session.Pending(), r.theme))
	case "/audit":
		fmt.Fprintln(r.out, tui.RenderAudit(r.session.Audit(), r.theme))
	case "/retry":
		r.track(ctx, session.UpdateRun, func(ctx context.Context, w *repl) {
			res, err := w.session.RetryLastMessage(ctx)
			if errors.Is(err, session.ErrNoPriorInput) {
				fmt.Fprintln(w.out, w.theme.MutedStyle.Render(i18n.T("session.nothing_to_retry")))
				return
			}
			w.printReply(res, err)
		})
	case "/clear":
		if err := r.session.ClearSession(); err != nil {
			r.fail(err)
			return false
		}
		fmt.Fprintln(r.out, r.theme.SuccessStyle.Render(i18n.T("repl.cleared")))
	case "/prefer":
		if len(parts) < 2 || (parts[1] != "mcp" && parts[1] != "exec") {
			r.usage("/prefer")
			return false
		}
		preferMCP := parts[1] == "mcp"
		r.session.UpdateSettings(chat.SettingsPatch{PreferMCP: &preferMCP})
		fmt.Fprintln(r.out, i18n.T("repl.prefer", parts[1]))
	case "/status":
		r.printStatus(ctx)
	case "/tooling":
		fmt.Fprintln(r.out, tui.RenderTooling(r.tooling.Config(), r.theme))
	case "/reload":
		counts, err := r.tooling.Reload()
		if err != nil {
			r.fail(err)
			return false
		}
		fmt.Fprintln(r.out, i18n.T("repl.reloaded", counts.MCPServers, counts.Skills, counts.Commands))
	case "/commands":
		fmt.Fprintln(r.out, tui.RenderCommands(r.tooling.Commands(), r.theme))
	case "/skills":
		fmt.Fprintln(r.out, tui.RenderSkills(r.tooling.Config().Skills, r.theme))
	default:
		r.toolingCommand(ctx, parts[0], strings.TrimSpace(strings.TrimPrefix(input, parts[0])))
	}
	return false
}

// toolingCommand expands a user-defined command. Insert mode puts the body
// on the next prompt for editing; execute mode sends it right away.
func (r *repl) toolingCommand(ctx context.Context, name, args string) {
	cmd, ok := r.lookupCommand(name)
	if !ok {
		fmt.Fprintln(r.out, r.theme.WarningStyle.Render(i18n.T("repl.unknown_cmd", name)))
		return
	}
	text := expandCommand(cmd, args)
	if cmd.Mode == tooling.ModeExecute {
		r.send(ctx, text)
		return
	}
	r.in.Prefill(text)
}

func (r *repl) lookupCommand(name string) (tooling.Command, bool) {
	if r.tooling == nil {
		return tooling.Command{}, false
	}
	cmd, ok := r.tooling.Command(strings.TrimPrefix(name, "/"))
	if !ok || !cmd.Enabled {
		return tooling.Command{}, false
	}
	return cmd, true
}

func expandCommand(cmd tooling.Command, args string) string {
	body := strings.TrimSpace(cmd.Body)
	if args == "" {
		return body
	}
	return body + "\n\n" + args
}

func (r *repl) send(ctx context.Context, text string) {
	r.track(ctx, session.UpdateRun, func(ctx context.Context, w *repl) {
		w.printReply(w.session.SendMessage(ctx, text))
	})
}

func (r *repl) printReply(res session.SendResult, err error) {
	if err != nil {
		if errors.Is(err, session.ErrBusy) || errors.Is(err, session.ErrEmptyMessage) {
			r.fail(err)
			return
		}
		r.printRun(res.Run)
		fmt.Fprintln(r.out, r.theme.ErrorStyle.Render(i18n.T("session.dispatch_failed", err.Error())))
		return
	}
	r.printRun(res.Run)
	if reply := tui.RenderMarkdown(res.Reply, r.width); reply != "" {
		fmt.Fprintln(r.out, reply)
	}
	if len(res.Actions) > 0 {
		fmt.Fprintln(r.out, tui.RenderProposals(r.session.Pending(), r.theme))
	}
}

func (r *repl) approve(ctx context.Context, id string) {
	p, ok := findProposal(r.session.Pending(), id)
	if !ok {
		r.fail(session.ErrNotPending)
		return
	}
	answer, err := r.in.ReadLine(i18n.T("repl.confirm", p.Title, p.Type))
	if err != nil || !confirmed(answer) {
		fmt.Fprintln(r.out, r.theme.MutedStyle.Render(i18n.T("repl.cancelled")))
		return
	}
	r.track(ctx, session.UpdateExecution, func(ctx context.Context, w *repl) {
		res, err := w.session.ExecuteAction(ctx, id)
		if err != nil {
			w.fail(err)
			return
		}
		w.printExecution()
		style := w.theme.SuccessStyle
		if !res.Success {
			style = w.theme.ErrorStyle
		}
		fmt.Fprintln(w.out, style.Render(res.Message))
	})
}

func (r *repl) approveAll(ctx context.Context) {
	pending := r.session.Pending()
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	r.track(ctx, session.UpdateExecution, func(ctx context.Context, w *repl) {
		res, err := w.session.ExecuteBatch(ctx, ids)
		if err != nil {
			w.fail(err)
			return
		}
		w.printExecution()
		style := w.theme.SuccessStyle
		if !res.Success {
			style = w.theme.ErrorStyle
		}
		head := res.Message
		if res.BatchID != "" {
			head = i18n.T("tui.batch", res.BatchID) + "  " + head
		}
		fmt.Fprintln(w.out, style.Render(head))
		for _, rec := range res.Records {
			if !rec.Success {
				fmt.Fprintln(w.out, w.theme.ErrorStyle.Render("  "+i18n.T("tui.action_failed", rec.ActionID, rec.Error)))
			}
		}
	})
}

func findProposal(pending []action.Proposal, id string) (action.Proposal, bool) {
	for _, p := range pending {
		if p.ID == id {
			return p, true
		}
	}
	return action.Proposal{}, false
}

func confirmed(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// track runs work while the progress view follows the run of kind. work
// prints through w, whose output is shown once the view is gone. When the
// user stops waiting, work keeps running and is reported before a later prompt.
func (r *repl) track(ctx context.Context, kind session.UpdateKind, work func(ctx context.Context, w *repl)) {
	if !r.progress {
		work(ctx, r)
		return
	}
	updates, cancel := r.session.Subscribe()
	defer cancel()

	done := make(chan struct{})
	followCtx, stop := context.WithCancel(ctx)
	defer stop()

	var output strings.Builder
	w := *r
	w.out = &output
	go func() {
		defer close(done)
		work(ctx, &w)
	}()
	go func() {
		select {
		case <-done:
			select {
			case <-time.After(followGrace):
				stop()
			case <-followCtx.Done():
			}
		case <-followCtx.Done():
		}
	}()

	view, err := tui.Follow(followCtx, updates, kind, initialRun(kind), nil, r.out)
	if view.Detached() || errors.Is(err, tea.ErrInterrupted) {
		r.background = done
		fmt.Fprintln(r.out, r.theme.MutedStyle.Render(i18n.T("repl.detached")))
		return
	}
	<-done
	fmt.Fprint(r.out, output.String())
}

// reportBackground prints the run state once detached work has finished.
func (r *repl) reportBackground() {
	if r.background == nil {
		return
	}
	select {
	case <-r.background:
	default:
		return
	}
	r.background = nil
	fmt.Fprintln(r.out, r.theme.MutedStyle.Render(i18n.T("repl.background_done")))
	r.printStatusRuns()
	if pending := r.session.Pending(); len(pending) > 0 {
		fmt.Fprintln(r.out, tui.RenderProposals(pending, r.theme))
	}
}

func initialRun(kind session.UpdateKind) runstate.RunState {
	if kind == session.UpdateExecution {
		return runstate.RunState{Status: runstate.StatusRunning, Stage: runstate.StageExecuting, Percent: 60}
	}
	return runstate.RunState{
		Status:  runstate.StatusRunning,
		Stage:   runstate.StageRuntimeDetect,
		Percent: 10,
		Message: i18n.T("stage.runtime_detect"),
	}
}

// printRun shows the final run line unless the progress view already did.
func (r *repl) printRun(run runstate.RunState) {
	if run.RequestID == "" || r.progress {
		return
	}
	fmt.Fprintln(r.out, tui.RenderRunLine(run, r.theme))
}

func (r *repl) printExecution() {
	if run, ok := r.session.ExecutionRun(); ok {
		r.printRun(run)
	}
}

func (r *repl) printStatus(ctx context.Context) {
	if r.prober != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		health := r.prober.Probe(probeCtx)
		cancel()
		fmt.Fprintln(r.out, tui.RenderHealth(health, r.theme))
	}
	channel := "exec"
	if r.session.Settings().PreferMCP {
		channel = "mcp"
	}
	fmt.Fprintln(r.out, i18n.T("repl.prefer", channel))
	r.printStatusRuns()
}

func (r *repl) printStatusRuns() {
	run, _ := r.session.Run()
	fmt.Fprintln(r.out, tui.RenderRunLine(run, r.theme))
	if exec, ok := r.session.ExecutionRun(); ok {
		fmt.Fprintln(r.out, tui.RenderRunLine(exec, r.theme))
	}
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, r.theme.TitleStyle.Render("commands:"))
	for _, c := range replCommands {
		fmt.Fprintf(r.out, "  %-20s %s\n", c.usage, r.theme.MutedStyle.Render(i18n.T(c.help)))
	}
	if r.tooling == nil {
		return
	}
	for _, c := range r.tooling.Commands() {
		if !c.Enabled {
			continue
		}
		fmt.Fprintf(r.out, "  %-20s %s\n", "/"+c.Slug, r.theme.MutedStyle.Render(c.Title))
	}
}

func (r *repl) usage(name string) {
	for _, c := range replCommands {
		if c.name == name {
			fmt.Fprintln(r.out, r.theme.WarningStyle.Render(i18n.T("repl.usage", c.usage)))
			return
		}
	}
}

func (r *repl) fail(err error) {
	fmt.Fprintln(r.out, r.theme.ErrorStyle.Render(err.Error()))
}
