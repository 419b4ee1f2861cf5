package tui

import (
	"context"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"workbench/internal/i18n"
	"workbench/internal/runstate"
	"workbench/internal/session"
)

// recentEvents is how many stage messages the view keeps on screen.
const recentEvents = 4

// --- Tea Messages ---

// RunUpdateMsg carries a new snapshot of the followed run.
type RunUpdateMsg struct{ Run runstate.RunState }

// UpdatesClosedMsg means the subscription ended.
type UpdatesClosedMsg struct{}

// RunView 运行进度视图：spinner + 进度条 + 最近阶段消息
// RunView follows one kind of run (chat or execution) from a session
// subscription and quits once it is terminal.
type RunView struct {
	kind    session.UpdateKind
	updates <-chan session.Update

	spinner spinner.Model
	bar     progress.Model
	theme   Theme
	keys    KeyMap

	run      runstate.RunState
	done     bool
	detached bool
}

func NewRunView(updates <-chan session.Update, kind session.UpdateKind, initial runstate.RunState) RunView {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	theme := DarkTheme()
	sp.Style = theme.StatusStyle
	return RunView{
		kind:    kind,
		updates: updates,
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		theme:   theme,
		keys:    DefaultKeyMap(),
		run:     initial,
		done:    initial.Terminal(),
	}
}

// Run is the last snapshot the view saw.
func (v RunView) Run() runstate.RunState { return v.run }

// Detached reports whether the user stopped waiting before the run ended.
func (v RunView) Detached() bool { return v.detached }

func (v RunView) Init() tea.Cmd {
	if v.done {
		return tea.Quit
	}
	return tea.Batch(v.spinner.Tick, waitForRun(v.updates, v.kind))
}

// waitForRun blocks until the next update of kind, skipping the others.
func waitForRun(updates <-chan session.Update, kind session.UpdateKind) tea.Cmd {
	return func() tea.Msg {
		for u := range updates {
			if u.Kind == kind && u.Run != nil {
				return RunUpdateMsg{Run: *u.Run}
			}
		}
		return UpdatesClosedMsg{}
	}
}

func (v RunView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, v.keys.Detach) {
			v.detached = true
			return v, tea.Quit
		}
	case tea.WindowSizeMsg:
		if w := msg.Width - 20; w > 10 && w < 60 {
			v.bar.Width = w
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		v.spinner, cmd = v.spinner.Update(msg)
		return v, cmd
	case RunUpdateMsg:
		v.run = msg.Run
		if v.run.Terminal() {
			v.done = true
			return v, tea.Quit
		}
		return v, waitForRun(v.updates, v.kind)
	case UpdatesClosedMsg:
		v.done = true
		return v, tea.Quit
	}
	return v, nil
}

func (v RunView) View() string {
	if v.done || v.detached {
		return RenderRunLine(v.run, v.theme) + "\n"
	}
	var b strings.Builder
	b.WriteString(v.spinner.View())
	b.WriteString(" ")
	b.WriteString(v.run.Message)
	b.WriteString("\n")
	events := v.run.Events
	if len(events) > recentEvents {
		events = events[len(events)-recentEvents:]
	}
	for _, ev := range events {
		b.WriteString(v.theme.MutedStyle.Render("  · " + ev.Message))
		b.WriteString("\n")
	}
	b.WriteString(v.bar.ViewAs(float64(v.run.Percent) / 100))
	b.WriteString("  ")
	b.WriteString(v.theme.MutedStyle.Render(i18n.T("tui.detach")))
	b.WriteString("\n")
	return b.String()
}

// Follow renders a RunView on out until the run is terminal, the user
// detaches or ctx is done. It returns the last snapshot seen.
func Follow(ctx context.Context, updates <-chan session.Update, kind session.UpdateKind, initial runstate.RunState, in io.Reader, out io.Writer) (RunView, error) {
	p := tea.NewProgram(NewRunView(updates, kind, initial),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := p.Run()
	if v, ok := final.(RunView); ok {
		return v, err
	}
	return RunView{run: initial}, err
}
