package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"workbench/internal/runstate"
	"workbench/internal/session"
)

func running(percent int, msg string) runstate.RunState {
	return runstate.RunState{RequestID: "req_1", Status: runstate.StatusRunning, Stage: runstate.StagePlanning, Percent: percent, Message: msg}
}

func TestRunViewFollowsUntilTerminal(t *testing.T) {
	updates := make(chan session.Update, 4)
	v := NewRunView(updates, session.UpdateRun, running(10, "Detecting runtime"))
	if v.Init() == nil {
		t.Fatal("Init should start the spinner and the subscription")
	}

	m, cmd := v.Update(RunUpdateMsg{Run: running(60, "Planning")})
	v = m.(RunView)
	if cmd == nil || v.Run().Percent != 60 {
		t.Fatalf("expected another wait, run=%+v", v.Run())
	}
	if view := v.View(); !strings.Contains(view, "Planning") {
		t.Fatalf("view=%q", view)
	}

	final := running(100, "Completed")
	final.Status = runstate.StatusCompleted
	m, cmd = v.Update(RunUpdateMsg{Run: final})
	v = m.(RunView)
	if cmd == nil {
		t.Fatal("expected quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("terminal run should quit the view")
	}
	if v.Detached() || !strings.Contains(v.View(), "completed") {
		t.Fatalf("final view=%q", v.View())
	}
}

func TestWaitForRunSkipsOtherKinds(t *testing.T) {
	updates := make(chan session.Update, 4)
	exec := running(70, "Executing 0/2")
	chat := running(60, "Planning")
	updates <- session.Update{Kind: session.UpdateState}
	updates <- session.Update{Kind: session.UpdateExecution, Run: &exec}
	updates <- session.Update{Kind: session.UpdateRun, Run: &chat}

	msg := waitForRun(updates, session.UpdateRun)()
	got, ok := msg.(RunUpdateMsg)
	if !ok || got.Run.Message != "Planning" {
		t.Fatalf("msg=%#v", msg)
	}

	close(updates)
	if _, ok := waitForRun(updates, session.UpdateRun)().(UpdatesClosedMsg); !ok {
		t.Fatal("closed subscription should end the wait")
	}
}

func TestRunViewDetach(t *testing.T) {
	v := NewRunView(make(chan session.Update), session.UpdateRun, running(20, "Connecting"))
	m, cmd := v.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	v = m.(RunView)
	if !v.Detached() || cmd == nil {
		t.Fatal("ctrl+c should detach")
	}
}

func TestRunViewAlreadyTerminal(t *testing.T) {
	done := running(100, "Completed")
	done.Status = runstate.StatusCompleted
	v := NewRunView(nil, session.UpdateRun, done)
	if _, ok := v.Init()().(tea.QuitMsg); !ok {
		t.Fatal("a terminal run needs no view")
	}
}
