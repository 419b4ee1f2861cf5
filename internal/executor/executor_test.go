package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"workbench/internal/action"
	"workbench/internal/i18n"
	"workbench/internal/policy"
	"workbench/internal/workbench"
)

func init() {
	i18n.Init("en")
}

func newStore(t *testing.T) *workbench.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "wb.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := workbench.NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newPolicy(t *testing.T) *policy.Engine {
	t.Helper()
	e, err := policy.Load(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func proposal(id string, typ action.Type, reason, payload string) action.Proposal {
	return action.Proposal{ID: id, Type: typ, Title: id, Reason: reason, Payload: json.RawMessage(payload), RequiresApproval: true}
}

func TestExecuteBatchIsolatesFailures(t *testing.T) {
	store := newStore(t)
	ex := New(Options{Store: store, Policy: newPolicy(t), Now: func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }})

	batch := []action.Proposal{
		proposal("a1", action.TypeTodoCreate, "", `{"title":"买菜"}`),
		proposal("a2", action.TypeTodoUpdate, "", `{"id":"t1"}`),
		proposal("a3", action.TypeTodoDelete, "", `{"id":"t1"}`),
		proposal("a4", "calendar.sync", "", `{}`),
		proposal("a5", action.TypeQuerySnapshot, "", ``),
	}
	var progress []Progress
	outcomes := ex.Execute(context.Background(), "batch_1", batch, func(p Progress) { progress = append(progress, p) })

	if len(outcomes) != len(batch) {
		t.Fatalf("outcomes=%d, want %d", len(outcomes), len(batch))
	}
	wantSuccess := []bool{true, false, false, false, true}
	for i, o := range outcomes {
		if o.Record.BatchID != "batch_1" || o.Record.ActionID != batch[i].ID {
			t.Errorf("record %d=%+v", i, o.Record)
		}
		if o.Record.Success != wantSuccess[i] {
			t.Errorf("record %d success=%v, want %v (error %q)", i, o.Record.Success, wantSuccess[i], o.Record.Error)
		}
		if !o.Record.Success && o.Record.Error == "" {
			t.Errorf("record %d failed without error", i)
		}
	}
	if outcomes[0].Message != "Todo created" || len(outcomes[0].Record.AfterState) == 0 {
		t.Fatalf("first outcome=%+v", outcomes[0])
	}
	if outcomes[1].Record.Error != "todo.update: no fields to update" {
		t.Fatalf("a2 error=%q", outcomes[1].Record.Error)
	}
	if !strings.Contains(outcomes[3].Record.Error, "unsupported action type") {
		t.Fatalf("a4 error=%q", outcomes[3].Record.Error)
	}
	if outcomes[2].Record.Error != ErrBlocked.Error() {
		t.Fatalf("a3 error=%q, want blocked", outcomes[2].Record.Error)
	}
	if string(outcomes[4].Record.Payload) != "{}" {
		t.Fatalf("empty payload should be recorded as {}, got %s", outcomes[4].Record.Payload)
	}

	last := progress[len(progress)-1]
	if len(progress) != 5 || last.Completed != 5 || last.Success != 2 || last.Failed != 3 || last.Total != 5 {
		t.Fatalf("progress=%+v", progress)
	}
}

func TestExecuteCapturesBeforeAndAfter(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	todo, err := store.CreateTodo(ctx, "写周报", "normal")
	if err != nil {
		t.Fatal(err)
	}
	ex := New(Options{Store: store})
	out := ex.Execute(ctx, NewBatchID(), []action.Proposal{
		proposal("u", action.TypeTodoUpdate, "", `{"id":"`+todo.ID+`","completed":true}`),
	}, nil)
	rec := out[0].Record
	if !rec.Success {
		t.Fatalf("update failed: %s", rec.Error)
	}
	var before, after workbench.Todo
	if err := json.Unmarshal(rec.BeforeState, &before); err != nil || before.Completed {
		t.Fatalf("before=%s err=%v", rec.BeforeState, err)
	}
	if err := json.Unmarshal(rec.AfterState, &after); err != nil || !after.Completed {
		t.Fatalf("after=%s err=%v", rec.AfterState, err)
	}
	if !strings.HasPrefix(rec.BatchID, "batch_") || !strings.HasPrefix(rec.ID, "audit_") {
		t.Fatalf("ids=%q %q", rec.BatchID, rec.ID)
	}
}

func TestExecuteMissingTargetFails(t *testing.T) {
	ex := New(Options{Store: newStore(t)})
	out := ex.Execute(context.Background(), "b", []action.Proposal{
		proposal("d", action.TypeEventDelete, "cleanup", `{"id":"nope"}`),
	}, nil)
	rec := out[0].Record
	if rec.Success || rec.BeforeState != nil || !strings.Contains(rec.Error, "not found") {
		t.Fatalf("record=%+v", rec)
	}
}

type brokenPolicy struct{}

func (brokenPolicy) Evaluate(context.Context, policy.Input) (policy.Decision, error) {
	return "", errors.New("rego exploded")
}

func TestPolicyErrorFailsClosed(t *testing.T) {
	store := newStore(t)
	ex := New(Options{Store: store, Policy: brokenPolicy{}})
	out := ex.Execute(context.Background(), "b", []action.Proposal{
		proposal("c", action.TypeTodoCreate, "", `{"title":"x"}`),
	}, nil)
	if out[0].Record.Success || out[0].Record.Error != "blocked by policy" {
		t.Fatalf("record=%+v", out[0].Record)
	}
	snap, err := store.Snapshot(context.Background(), "2026-03-01")
	if err != nil || len(snap.PendingTodos) != 0 {
		t.Fatalf("blocked action must not mutate: %+v err=%v", snap.PendingTodos, err)
	}
}
