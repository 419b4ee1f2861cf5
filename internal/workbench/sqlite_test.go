package workbench

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "workbench.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func strp(s string) *string { return &s }

func TestTodoLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateTodo(ctx, "写周报", "")
	if err != nil {
		t.Fatalf("CreateTodo: %v", err)
	}
	if created.Priority != "normal" || created.Completed {
		t.Fatalf("created=%+v", created)
	}

	done := true
	updated, err := s.UpdateTodo(ctx, created.ID, TodoPatch{Completed: &done, Priority: strp("high")})
	if err != nil {
		t.Fatalf("UpdateTodo: %v", err)
	}
	if !updated.Completed || updated.Priority != "high" || updated.Title != "写周报" {
		t.Fatalf("updated=%+v", updated)
	}

	if err := s.DeleteTodo(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTodo: %v", err)
	}
	if _, err := s.Todo(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Todo after delete err=%v, want ErrNotFound", err)
	}
	if err := s.DeleteTodo(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err=%v, want ErrNotFound", err)
	}
	if _, err := s.UpdateTodo(ctx, "missing", TodoPatch{Title: strp("x")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing err=%v, want ErrNotFound", err)
	}
}

func TestProjectProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx, "官网改版", "2026-04-01")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	got, err := s.UpdateProjectProgress(ctx, p.ID, 60)
	if err != nil {
		t.Fatalf("UpdateProjectProgress: %v", err)
	}
	if got.Progress != 60 || got.Status != "active" || got.Deadline != "2026-04-01" {
		t.Fatalf("project=%+v", got)
	}
}

func TestEventAndPersonalNullableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.CreateEvent(ctx, Event{Title: "站会", Date: "2026-03-01"})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	loaded, err := s.Event(ctx, e.ID)
	if err != nil || loaded.Color != "blue" || loaded.Note != nil {
		t.Fatalf("event=%+v err=%v", loaded, err)
	}
	loaded, err = s.UpdateEvent(ctx, e.ID, EventPatch{Note: strp("带电脑")})
	if err != nil || loaded.Note == nil || *loaded.Note != "带电脑" {
		t.Fatalf("event=%+v err=%v", loaded, err)
	}

	budget := 200.5
	pt, err := s.CreatePersonalTask(ctx, PersonalTask{Title: "买礼物", Budget: &budget})
	if err != nil {
		t.Fatalf("CreatePersonalTask: %v", err)
	}
	got, err := s.PersonalTask(ctx, pt.ID)
	if err != nil || got.Budget == nil || *got.Budget != 200.5 || got.Date != nil {
		t.Fatalf("personal=%+v err=%v", got, err)
	}
	newBudget := 80.0
	got, err = s.UpdatePersonalTask(ctx, pt.ID, PersonalTaskPatch{Budget: &newBudget, Location: strp("商场")})
	if err != nil || *got.Budget != 80 || got.Location == nil || *got.Location != "商场" {
		t.Fatalf("personal=%+v err=%v", got, err)
	}
	if err := s.DeletePersonalTask(ctx, pt.ID); err != nil {
		t.Fatalf("DeletePersonalTask: %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var lastID string
	for i := 0; i < SnapshotTodos+2; i++ {
		todo, err := s.CreateTodo(ctx, "todo", "normal")
		if err != nil {
			t.Fatal(err)
		}
		lastID = todo.ID
	}
	done := true
	first, _ := s.CreateTodo(ctx, "finished", "normal")
	if _, err := s.UpdateTodo(ctx, first.ID, TodoPatch{Completed: &done}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateEvent(ctx, Event{Title: "today", Date: "2026-03-01"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateEvent(ctx, Event{Title: "tomorrow", Date: "2026-03-02"}); err != nil {
		t.Fatal(err)
	}
	archived, _ := s.CreateProject(ctx, "done", "2026-01-01")
	if _, err := s.db.Exec(`UPDATE projects SET status = 'archived' WHERE id = ?`, archived.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateProject(ctx, "live", "2026-05-01"); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Snapshot(ctx, "2026-03-01")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.PendingTodos) != SnapshotTodos {
		t.Fatalf("pending=%d, want %d", len(snap.PendingTodos), SnapshotTodos)
	}
	if snap.PendingTodos[0].ID != lastID {
		t.Fatalf("newest todo should come first")
	}
	if len(snap.TodayEvents) != 1 || snap.TodayEvents[0].Title != "today" {
		t.Fatalf("events=%+v", snap.TodayEvents)
	}
	if len(snap.ActiveProjects) != 1 || snap.ActiveProjects[0].Title != "live" {
		t.Fatalf("projects=%+v", snap.ActiveProjects)
	}
	if snap.PersonalTasks == nil || len(snap.PersonalTasks) != 0 {
		t.Fatalf("personal=%+v", snap.PersonalTasks)
	}
}
