package workbench

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// createdAtLayout sorts lexically in time order.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore 基于 SQLite 的工作台数据存储
// SQLiteStore keeps workbench records in the shared session database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore ensures the workbench tables exist on db. The caller owns db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("workbench: nil database")
	}
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure workbench schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS todos (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		completed  INTEGER NOT NULL DEFAULT 0,
		priority   TEXT NOT NULL DEFAULT 'normal',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id       TEXT PRIMARY KEY,
		title    TEXT NOT NULL,
		deadline TEXT NOT NULL DEFAULT '',
		progress INTEGER NOT NULL DEFAULT 0,
		status   TEXT NOT NULL DEFAULT 'active'
	);

	CREATE TABLE IF NOT EXISTS events (
		id    TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		date  TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT 'blue',
		note  TEXT
	);

	CREATE TABLE IF NOT EXISTS personal_tasks (
		id       TEXT PRIMARY KEY,
		title    TEXT NOT NULL,
		budget   REAL,
		date     TEXT,
		location TEXT,
		note     TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_date ON events(date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Snapshot ---

func (s *SQLiteStore) Snapshot(ctx context.Context, today string) (Snapshot, error) {
	snap := Snapshot{
		Today:          today,
		PendingTodos:   []Todo{},
		ActiveProjects: []Project{},
		TodayEvents:    []Event{},
		PersonalTasks:  []PersonalTask{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, completed, priority, created_at FROM todos
		WHERE completed = 0 ORDER BY created_at DESC LIMIT ?`, SnapshotTodos)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot todos: %w", err)
	}
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			rows.Close()
			return Snapshot{}, fmt.Errorf("scan todo: %w", err)
		}
		snap.PendingTodos = append(snap.PendingTodos, t)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, title, deadline, progress, status FROM projects
		WHERE status = 'active' ORDER BY deadline LIMIT ?`, SnapshotProjects)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot projects: %w", err)
	}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return Snapshot{}, fmt.Errorf("scan project: %w", err)
		}
		snap.ActiveProjects = append(snap.ActiveProjects, p)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, title, date, color, note FROM events
		WHERE date = ? ORDER BY title LIMIT ?`, today, SnapshotEvents)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot events: %w", err)
	}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return Snapshot{}, fmt.Errorf("scan event: %w", err)
		}
		snap.TodayEvents = append(snap.TodayEvents, e)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, title, budget, date, location, note FROM personal_tasks
		ORDER BY date LIMIT ?`, SnapshotPersonal)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot personal tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanPersonal(rows)
		if err != nil {
			return Snapshot{}, fmt.Errorf("scan personal task: %w", err)
		}
		snap.PersonalTasks = append(snap.PersonalTasks, t)
	}
	return snap, rows.Err()
}

// --- Todos ---

func (s *SQLiteStore) Todo(ctx context.Context, id string) (Todo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, completed, priority, created_at FROM todos WHERE id = ?`, id)
	t, err := scanTodo(row)
	return t, notFound(err, "todo", id)
}

func (s *SQLiteStore) CreateTodo(ctx context.Context, title, priority string) (Todo, error) {
	t := Todo{ID: newID(), Title: title, Priority: priority, CreatedAt: s.now().UTC().Format(createdAtLayout)}
	if t.Priority == "" {
		t.Priority = "normal"
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO todos (id, title, completed, priority, created_at) VALUES (?, ?, 0, ?, ?)`,
		t.ID, t.Title, t.Priority, t.CreatedAt)
	if err != nil {
		return Todo{}, fmt.Errorf("create todo: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) UpdateTodo(ctx context.Context, id string, patch TodoPatch) (Todo, error) {
	var u updateBuilder
	u.set("title", patch.Title)
	if patch.Completed != nil {
		u.add("completed", boolToInt(*patch.Completed))
	}
	u.set("priority", patch.Priority)
	if err := s.apply(ctx, "todos", id, u); err != nil {
		return Todo{}, err
	}
	return s.Todo(ctx, id)
}

func (s *SQLiteStore) DeleteTodo(ctx context.Context, id string) error {
	return s.delete(ctx, "todos", id)
}

// --- Projects ---

func (s *SQLiteStore) Project(ctx context.Context, id string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, deadline, progress, status FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	return p, notFound(err, "project", id)
}

func (s *SQLiteStore) CreateProject(ctx context.Context, title, deadline string) (Project, error) {
	p := Project{ID: newID(), Title: title, Deadline: deadline, Status: "active"}
	_, err := s.db.ExecContext(ctx, `INSERT INTO projects (id, title, deadline, progress, status) VALUES (?, ?, ?, 0, 'active')`,
		p.ID, p.Title, p.Deadline)
	if err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) UpdateProjectProgress(ctx context.Context, id string, progress int) (Project, error) {
	var u updateBuilder
	u.add("progress", progress)
	if err := s.apply(ctx, "projects", id, u); err != nil {
		return Project{}, err
	}
	return s.Project(ctx, id)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	return s.delete(ctx, "projects", id)
}

// --- Events ---

func (s *SQLiteStore) Event(ctx context.Context, id string) (Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, date, color, note FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	return e, notFound(err, "event", id)
}

func (s *SQLiteStore) CreateEvent(ctx context.Context, e Event) (Event, error) {
	e.ID = newID()
	if e.Color == "" {
		e.Color = "blue"
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO events (id, title, date, color, note) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Date, e.Color, nullString(e.Note))
	if err != nil {
		return Event{}, fmt.Errorf("create event: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) UpdateEvent(ctx context.Context, id string, patch EventPatch) (Event, error) {
	var u updateBuilder
	u.set("title", patch.Title)
	u.set("date", patch.Date)
	u.set("color", patch.Color)
	u.set("note", patch.Note)
	if err := s.apply(ctx, "events", id, u); err != nil {
		return Event{}, err
	}
	return s.Event(ctx, id)
}

func (s *SQLiteStore) DeleteEvent(ctx context.Context, id string) error {
	return s.delete(ctx, "events", id)
}

// --- Personal tasks ---

func (s *SQLiteStore) PersonalTask(ctx context.Context, id string) (PersonalTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, budget, date, location, note FROM personal_tasks WHERE id = ?`, id)
	t, err := scanPersonal(row)
	return t, notFound(err, "personal task", id)
}

func (s *SQLiteStore) CreatePersonalTask(ctx context.Context, t PersonalTask) (PersonalTask, error) {
	t.ID = newID()
	var budget sql.NullFloat64
	if t.Budget != nil {
		budget = sql.NullFloat64{Float64: *t.Budget, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO personal_tasks (id, title, budget, date, location, note) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, budget, nullString(t.Date), nullString(t.Location), nullString(t.Note))
	if err != nil {
		return PersonalTask{}, fmt.Errorf("create personal task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) UpdatePersonalTask(ctx context.Context, id string, patch PersonalTaskPatch) (PersonalTask, error) {
	var u updateBuilder
	u.set("title", patch.Title)
	if patch.Budget != nil {
		u.add("budget", *patch.Budget)
	}
	u.set("date", patch.Date)
	u.set("location", patch.Location)
	u.set("note", patch.Note)
	if err := s.apply(ctx, "personal_tasks", id, u); err != nil {
		return PersonalTask{}, err
	}
	return s.PersonalTask(ctx, id)
}

func (s *SQLiteStore) DeletePersonalTask(ctx context.Context, id string) error {
	return s.delete(ctx, "personal_tasks", id)
}

// --- Helpers ---

type updateBuilder struct {
	columns []string
	args    []any
}

func (u *updateBuilder) add(column string, value any) {
	u.columns = append(u.columns, column+" = ?")
	u.args = append(u.args, value)
}

func (u *updateBuilder) set(column string, value *string) {
	if value != nil {
		u.add(column, *value)
	}
}

// apply runs an UPDATE for the collected columns. table is always a constant
// from this file.
func (s *SQLiteStore) apply(ctx context.Context, table, id string, u updateBuilder) error {
	if len(u.columns) == 0 {
		return fmt.Errorf("update %s %s: no fields", table, id)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(u.columns, ", "))
	res, err := s.db.ExecContext(ctx, query, append(u.args, id)...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return affected(res, table, id)
}

func (s *SQLiteStore) delete(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return affected(res, table, id)
}

func affected(res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTodo(r scanner) (Todo, error) {
	var t Todo
	var completed int
	if err := r.Scan(&t.ID, &t.Title, &completed, &t.Priority, &t.CreatedAt); err != nil {
		return Todo{}, err
	}
	t.Completed = completed != 0
	return t, nil
}

func scanProject(r scanner) (Project, error) {
	var p Project
	err := r.Scan(&p.ID, &p.Title, &p.Deadline, &p.Progress, &p.Status)
	return p, err
}

func scanEvent(r scanner) (Event, error) {
	var e Event
	var note sql.NullString
	if err := r.Scan(&e.ID, &e.Title, &e.Date, &e.Color, &note); err != nil {
		return Event{}, err
	}
	e.Note = stringPtr(note)
	return e, nil
}

func scanPersonal(r scanner) (PersonalTask, error) {
	var t PersonalTask
	var budget sql.NullFloat64
	var date, location, note sql.NullString
	if err := r.Scan(&t.ID, &t.Title, &budget, &date, &location, &note); err != nil {
		return PersonalTask{}, err
	}
	if budget.Valid {
		v := budget.Float64
		t.Budget = &v
	}
	t.Date = stringPtr(date)
	t.Location = stringPtr(location)
	t.Note = stringPtr(note)
	return t, nil
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", kind, err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
