package workbench

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("record not found")

// Snapshot limits, newest or soonest first.
const (
	SnapshotTodos    = 8
	SnapshotProjects = 8
	SnapshotEvents   = 10
	SnapshotPersonal = 8
)

type Todo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Priority  string `json:"priority"`
	CreatedAt string `json:"createdAt"`
}

type Project struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Deadline string `json:"deadline"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
}

type Event struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Date  string  `json:"date"`
	Color string  `json:"color"`
	Note  *string `json:"note"`
}

type PersonalTask struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Budget   *float64 `json:"budget"`
	Date     *string  `json:"date"`
	Location *string  `json:"location"`
	Note     *string  `json:"note"`
}

type TodoPatch struct {
	Title     *string
	Completed *bool
	Priority  *string
}

type EventPatch struct {
	Title *string
	Date  *string
	Color *string
	Note  *string
}

type PersonalTaskPatch struct {
	Title    *string
	Budget   *float64
	Date     *string
	Location *string
	Note     *string
}

// Snapshot 工作台当前状态摘要，作为规划上下文
// Snapshot is the read-model summary handed to the planner.
type Snapshot struct {
	Today          string         `json:"today"`
	PendingTodos   []Todo         `json:"pendingTodos"`
	ActiveProjects []Project      `json:"activeProjects"`
	TodayEvents    []Event        `json:"todayEvents"`
	PersonalTasks  []PersonalTask `json:"personalTasks"`
}

// Store 工作台数据的增删改查接口
// Store is the mutation and point-read surface the executor drives.
// Update and Delete on a missing id return ErrNotFound.
type Store interface {
	Snapshot(ctx context.Context, today string) (Snapshot, error)

	Todo(ctx context.Context, id string) (Todo, error)
	CreateTodo(ctx context.Context, title, priority string) (Todo, error)
	UpdateTodo(ctx context.Context, id string, patch TodoPatch) (Todo, error)
	DeleteTodo(ctx context.Context, id string) error

	Project(ctx context.Context, id string) (Project, error)
	CreateProject(ctx context.Context, title, deadline string) (Project, error)
	UpdateProjectProgress(ctx context.Context, id string, progress int) (Project, error)
	DeleteProject(ctx context.Context, id string) error

	Event(ctx context.Context, id string) (Event, error)
	CreateEvent(ctx context.Context, e Event) (Event, error)
	UpdateEvent(ctx context.Context, id string, patch EventPatch) (Event, error)
	DeleteEvent(ctx context.Context, id string) error

	PersonalTask(ctx context.Context, id string) (PersonalTask, error)
	CreatePersonalTask(ctx context.Context, t PersonalTask) (PersonalTask, error)
	UpdatePersonalTask(ctx context.Context, id string, patch PersonalTaskPatch) (PersonalTask, error)
	DeletePersonalTask(ctx context.Context, id string) error
}
