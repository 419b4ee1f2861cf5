package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Type 动作类型（变更种类）
// Type is the enumerated mutation kind of a proposal.
type Type string

const (
	TypeTodoCreate            Type = "todo.create"
	TypeTodoUpdate            Type = "todo.update"
	TypeTodoDelete            Type = "todo.delete"
	TypeProjectCreate         Type = "project.create"
	TypeProjectUpdateProgress Type = "project.update_progress"
	TypeProjectDelete         Type = "project.delete"
	TypeEventCreate           Type = "event.create"
	TypeEventUpdate           Type = "event.update"
	TypeEventDelete           Type = "event.delete"
	TypePersonalCreate        Type = "personal.create"
	TypePersonalUpdate        Type = "personal.update"
	TypePersonalDelete        Type = "personal.delete"
	TypeQuerySnapshot         Type = "query.snapshot"
)

var builtinTypes = []Type{
	TypeTodoCreate, TypeTodoUpdate, TypeTodoDelete,
	TypeProjectCreate, TypeProjectUpdateProgress, TypeProjectDelete,
	TypeEventCreate, TypeEventUpdate, TypeEventDelete,
	TypePersonalCreate, TypePersonalUpdate, TypePersonalDelete,
	TypeQuerySnapshot,
}

var (
	ErrUnsupportedType = errors.New("unsupported action type")
	ErrNoUpdateFields  = errors.New("no fields to update")
)

// BuiltinTypes lists every action type the executor understands.
func BuiltinTypes() []string {
	out := make([]string, 0, len(builtinTypes))
	for _, t := range builtinTypes {
		out = append(out, string(t))
	}
	return out
}

// Proposal 后端建议的动作，必须经过显式审批后才会执行
// Proposal is a backend-suggested mutation that only runs after explicit approval.
type Proposal struct {
	ID               string          `json:"id"`
	Type             Type            `json:"type"`
	Title            string          `json:"title"`
	Reason           string          `json:"reason"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	RequiresApproval bool            `json:"requiresApproval"`
}

// Normalize fills a missing id and forces RequiresApproval.
func (p Proposal) Normalize() Proposal {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = "act_" + uuid.NewString()
	}
	p.Type = Type(strings.TrimSpace(string(p.Type)))
	if len(bytes.TrimSpace(p.Payload)) == 0 || bytes.Equal(bytes.TrimSpace(p.Payload), []byte("null")) {
		p.Payload = json.RawMessage("{}")
	}
	p.RequiresApproval = true
	return p
}

// Action is the typed form of a proposal payload. The set of
// implementations is closed; see Decode.
type Action interface {
	Kind() Type
	isAction()
}

type CreateTodo struct {
	Title    string `json:"title"`
	Priority string `json:"priority"`
}

type UpdateTodo struct {
	ID        string  `json:"id"`
	Title     *string `json:"title,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
	Priority  *string `json:"priority,omitempty"`
}

type DeleteTodo struct {
	ID string `json:"id"`
}

type CreateProject struct {
	Title    string `json:"title"`
	Deadline string `json:"deadline"`
}

type UpdateProjectProgress struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
}

type DeleteProject struct {
	ID string `json:"id"`
}

type CreateEvent struct {
	Title string  `json:"title"`
	Date  string  `json:"date"`
	Color string  `json:"color"`
	Note  *string `json:"note,omitempty"`
}

type UpdateEvent struct {
	ID    string  `json:"id"`
	Title *string `json:"title,omitempty"`
	Date  *string `json:"date,omitempty"`
	Color *string `json:"color,omitempty"`
	Note  *string `json:"note,omitempty"`
}

type DeleteEvent struct {
	ID string `json:"id"`
}

type CreatePersonalTask struct {
	Title    string   `json:"title"`
	Budget   *float64 `json:"budget,omitempty"`
	Date     *string  `json:"date,omitempty"`
	Location *string  `json:"location,omitempty"`
	Note     *string  `json:"note,omitempty"`
}

type UpdatePersonalTask struct {
	ID       string   `json:"id"`
	Title    *string  `json:"title,omitempty"`
	Budget   *float64 `json:"budget,omitempty"`
	Date     *string  `json:"date,omitempty"`
	Location *string  `json:"location,omitempty"`
	Note     *string  `json:"note,omitempty"`
}

type DeletePersonalTask struct {
	ID string `json:"id"`
}

type QuerySnapshot struct{}

func (CreateTodo) Kind() Type            { return TypeTodoCreate }
func (UpdateTodo) Kind() Type            { return TypeTodoUpdate }
func (DeleteTodo) Kind() Type            { return TypeTodoDelete }
func (CreateProject) Kind() Type         { return TypeProjectCreate }
func (UpdateProjectProgress) Kind() Type { return TypeProjectUpdateProgress }
func (DeleteProject) Kind() Type         { return TypeProjectDelete }
func (CreateEvent) Kind() Type           { return TypeEventCreate }
func (UpdateEvent) Kind() Type           { return TypeEventUpdate }
func (DeleteEvent) Kind() Type           { return TypeEventDelete }
func (CreatePersonalTask) Kind() Type    { return TypePersonalCreate }
func (UpdatePersonalTask) Kind() Type    { return TypePersonalUpdate }
func (DeletePersonalTask) Kind() Type    { return TypePersonalDelete }
func (QuerySnapshot) Kind() Type         { return TypeQuerySnapshot }

func (CreateTodo) isAction()            {}
func (UpdateTodo) isAction()            {}
func (DeleteTodo) isAction()            {}
func (CreateProject) isAction()         {}
func (UpdateProjectProgress) isAction() {}
func (DeleteProject) isAction()         {}
func (CreateEvent) isAction()           {}
func (UpdateEvent) isAction()           {}
func (DeleteEvent) isAction()           {}
func (CreatePersonalTask) isAction()    {}
func (UpdatePersonalTask) isAction()    {}
func (DeletePersonalTask) isAction()    {}
func (QuerySnapshot) isAction()         {}

// fields holds a payload's top-level values. A value of the wrong JSON type
// reads as absent, and so do null and a blank string.
type fields map[string]json.RawMessage

func (f fields) decode(key string, v any) bool {
	raw, ok := f[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func (f fields) str(key string) *string {
	var v string
	if !f.decode(key, &v) {
		return nil
	}
	return optional(&v)
}

func (f fields) boolean(key string) *bool {
	var v bool
	if !f.decode(key, &v) {
		return nil
	}
	return &v
}

func (f fields) float(key string) *float64 {
	var v float64
	if !f.decode(key, &v) {
		return nil
	}
	return &v
}

// integer accepts whole JSON numbers only; 40.5 reads as absent.
func (f fields) integer(key string) *int64 {
	var v int64
	if !f.decode(key, &v) {
		return nil
	}
	return &v
}

func (f fields) required(key string) (string, error) {
	if s := f.str(key); s != nil {
		return *s, nil
	}
	return "", fmt.Errorf("missing required field: %s", key)
}

func (f fields) withDefault(key, def string) string {
	if s := f.str(key); s != nil {
		return *s
	}
	return def
}

// Decode 将 proposal 的 payload 解析为强类型动作
// Decode resolves a proposal's payload into its typed action. The payload must
// be a JSON object; its fields are then checked one by one.
func Decode(p Proposal) (Action, error) {
	raw := fields{}
	payload := bytes.TrimSpace(p.Payload)
	if len(payload) > 0 && !bytes.Equal(payload, []byte("null")) {
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s payload: %w", p.Type, err)
		}
	}

	switch p.Type {
	case TypeTodoCreate:
		title, err := raw.required("title")
		if err != nil {
			return nil, err
		}
		return CreateTodo{Title: title, Priority: raw.withDefault("priority", "normal")}, nil
	case TypeTodoUpdate:
		id, err := raw.required("id")
		if err != nil {
			return nil, err
		}
		out := UpdateTodo{ID: id, Title: raw.str("title"), Completed: raw.boolean("completed"), Priority: raw.str("priority")}
		if out.Title == nil && out.Completed == nil && out.Priority == nil {
			return nil, fmt.Errorf("%s: %w", p.Type, ErrNoUpdateFields)
		}
		return out, nil
	case TypeTodoDelete:
		id, err := raw.required("id")
		if err != nil {
			return nil, err
		}
		return DeleteTodo{ID: id}, nil
	case TypeProjectCreate:
		title, err := raw.required("title")
		if err != nil {
			return nil, err
		}
		deadline, err := raw.required("deadline")
		if err != nil {
			return nil, err
		}
		return CreateProject{Title: title, Deadline: deadline}, nil
	case TypeProjectUpdateProgress:
		id, err := raw.required("id")
		if err != nil {
			return nil, err
		}
		progress := raw.integer("progress")
		if progress == nil {
			return nil, fmt.Errorf("missing required field: progress")
		}
		return UpdateProjectProgress{ID: id, Progress: int(*progress)}, nil
	case TypeProjectDelete:
		id, err := raw.required("id")
		if err != nil {
			return nil, err
		}
		return DeleteProject{ID: id}, nil
	case TypeEventCreate:
		title, err := raw.required("title")
		if err != nil {
			return nil, err
		}
		date, err := raw.required("date")
		if err != nil {
			return nil, err
		}
		return CreateEvent{Title: title, Date: date, Color: raw.withDefault("color", "blue"), Note: raw.str("note")}, nil
	case TypeEventUpdate:
		id, err := raw.required("id")
		if err != nil {
			return nil, err
		}
		out := UpdateEvent{ID: id, Title: raw.str("title"), Date: raw.str("date"), Color: raw.str("color"), Note: raw.str("note")}
		if out.Title == nil && out.Date == nil && out.Color == nil && out.Note == nil {
			return nil, fmt.Errorf("%s: %w", p.Type, ErrNoUpdateFields)
		}
		return out, nil
	case TypeEventDelete:
		id, err := raw.required("id")
		if err != nil {
			return nil, err
		}
		return DeleteEvent{ID: id}, nil
	case TypePersonalCreate:
		title, err := raw.required("title")
		if err != nil {
			return nil, err
		}
		return CreatePersonalTask{
			Title:    title,
			Budget:   raw.float("budget"),
			Date:     raw.str("date"),
			Location: raw.str("location"),
			Note:     raw.str("note"),
		}, nil
	case TypePersonalUpdate:
		id, err := raw.required("id")
		if err != nil {
			return nil, err
		}
		out := UpdatePersonalTask{
			ID:       id,
			Title:    raw.str("title"),
			Budget:   raw.float("budget"),
			Date:     raw.str("date"),
			Location: raw.str("location"),
			Note:     raw.str("note"),
		}
		if out.Title == nil && out.Budget == nil && out.Date == nil && out.Location == nil && out.Note == nil {
			return nil, fmt.Errorf("%s: %w", p.Type, ErrNoUpdateFields)
		}
		return out, nil
	case TypePersonalDelete:
		id, err := raw.required("id")
		if err != nil {
			return nil, err
		}
		return DeletePersonalTask{ID: id}, nil
	case TypeQuerySnapshot:
		return QuerySnapshot{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, p.Type)
	}
}

func optional(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
