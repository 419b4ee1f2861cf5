package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := Load(ctx, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cases := []struct {
		in   Input
		want Decision
	}{
		{Input{Type: "todo.create", Payload: json.RawMessage(`{"title":"x"}`)}, Allow},
		{Input{Type: "todo.delete", Reason: "  "}, Block},
		{Input{Type: "event.delete", Reason: "duplicate entry"}, Allow},
		{Input{Type: "query.snapshot"}, Allow},
	}
	for _, tc := range cases {
		got, err := e.Evaluate(ctx, tc.in)
		if err != nil {
			t.Fatalf("Evaluate(%+v): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("Evaluate(%s, reason=%q)=%s, want %s", tc.in.Type, tc.in.Reason, got, tc.want)
		}
	}
}

func TestCustomPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.rego")
	src := `package workbench

default decision = "allow"

decision = "block" {
	input.payload.progress > 90
}
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := e.Evaluate(context.Background(), Input{Type: "project.update_progress", Payload: json.RawMessage(`{"id":"p","progress":95}`)})
	if err != nil || got != Block {
		t.Fatalf("decision=%s err=%v, want block", got, err)
	}
}

func TestUnexpectedDecisionIsError(t *testing.T) {
	e, err := NewEngine(context.Background(), "package workbench\n\ndecision = 42\n")
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.Evaluate(context.Background(), Input{Type: "todo.create"}); err == nil {
		t.Fatal("expected error for non-string decision")
	}
}

func TestUndefinedDecisionAllows(t *testing.T) {
	e, err := NewEngine(context.Background(), "package workbench\n\ndecision = \"block\" {\n\tinput.type == \"never\"\n}\n")
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	got, err := e.Evaluate(context.Background(), Input{Type: "todo.create"})
	if err != nil || got != Allow {
		t.Fatalf("decision=%s err=%v", got, err)
	}
}

func TestBadModule(t *testing.T) {
	if _, err := NewEngine(context.Background(), "package workbench\n\ndecision = {"); err == nil {
		t.Fatal("expected compile error")
	}
}
