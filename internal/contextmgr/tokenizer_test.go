package contextmgr

import (
	"strings"
	"testing"

	"workbench/internal/chat"
)

func heuristic() *Tokenizer {
	return &Tokenizer{fallback: true, encoding: "cl100k_base"}
}

func TestHeuristicCounts(t *testing.T) {
	tok := heuristic()
	if tok.CountText("") != 0 {
		t.Fatal("empty text should count 0")
	}
	if got := tok.CountText("hello world!"); got != 3 {
		t.Fatalf("ascii=%d, want 3", got)
	}
	if got := tok.CountText("你好世界"); got != 6 {
		t.Fatalf("cjk=%d, want 6", got)
	}
	if got := tok.CountText("a"); got != 1 {
		t.Fatalf("minimum=%d, want 1", got)
	}
	m := chat.Message{Role: chat.RoleUser, Content: "hello world!"}
	if got := tok.CountMessage(m); got != perMessageOverhead+1+3 {
		t.Fatalf("message=%d", got)
	}
}

func TestEncodingForModel(t *testing.T) {
	cases := map[string]string{
		"gpt-4o-mini":   "o200k_base",
		"o3-mini":       "o200k_base",
		"gpt-4":         "cl100k_base",
		"qwen-plus":     "cl100k_base",
		"":              "cl100k_base",
		"unknown-model": "cl100k_base",
	}
	for model, want := range cases {
		if got := encodingForModel(model); got != want {
			t.Errorf("encodingForModel(%q)=%q, want %q", model, got, want)
		}
	}
}

func TestTrimKeepsSystemAndNewest(t *testing.T) {
	tok := heuristic()
	body := strings.Repeat("x", 40)
	msgs := []chat.Message{
		{Role: chat.RoleSystem, Content: body},
		{Role: chat.RoleUser, Content: body},
		{Role: chat.RoleAssistant, Content: body},
		{Role: chat.RoleUser, Content: "latest " + body},
	}
	got := Trim(tok, msgs, 50)
	if len(got) != 3 || got[0].Role != chat.RoleSystem || got[1].Role != chat.RoleAssistant || !strings.HasPrefix(got[2].Content, "latest") {
		t.Fatalf("trimmed=%+v", got)
	}
}

func TestTrimAlwaysKeepsLastMessage(t *testing.T) {
	tok := heuristic()
	msgs := []chat.Message{
		{Role: chat.RoleUser, Content: "old"},
		{Role: chat.RoleUser, Content: strings.Repeat("y", 400)},
	}
	got := Trim(tok, msgs, 10)
	if len(got) != 1 || got[0].Content != msgs[1].Content {
		t.Fatalf("trimmed=%+v", got)
	}
}

func TestTrimDisabled(t *testing.T) {
	msgs := []chat.Message{{Role: chat.RoleUser, Content: "a"}, {Role: chat.RoleUser, Content: "b"}}
	if got := Trim(heuristic(), msgs, 0); len(got) != 2 {
		t.Fatalf("limit 0 should not trim, got %d", len(got))
	}
}
