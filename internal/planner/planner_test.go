package planner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"workbench/internal/action"
	"workbench/internal/chat"
	"workbench/internal/i18n"
	"workbench/internal/provider"
	"workbench/internal/tooling"
	"workbench/internal/workbench"
)

func init() {
	i18n.Init("zh-CN")
}

type fakeSnapshots struct {
	snap workbench.Snapshot
	err  error
	day  string
}

func (f *fakeSnapshots) Snapshot(_ context.Context, today string) (workbench.Snapshot, error) {
	f.day = today
	return f.snap, f.err
}

type fakeProvider struct {
	content string
	err     error
	got     provider.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req provider.ChatRequest, _ func(string)) (provider.ChatResponse, error) {
	f.got = req
	return provider.ChatResponse{Content: f.content}, f.err
}
func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) CurrentModel() string { return "gpt-4" }

func fixedNow() time.Time { return time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC) }

func TestParseReplyFencedJSON(t *testing.T) {
	content := "好的\n```json\n{\"reply\":\"已安排\",\"actions\":[{\"type\":\"todo.create\",\"title\":\"新建\",\"payload\":{\"title\":\"写周报\"}}]}\n```\n"
	got, err := ParseReply(content)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if got.Reply != "已安排" || len(got.Actions) != 1 {
		t.Fatalf("reply=%+v", got)
	}
	a := got.Actions[0]
	if !strings.HasPrefix(a.ID, "act_") || !a.RequiresApproval || a.Type != action.TypeTodoCreate {
		t.Fatalf("action=%+v", a)
	}
}

func TestParseReplyBraceSpanAndDefaults(t *testing.T) {
	got, err := ParseReply(`prefix {"actions":null} suffix`)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if got.Reply != "已生成建议。" || got.Actions == nil || len(got.Actions) != 0 {
		t.Fatalf("reply=%+v", got)
	}
}

func TestParseReplyPlainText(t *testing.T) {
	got, err := ParseReply("  just text  ")
	if err != nil || got.Reply != "just text" || len(got.Actions) != 0 {
		t.Fatalf("reply=%+v err=%v", got, err)
	}
	if _, err := ParseReply("   "); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("err=%v, want ErrEmptyReply", err)
	}
}

func TestParseReplyBadActions(t *testing.T) {
	if _, err := ParseReply(`{"reply":"x","actions":"nope"}`); err == nil {
		t.Fatal("expected error for non-array actions")
	}
}

func TestLocalPlannerDegraded(t *testing.T) {
	snaps := &fakeSnapshots{snap: workbench.Snapshot{
		PendingTodos: []workbench.Todo{{ID: "1"}, {ID: "2"}},
		TodayEvents:  []workbench.Event{{ID: "e"}},
	}}
	p := NewLocalPlanner(snaps, fixedNow)
	req := Request{Messages: []chat.Message{{Role: chat.RoleUser, Content: "整理本周"}}}
	got, err := p.PlanDegraded(context.Background(), req, errors.New("401"))
	if err != nil {
		t.Fatalf("PlanDegraded: %v", err)
	}
	want := "我已读取当前工作台数据。你刚才说的是“整理本周”。当前未完成待办 2 项、今日日程 1 项。 模型服务暂不可用（401），已切换为本地建议模式。"
	if got.Reply != want {
		t.Fatalf("reply=%q\nwant %q", got.Reply, want)
	}
	if got.Degraded != "401" || snaps.day != "2026-03-01" {
		t.Fatalf("degraded=%q day=%q", got.Degraded, snaps.day)
	}
	if len(got.Actions) != 1 || got.Actions[0].Type != action.TypeQuerySnapshot || got.Actions[0].ID != "snapshot-1772353800000" {
		t.Fatalf("actions=%+v", got.Actions)
	}
}

func TestLocalPlannerWithoutUserMessage(t *testing.T) {
	snaps := &fakeSnapshots{err: errors.New("db closed")}
	got, err := NewLocalPlanner(snaps, fixedNow).Plan(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !strings.Contains(got.Reply, "请根据当前工作台数据给出建议") || !strings.Contains(got.Reply, "0 项") || got.Degraded != "" {
		t.Fatalf("reply=%q", got.Reply)
	}
}

func TestLLMPlannerBuildsPrompt(t *testing.T) {
	fp := &fakeProvider{content: `{"reply":"ok","actions":[]}`}
	var gotSettings chat.ProviderSettings
	p := NewLLMPlanner(LLMOptions{
		Snapshots: &fakeSnapshots{snap: workbench.Snapshot{Today: "2026-03-01"}},
		NewProvider: func(s chat.ProviderSettings) provider.Provider {
			gotSettings = s
			return fp
		},
		Now: fixedNow,
	})
	req := Request{
		Messages: []chat.Message{
			{Role: chat.RoleAssistant, Content: "hello"},
			{Role: chat.RoleUser, Content: "plan"},
		},
		Provider:     chat.ProviderSettings{Model: "gpt-4"},
		Capabilities: tooling.Capabilities{Skills: []string{"daily-review"}},
	}
	got, err := p.Plan(context.Background(), req)
	if err != nil || got.Reply != "ok" {
		t.Fatalf("reply=%+v err=%v", got, err)
	}
	if gotSettings.Model != "gpt-4" || len(fp.got.Messages) != 3 || fp.got.Messages[0].Role != chat.RoleSystem {
		t.Fatalf("settings=%+v messages=%+v", gotSettings, fp.got.Messages)
	}
	sys := fp.got.Messages[0].Content
	for _, want := range []string{"todo.create", "query.snapshot", "daily-review", `"today":"2026-03-01"`} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestWithFallbackUsesLocal(t *testing.T) {
	failing := NewLLMPlanner(LLMOptions{
		NewProvider: func(chat.ProviderSettings) provider.Provider { return &fakeProvider{err: errors.New("503")} },
		Now:         fixedNow,
	})
	p := WithFallback(failing, NewLocalPlanner(nil, fixedNow), nil)
	got, err := p.Plan(context.Background(), Request{Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got.Degraded != "503" || len(got.Actions) != 1 {
		t.Fatalf("reply=%+v", got)
	}
}

func TestWithFallbackHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	failing := NewLLMPlanner(LLMOptions{
		NewProvider: func(chat.ProviderSettings) provider.Provider { return &fakeProvider{err: context.Canceled} },
	})
	p := WithFallback(failing, NewLocalPlanner(nil, fixedNow), nil)
	if _, err := p.Plan(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
