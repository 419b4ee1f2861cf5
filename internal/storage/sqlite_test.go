package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"workbench/internal/chat"
	"workbench/internal/executor"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if _, ok, err := store.LoadSettings(); err != nil || ok {
		t.Fatalf("fresh store ok=%v err=%v", ok, err)
	}
	want := chat.Settings{
		PreferMCP: true,
		Provider:  chat.ProviderSettings{Name: "openai", Model: "gpt-4o-mini"},
		Reminder:  chat.ReminderConfig{Enabled: true, LeadMinutes: 15},
	}
	if err := store.SaveSettings(want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	want.PreferMCP = false
	if err := store.SaveSettings(want); err != nil {
		t.Fatalf("SaveSettings again: %v", err)
	}
	got, ok, err := store.LoadSettings()
	if err != nil || !ok {
		t.Fatalf("LoadSettings ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("settings=%+v, want %+v", got, want)
	}
}

func TestSaveMessagesKeepsTail(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	var msgs []chat.Message
	for i := 0; i < 25; i++ {
		msgs = append(msgs, chat.Message{ID: fmt.Sprintf("m%d", i), Role: chat.RoleUser, Content: fmt.Sprintf("c%d", i), CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	if err := store.SaveMessages(msgs); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	got, err := store.LoadMessages()
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(got) != MessageLimit {
		t.Fatalf("len=%d, want %d", len(got), MessageLimit)
	}
	if got[0].ID != "m5" || got[len(got)-1].ID != "m24" {
		t.Fatalf("first=%s last=%s", got[0].ID, got[len(got)-1].ID)
	}
	if !got[0].CreatedAt.Equal(msgs[5].CreatedAt) || got[0].Role != chat.RoleUser {
		t.Fatalf("message=%+v", got[0])
	}
}

func TestSaveAuditKeepsNewest(t *testing.T) {
	store := newTestStore(t)

	// 60 executions, newest first.
	var records []executor.AuditRecord
	for i := 59; i >= 0; i-- {
		r := executor.AuditRecord{
			ID:        fmt.Sprintf("audit_%d", i),
			BatchID:   "b",
			ActionID:  fmt.Sprintf("a%d", i),
			Payload:   json.RawMessage(`{"title":"x"}`),
			Success:   i%2 == 0,
			CreatedAt: time.Unix(int64(i), 0).UTC(),
		}
		if !r.Success {
			r.Error = "boom"
		} else {
			r.AfterState = json.RawMessage(`{"id":"t"}`)
		}
		records = append(records, r)
	}
	if err := store.SaveAudit(records); err != nil {
		t.Fatalf("SaveAudit: %v", err)
	}
	got, err := store.LoadAudit()
	if err != nil {
		t.Fatalf("LoadAudit: %v", err)
	}
	if len(got) != AuditLimit {
		t.Fatalf("len=%d, want %d", len(got), AuditLimit)
	}
	if got[0].ID != "audit_59" || got[AuditLimit-1].ID != "audit_40" {
		t.Fatalf("first=%s last=%s", got[0].ID, got[AuditLimit-1].ID)
	}
	if got[0].Success || got[0].Error != "boom" || got[0].AfterState != nil {
		t.Fatalf("failed record=%+v", got[0])
	}
	if !got[1].Success || string(got[1].AfterState) != `{"id":"t"}` || got[1].BeforeState != nil {
		t.Fatalf("success record=%+v", got[1])
	}
}
