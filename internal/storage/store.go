package storage

import (
	"workbench/internal/chat"
	"workbench/internal/executor"
)

// Persisted tails. The session keeps more in memory.
const (
	MessageLimit = 20
	AuditLimit   = 20
)

// Store 会话持久化接口
// Store persists the pieces of a session that survive restarts: settings,
// the newest messages and the newest audit records.
type Store interface {
	// LoadSettings reports ok=false when nothing has been saved yet.
	LoadSettings() (settings chat.Settings, ok bool, err error)
	SaveSettings(settings chat.Settings) error

	// SaveMessages replaces the stored tail with the last MessageLimit
	// entries of messages.
	SaveMessages(messages []chat.Message) error
	LoadMessages() ([]chat.Message, error)

	// SaveAudit replaces the stored log with the first AuditLimit entries of
	// records, which are newest first.
	SaveAudit(records []executor.AuditRecord) error
	LoadAudit() ([]executor.AuditRecord, error)

	Close() error
}
