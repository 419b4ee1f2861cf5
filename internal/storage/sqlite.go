package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"workbench/internal/action"
	"workbench/internal/chat"
	"workbench/internal/executor"
)

const settingsKey = "session"

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode. The same database
// also hosts the workbench tables; see DB.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY,
		id         TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS action_audits (
		seq               INTEGER PRIMARY KEY,
		id                TEXT NOT NULL,
		batch_id          TEXT NOT NULL,
		action_id         TEXT NOT NULL,
		action_type       TEXT NOT NULL,
		payload_json      TEXT NOT NULL,
		before_state_json TEXT,
		after_state_json  TEXT,
		success           INTEGER NOT NULL,
		error_message     TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the connection for stores that share this file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Path() string { return s.path }

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Settings ---

func (s *SQLiteStore) LoadSettings() (chat.Settings, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key=?`, settingsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Settings{}, false, nil
	}
	if err != nil {
		return chat.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	var settings chat.Settings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return chat.Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	return settings, true, nil
}

func (s *SQLiteStore) SaveSettings(settings chat.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		settingsKey, string(data), nowUTC())
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// --- Message Operations ---

func (s *SQLiteStore) SaveMessages(messages []chat.Message) error {
	if len(messages) > MessageLimit {
		messages = messages[len(messages)-MessageLimit:]
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM messages"); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO messages (seq, id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range messages {
		if _, err := stmt.Exec(i, msg.ID, string(msg.Role), msg.Content, formatTime(msg.CreatedAt)); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadMessages() ([]chat.Message, error) {
	rows, err := s.db.Query(`SELECT id, role, content, created_at FROM messages ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		var role, created string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = chat.Role(role)
		msg.CreatedAt = parseTime(created)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// --- Audit ---

func (s *SQLiteStore) SaveAudit(records []executor.AuditRecord) error {
	if len(records) > AuditLimit {
		records = records[:AuditLimit]
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM action_audits"); err != nil {
		return fmt.Errorf("delete old audits: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO action_audits (seq, id, batch_id, action_id, action_type, payload_json,
			before_state_json, after_state_json, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		payload := string(r.Payload)
		if payload == "" {
			payload = "{}"
		}
		if _, err := stmt.Exec(i, r.ID, r.BatchID, r.ActionID, string(r.ActionType), payload,
			nullJSON(r.BeforeState), nullJSON(r.AfterState), boolToInt(r.Success), r.Error,
			formatTime(r.CreatedAt)); err != nil {
			return fmt.Errorf("insert audit %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadAudit() ([]executor.AuditRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, batch_id, action_id, action_type, payload_json, before_state_json,
			after_state_json, success, error_message, created_at
		FROM action_audits ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()

	var records []executor.AuditRecord
	for rows.Next() {
		var r executor.AuditRecord
		var actionType, payload, created string
		var before, after sql.NullString
		var success int
		if err := rows.Scan(&r.ID, &r.BatchID, &r.ActionID, &actionType, &payload,
			&before, &after, &success, &r.Error, &created); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		r.ActionType = action.Type(actionType)
		r.Payload = json.RawMessage(payload)
		if before.Valid {
			r.BeforeState = json.RawMessage(before.String)
		}
		if after.Valid {
			r.AfterState = json.RawMessage(after.String)
		}
		r.Success = success != 0
		r.CreatedAt = parseTime(created)
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Helpers ---

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
