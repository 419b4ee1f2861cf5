package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role 消息角色
// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message 会话中的一条消息，创建后不可修改
// Message is one conversation entry; immutable once created.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage 创建带 ID 与时间戳的消息
// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(role Role, content string, now time.Time) Message {
	return Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now.UTC(),
	}
}

// ProviderSettings describes the planning backend the channels should call.
type ProviderSettings struct {
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
}

type ReminderConfig struct {
	Enabled     bool   `json:"enabled"`
	LeadMinutes int    `json:"leadMinutes"`
	DailyDigest string `json:"dailyDigest"`
}

// Settings 会话级设置：渠道偏好、模型提供方、提醒
// Settings holds session-level preferences: channel preference, provider and reminders.
type Settings struct {
	PreferMCP bool             `json:"preferMcp"`
	Provider  ProviderSettings `json:"provider"`
	Reminder  ReminderConfig   `json:"reminder"`
}

// ProviderPatch is a partial provider update; nil fields are left unchanged.
type ProviderPatch struct {
	Name    *string `json:"name,omitempty"`
	BaseURL *string `json:"baseUrl,omitempty"`
	APIKey  *string `json:"apiKey,omitempty"`
	Model   *string `json:"model,omitempty"`
}

type ReminderPatch struct {
	Enabled     *bool   `json:"enabled,omitempty"`
	LeadMinutes *int    `json:"leadMinutes,omitempty"`
	DailyDigest *string `json:"dailyDigest,omitempty"`
}

// SettingsPatch 设置的部分更新
// SettingsPatch is a partial settings update merged by Merge.
type SettingsPatch struct {
	PreferMCP *bool          `json:"preferMcp,omitempty"`
	Provider  *ProviderPatch `json:"provider,omitempty"`
	Reminder  *ReminderPatch `json:"reminder,omitempty"`
}

// Merge returns a copy of s with every non-nil field of p applied.
func (s Settings) Merge(p SettingsPatch) Settings {
	out := s
	if p.PreferMCP != nil {
		out.PreferMCP = *p.PreferMCP
	}
	if p.Provider != nil {
		out.Provider = out.Provider.merge(*p.Provider)
	}
	if p.Reminder != nil {
		out.Reminder = out.Reminder.Merge(*p.Reminder)
	}
	return out
}

func (ps ProviderSettings) merge(p ProviderPatch) ProviderSettings {
	if p.Name != nil {
		ps.Name = strings.TrimSpace(*p.Name)
	}
	if p.BaseURL != nil {
		ps.BaseURL = strings.TrimSpace(*p.BaseURL)
	}
	if p.APIKey != nil {
		ps.APIKey = strings.TrimSpace(*p.APIKey)
	}
	if p.Model != nil {
		ps.Model = strings.TrimSpace(*p.Model)
	}
	return ps
}

func (r ReminderConfig) Merge(p ReminderPatch) ReminderConfig {
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.LeadMinutes != nil && *p.LeadMinutes >= 0 {
		r.LeadMinutes = *p.LeadMinutes
	}
	if p.DailyDigest != nil {
		r.DailyDigest = strings.TrimSpace(*p.DailyDigest)
	}
	return r
}

// LatestUser returns the content of the most recent user message.
func LatestUser(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}
