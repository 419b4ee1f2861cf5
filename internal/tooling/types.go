package tooling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidManifest = errors.New("invalid tooling entry")
	ErrNotFound        = errors.New("tooling entry not found")
)

const (
	SourceBuiltin = "builtin"
	SourceUser    = "user"

	TransportStdio = "stdio"

	ModeInsert  = "insert"
	ModeExecute = "execute"
)

// MCPServer 结构化工具协议服务器定义（按 name 唯一，不区分大小写）
// MCPServer defines a structured tool-protocol server, keyed by name
// (case-insensitive).
type MCPServer struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env"`
	Cwd       string            `json:"cwd,omitempty"`
	Enabled   bool              `json:"enabled"`
}

func (s *MCPServer) UnmarshalJSON(data []byte) error {
	type alias MCPServer
	var raw struct {
		alias
		Enabled *bool `json:"enabled"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = MCPServer(raw.alias)
	s.Enabled = raw.Enabled == nil || *raw.Enabled
	if strings.TrimSpace(s.Transport) == "" {
		s.Transport = TransportStdio
	}
	return nil
}

// Skill is a capability bundle described by skills/<id>/manifest.json.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path"`
	Source      string `json:"source"`
}

// Command 斜杠命令：insert 模式替换输入，execute 模式直接发送
// Command is a slash command stored as markdown with front-matter. In insert
// mode its body replaces the input; in execute mode the body is sent as is.
type Command struct {
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Enabled     bool     `json:"enabled"`
	Mode        string   `json:"mode"`
	Tags        []string `json:"tags"`
	Aliases     []string `json:"aliases"`
	Body        string   `json:"body"`
	Source      string   `json:"source"`
}

func (c *Command) UnmarshalJSON(data []byte) error {
	type alias Command
	var raw struct {
		alias
		Enabled *bool `json:"enabled"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Command(raw.alias)
	c.Enabled = raw.Enabled == nil || *raw.Enabled
	if strings.TrimSpace(c.Mode) == "" {
		c.Mode = ModeInsert
	}
	return nil
}

// Matches reports whether name is the command's slug or one of its aliases.
func (c Command) Matches(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	if c.Slug == name {
		return true
	}
	for _, alias := range c.Aliases {
		if strings.ToLower(alias) == name {
			return true
		}
	}
	return false
}

// Config is the merged builtin + user view, each list sorted by key.
type Config struct {
	MCPServers []MCPServer `json:"mcpServers"`
	Skills     []Skill     `json:"skills"`
	Commands   []Command   `json:"commands"`
}

type ReloadCounts struct {
	MCPServers int `json:"mcpServers"`
	Skills     int `json:"skills"`
	Commands   int `json:"commands"`
}

// Capabilities is what the dispatcher advertises to a planner.
type Capabilities struct {
	BuiltinTools []string `json:"builtinTools"`
	Skills       []string `json:"skills"`
	MCPServers   []string `json:"mcpServers"`
}

type mcpServerFile struct {
	Servers []MCPServer `json:"servers"`
}

func validateMCPServer(s MCPServer) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: mcp server name cannot be empty", ErrInvalidManifest)
	}
	if s.Transport != TransportStdio {
		return fmt.Errorf("%w: only stdio transport is supported", ErrInvalidManifest)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("%w: mcp server command cannot be empty", ErrInvalidManifest)
	}
	return nil
}

func validateCommand(c Command) error {
	if sanitizeSlug(c.Slug) == "" {
		return fmt.Errorf("%w: command slug is invalid", ErrInvalidManifest)
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: command title cannot be empty", ErrInvalidManifest)
	}
	if strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("%w: command body cannot be empty", ErrInvalidManifest)
	}
	if c.Mode != ModeInsert && c.Mode != ModeExecute {
		return fmt.Errorf("%w: command mode must be insert or execute", ErrInvalidManifest)
	}
	return nil
}
