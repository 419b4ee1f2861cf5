package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// scaffold is the subset of Config written by InitProjectConfig. Secrets and
// machine paths are left out so the file can be committed.
type scaffold struct {
	Provider struct {
		Name    string `json:"name"`
		BaseURL string `json:"base_url"`
		Model   string `json:"model"`
	} `json:"provider"`
	Runtime struct {
		PreferMCP        bool     `json:"prefer_mcp"`
		RequestTimeoutMS int      `json:"request_timeout_ms"`
		MCPServer        string   `json:"mcp_server"`
		ExecCommand      []string `json:"exec_command"`
	} `json:"runtime"`
	Server ServerConfig `json:"server"`
	Log    LogConfig    `json:"log"`
}

// InitProjectConfig 在 dir 下初始化项目级配置模板（.workbench/config.json）
// InitProjectConfig writes a project config template to
// dir/.workbench/config.json and returns its path. An existing file is left
// untouched.
func InitProjectConfig(dir string) (string, error) {
	path := filepath.Join(dir, ".workbench", "config.json")
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("project config path is a directory: %s", path)
		}
		return path, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat project config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("mkdir .workbench: %w", err)
	}

	def := Default()
	var out scaffold
	out.Provider.Name = def.Provider.Name
	out.Provider.BaseURL = def.Provider.BaseURL
	out.Provider.Model = def.Provider.Model
	out.Runtime.PreferMCP = def.Runtime.PreferMCP
	out.Runtime.RequestTimeoutMS = def.Runtime.RequestTimeoutMS
	out.Runtime.MCPServer = def.Runtime.MCPServer
	out.Runtime.ExecCommand = def.Runtime.ExecCommand
	out.Server = def.Server
	out.Log = def.Log

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal project config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write project config: %w", err)
	}
	return path, nil
}
