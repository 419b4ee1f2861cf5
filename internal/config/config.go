package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"workbench/internal/chat"
)

type ProviderConfig struct {
	Name      string `json:"name"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	TimeoutMS int    `json:"timeout_ms"`
}

type RuntimeConfig struct {
	PreferMCP         bool     `json:"prefer_mcp"`
	RequestTimeoutMS  int      `json:"request_timeout_ms"`
	MCPServer         string   `json:"mcp_server"`
	ExecCommand       []string `json:"exec_command"`
	OutputLimitBytes  int      `json:"output_limit_bytes"`
	ContextTokenLimit int      `json:"context_token_limit"`
}

type ToolingConfig struct {
	// Builtin 是否加载随二进制发布的内置条目
	// Builtin loads the entries embedded in the binary.
	Builtin bool   `json:"builtin"`
	UserDir string `json:"user_dir"`
}

type PolicyConfig struct {
	// File is a rego module replacing the default execution policy.
	File string `json:"file"`
}

type ServerConfig struct {
	Addr string `json:"addr"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
	DBName  string `json:"db_name"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Tooling  ToolingConfig  `json:"tooling"`
	Policy   PolicyConfig   `json:"policy"`
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Log      LogConfig      `json:"log"`
	Locale   string         `json:"locale"`
}

type fileRuntimeConfig struct {
	PreferMCP         *bool     `json:"prefer_mcp"`
	RequestTimeoutMS  *int      `json:"request_timeout_ms"`
	MCPServer         *string   `json:"mcp_server"`
	ExecCommand       *[]string `json:"exec_command"`
	OutputLimitBytes  *int      `json:"output_limit_bytes"`
	ContextTokenLimit *int      `json:"context_token_limit"`
}

type fileToolingConfig struct {
	Builtin *bool   `json:"builtin"`
	UserDir *string `json:"user_dir"`
}

type fileConfig struct {
	Provider *ProviderConfig    `json:"provider"`
	Runtime  *fileRuntimeConfig `json:"runtime"`
	Tooling  *fileToolingConfig `json:"tooling"`
	Policy   *PolicyConfig      `json:"policy"`
	Server   *ServerConfig      `json:"server"`
	Storage  *StorageConfig     `json:"storage"`
	Log      *LogConfig         `json:"log"`
	Locale   *string            `json:"locale"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Name:      "openai",
			BaseURL:   DefaultProviderBaseURL,
			Model:     DefaultProviderModel,
			TimeoutMS: DefaultProviderTimeoutMS,
		},
		Runtime: RuntimeConfig{
			PreferMCP:         true,
			RequestTimeoutMS:  DefaultRequestTimeoutMS,
			MCPServer:         DefaultMCPServer,
			ExecCommand:       []string{"workbench", "exec-chat"},
			OutputLimitBytes:  DefaultOutputLimitBytes,
			ContextTokenLimit: DefaultContextTokenLimit,
		},
		Tooling: ToolingConfig{Builtin: true},
		Server:  ServerConfig{Addr: DefaultServerAddr},
		Storage: StorageConfig{
			BaseDir: "~/.workbench",
			DBName:  "workbench.db",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load 按优先级合并配置：默认值 < 全局文件 < 项目文件 < 环境变量
// Load merges defaults, the global file, the project file and environment
// overrides, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("WORKBENCH_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

// DBPath is the SQLite file shared by session storage and the workbench store.
func (c Config) DBPath() string {
	return filepath.Join(c.Storage.BaseDir, c.Storage.DBName)
}

// InitialSettings seeds session settings before anything was persisted.
func InitialSettings(c Config) chat.Settings {
	return chat.Settings{
		PreferMCP: c.Runtime.PreferMCP,
		Provider: chat.ProviderSettings{
			Name:    c.Provider.Name,
			BaseURL: c.Provider.BaseURL,
			Model:   c.Provider.Model,
		},
		Reminder: chat.ReminderConfig{
			LeadMinutes: DefaultReminderLeadMinutes,
			DailyDigest: DefaultReminderDailyDigest,
		},
	}
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".workbench", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"workbench.config.json",
		".workbench/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}
	var fileCfg fileConfig
	if err := json.Unmarshal(stripJSONComments(data), &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Runtime != nil {
		r := fc.Runtime
		if r.PreferMCP != nil {
			cfg.Runtime.PreferMCP = *r.PreferMCP
		}
		if r.RequestTimeoutMS != nil {
			cfg.Runtime.RequestTimeoutMS = *r.RequestTimeoutMS
		}
		if r.MCPServer != nil {
			cfg.Runtime.MCPServer = *r.MCPServer
		}
		if r.ExecCommand != nil {
			cfg.Runtime.ExecCommand = append([]string(nil), (*r.ExecCommand)...)
		}
		if r.OutputLimitBytes != nil {
			cfg.Runtime.OutputLimitBytes = *r.OutputLimitBytes
		}
		if r.ContextTokenLimit != nil {
			cfg.Runtime.ContextTokenLimit = *r.ContextTokenLimit
		}
	}
	if fc.Tooling != nil {
		if fc.Tooling.Builtin != nil {
			cfg.Tooling.Builtin = *fc.Tooling.Builtin
		}
		if fc.Tooling.UserDir != nil {
			cfg.Tooling.UserDir = *fc.Tooling.UserDir
		}
	}
	if fc.Policy != nil && strings.TrimSpace(fc.Policy.File) != "" {
		cfg.Policy.File = fc.Policy.File
	}
	if fc.Server != nil && strings.TrimSpace(fc.Server.Addr) != "" {
		cfg.Server.Addr = fc.Server.Addr
	}
	if fc.Storage != nil {
		if strings.TrimSpace(fc.Storage.BaseDir) != "" {
			cfg.Storage.BaseDir = fc.Storage.BaseDir
		}
		if strings.TrimSpace(fc.Storage.DBName) != "" {
			cfg.Storage.DBName = fc.Storage.DBName
		}
	}
	if fc.Log != nil {
		if strings.TrimSpace(fc.Log.Level) != "" {
			cfg.Log.Level = fc.Log.Level
		}
		if strings.TrimSpace(fc.Log.Format) != "" {
			cfg.Log.Format = fc.Log.Format
		}
	}
	if fc.Locale != nil {
		cfg.Locale = *fc.Locale
	}
}

func mergeProvider(base ProviderConfig, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.Name) != "" {
		base.Name = override.Name
	}
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()
	cfg.Provider.Name = strings.TrimSpace(cfg.Provider.Name)
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = def.Provider.Name
	}
	cfg.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/")
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	cfg.Provider.Model = strings.TrimSpace(cfg.Provider.Model)
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}

	if cfg.Runtime.RequestTimeoutMS <= 0 {
		cfg.Runtime.RequestTimeoutMS = def.Runtime.RequestTimeoutMS
	}
	cfg.Runtime.MCPServer = strings.TrimSpace(cfg.Runtime.MCPServer)
	if cfg.Runtime.MCPServer == "" {
		cfg.Runtime.MCPServer = def.Runtime.MCPServer
	}
	cfg.Runtime.ExecCommand = normalizeArgs(cfg.Runtime.ExecCommand)
	if len(cfg.Runtime.ExecCommand) == 0 {
		cfg.Runtime.ExecCommand = def.Runtime.ExecCommand
	}
	if cfg.Runtime.OutputLimitBytes <= 0 {
		cfg.Runtime.OutputLimitBytes = def.Runtime.OutputLimitBytes
	}
	if cfg.Runtime.ContextTokenLimit <= 0 {
		cfg.Runtime.ContextTokenLimit = def.Runtime.ContextTokenLimit
	}

	baseDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	if baseDir == "" {
		if baseDir, err = expandPath(def.Storage.BaseDir); err != nil {
			return err
		}
	}
	cfg.Storage.BaseDir = baseDir
	if strings.TrimSpace(cfg.Storage.DBName) == "" {
		cfg.Storage.DBName = def.Storage.DBName
	}

	userDir, err := expandPath(cfg.Tooling.UserDir)
	if err != nil {
		return err
	}
	if userDir == "" {
		userDir = filepath.Join(cfg.Storage.BaseDir, "agent")
	}
	cfg.Tooling.UserDir = userDir

	if p := strings.TrimSpace(cfg.Policy.File); p != "" {
		if cfg.Policy.File, err = expandPath(p); err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = def.Server.Addr
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	case "":
		cfg.Log.Level = def.Log.Level
	default:
		return fmt.Errorf("invalid log.level: %q", cfg.Log.Level)
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	switch cfg.Log.Format {
	case "text", "json", "logfmt":
	case "":
		cfg.Log.Format = def.Log.Format
	default:
		return fmt.Errorf("invalid log.format: %q", cfg.Log.Format)
	}
	cfg.Locale = strings.TrimSpace(cfg.Locale)
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_PREFER_MCP")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid WORKBENCH_PREFER_MCP: %q", v)
		}
		cfg.Runtime.PreferMCP = b
	}
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_REQUEST_TIMEOUT_MS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid WORKBENCH_REQUEST_TIMEOUT_MS: %q", v)
		}
		cfg.Runtime.RequestTimeoutMS = n
	}
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_HOME")); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	return cfg, normalize(&cfg)
}

func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if trimmed := strings.TrimSpace(a); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

// stripJSONComments drops // and /* */ comments outside string literals.
func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	var out bytes.Buffer

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			switch {
			case c == '"':
				state = stateString
				out.WriteByte(c)
			case c == '/' && next == '/':
				state = stateLineComment
				i++
			case c == '/' && next == '*':
				state = stateBlockComment
				i++
			default:
				out.WriteByte(c)
			}
		case stateString:
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}
	return out.Bytes()
}
