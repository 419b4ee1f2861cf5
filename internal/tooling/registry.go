package tooling

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"workbench/internal/action"
)

type Options struct {
	// Builtin holds embedded entries laid out like the user dir. Nil disables them.
	Builtin fs.FS
	// UserDir is the writable root holding mcp/, skills/ and commands/.
	UserDir string
	Logger  *log.Logger
}

// Registry 工具注册表：内置条目与用户目录合并，用户条目覆盖同名内置条目
// Registry merges builtin entries with the user dir; a user entry replaces a
// builtin entry with the same key. Every mutation reloads the merged view and
// notifies subscribers.
type Registry struct {
	builtin fs.FS
	userDir string
	logger  *log.Logger

	opMu sync.Mutex

	mu          sync.RWMutex
	current     Config
	subscribers []func(Config)
}

func New(opts Options) (*Registry, error) {
	userDir := strings.TrimSpace(opts.UserDir)
	if userDir == "" {
		return nil, errors.New("tooling user dir is required")
	}
	for _, sub := range []string{"mcp", "skills", "commands"} {
		if err := os.MkdirAll(filepath.Join(userDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create tooling dir: %w", err)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	r := &Registry{
		builtin: opts.Builtin,
		userDir: userDir,
		logger:  logger.With("component", "tooling"),
	}
	if _, err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Subscribe registers fn to receive the merged config after every reload.
func (r *Registry) Subscribe(fn func(Config)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.mu.Unlock()
}

func (r *Registry) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneConfig(r.current)
}

// Reload re-reads builtin and user entries and notifies subscribers.
func (r *Registry) Reload() (ReloadCounts, error) {
	cfg, err := r.load()
	if err != nil {
		return ReloadCounts{}, err
	}
	r.mu.Lock()
	r.current = cfg
	subs := append([]func(Config){}, r.subscribers...)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(cloneConfig(cfg))
	}
	counts := ReloadCounts{MCPServers: len(cfg.MCPServers), Skills: len(cfg.Skills), Commands: len(cfg.Commands)}
	r.logger.Debug("tooling reloaded", "mcp_servers", counts.MCPServers, "skills", counts.Skills, "commands", counts.Commands)
	return counts, nil
}

// Capabilities lists builtin action types plus enabled skills and MCP servers.
func (r *Registry) Capabilities() Capabilities {
	cfg := r.Config()
	out := Capabilities{BuiltinTools: action.BuiltinTypes(), Skills: []string{}, MCPServers: []string{}}
	for _, s := range cfg.Skills {
		if s.Enabled {
			out.Skills = append(out.Skills, s.ID)
		}
	}
	for _, s := range cfg.MCPServers {
		if s.Enabled {
			out.MCPServers = append(out.MCPServers, s.Name)
		}
	}
	return out
}

// MCPServer looks up a server by name, case-insensitively.
func (r *Registry) MCPServer(name string) (MCPServer, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, s := range r.Config().MCPServers {
		if strings.ToLower(s.Name) == key {
			return s, true
		}
	}
	return MCPServer{}, false
}

func (r *Registry) Commands() []Command {
	return r.Config().Commands
}

// Command resolves an enabled command by slug or alias.
func (r *Registry) Command(name string) (Command, bool) {
	for _, c := range r.Config().Commands {
		if c.Enabled && c.Matches(name) {
			return c, true
		}
	}
	return Command{}, false
}

func (r *Registry) UpsertMCPServer(server MCPServer) error {
	server.Name = strings.TrimSpace(server.Name)
	server.Command = strings.TrimSpace(server.Command)
	if strings.TrimSpace(server.Transport) == "" {
		server.Transport = TransportStdio
	}
	if err := validateMCPServer(server); err != nil {
		return err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()
	servers, err := r.readUserServers()
	if err != nil {
		return err
	}
	key := strings.ToLower(server.Name)
	replaced := false
	for i := range servers {
		if strings.ToLower(servers[i].Name) == key {
			servers[i] = server
			replaced = true
			break
		}
	}
	if !replaced {
		servers = append(servers, server)
	}
	if err := r.writeUserServers(servers); err != nil {
		return err
	}
	return r.reloadAfter("upsert mcp server", server.Name)
}

func (r *Registry) DeleteMCPServer(name string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	servers, err := r.readUserServers()
	if err != nil {
		return err
	}
	key := strings.ToLower(strings.TrimSpace(name))
	kept := servers[:0]
	for _, s := range servers {
		if strings.ToLower(s.Name) != key {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(servers) {
		return fmt.Errorf("%w: mcp server %q", ErrNotFound, name)
	}
	if err := r.writeUserServers(kept); err != nil {
		return err
	}
	return r.reloadAfter("delete mcp server", name)
}

// ImportSkill 校验并原子地复制技能目录
// ImportSkill validates the manifest under src and copies the directory into
// the user skills root. The copy lands in a temporary sibling and is renamed
// into place, so a failed import leaves the registry unchanged.
func (r *Registry) ImportSkill(src string) (Skill, error) {
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return Skill{}, fmt.Errorf("%w: skill path does not exist or is not a directory", ErrInvalidManifest)
	}
	skill, err := readSkillManifest(os.DirFS(src), ".", src, SourceUser)
	if err != nil {
		return Skill{}, err
	}
	if sanitizeSlug(skill.ID) != skill.ID {
		return Skill{}, fmt.Errorf("%w: skill id %q must be a slug", ErrInvalidManifest, skill.ID)
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()
	root := filepath.Join(r.userDir, "skills")
	tmp, err := os.MkdirTemp(root, ".import-"+skill.ID+"-")
	if err != nil {
		return Skill{}, fmt.Errorf("stage skill: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := os.CopyFS(tmp, os.DirFS(src)); err != nil {
		return Skill{}, fmt.Errorf("copy skill: %w", err)
	}
	dst := filepath.Join(root, skill.ID)
	if err := os.RemoveAll(dst); err != nil {
		return Skill{}, fmt.Errorf("replace skill: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return Skill{}, fmt.Errorf("install skill: %w", err)
	}
	installed, err := readSkillManifest(os.DirFS(dst), ".", dst, SourceUser)
	if err != nil {
		return Skill{}, err
	}
	if err := r.reloadAfter("import skill", installed.ID); err != nil {
		return Skill{}, err
	}
	return installed, nil
}

// ToggleSkill flips enabled on an imported user skill. Builtin skills cannot be toggled.
func (r *Registry) ToggleSkill(id string, enabled bool) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	manifestPath := filepath.Join(r.userDir, "skills", sanitizeSlug(id), "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("%w: only imported user skills can be toggled", ErrNotFound)
	}
	var manifest map[string]any
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse skill manifest: %w", err)
	}
	manifest["enabled"] = enabled
	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode skill manifest: %w", err)
	}
	if err := writeFileAtomic(manifestPath, out); err != nil {
		return err
	}
	return r.reloadAfter("toggle skill", id)
}

func (r *Registry) DeleteSkill(id string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	slug := sanitizeSlug(id)
	dir := filepath.Join(r.userDir, "skills", slug)
	if slug == "" {
		return fmt.Errorf("%w: skill %q", ErrNotFound, id)
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: skill %q", ErrNotFound, id)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete skill: %w", err)
	}
	return r.reloadAfter("delete skill", id)
}

func (r *Registry) UpsertCommand(cmd Command) error {
	cmd = normalizeCommand(cmd)
	if err := validateCommand(cmd); err != nil {
		return err
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if err := r.writeCommand(cmd); err != nil {
		return err
	}
	return r.reloadAfter("upsert command", cmd.Slug)
}

// ImportCommandMarkdown parses a .md command file and stores it as a user command.
func (r *Registry) ImportCommandMarkdown(src string) (Command, error) {
	if !strings.EqualFold(filepath.Ext(src), ".md") {
		return Command{}, fmt.Errorf("%w: only .md command files are supported", ErrInvalidManifest)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return Command{}, fmt.Errorf("%w: read command markdown: %v", ErrInvalidManifest, err)
	}
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	cmd, err := parseCommandMarkdown(string(data), stem, SourceUser)
	if err != nil {
		return Command{}, err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()
	if err := r.writeCommand(cmd); err != nil {
		return Command{}, err
	}
	if err := r.reloadAfter("import command", cmd.Slug); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func (r *Registry) DeleteCommand(slug string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	clean := sanitizeSlug(slug)
	if clean == "" {
		return fmt.Errorf("%w: command %q", ErrNotFound, slug)
	}
	file := filepath.Join(r.userDir, "commands", clean+".md")
	if err := os.Remove(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: command %q", ErrNotFound, slug)
		}
		return fmt.Errorf("delete command: %w", err)
	}
	return r.reloadAfter("delete command", clean)
}

func (r *Registry) reloadAfter(op, key string) error {
	if _, err := r.Reload(); err != nil {
		return fmt.Errorf("%s %s: reload: %w", op, key, err)
	}
	r.logger.Info(op, "key", key)
	return nil
}

func (r *Registry) writeCommand(cmd Command) error {
	file := filepath.Join(r.userDir, "commands", sanitizeSlug(cmd.Slug)+".md")
	return writeFileAtomic(file, []byte(buildCommandMarkdown(cmd)))
}

func normalizeCommand(cmd Command) Command {
	cmd.Slug = sanitizeSlug(cmd.Slug)
	cmd.Title = strings.TrimSpace(cmd.Title)
	cmd.Description = strings.TrimSpace(cmd.Description)
	cmd.Body = strings.TrimSpace(cmd.Body)
	cmd.Mode = strings.TrimSpace(cmd.Mode)
	if cmd.Mode == "" {
		cmd.Mode = ModeInsert
	}
	if cmd.Tags == nil {
		cmd.Tags = []string{}
	}
	if cmd.Aliases == nil {
		cmd.Aliases = []string{}
	}
	cmd.Source = SourceUser
	return cmd
}

func (r *Registry) userServersPath() string {
	return filepath.Join(r.userDir, "mcp", "servers.json")
}

func (r *Registry) readUserServers() ([]MCPServer, error) {
	data, err := os.ReadFile(r.userServersPath())
	if errors.Is(err, fs.ErrNotExist) {
		return []MCPServer{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}
	return parseServers(data)
}

func (r *Registry) writeUserServers(servers []MCPServer) error {
	data, err := json.MarshalIndent(mcpServerFile{Servers: servers}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mcp config: %w", err)
	}
	return writeFileAtomic(r.userServersPath(), data)
}

func parseServers(data []byte) ([]MCPServer, error) {
	var file mcpServerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}
	if file.Servers == nil {
		file.Servers = []MCPServer{}
	}
	return file.Servers, nil
}

func (r *Registry) load() (Config, error) {
	servers := map[string]MCPServer{}
	skills := map[string]Skill{}
	commands := map[string]Command{}

	if r.builtin != nil {
		r.loadFS(r.builtin, SourceBuiltin, servers, skills, commands)
	}
	userServers, err := r.readUserServers()
	if err != nil {
		return Config{}, err
	}
	for _, s := range userServers {
		servers[strings.ToLower(s.Name)] = s
	}
	r.loadFS(os.DirFS(r.userDir), SourceUser, nil, skills, commands)

	cfg := Config{
		MCPServers: make([]MCPServer, 0, len(servers)),
		Skills:     make([]Skill, 0, len(skills)),
		Commands:   make([]Command, 0, len(commands)),
	}
	for _, s := range servers {
		cfg.MCPServers = append(cfg.MCPServers, s)
	}
	for _, s := range skills {
		cfg.Skills = append(cfg.Skills, s)
	}
	for _, c := range commands {
		cfg.Commands = append(cfg.Commands, c)
	}
	sort.Slice(cfg.MCPServers, func(i, j int) bool { return cfg.MCPServers[i].Name < cfg.MCPServers[j].Name })
	sort.Slice(cfg.Skills, func(i, j int) bool { return cfg.Skills[i].ID < cfg.Skills[j].ID })
	sort.Slice(cfg.Commands, func(i, j int) bool { return cfg.Commands[i].Slug < cfg.Commands[j].Slug })
	return cfg, nil
}

// loadFS reads entries from fsys into the maps. Broken entries are skipped
// with a warning. A nil servers map skips mcp/servers.json.
func (r *Registry) loadFS(fsys fs.FS, source string, servers map[string]MCPServer, skills map[string]Skill, commands map[string]Command) {
	if servers != nil {
		if data, err := fs.ReadFile(fsys, "mcp/servers.json"); err == nil {
			list, perr := parseServers(data)
			if perr != nil {
				r.logger.Warn("skip mcp config", "source", source, "error", perr)
			}
			for _, s := range list {
				servers[strings.ToLower(s.Name)] = s
			}
		}
	}

	if entries, err := fs.ReadDir(fsys, "skills"); err == nil {
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			dir := path.Join("skills", e.Name())
			skill, err := readSkillManifest(fsys, dir, r.entryPath(source, dir), source)
			if err != nil {
				r.logger.Warn("skip skill", "source", source, "dir", dir, "error", err)
				continue
			}
			skills[skill.ID] = skill
		}
	}

	if entries, err := fs.ReadDir(fsys, "commands"); err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".md") {
				continue
			}
			file := path.Join("commands", e.Name())
			data, err := fs.ReadFile(fsys, file)
			if err != nil {
				continue
			}
			stem := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
			cmd, err := parseCommandMarkdown(string(data), stem, source)
			if err != nil {
				r.logger.Warn("skip command", "source", source, "file", file, "error", err)
				continue
			}
			commands[cmd.Slug] = cmd
		}
	}
}

func (r *Registry) entryPath(source, rel string) string {
	if source == SourceBuiltin {
		return "builtin:" + rel
	}
	return filepath.Join(r.userDir, filepath.FromSlash(rel))
}

type skillManifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Enabled     *bool  `json:"enabled"`
}

func readSkillManifest(fsys fs.FS, dir, displayPath, source string) (Skill, error) {
	data, err := fs.ReadFile(fsys, path.Join(dir, "manifest.json"))
	if err != nil {
		return Skill{}, fmt.Errorf("%w: read manifest at %s: %v", ErrInvalidManifest, displayPath, err)
	}
	var m skillManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Skill{}, fmt.Errorf("%w: parse manifest json: %v", ErrInvalidManifest, err)
	}
	id := strings.TrimSpace(m.ID)
	if id == "" {
		return Skill{}, fmt.Errorf("%w: skill manifest missing id", ErrInvalidManifest)
	}
	skill := Skill{
		ID:          id,
		Name:        strings.TrimSpace(m.Name),
		Description: m.Description,
		Version:     strings.TrimSpace(m.Version),
		Enabled:     m.Enabled == nil || *m.Enabled,
		Path:        displayPath,
		Source:      source,
	}
	if skill.Name == "" {
		skill.Name = id
	}
	if skill.Version == "" {
		skill.Version = "0.1.0"
	}
	return skill, nil
}

func writeFileAtomic(file string, data []byte) error {
	dir := filepath.Dir(file)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(file)+".tmp-")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(file), err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(file), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(file), err)
	}
	if err := os.Rename(tmpName, file); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(file), err)
	}
	return nil
}

func cloneConfig(c Config) Config {
	return Config{
		MCPServers: append(make([]MCPServer, 0, len(c.MCPServers)), c.MCPServers...),
		Skills:     append(make([]Skill, 0, len(c.Skills)), c.Skills...),
		Commands:   append(make([]Command, 0, len(c.Commands)), c.Commands...),
	}
}
