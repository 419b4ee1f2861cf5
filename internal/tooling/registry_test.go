package tooling

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func newTestRegistry(t *testing.T, builtin fstest.MapFS) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	opts := Options{UserDir: dir}
	if builtin != nil {
		opts.Builtin = builtin
	}
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, dir
}

func writeSkillDir(t *testing.T, manifest string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# skill"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestEmbeddedBuiltinLoads(t *testing.T) {
	r, err := New(Options{UserDir: t.TempDir(), Builtin: Builtin()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := r.Config()
	if _, ok := r.MCPServer("Workbench"); !ok {
		t.Fatalf("builtin workbench server missing: %+v", cfg.MCPServers)
	}
	if len(cfg.Skills) != 2 || cfg.Skills[0].ID != "daily-review" || cfg.Skills[0].Source != SourceBuiltin {
		t.Fatalf("skills=%+v", cfg.Skills)
	}
	if cmd, ok := r.Command("today"); !ok || cmd.Slug != "plan-today" || cmd.Mode != ModeExecute {
		t.Fatalf("alias lookup failed: %+v", cmd)
	}
}

func TestUserOverridesBuiltin(t *testing.T) {
	builtin := fstest.MapFS{
		"mcp/servers.json": {Data: []byte(`{"servers":[{"name":"Docs","command":"docs-mcp"}]}`)},
	}
	r, _ := newTestRegistry(t, builtin)
	if err := r.UpsertMCPServer(MCPServer{Name: "docs", Command: "docs-v2", Enabled: true}); err != nil {
		t.Fatalf("UpsertMCPServer: %v", err)
	}
	cfg := r.Config()
	if len(cfg.MCPServers) != 1 {
		t.Fatalf("servers=%+v, want merged to one", cfg.MCPServers)
	}
	if cfg.MCPServers[0].Command != "docs-v2" {
		t.Fatalf("command=%q, user entry should win", cfg.MCPServers[0].Command)
	}
}

func TestBuiltinServerDefaults(t *testing.T) {
	builtin := fstest.MapFS{
		"mcp/servers.json": {Data: []byte(`{"servers":[{"name":"x","command":"x-bin"}]}`)},
	}
	r, _ := newTestRegistry(t, builtin)
	s, ok := r.MCPServer("x")
	if !ok {
		t.Fatalf("server missing")
	}
	if !s.Enabled || s.Transport != TransportStdio {
		t.Fatalf("defaults not applied: %+v", s)
	}
}

func TestUpsertMCPServerValidation(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	cases := []MCPServer{
		{Name: " ", Command: "x"},
		{Name: "a", Command: "x", Transport: "http"},
		{Name: "a", Command: "  "},
	}
	for _, s := range cases {
		if err := r.UpsertMCPServer(s); !errors.Is(err, ErrInvalidManifest) {
			t.Fatalf("UpsertMCPServer(%+v) err=%v, want ErrInvalidManifest", s, err)
		}
	}
	if n := len(r.Config().MCPServers); n != 0 {
		t.Fatalf("servers=%d, want 0", n)
	}
}

func TestUpsertAndDeleteMCPServer(t *testing.T) {
	r, dir := newTestRegistry(t, nil)
	if err := r.UpsertMCPServer(MCPServer{Name: "Calendar", Command: "cal", Args: []string{"--stdio"}, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertMCPServer(MCPServer{Name: "calendar", Command: "cal2", Enabled: false}); err != nil {
		t.Fatal(err)
	}
	cfg := r.Config()
	if len(cfg.MCPServers) != 1 || cfg.MCPServers[0].Command != "cal2" {
		t.Fatalf("servers=%+v, want case-insensitive replace", cfg.MCPServers)
	}
	if caps := r.Capabilities(); len(caps.MCPServers) != 0 {
		t.Fatalf("disabled server advertised: %+v", caps.MCPServers)
	}
	data, err := os.ReadFile(filepath.Join(dir, "mcp", "servers.json"))
	if err != nil || !strings.Contains(string(data), `"servers"`) {
		t.Fatalf("servers.json=%s err=%v", data, err)
	}
	if err := r.DeleteMCPServer("CALENDAR"); err != nil {
		t.Fatalf("DeleteMCPServer: %v", err)
	}
	if err := r.DeleteMCPServer("calendar"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err=%v, want ErrNotFound", err)
	}
}

func TestImportSkill(t *testing.T) {
	r, dir := newTestRegistry(t, nil)
	src := writeSkillDir(t, `{"id":"budget-helper","description":"tracks spending"}`)
	skill, err := r.ImportSkill(src)
	if err != nil {
		t.Fatalf("ImportSkill: %v", err)
	}
	if skill.Name != "budget-helper" || skill.Version != "0.1.0" || !skill.Enabled || skill.Source != SourceUser {
		t.Fatalf("skill defaults not applied: %+v", skill)
	}
	if _, err := os.Stat(filepath.Join(dir, "skills", "budget-helper", "README.md")); err != nil {
		t.Fatalf("skill files not copied: %v", err)
	}
	caps := r.Capabilities()
	if len(caps.Skills) != 1 || caps.Skills[0] != "budget-helper" {
		t.Fatalf("capabilities=%+v", caps)
	}
	if len(caps.BuiltinTools) != 13 {
		t.Fatalf("builtin tools=%d, want 13", len(caps.BuiltinTools))
	}
}

func TestImportSkillInvalidManifestLeavesRegistry(t *testing.T) {
	r, dir := newTestRegistry(t, nil)
	src := writeSkillDir(t, `{"name":"no id"}`)
	if _, err := r.ImportSkill(src); !errors.Is(err, ErrInvalidManifest) {
		t.Fatalf("err=%v, want ErrInvalidManifest", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "skills"))
	if len(entries) != 0 {
		t.Fatalf("skills dir not empty after failed import: %v", entries)
	}
	if _, err := r.ImportSkill(filepath.Join(dir, "missing")); !errors.Is(err, ErrInvalidManifest) {
		t.Fatalf("missing dir err=%v", err)
	}
}

func TestToggleAndDeleteSkill(t *testing.T) {
	builtin := fstest.MapFS{
		"skills/core/manifest.json": {Data: []byte(`{"id":"core"}`)},
	}
	r, _ := newTestRegistry(t, builtin)
	if err := r.ToggleSkill("core", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("builtin toggle err=%v, want ErrNotFound", err)
	}
	if _, err := r.ImportSkill(writeSkillDir(t, `{"id":"notes","enabled":true}`)); err != nil {
		t.Fatal(err)
	}
	if err := r.ToggleSkill("notes", false); err != nil {
		t.Fatalf("ToggleSkill: %v", err)
	}
	for _, s := range r.Config().Skills {
		if s.ID == "notes" && s.Enabled {
			t.Fatalf("notes still enabled")
		}
	}
	if err := r.DeleteSkill("notes"); err != nil {
		t.Fatalf("DeleteSkill: %v", err)
	}
	if err := r.DeleteSkill("notes"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err=%v", err)
	}
	if n := len(r.Config().Skills); n != 1 {
		t.Fatalf("skills=%d, want builtin only", n)
	}
}

func TestUpsertCommandWritesMarkdown(t *testing.T) {
	r, dir := newTestRegistry(t, nil)
	err := r.UpsertCommand(Command{Slug: "  Focus Mode!", Title: `Say "hi"`, Body: "focus on one thing", Tags: []string{"a"}})
	if err != nil {
		t.Fatalf("UpsertCommand: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "commands", "focusmode.md"))
	if err != nil {
		t.Fatalf("read command: %v", err)
	}
	want := "---\nslug: focusmode\ntitle: \"Say \\\"hi\\\"\"\ndescription: \"\"\nenabled: false\nmode: insert\ntags: [\"a\"]\naliases: []\n---\n\nfocus on one thing\n"
	if string(data) != want {
		t.Fatalf("markdown=\n%q\nwant\n%q", data, want)
	}
	cmds := r.Commands()
	if len(cmds) != 1 || cmds[0].Slug != "focusmode" || cmds[0].Body != "focus on one thing" {
		t.Fatalf("commands=%+v", cmds)
	}
}

func TestCommandQuotesSurviveReload(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	want := Command{Slug: "greet", Title: `Say "hi"`, Description: `path C:\notes, "draft"`, Body: "greet", Mode: ModeInsert,
		Enabled: true, Tags: []string{`a"b`}, Aliases: []string{"hey"}}
	if err := r.UpsertCommand(want); err != nil {
		t.Fatalf("UpsertCommand: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, ok := r.Command("greet")
		if !ok {
			t.Fatal("command missing")
		}
		if got.Title != want.Title || got.Description != want.Description || len(got.Tags) != 1 || got.Tags[0] != want.Tags[0] {
			t.Fatalf("round %d: got %+v", i, got)
		}
		if err := r.UpsertCommand(got); err != nil {
			t.Fatalf("UpsertCommand: %v", err)
		}
		if _, err := r.Reload(); err != nil {
			t.Fatalf("Reload: %v", err)
		}
	}
}

func TestUnquote(t *testing.T) {
	cases := map[string]string{
		`"Say \"hi\""`: `Say "hi"`,
		` plain `:      "plain",
		`"broken "x""`: `broken "x`,
		`""`:           "",
	}
	for in, want := range cases {
		if got := unquote(in); got != want {
			t.Fatalf("unquote(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestUpsertCommandValidation(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	cases := []Command{
		{Slug: "--", Title: "t", Body: "b"},
		{Slug: "a", Title: " ", Body: "b"},
		{Slug: "a", Title: "t", Body: ""},
		{Slug: "a", Title: "t", Body: "b", Mode: "replace"},
	}
	for _, c := range cases {
		if err := r.UpsertCommand(c); !errors.Is(err, ErrInvalidManifest) {
			t.Fatalf("UpsertCommand(%+v) err=%v", c, err)
		}
	}
}

func TestImportCommandMarkdown(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	src := filepath.Join(t.TempDir(), "Standup_Notes.md")
	content := "---\ntitle: \"Standup\"\nmode: execute\naliases: [su, \"daily\"]\n---\n\n  Summarise yesterday and today.  \n"
	if err := os.WriteFile(src, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd, err := r.ImportCommandMarkdown(src)
	if err != nil {
		t.Fatalf("ImportCommandMarkdown: %v", err)
	}
	if cmd.Slug != "standup_notes" || cmd.Title != "Standup" || cmd.Mode != ModeExecute || !cmd.Enabled {
		t.Fatalf("cmd=%+v", cmd)
	}
	if cmd.Body != "Summarise yesterday and today." {
		t.Fatalf("body=%q", cmd.Body)
	}
	if got, ok := r.Command("daily"); !ok || got.Slug != "standup_notes" {
		t.Fatalf("alias lookup=%+v ok=%v", got, ok)
	}
	if err := r.DeleteCommand("standup_notes"); err != nil {
		t.Fatalf("DeleteCommand: %v", err)
	}
	if err := r.DeleteCommand("standup_notes"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err=%v", err)
	}
}

func TestImportCommandMarkdownRejectsBadInput(t *testing.T) {
	r, dir := newTestRegistry(t, nil)
	txt := filepath.Join(t.TempDir(), "x.txt")
	_ = os.WriteFile(txt, []byte("body"), 0o644)
	if _, err := r.ImportCommandMarkdown(txt); !errors.Is(err, ErrInvalidManifest) {
		t.Fatalf(".txt err=%v", err)
	}
	empty := filepath.Join(t.TempDir(), "empty.md")
	_ = os.WriteFile(empty, []byte("---\ntitle: x\n---\n\n   \n"), 0o644)
	if _, err := r.ImportCommandMarkdown(empty); !errors.Is(err, ErrInvalidManifest) {
		t.Fatalf("empty body err=%v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "commands"))
	if len(entries) != 0 {
		t.Fatalf("commands written on failed import: %v", entries)
	}
}

func TestSubscribeReceivesReloads(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	var got []int
	r.Subscribe(func(cfg Config) { got = append(got, len(cfg.MCPServers)) })
	if err := r.UpsertMCPServer(MCPServer{Name: "a", Command: "a", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	counts, err := r.Reload()
	if err != nil {
		t.Fatal(err)
	}
	if counts.MCPServers != 1 {
		t.Fatalf("counts=%+v", counts)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 1 {
		t.Fatalf("notifications=%v, want [1 1]", got)
	}
}

func TestSanitizeSlug(t *testing.T) {
	cases := map[string]string{
		"Hello World":  "helloworld",
		"__a-b_c--":    "a-b_c",
		"-_x_-":        "_x_",
		"Plan.Today!!": "plantoday",
	}
	for in, want := range cases {
		if got := sanitizeSlug(in); got != want {
			t.Fatalf("sanitizeSlug(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestSplitFrontmatterWithoutBlock(t *testing.T) {
	fields, body := splitFrontmatter("\n\njust text")
	if len(fields) != 0 || body != "just text" {
		t.Fatalf("fields=%v body=%q", fields, body)
	}
	fields, body = splitFrontmatter("---\nslug: a\n# comment\nnot a pair\n---\nbody")
	if fields["slug"] != "a" || len(fields) != 1 || body != "body" {
		t.Fatalf("fields=%v body=%q", fields, body)
	}
}
