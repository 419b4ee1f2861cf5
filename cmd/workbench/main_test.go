package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseCLIDefaultsToREPL(t *testing.T) {
	t.Setenv("WORKBENCH_LOCALE", "")

	cli, command, err := parseCLI(nil)
	if err != nil {
		t.Fatalf("parseCLI returned error: %v", err)
	}
	if command != "repl" {
		t.Fatalf("command=%q, want repl", command)
	}
	if cli.Repl.NoProgress {
		t.Fatal("progress view should be on by default")
	}
}

func TestParseCLISubcommands(t *testing.T) {
	t.Setenv("WORKBENCH_LOCALE", "")

	cli, command, err := parseCLI([]string{"--log-level", "debug", "serve", "--addr", ":9000"})
	if err != nil {
		t.Fatalf("parseCLI returned error: %v", err)
	}
	if command != "serve" || cli.Serve.Addr != ":9000" || cli.LogLevel != "debug" {
		t.Fatalf("command=%q cli=%+v", command, cli)
	}

	for _, tc := range []struct {
		args []string
		want string
	}{
		{[]string{"mcp-serve"}, "mcp-serve"},
		{[]string{"exec-chat"}, "exec-chat"},
		{[]string{"repl", "--no-progress"}, "repl"},
		{[]string{"version"}, "version"},
	} {
		_, got, err := parseCLI(tc.args)
		if err != nil {
			t.Fatalf("parseCLI(%v) returned error: %v", tc.args, err)
		}
		if got != tc.want {
			t.Fatalf("parseCLI(%v) command=%q, want %q", tc.args, got, tc.want)
		}
	}
}

func TestParseCLIInitDir(t *testing.T) {
	dir := t.TempDir()
	cli, command, err := parseCLI([]string{"init", dir})
	if err != nil {
		t.Fatalf("parseCLI returned error: %v", err)
	}
	if command != "init <dir>" || cli.Init.Dir != dir {
		t.Fatalf("command=%q dir=%q", command, cli.Init.Dir)
	}
}

func TestParseCLILocaleFromEnv(t *testing.T) {
	t.Setenv("WORKBENCH_LOCALE", "zh-CN")

	cli, _, err := parseCLI(nil)
	if err != nil {
		t.Fatalf("parseCLI returned error: %v", err)
	}
	if cli.Locale != "zh-CN" {
		t.Fatalf("Locale=%q, want zh-CN", cli.Locale)
	}
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	if _, err := newLogger("verbose", "text", os.Stderr); err == nil {
		t.Fatal("expected invalid level error")
	}
}

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"", "text", "json", "logfmt", "JSON"} {
		if _, err := newLogger("info", format, os.Stderr); err != nil {
			t.Fatalf("newLogger(%q): %v", format, err)
		}
	}
	if _, err := newLogger("info", "xml", os.Stderr); err == nil {
		t.Fatal("expected unknown format error")
	}
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("WORKBENCH_CONFIG_PATH", "")
	t.Setenv("WORKBENCH_LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{
  // file values
  "log": {"level": "warn", "format": "json"},
  "locale": "en"
}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(cliConfig{Config: path, LogLevel: "debug", Locale: "zh-CN"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Log.Level=%q, want debug", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("Log.Format=%q, want json from file", cfg.Log.Format)
	}
	if cfg.Locale != "zh-CN" {
		t.Fatalf("Locale=%q, want zh-CN", cfg.Locale)
	}
	if got := os.Getenv("WORKBENCH_CONFIG_PATH"); got != path {
		t.Fatalf("WORKBENCH_CONFIG_PATH=%q, want %q", got, path)
	}
}

func TestSelfCommand(t *testing.T) {
	got := selfCommand([]string{"workbench", "exec-chat"})
	if len(got) != 2 || got[0] == "workbench" || got[1] != "exec-chat" {
		t.Fatalf("selfCommand=%v", got)
	}
	other := []string{"python3", "backend.py"}
	if got := selfCommand(other); got[0] != "python3" {
		t.Fatalf("foreign command rewritten: %v", got)
	}
	if got := selfCommand(nil); got != nil {
		t.Fatalf("selfCommand(nil)=%v", got)
	}
}
