package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	charmLog "github.com/charmbracelet/log"

	"workbench/internal/config"
	"workbench/internal/i18n"
)

const version = "0.3.0"

type cliConfig struct {
	Config    string `name:"config" help:"Path to a config JSON/JSONC file." type:"path"`
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error). Overrides the config file."`
	LogFormat string `name:"log-format" help:"Log format (text, json, logfmt). Overrides the config file."`
	Locale    string `name:"locale" help:"UI locale (en, zh-CN)." env:"WORKBENCH_LOCALE"`

	Repl     replCmd  `cmd:"" default:"1" help:"Chat with the agent and approve its actions (default)."`
	Serve    serveCmd `cmd:"" help:"Serve the HTTP and websocket API."`
	MCPServe struct{} `cmd:"" name:"mcp-serve" help:"Run the planning backend as an MCP server on stdio."`
	ExecChat struct{} `cmd:"" name:"exec-chat" help:"Answer one planning request read from stdin."`
	Init     initCmd  `cmd:"" help:"Write a project config template."`
	Version  struct{} `cmd:"" help:"Print the version."`
}

type replCmd struct {
	NoProgress bool `name:"no-progress" help:"Do not render the live progress view."`
}

type serveCmd struct {
	Addr string `name:"addr" help:"Listen address. Overrides the config file."`
}

type initCmd struct {
	Dir string `arg:"" optional:"" default:"." type:"path" help:"Project directory."`
}

func main() {
	cli, command, err := parseCLI(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse args: %v\n", err)
		os.Exit(2)
	}
	if err := run(cli, command); err != nil {
		fmt.Fprintf(os.Stderr, "workbench: %v\n", err)
		os.Exit(1)
	}
}

func parseCLI(args []string) (cliConfig, string, error) {
	var cli cliConfig

	parser, err := kong.New(
		&cli,
		kong.Name("workbench"),
		kong.Description("Workbench agent: plans actions over your todos, projects and events, and runs the ones you approve."),
		kong.UsageOnError(),
	)
	if err != nil {
		return cliConfig{}, "", err
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		return cliConfig{}, "", err
	}
	return cli, ctx.Command(), nil
}

func run(cli cliConfig, command string) error {
	switch command {
	case "version":
		fmt.Println("workbench", version)
		return nil
	case "init", "init <dir>":
		path, err := config.InitProjectConfig(cli.Init.Dir)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	i18n.Init(cfg.Locale)

	// The REPL owns the terminal, so its logs go to a file.
	logOut := io.Writer(os.Stderr)
	if command == "repl" {
		f, err := openLogFile(cfg)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	logger, err := newLogger(cfg.Log.Level, cfg.Log.Format, logOut)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	charmLog.SetDefault(logger)

	// In the REPL, ctrl+c belongs to readline and the progress view.
	signals := []os.Signal{os.Interrupt, syscall.SIGTERM}
	if command == "repl" {
		signals = []os.Signal{syscall.SIGTERM}
	}
	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	switch command {
	case "serve":
		return runServe(ctx, cfg, cli.Serve, logger)
	case "mcp-serve":
		return runMCPServe(ctx, cfg, logger)
	case "exec-chat":
		return runExecChat(ctx, cfg, logger)
	default:
		return runREPL(ctx, cfg, cli.Repl, logger)
	}
}

// loadConfig applies the global flags over the loaded config. An explicit
// --config is exported so backend subprocesses read the same file.
func loadConfig(cli cliConfig) (config.Config, error) {
	if path := strings.TrimSpace(cli.Config); path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if err := os.Setenv("WORKBENCH_CONFIG_PATH", path); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return config.Config{}, err
	}
	if v := strings.TrimSpace(cli.LogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(cli.LogFormat); v != "" {
		cfg.Log.Format = v
	}
	if v := strings.TrimSpace(cli.Locale); v != "" {
		cfg.Locale = v
	}
	return cfg, nil
}

func newLogger(levelRaw, formatRaw string, out io.Writer) (*charmLog.Logger, error) {
	level, err := charmLog.ParseLevel(strings.TrimSpace(levelRaw))
	if err != nil {
		return nil, err
	}

	formatter := charmLog.TextFormatter
	switch strings.ToLower(strings.TrimSpace(formatRaw)) {
	case "", "text":
	case "json":
		formatter = charmLog.JSONFormatter
	case "logfmt":
		formatter = charmLog.LogfmtFormatter
	default:
		return nil, errors.New("unknown log format: " + formatRaw)
	}

	return charmLog.NewWithOptions(out, charmLog.Options{
		Prefix:          "workbench",
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	}), nil
}

func openLogFile(cfg config.Config) (*os.File, error) {
	dir := filepath.Join(cfg.Storage.BaseDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "workbench.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
