package main

import (
	"context"
	"fmt"
	"os"
	"time"

	charmLog "github.com/charmbracelet/log"

	"workbench/internal/api"
	"workbench/internal/chat"
	"workbench/internal/config"
	"workbench/internal/dispatch"
	"workbench/internal/executor"
	"workbench/internal/mcp"
	"workbench/internal/planner"
	"workbench/internal/policy"
	"workbench/internal/provider"
	"workbench/internal/runner"
	"workbench/internal/session"
	"workbench/internal/storage"
	"workbench/internal/tooling"
	"workbench/internal/workbench"
)

// app holds the orchestrator side: one session wired to both channels.
type app struct {
	cfg        config.Config
	logger     *charmLog.Logger
	store      *storage.SQLiteStore
	tooling    *tooling.Registry
	mcp        *mcp.Manager
	dispatcher *dispatch.Dispatcher
	session    *session.Session

	// warm stops the background start of MCP servers; warmed is closed once
	// that start has returned.
	warm   context.CancelFunc
	warmed chan struct{}
}

func newApp(ctx context.Context, cfg config.Config, logger *charmLog.Logger) (*app, error) {
	store, err := storage.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	wb, err := workbench.NewSQLiteStore(store.DB())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init workbench store: %w", err)
	}
	engine, err := policy.Load(ctx, cfg.Policy.File)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load policy: %w", err)
	}

	reg, err := newRegistry(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	manager := mcp.NewManager(mcp.Options{Logger: logger})
	manager.Sync(selfServers(reg.Config().MCPServers))
	reg.Subscribe(func(c tooling.Config) { manager.Sync(selfServers(c.MCPServers)) })

	proc := runner.New(runner.Options{
		Command:          selfCommand(cfg.Runtime.ExecCommand),
		OutputLimitBytes: cfg.Runtime.OutputLimitBytes,
		Logger:           logger,
	})
	dispatcher := dispatch.New(dispatch.Options{
		Structured: dispatch.NewMCPChannel(manager, cfg.Runtime.MCPServer),
		Process:    dispatch.NewExecChannel(proc),
		Timeout:    time.Duration(cfg.Runtime.RequestTimeoutMS) * time.Millisecond,
		Logger:     logger,
	})

	sess, err := session.New(session.Options{
		Dispatcher: dispatcher,
		Executor: executor.New(executor.Options{
			Store:  wb,
			Policy: engine,
			Logger: logger,
		}),
		Store:        store,
		Capabilities: reg,
		Settings:     config.InitialSettings(cfg),
		Logger:       logger,
	})
	if err != nil {
		manager.Close()
		_ = store.Close()
		return nil, fmt.Errorf("init session: %w", err)
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		tooling:    reg,
		mcp:        manager,
		dispatcher: dispatcher,
		session:    sess,
	}
	if sess.Settings().PreferMCP {
		a.warmMCP(ctx)
	}
	return a, nil
}

// warmMCP starts the enabled MCP servers in the background so the first
// structured request does not pay for the handshake.
func (a *app) warmMCP(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.warm = cancel
	a.warmed = make(chan struct{})
	go func() {
		defer close(a.warmed)
		a.mcp.StartEnabled(ctx)
		a.logger.Debug("mcp servers warmed", "servers", len(a.mcp.Snapshots()))
	}()
}

func (a *app) Close() {
	if a.warm != nil {
		a.warm()
		<-a.warmed
	}
	a.mcp.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close storage", "error", err)
	}
}

func newRegistry(cfg config.Config, logger *charmLog.Logger) (*tooling.Registry, error) {
	opts := tooling.Options{UserDir: cfg.Tooling.UserDir, Logger: logger}
	if cfg.Tooling.Builtin {
		opts.Builtin = tooling.Builtin()
	}
	reg, err := tooling.New(opts)
	if err != nil {
		return nil, fmt.Errorf("load tooling: %w", err)
	}
	return reg, nil
}

// selfCommand points a command named after this binary at the running
// executable, so the default backends work without workbench on PATH.
func selfCommand(argv []string) []string {
	if len(argv) == 0 || argv[0] != "workbench" {
		return argv
	}
	self, err := os.Executable()
	if err != nil {
		return argv
	}
	return append([]string{self}, argv[1:]...)
}

func selfServers(defs []tooling.MCPServer) []tooling.MCPServer {
	out := make([]tooling.MCPServer, len(defs))
	for i, d := range defs {
		if cmd := selfCommand([]string{d.Command}); len(cmd) == 1 {
			d.Command = cmd[0]
		}
		out[i] = d
	}
	return out
}

// newBackend builds the planning side used by mcp-serve and exec-chat: the
// LLM planner over the workbench snapshot with the local planner behind it.
func newBackend(cfg config.Config, logger *charmLog.Logger) (*dispatch.Backend, func(), error) {
	store, err := storage.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}
	wb, err := workbench.NewSQLiteStore(store.DB())
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("init workbench store: %w", err)
	}

	base := provider.OpenAIConfig{
		Name:      cfg.Provider.Name,
		BaseURL:   cfg.Provider.BaseURL,
		APIKey:    cfg.Provider.APIKey,
		Model:     cfg.Provider.Model,
		TimeoutMS: cfg.Provider.TimeoutMS,
	}
	llm := planner.NewLLMPlanner(planner.LLMOptions{
		Snapshots: wb,
		NewProvider: func(s chat.ProviderSettings) provider.Provider {
			return provider.FromSettings(s, base)
		},
		TokenLimit: cfg.Runtime.ContextTokenLimit,
		Logger:     logger,
	})
	p := planner.WithFallback(llm, planner.NewLocalPlanner(wb, time.Now), logger)

	closeFn := func() {
		if err := store.Close(); err != nil {
			logger.Warn("close storage", "error", err)
		}
	}
	return dispatch.NewBackend(p, logger), closeFn, nil
}

func runMCPServe(ctx context.Context, cfg config.Config, logger *charmLog.Logger) error {
	backend, closeFn, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()
	logger.Debug("mcp backend ready")
	return mcp.Serve(ctx, os.Stdin, os.Stdout, mcp.ServerInfo{Name: "workbench", Version: version}, backend)
}

func runExecChat(ctx context.Context, cfg config.Config, logger *charmLog.Logger) error {
	backend, closeFn, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()
	return backend.ServeExec(ctx, os.Stdin, os.Stdout)
}

func runServe(ctx context.Context, cfg config.Config, opts serveCmd, logger *charmLog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	srv := api.New(api.Options{
		Session: a.session,
		Tooling: a.tooling,
		Prober:  a.dispatcher,
		Logger:  logger.With("component", "api"),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("workbench listening", "addr", addr, "db_path", cfg.DBPath(), "prefer_mcp", a.session.Settings().PreferMCP)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
