package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/agent"
	"github.com/zanbei/agentx/agent/terminal"
	"github.com/zanbei/agentx/api"
	"github.com/zanbei/agentx/builder"
	"github.com/zanbei/agentx/catalog"
	"github.com/zanbei/agentx/config"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/llm"
	"github.com/zanbei/agentx/logging"
	"github.com/zanbei/agentx/pipeline"
	"github.com/zanbei/agentx/store"
	"github.com/zanbei/agentx/telemetry"
	"github.com/zanbei/agentx/tools"
	"github.com/zanbei/agentx/toolserver"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve      ServeCmd      `cmd:"" help:"Start the HTTP API."`
	ToolServer ToolServerCmd `cmd:"" name:"toolserver" help:"Serve the built-in tools over MCP streamable HTTP."`
	Chat       ChatCmd       `cmd:"" help:"Run a stored agent in the terminal."`
	Version    VersionCmd    `cmd:"" help:"Show version information."`

	Config   string `short:"c" help:"Path to config file (default: layered lookup)." type:"path"`
	LogLevel string `help:"Log level override (debug, info, warn, error)."`
}

func (c *CLI) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.Config != "" {
		cfg, err = config.LoadFile(c.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	logging.Setup(cfg.Log)
	return cfg, nil
}

// services are the long-lived components shared by serve and chat.
type services struct {
	store    store.Store
	registry *tools.Registry
	catalog  *catalog.Catalog
	executor *pipeline.Executor
}

func assemble(ctx context.Context, cfg *config.Config) (*services, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	registry := tools.NewBuiltinRegistry(&cfg.Tools)
	b := builder.New(st, registry, llm.NewSelector(&cfg.Model),
		builder.WithMaxDepth(cfg.Agent.MaxDepth),
		builder.WithMaxCycles(cfg.Agent.MaxCycles),
		builder.WithMCPServers(st),
	)
	return &services{
		store:    st,
		registry: registry,
		catalog:  catalog.New(registry, st, st),
		executor: pipeline.NewExecutor(st, st, b),
	}, nil
}

// ServeCmd runs the HTTP API until SIGINT or SIGTERM.
type ServeCmd struct {
	Addr       string `help:"Listen address (overrides server.addr)."`
	ToolServer bool   `help:"Also mount the built-in MCP tool server at /mcp/."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	svc, err := assemble(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	deps := api.Deps{Store: svc.store, Catalog: svc.catalog, Executor: svc.executor}
	if c.ToolServer {
		ts, err := toolserver.New(svc.registry, definition.Env{}, telemetry.Version)
		if err != nil {
			return err
		}
		deps.ToolServer = ts
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(cfg.Server.CORSOrigins, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE and WebSocket responses stay open for the whole run
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", telemetry.Version).Msg("AgentX API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	if err := svc.executor.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Background executions still running at shutdown")
	}
	return nil
}

// ToolServerCmd publishes the built-in tools for remote mcp bindings.
type ToolServerCmd struct {
	Addr string `help:"Listen address." default:":8090"`
	Env  string `help:"KEY=VALUE lines passed to the tools."`
}

func (c *ToolServerCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ts, err := toolserver.New(tools.NewBuiltinRegistry(&cfg.Tools), definition.ParseEnv(c.Env), telemetry.Version)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Addr).Strs("tools", ts.ToolNames()).Msg("MCP tool server listening")
		if err := ts.Start(c.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return ts.Shutdown(shutdownCtx)
}

// ChatCmd runs one live execution per message and renders it.
type ChatCmd struct {
	AgentID       string   `arg:"" name:"agent-id" help:"Stored agent id."`
	Message       []string `arg:"" optional:"" help:"Initial message. Without one the terminal reads from stdin."`
	Record        bool     `help:"Persist the chat record and responses." default:"true" negatable:""`
	ToolVerbosity string   `help:"Tool verbosity level: none, info or all." default:"info"`
	Interactive   bool     `short:"i" help:"Keep reading messages after the initial one."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	verbosity, err := terminal.ParseVerbosity(c.ToolVerbosity)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := assemble(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	run := func(ctx context.Context, msg string) iter.Seq2[agent.Event, error] {
		return func(yield func(agent.Event, error) bool) {
			chatID, err := svc.executor.StartChat(ctx, c.AgentID, msg, c.Record)
			if err != nil {
				yield(nil, err)
				return
			}
			log.Debug().Str("chat_id", chatID).Msg("Chat started")
			for ev, err := range svc.executor.Execute(ctx, c.AgentID, msg, chatID, c.Record) {
				if !yield(ev, err) || err != nil {
					return
				}
			}
		}
	}

	initial := strings.Join(c.Message, " ")
	var in io.Reader = os.Stdin
	if initial != "" && !c.Interactive {
		in = nil
	}
	return terminal.New(in, os.Stdout, verbosity).Run(ctx, run, initial)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("agentx %s\n", telemetry.Version)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentx"),
		kong.Description("AgentX - assemble stored agent definitions and stream their execution"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
