// Command strider runs the agent runtime.
//
// Usage:
//
//	strider run "summarise the report in ./docs" --config config.yaml
//	strider serve --config config.yaml
//	strider version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	strider "github.com/striderlabs/strider"
	"github.com/striderlabs/strider/pkg/agent"
	"github.com/striderlabs/strider/pkg/config"
	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/logger"
	"github.com/striderlabs/strider/pkg/observability"
	"github.com/striderlabs/strider/pkg/sandbox"
	"github.com/striderlabs/strider/pkg/scratchpad"
	"github.com/striderlabs/strider/pkg/server"
	"github.com/striderlabs/strider/pkg/skills"
	"github.com/striderlabs/strider/pkg/tools"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Run     RunCmd     `cmd:"" help:"Execute a single request and print the answer."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(_ *CLI) error {
	fmt.Println(strider.VersionString())
	return nil
}

// RunCmd executes one request in the terminal.
type RunCmd struct {
	Request string `arg:"" help:"The request to execute."`
	Session string `help:"Session ID to use or resume."`
	Mode    string `help:"Execution mode (AUTO, DIRECT, PLANNING)."`
	Resume  bool   `help:"Resume from the latest checkpoint before executing."`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Mode != "" {
		cfg.Engine.Mode = strings.ToUpper(c.Mode)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	sessionID := c.Session
	if sessionID == "" {
		sessionID = "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	engine, err := buildEngine(cfg, sessionID, nil)
	if err != nil {
		return err
	}
	if c.Resume {
		resumed, err := engine.Resume()
		if err != nil {
			return err
		}
		if resumed {
			fmt.Fprintln(os.Stderr, "resumed session", sessionID)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	answer, err := engine.Run(ctx, c.Request)
	if answer != "" {
		fmt.Println(answer)
	}
	return err
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host string `help:"Listen host (overrides config)."`
	Port int    `help:"Listen port (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	metrics := observability.New()
	factory := func(sessionID string) (*agent.Engine, error) {
		return buildEngine(cfg, sessionID, metrics)
	}
	srv := server.New(server.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}, factory, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}

func loadConfig(cli *CLI) (*config.Config, error) {
	output := os.Stderr
	if cli.LogFile != "" {
		f, _, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = f
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output, cli.LogFormat)

	return config.Load(cli.Config)
}

// buildEngine assembles the full runtime for one session. metrics may be
// nil for uninstrumented runs.
func buildEngine(cfg *config.Config, sessionID string, metrics *observability.Metrics) (*agent.Engine, error) {
	fs, err := scratchpad.NewLocalFS(cfg.Storage.Directory)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	executor := sandbox.NewLocalExecutor(cfg.Tools.SandboxDirectory)
	for _, tool := range []tools.Tool{
		tools.NewReadFileTool(cfg.Tools.WorkingDirectory),
		tools.NewWriteFileTool(cfg.Tools.WorkingDirectory),
		tools.NewRunCodeTool(executor),
		tools.NewExitTool(),
		tools.NewReadURLTool(),
		tools.NewWebSearchTool(cfg.Tools.SearchEndpoint),
	} {
		if err := registry.RegisterTool(tool); err != nil {
			return nil, err
		}
	}

	skillRegistry, err := skills.NewRegistry(cfg.Skills.Directory)
	if err != nil {
		return nil, err
	}
	if cfg.Skills.Watch {
		if err := skillRegistry.Watch(); err != nil {
			return nil, err
		}
	}

	provider := observability.InstrumentProvider(llms.NewOpenAIProvider(cfg.LLM), metrics)
	return agent.NewEngine(provider, registry, fs, skillRegistry, cfg.ToEngineConfig(sessionID))
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("strider"),
		kong.Description("An LLM agent runtime with planning, skills and failure-aware retries."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
