// Command chet is the core runtime's CLI entry point: a cobra root
// command wiring configuration, the Anthropic provider, the sandboxed
// tool registry, the permission engine, and the session store into
// either a one-shot print-mode turn or an interactive REPL. Grounded in
// the teacher's cmd/claude/main.go for the flag/options/wiring shape,
// trimmed to the flag surface spec §6 names (the teacher's much larger
// Claude Code compatibility flag set is not part of this spec).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/scottyj503/chet/internal/agent"
	"github.com/scottyj503/chet/internal/config"
	"github.com/scottyj503/chet/internal/logging"
	"github.com/scottyj503/chet/internal/permission"
	"github.com/scottyj503/chet/internal/provider"
	"github.com/scottyj503/chet/internal/provider/anthropic"
	"github.com/scottyj503/chet/internal/retry"
	"github.com/scottyj503/chet/internal/session"
	"github.com/scottyj503/chet/internal/tool"
)

// version is the chet release reported by --version.
const version = "0.1.0"

type flags struct {
	print          bool
	model          string
	maxTokens      int
	apiKey         string
	resume         string
	thinkingBudget int
	ludicrous      bool
	verbose        bool
}

func main() {
	f := &flags{}
	// ranRunE distinguishes spec §6's two non-zero exit codes: an error
	// cobra returns before RunE ever starts (unknown flag, bad flag
	// value, arg validation) is an argument error (exit 2); an error
	// run itself returns is a user-facing runtime error (exit 1).
	ranRunE := false
	root := &cobra.Command{
		Use:     "chet [prompt]",
		Short:   "An interactive coding assistant driven by a remote LLM.",
		Version: version,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ranRunE = true
			return run(cmd.Context(), f, args)
		},
	}

	root.Flags().BoolVarP(&f.print, "print", "p", false, "run one turn non-interactively and print the result")
	root.Flags().StringVar(&f.model, "model", "", "override the configured model")
	root.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "override the configured max output tokens")
	root.Flags().StringVar(&f.apiKey, "api-key", "", "override the configured API key")
	root.Flags().StringVar(&f.resume, "resume", "", "resume a session by id or unambiguous id prefix")
	root.Flags().IntVar(&f.thinkingBudget, "thinking-budget", 0, "enable extended thinking with this token budget")
	root.Flags().BoolVar(&f.ludicrous, "ludicrous", false, "bypass the permission engine entirely (dangerous)")
	root.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chet:", err)
		if ranRunE {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

// runtime bundles everything a turn needs, built once at startup and
// shared between print mode and the interactive REPL.
type runtime struct {
	store     *session.Store
	provider  provider.Provider
	tools     *tool.Registry
	model     string
	maxTokens int
	thinking  *provider.ThinkingConfig

	newPermissions func(prompter permission.Prompter) (*permission.Engine, error)
}

func run(ctx context.Context, f *flags, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, f.verbose)

	model := config.ResolveModel(cfg, f.model)
	apiKey := config.ResolveAPIKey(cfg, f.apiKey)
	baseURL := config.ResolveBaseURL(cfg, "")
	if apiKey == "" {
		return fmt.Errorf("no API key: set ANTHROPIC_API_KEY, api.api_key in config, or --api-key")
	}

	maxTokens := f.maxTokens
	if maxTokens == 0 {
		maxTokens = cfg.API.MaxTokens
	}

	retryCfg := retry.Config{
		MaxRetries:   cfg.API.Retry.MaxRetries,
		InitialDelay: time.Duration(cfg.API.Retry.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.API.Retry.MaxDelayMS) * time.Millisecond,
	}

	client := anthropic.NewClient(baseURL, apiKey, retryCfg, anthropic.WithLogger(logger))

	dir, err := sessionDir()
	if err != nil {
		return err
	}
	store, err := session.NewStore(dir)
	if err != nil {
		return err
	}

	sandbox := tool.NewSandbox([]string{mustGetwd()})
	registry := tool.NewRegistry(
		&tool.ReadTool{},
		&tool.WriteTool{},
		&tool.EditTool{},
		&tool.GlobTool{},
		&tool.GrepTool{},
		&tool.BashTool{},
		&tool.TodoWriteTool{},
	)

	thinkingBudget := f.thinkingBudget
	if thinkingBudget == 0 {
		thinkingBudget = cfg.API.ThinkingBudget
	}
	var thinking *provider.ThinkingConfig
	if thinkingBudget > 0 {
		thinking = &provider.ThinkingConfig{Type: "enabled", BudgetTokens: thinkingBudget}
	}

	sess, err := resolveSession(store, f.resume)
	if err != nil {
		return err
	}

	rt := &runtime{
		store:     store,
		provider:  client,
		tools:     registry,
		model:     model,
		maxTokens: maxTokens,
		thinking:  thinking,
		newPermissions: func(prompter permission.Prompter) (*permission.Engine, error) {
			return permission.New(cfg, f.ludicrous, prompter, logger)
		},
	}

	toolCtx := tool.Context{
		CWD:       mustGetwd(),
		Sandbox:   sandbox,
		SessionID: sess.ID,
	}

	// bubbletea's alt-screen REPL needs a real TTY on both ends; fall
	// back to print mode automatically when either side is piped.
	if f.print || !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		prompt := ""
		if len(args) > 0 {
			prompt = args[0]
		}
		return runPrint(ctx, rt, sess, toolCtx, prompt, logger)
	}

	return runInteractive(ctx, rt, sess, toolCtx, logger)
}

// newRunner builds a Runner and then layers the Task subagent tool
// (spec §4.7 "Subagents") on top of rt's base registry, since the tool
// needs a reference back to the very Runner it is registered on.
func newRunner(rt *runtime, toolCtx tool.Context, engine *permission.Engine) *agent.Runner {
	runner := &agent.Runner{
		Provider:    rt.provider,
		Tools:       rt.tools,
		Permissions: engine,
		ToolContext: toolCtx,
		Model:       rt.model,
		MaxTokens:   rt.maxTokens,
		Thinking:    rt.thinking,
	}
	runner.Tools = rt.tools.Add(&agent.TaskTool{Parent: runner})
	runner.SystemPrompt = agent.DefaultSystemPrompt(runner.Tools.Names())
	return runner
}

func resolveSession(store *session.Store, resume string) (*session.Session, error) {
	if resume == "" {
		return &session.Session{ID: uuid.NewString(), Mode: session.ModeNormal}, nil
	}
	id, err := store.ResolvePrefix(resume)
	if err != nil {
		return nil, fmt.Errorf("resume %q: %w", resume, err)
	}
	return store.Load(id)
}

func loadConfig() (*config.Config, error) {
	path, err := config.Path()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func sessionDir() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return dir + "/sessions", nil
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
