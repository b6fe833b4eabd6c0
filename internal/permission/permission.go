// Package permission implements the rule-matched, hook-gated tool
// authorization engine (spec §4.6): hooks run first and may rewrite
// input or force a decision, then declared rules are matched in order,
// then an unmatched mutating tool falls back to an interactive prompt.
//
// Grounded in the teacher's internal/tools/permissions.go for the
// mode/mutating-tool-prompts-by-default shape, generalized from a
// fixed five-mode enum into spec §6's declarative
// `[[permissions.rules]]` list, and in haasonsaas-nexus's
// internal/hooks/tool_hooks.go ApprovalWorkflow for the
// request/response approval shape (adapted here to a synchronous
// call-and-block Prompter rather than that source's channel-based
// async workflow, since the agent loop suspends cooperatively at the
// prompt rather than running hooks concurrently with other work).
package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scottyj503/chet/internal/config"
)

// Kind is the outcome of a permission evaluation.
type Kind int

const (
	// Permitted means the tool may run, possibly with rewritten input.
	Permitted Kind = iota
	// Blocked means configuration (a rule or a hook) refused the call.
	Blocked
	// Denied means the user refused the call interactively.
	Denied
)

func (k Kind) String() string {
	switch k {
	case Permitted:
		return "permitted"
	case Blocked:
		return "blocked"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating a tool call.
type Decision struct {
	Kind   Kind
	Reason string
}

// Answer is the user's reply to an interactive prompt.
type Answer string

const (
	AnswerYesOnce    Answer = "yes-once"
	AnswerYesSession Answer = "yes-session"
	AnswerNo         Answer = "no"
)

// PromptRequest carries the context an interactive prompt needs to
// show the user: which tool, what input, and why it's asking.
type PromptRequest struct {
	ToolName string
	Input    json.RawMessage
	Reason   string
}

// Prompter is implemented by the UI layer to resolve an interactive
// permission prompt. It is invoked synchronously from the agent loop's
// tool-dispatch suspension point (spec §5's "interactive permission
// prompt" suspension point).
type Prompter interface {
	Prompt(ctx context.Context, req PromptRequest) (Answer, error)
}

// Engine evaluates tool calls against hooks, declared rules, and
// session-scoped rules. It is immutable for the duration of a turn
// except for session-scoped rule insertion, which is appended under a
// mutex (spec §9 "cyclic ownership").
type Engine struct {
	rules        []Rule
	beforeHooks  []config.HookConfig
	afterHooks   []config.HookConfig
	ludicrous    bool
	prompter     Prompter
	logger       zerolog.Logger
	hookRunner   func(ctx context.Context, hook config.HookConfig, toolName string, input json.RawMessage, event string) (*hookOutcome, error)

	mu           sync.Mutex
	sessionRules []Rule
}

// New builds an Engine from parsed configuration. ludicrous bypasses
// every check per spec §4.6 step 1. prompter may be nil; a call that
// would then need an interactive prompt is blocked instead.
func New(cfg *config.Config, ludicrous bool, prompter Prompter, logger zerolog.Logger) (*Engine, error) {
	rules, err := parseRules(cfg.Permissions.Rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfigInvalid, err)
	}

	engine := &Engine{
		rules:     rules,
		ludicrous: ludicrous,
		prompter:  prompter,
		logger:    logger,
	}
	engine.hookRunner = runHookProcess

	for _, hook := range cfg.Hooks {
		switch hook.Event {
		case "before_tool":
			engine.beforeHooks = append(engine.beforeHooks, hook)
		case "after_tool":
			engine.afterHooks = append(engine.afterHooks, hook)
		}
	}
	return engine, nil
}

// Evaluate runs the full algorithm of spec §4.6 steps 1-5 and returns
// the decision plus the (possibly hook-rewritten) input to execute the
// tool with.
func (e *Engine) Evaluate(ctx context.Context, toolName string, input json.RawMessage, isMutating bool) (Decision, json.RawMessage, error) {
	if e.ludicrous {
		return Decision{Kind: Permitted}, input, nil
	}

	workingInput := input
	forcedLevel, forced := "", false
	for _, hook := range e.beforeHooks {
		outcome, err := e.hookRunner(ctx, hook, toolName, workingInput, "before_tool")
		if err != nil {
			e.logger.Warn().Err(err).Str("hook", hook.Command).Msg("before_tool hook crashed; treating as block")
			return Decision{Kind: Blocked, Reason: "a before_tool hook failed to run"}, workingInput, nil
		}
		if outcome == nil {
			continue
		}
		if len(outcome.ModifiedInput) > 0 {
			workingInput = outcome.ModifiedInput
		}
		switch outcome.Decision {
		case "block":
			reason := outcome.Reason
			if reason == "" {
				reason = "blocked by hook"
			}
			return Decision{Kind: Blocked, Reason: reason}, workingInput, nil
		case "permit":
			return Decision{Kind: Permitted}, workingInput, nil
		case "prompt":
			forcedLevel, forced = "prompt", true
		}
	}

	level := forcedLevel
	if !forced {
		matched, matchedLevel := e.matchRules(toolName, workingInput)
		switch {
		case matched:
			level = matchedLevel
		case isMutating:
			level = "prompt"
		default:
			level = "permit"
		}
	}

	switch level {
	case "permit":
		return Decision{Kind: Permitted}, workingInput, nil
	case "block":
		return Decision{Kind: Blocked, Reason: "blocked by permission rule"}, workingInput, nil
	case "prompt":
		return e.promptUser(ctx, toolName, workingInput)
	default:
		return Decision{Kind: Permitted}, workingInput, nil
	}
}

func (e *Engine) promptUser(ctx context.Context, toolName string, input json.RawMessage) (Decision, json.RawMessage, error) {
	if e.prompter == nil {
		return Decision{Kind: Blocked, Reason: "no interactive prompter available"}, input, nil
	}
	answer, err := e.prompter.Prompt(ctx, PromptRequest{ToolName: toolName, Input: input, Reason: "mutating tool requires approval"})
	if err != nil {
		return Decision{}, input, err
	}
	switch answer {
	case AnswerYesOnce:
		return Decision{Kind: Permitted}, input, nil
	case AnswerYesSession:
		e.addSessionRule(Rule{ToolPattern: toolName, Level: "permit"})
		return Decision{Kind: Permitted}, input, nil
	default:
		return Decision{Kind: Denied, Reason: "user declined"}, input, nil
	}
}

// addSessionRule inserts a synthetic permit rule that lives only for
// the remainder of the session; it is never persisted (spec glossary
// "Session-scoped rule").
func (e *Engine) addSessionRule(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionRules = append(e.sessionRules, rule)
}

// matchRules checks session-scoped rules first (most recently granted,
// and narrowest in practice), then declared config rules, first match
// wins within each list.
func (e *Engine) matchRules(toolName string, input json.RawMessage) (bool, string) {
	e.mu.Lock()
	sessionRules := append([]Rule(nil), e.sessionRules...)
	e.mu.Unlock()

	for _, rule := range sessionRules {
		if rule.Matches(toolName, input) {
			return true, rule.Level
		}
	}
	for _, rule := range e.rules {
		if rule.Matches(toolName, input) {
			return true, rule.Level
		}
	}
	return false, ""
}

// RunAfterHooks executes after_tool hooks for auditing. Their
// decisions are advisory only per spec §4.6 step 6: failures are
// logged, never enforced.
func (e *Engine) RunAfterHooks(ctx context.Context, toolName string, input json.RawMessage, resultContent string, isError bool) {
	for _, hook := range e.afterHooks {
		outcome, err := e.hookRunner(ctx, hook, toolName, input, "after_tool")
		if err != nil {
			e.logger.Warn().Err(err).Str("hook", hook.Command).Msg("after_tool hook failed")
			continue
		}
		if outcome != nil && outcome.Decision == "block" {
			e.logger.Info().Str("tool", toolName).Str("reason", outcome.Reason).Msg("after_tool hook flagged call (advisory only)")
		}
	}
}
