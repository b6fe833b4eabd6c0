package permission

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/scottyj503/chet/internal/config"
	"github.com/scottyj503/chet/internal/testutil"
)

type stubPrompter struct {
	answer Answer
	err    error
	calls  int
}

func (p *stubPrompter) Prompt(ctx context.Context, req PromptRequest) (Answer, error) {
	p.calls++
	return p.answer, p.err
}

func newTestEngine(testingHandle *testing.T, rules []config.PermissionRuleConfig, ludicrous bool, prompter Prompter) *Engine {
	cfg := &config.Config{Permissions: config.PermissionsConfig{Rules: rules}}
	engine, err := New(cfg, ludicrous, prompter, zerolog.Nop())
	testutil.RequireNoError(testingHandle, err, "build engine")
	return engine
}

func TestLudicrousBypassesEverything(testingHandle *testing.T) {
	engine := newTestEngine(testingHandle, []config.PermissionRuleConfig{{Tool: "Bash", Level: "block"}}, true, nil)
	decision, _, err := engine.Evaluate(context.Background(), "Bash", json.RawMessage(`{"command":"rm -rf /"}`), true)
	testutil.RequireNoError(testingHandle, err, "evaluate")
	testutil.RequireEqual(testingHandle, decision.Kind, Permitted, "ludicrous mode must permit unconditionally")
}

func TestFirstMatchingRuleWins(testingHandle *testing.T) {
	engine := newTestEngine(testingHandle, []config.PermissionRuleConfig{
		{Tool: "Bash", Level: "permit"},
		{Tool: "Bash", Level: "block"},
	}, false, nil)
	decision, _, err := engine.Evaluate(context.Background(), "Bash", json.RawMessage(`{"command":"ls"}`), true)
	testutil.RequireNoError(testingHandle, err, "evaluate")
	testutil.RequireEqual(testingHandle, decision.Kind, Permitted, "first matching rule (permit) must win over the later block rule")
}

func TestArgsPatternMatching(testingHandle *testing.T) {
	engine := newTestEngine(testingHandle, []config.PermissionRuleConfig{
		{Tool: "Bash", Args: "command:git *", Level: "permit"},
		{Tool: "Bash", Level: "block"},
	}, false, nil)

	gitDecision, _, err := engine.Evaluate(context.Background(), "Bash", json.RawMessage(`{"command":"git status"}`), true)
	testutil.RequireNoError(testingHandle, err, "evaluate git")
	testutil.RequireEqual(testingHandle, gitDecision.Kind, Permitted, "git command should match the args-pattern permit rule")

	rmDecision, _, err := engine.Evaluate(context.Background(), "Bash", json.RawMessage(`{"command":"rm -rf ."}`), true)
	testutil.RequireNoError(testingHandle, err, "evaluate rm")
	testutil.RequireEqual(testingHandle, rmDecision.Kind, Blocked, "non-git command should fall through to the blanket block rule")
}

func TestUnmatchedMutatingToolDefaultsToPrompt(testingHandle *testing.T) {
	prompter := &stubPrompter{answer: AnswerYesOnce}
	engine := newTestEngine(testingHandle, nil, false, prompter)
	decision, _, err := engine.Evaluate(context.Background(), "Write", json.RawMessage(`{"file_path":"x"}`), true)
	testutil.RequireNoError(testingHandle, err, "evaluate")
	testutil.RequireEqual(testingHandle, decision.Kind, Permitted, "yes-once should permit")
	testutil.RequireEqual(testingHandle, prompter.calls, 1, "expected exactly one prompt")
}

func TestUnmatchedReadOnlyToolDefaultsToPermit(testingHandle *testing.T) {
	engine := newTestEngine(testingHandle, nil, false, nil)
	decision, _, err := engine.Evaluate(context.Background(), "Read", json.RawMessage(`{"file_path":"x"}`), false)
	testutil.RequireNoError(testingHandle, err, "evaluate")
	testutil.RequireEqual(testingHandle, decision.Kind, Permitted, "non-mutating tool with no rule should default to permit")
}

func TestYesSessionInsertsSessionScopedRule(testingHandle *testing.T) {
	prompter := &stubPrompter{answer: AnswerYesSession}
	engine := newTestEngine(testingHandle, nil, false, prompter)

	first, _, err := engine.Evaluate(context.Background(), "Bash", json.RawMessage(`{"command":"ls"}`), true)
	testutil.RequireNoError(testingHandle, err, "first evaluate")
	testutil.RequireEqual(testingHandle, first.Kind, Permitted, "yes-session should permit the triggering call")

	second, _, err := engine.Evaluate(context.Background(), "Bash", json.RawMessage(`{"command":"ls -la"}`), true)
	testutil.RequireNoError(testingHandle, err, "second evaluate")
	testutil.RequireEqual(testingHandle, second.Kind, Permitted, "session-scoped rule must be honored for the rest of the session")
	testutil.RequireEqual(testingHandle, prompter.calls, 1, "second call should not re-prompt")
}

func TestNoAnswerDenies(testingHandle *testing.T) {
	prompter := &stubPrompter{answer: AnswerNo}
	engine := newTestEngine(testingHandle, nil, false, prompter)
	decision, _, err := engine.Evaluate(context.Background(), "Bash", json.RawMessage(`{"command":"ls"}`), true)
	testutil.RequireNoError(testingHandle, err, "evaluate")
	testutil.RequireEqual(testingHandle, decision.Kind, Denied, "a no answer must deny, distinct from a config block")
}

func TestBeforeHookBlockShortCircuits(testingHandle *testing.T) {
	engine := newTestEngine(testingHandle, nil, false, nil)
	engine.beforeHooks = []config.HookConfig{{Event: "before_tool", Command: "cat >/dev/null; exit 1"}}
	decision, _, err := engine.Evaluate(context.Background(), "Bash", json.RawMessage(`{"command":"ls"}`), true)
	testutil.RequireNoError(testingHandle, err, "evaluate")
	testutil.RequireEqual(testingHandle, decision.Kind, Blocked, "non-zero exit hook with no stdout decision must block")
}

func TestBeforeHookCanRewriteInput(testingHandle *testing.T) {
	engine := newTestEngine(testingHandle, nil, false, nil)
	engine.beforeHooks = []config.HookConfig{{
		Event:   "before_tool",
		Command: `printf '{"decision":"permit","modified_input":{"command":"echo safe"}}'`,
	}}
	decision, rewritten, err := engine.Evaluate(context.Background(), "Bash", json.RawMessage(`{"command":"rm -rf /"}`), true)
	testutil.RequireNoError(testingHandle, err, "evaluate")
	testutil.RequireEqual(testingHandle, decision.Kind, Permitted, "hook permit should take precedence")
	testutil.RequireStringContains(testingHandle, string(rewritten), "echo safe", "expected rewritten input to be returned")
}

func TestAfterHookFailureIsAdvisoryOnly(testingHandle *testing.T) {
	engine := newTestEngine(testingHandle, nil, false, nil)
	engine.afterHooks = []config.HookConfig{{Event: "after_tool", Command: "exit 1"}}
	engine.RunAfterHooks(context.Background(), "Bash", json.RawMessage(`{}`), "output", false)
}

func TestRuleWithMalformedGlobAbortsAtLoad(testingHandle *testing.T) {
	_, err := New(&config.Config{Permissions: config.PermissionsConfig{Rules: []config.PermissionRuleConfig{
		{Tool: "[", Level: "permit"},
	}}}, false, nil, zerolog.Nop())
	testutil.RequireTrue(testingHandle, err != nil, "malformed glob must abort config load")
}
