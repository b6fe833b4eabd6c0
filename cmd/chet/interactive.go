package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scottyj503/chet/internal/agent"
	"github.com/scottyj503/chet/internal/cancel"
	"github.com/scottyj503/chet/internal/permission"
	"github.com/scottyj503/chet/internal/provider"
	"github.com/scottyj503/chet/internal/session"
	"github.com/scottyj503/chet/internal/sse"
	"github.com/scottyj503/chet/internal/tool"
	"github.com/scottyj503/chet/internal/tracker"
)

// contextWindowTokens is the display budget /context measures against;
// it has no bearing on what the provider actually enforces.
const contextWindowTokens = 200_000

// runInteractive drives the bubbletea REPL for as long as the process
// runs, one turn per submitted prompt, saving the session after every
// turn boundary including a cancelled one (spec §4.8's save cadence).
func runInteractive(ctx context.Context, rt *runtime, sess *session.Session, toolCtx tool.Context, logger zerolog.Logger) error {
	m := newTUIModel(ctx, rt, sess, toolCtx, logger)
	program := tea.NewProgram(m, tea.WithAltScreen())
	m.program = program
	_, err := program.Run()
	return err
}

type tuiModel struct {
	ctx     context.Context
	rt      *runtime
	sess    *session.Session
	toolCtx tool.Context
	logger  zerolog.Logger
	program *tea.Program

	input    textarea.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer

	lines   []string
	pending strings.Builder

	running   bool
	planMode  bool
	token     *cancel.Token
	awaiting  *permissionRequestMsg
	quitting  bool
	width     int
	height    int
}

func newTUIModel(ctx context.Context, rt *runtime, sess *session.Session, toolCtx tool.Context, logger zerolog.Logger) *tuiModel {
	ta := textarea.New()
	ta.Placeholder = "Ask chet anything, or /help for commands"
	ta.Focus()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle())

	return &tuiModel{
		ctx:      ctx,
		rt:       rt,
		sess:     sess,
		toolCtx:  toolCtx,
		logger:   logger,
		input:    ta,
		viewport: vp,
		renderer: renderer,
		lines:    []string{fmt.Sprintf("session %s", sess.ID)},
	}
}

func (m *tuiModel) Init() tea.Cmd {
	return textarea.Blink
}

// --- tea.Msg types the agent loop's Observer/Prompter post back into
// the program from their own goroutine.

type streamEventMsg struct{ event *sse.Event }
type assistantMessageMsg struct{ message provider.Message }
type toolResultMsg struct {
	toolUseID string
	result    provider.ContentBlock
}
type turnDoneMsg struct {
	err       error
	cancelled bool
}
type permissionRequestMsg struct {
	req     permission.PromptRequest
	respond chan permission.Answer
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
		m.input.SetWidth(msg.Width)
		m.renderTranscript()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case streamEventMsg:
		if msg.event.Kind == sse.KindContentBlockDelta && msg.event.ContentBlockDelta.Delta.Type == sse.DeltaTypeText {
			m.pending.WriteString(msg.event.ContentBlockDelta.Delta.Text)
			m.renderTranscript()
		}
		return m, nil

	case assistantMessageMsg:
		m.pending.Reset()
		text := textOfMessage(msg.message)
		if text != "" {
			m.lines = append(m.lines, m.renderMarkdown(text))
		}
		m.renderTranscript()
		return m, nil

	case toolResultMsg:
		if msg.result.IsError {
			m.lines = append(m.lines, fmt.Sprintf("[tool error: %s]", msg.result.Content))
		} else {
			m.lines = append(m.lines, fmt.Sprintf("[tool %s done]", msg.toolUseID))
		}
		m.renderTranscript()
		return m, nil

	case permissionRequestMsg:
		m.awaiting = &msg
		m.renderTranscript()
		return m, nil

	case turnDoneMsg:
		m.running = false
		if saveErr := m.rt.store.Save(m.sess); saveErr != nil {
			m.logger.Warn().Err(saveErr).Msg("failed to save session")
		}
		if msg.cancelled {
			m.lines = append(m.lines, "[cancelled]")
		} else if msg.err != nil && msg.err != agent.ErrTurnLimitExceeded {
			m.lines = append(m.lines, fmt.Sprintf("[error: %v]", msg.err))
		}
		m.renderTranscript()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.awaiting != nil {
		switch msg.String() {
		case "y":
			m.awaiting.respond <- permission.AnswerYesOnce
			m.awaiting = nil
		case "s":
			m.awaiting.respond <- permission.AnswerYesSession
			m.awaiting = nil
		case "n", "esc":
			m.awaiting.respond <- permission.AnswerNo
			m.awaiting = nil
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		if m.running && m.token != nil {
			m.token.Cancel()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	case "esc":
		if m.running && m.token != nil {
			m.token.Cancel()
		}
		return m, nil
	case "enter":
		if m.running {
			return m, nil
		}
		prompt := strings.TrimSpace(m.input.Value())
		if prompt == "" {
			return m, nil
		}
		m.input.Reset()
		if strings.HasPrefix(prompt, "/") {
			return m, m.runCommand(prompt)
		}
		return m, m.submitTurn(prompt)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *tuiModel) View() string {
	body := m.viewport.View()
	status := "idle"
	if m.running {
		status = "working… (esc to cancel)"
	}
	if m.planMode {
		status += " [plan]"
	}
	statusLine := lipgloss.NewStyle().Faint(true).Render(status)
	if m.awaiting != nil {
		return fmt.Sprintf("%s\n%s\nAllow %s? [y]es / [s]ession / [n]o\n", body, statusLine, m.awaiting.req.ToolName)
	}
	return fmt.Sprintf("%s\n%s\n%s", body, statusLine, m.input.View())
}

func (m *tuiModel) renderTranscript() {
	all := append([]string(nil), m.lines...)
	if m.pending.Len() > 0 {
		all = append(all, m.pending.String())
	}
	m.viewport.SetContent(strings.Join(all, "\n\n"))
	m.viewport.GotoBottom()
}

func (m *tuiModel) renderMarkdown(text string) string {
	if m.renderer == nil {
		return text
	}
	rendered, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

// submitTurn appends prompt as a user message and runs the agent loop
// in a goroutine, streaming results back as tea.Msg values.
func (m *tuiModel) submitTurn(prompt string) tea.Cmd {
	if m.sess.Label == "" {
		m.sess.Label = session.AutoLabel(prompt)
	}
	m.sess.Messages = append(m.sess.Messages, provider.Message{
		Role:    provider.RoleUser,
		Content: []provider.ContentBlock{provider.TextBlock(prompt)},
	})
	m.lines = append(m.lines, "> "+prompt)
	m.running = true
	m.token = cancel.New()
	m.renderTranscript()

	engine, err := m.rt.newPermissions(&tuiPrompter{program: m.program})
	if err != nil {
		m.running = false
		m.lines = append(m.lines, fmt.Sprintf("[error: %v]", err))
		return nil
	}

	toolCtx := m.toolCtx
	toolCtx.Events = &tuiObserver{program: m.program}
	runner := newRunner(m.rt, toolCtx, engine)
	runner.PlanMode = m.planMode

	ctx, token, messages, program := m.ctx, m.token, m.sess.Messages, m.program
	return func() tea.Msg {
		result, runErr := runner.Run(ctx, token, messages, &tuiObserver{program: program})
		m.sess.Messages = result.Messages
		m.sess.CumulativeUsage.Add(result.Usage)
		return turnDoneMsg{err: runErr, cancelled: result.Cancelled}
	}
}

func (m *tuiModel) runCommand(cmdline string) tea.Cmd {
	fields := strings.Fields(cmdline)
	cmd, arg := fields[0], ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/help":
		m.lines = append(m.lines, "/help /model /cost /context /compact /sessions /resume /clear /plan /quit")
	case "/model":
		m.lines = append(m.lines, fmt.Sprintf("model: %s", m.rt.model))
	case "/cost":
		u := m.sess.CumulativeUsage
		m.lines = append(m.lines, fmt.Sprintf("input=%d output=%d cache_write=%d cache_read=%d",
			u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens))
	case "/context":
		estimate, _ := tracker.EstimateTokens(m.sess.Messages)
		m.lines = append(m.lines, fmt.Sprintf("~%d tokens (%.0f%% of %d)", estimate, tracker.Utilization(estimate, contextWindowTokens)*100, contextWindowTokens))
	case "/compact":
		return m.compact()
	case "/sessions":
		ids, err := m.rt.store.List()
		if err != nil {
			m.lines = append(m.lines, fmt.Sprintf("[error: %v]", err))
			break
		}
		m.lines = append(m.lines, strings.Join(ids, "\n"))
	case "/resume":
		if arg == "" {
			m.lines = append(m.lines, "usage: /resume <id-prefix>")
			break
		}
		id, err := m.rt.store.ResolvePrefix(arg)
		if err != nil {
			m.lines = append(m.lines, fmt.Sprintf("[error: %v]", err))
			break
		}
		sess, err := m.rt.store.Load(id)
		if err != nil {
			m.lines = append(m.lines, fmt.Sprintf("[error: %v]", err))
			break
		}
		m.sess = sess
		m.planMode = sess.Mode == session.ModePlan
		m.lines = append(m.lines, fmt.Sprintf("resumed session %s", sess.ID))
	case "/clear":
		m.sess = &session.Session{ID: uuid.NewString(), Mode: m.sess.Mode}
		m.lines = []string{fmt.Sprintf("session %s", m.sess.ID)}
	case "/plan":
		m.planMode = !m.planMode
		if m.planMode {
			m.sess.Mode = session.ModePlan
		} else {
			m.sess.Mode = session.ModeNormal
		}
		m.lines = append(m.lines, fmt.Sprintf("plan mode: %v", m.planMode))
	case "/quit":
		return tea.Quit
	default:
		m.lines = append(m.lines, fmt.Sprintf("unknown command %q", cmd))
	}
	m.renderTranscript()
	return nil
}

func (m *tuiModel) compact() tea.Cmd {
	m.running = true
	m.renderTranscript()
	sess, store, prov, model, maxTokens, ctx, program := m.sess, m.rt.store, m.rt.provider, m.rt.model, m.rt.maxTokens, m.ctx, m.program
	return func() tea.Msg {
		err := tracker.Compact(ctx, store, sess, prov, model, maxTokens)
		program.Send(turnDoneMsg{err: err})
		return nil
	}
}

// textOfMessage concatenates every text block of message, in order.
func textOfMessage(message provider.Message) string {
	text := ""
	for _, block := range message.Content {
		if block.Type == provider.BlockText {
			text += block.Text
		}
	}
	return text
}

// tuiObserver bridges the agent loop's Observer interface into
// tea.Msg values posted to the running Program, since the loop itself
// runs on its own goroutine.
type tuiObserver struct{ program *tea.Program }

func (o *tuiObserver) OnStreamEvent(event *sse.Event)      { o.program.Send(streamEventMsg{event}) }
func (o *tuiObserver) OnAssistantMessage(message provider.Message) {
	o.program.Send(assistantMessageMsg{message})
}
func (o *tuiObserver) OnToolResult(toolUseID string, result provider.ContentBlock) {
	o.program.Send(toolResultMsg{toolUseID, result})
}
func (o *tuiObserver) ToolProgress(toolUseID, chunk string) {}

// tuiPrompter bridges the permission engine's synchronous Prompter
// interface into the same tea.Msg channel, blocking the agent-loop
// goroutine until the UI goroutine answers.
type tuiPrompter struct{ program *tea.Program }

func (p *tuiPrompter) Prompt(ctx context.Context, req permission.PromptRequest) (permission.Answer, error) {
	respond := make(chan permission.Answer, 1)
	p.program.Send(permissionRequestMsg{req: req, respond: respond})
	select {
	case answer := <-respond:
		return answer, nil
	case <-ctx.Done():
		return permission.AnswerNo, ctx.Err()
	}
}
