package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/scottyj503/chet/internal/permission"
)

// stdinPrompter is a blocking, line-oriented Prompter used in print
// mode and as the interactive REPL's fallback when stdin is not a
// terminal bubbletea can take over. It mirrors the yes-once/
// yes-session/no vocabulary spec §4.6 defines for interactive prompts.
type stdinPrompter struct {
	in *bufio.Reader
}

func newStdinPrompter() *stdinPrompter {
	return &stdinPrompter{in: bufio.NewReader(os.Stdin)}
}

func (p *stdinPrompter) Prompt(ctx context.Context, req permission.PromptRequest) (permission.Answer, error) {
	fmt.Printf("\n%s wants to run %s with input:\n%s\n", "chet", req.ToolName, string(req.Input))
	fmt.Print("Allow? [y]es-once / [s]ession / [n]o: ")

	line, err := p.in.ReadString('\n')
	if err != nil {
		return permission.AnswerNo, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return permission.AnswerYesOnce, nil
	case "s", "session":
		return permission.AnswerYesSession, nil
	default:
		return permission.AnswerNo, nil
	}
}
