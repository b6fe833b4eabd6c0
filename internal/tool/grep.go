package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/scottyj503/chet/internal/cancel"
)

// maxGrepMatches caps reported matches so output stays bounded.
const maxGrepMatches = 200

// GrepTool searches files under a root for lines matching a regular
// expression. The third plan-mode read-only builtin named in spec
// §4.7, alongside Read and Glob.
type GrepTool struct{}

func (t *GrepTool) Name() string        { return "Grep" }
func (t *GrepTool) Description() string { return "Search files for lines matching a regular expression." }
func (t *GrepTool) IsMutating() bool    { return false }

func (t *GrepTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Regular expression to search for."},
			"path":    map[string]any{"type": "string", "description": "File or directory to search; defaults to the current directory."},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Run(ctx context.Context, input json.RawMessage, toolCtx Context, token *cancel.Token) (Result, error) {
	if err := token.Err(); err != nil {
		return Result{}, err
	}

	var payload struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if payload.Pattern == "" {
		return Result{IsError: true, Content: "pattern is required"}, nil
	}

	re, err := regexp.Compile(payload.Pattern)
	if err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("invalid pattern: %v", err)}, nil
	}

	searchPath := payload.Path
	if searchPath == "" {
		searchPath = toolCtx.CWD
	}
	if !filepath.IsAbs(searchPath) {
		searchPath = filepath.Join(toolCtx.CWD, searchPath)
	}
	root, err := toolCtx.Sandbox.ResolvePath(searchPath, true)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}

	var matches []string
	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(matches) >= maxGrepMatches {
			return fs.SkipAll
		}
		if token.Cancelled() {
			return cancel.ErrCancelled
		}
		if entry.IsDir() {
			if entry.Name() == ".git" {
				return fs.SkipDir
			}
			return nil
		}
		grepFile(path, re, &matches)
		return nil
	})
	if walkErr != nil && walkErr != cancel.ErrCancelled {
		return Result{IsError: true, Content: walkErr.Error()}, nil
	}
	if walkErr == cancel.ErrCancelled {
		return Result{}, cancel.ErrCancelled
	}

	sort.Strings(matches)
	out := ""
	for i, m := range matches {
		if i > 0 {
			out += "\n"
		}
		out += m
	}
	return Result{Content: out}, nil
}

func grepFile(path string, re *regexp.Regexp, matches *[]string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if len(*matches) >= maxGrepMatches {
			return
		}
		if re.MatchString(scanner.Text()) {
			*matches = append(*matches, fmt.Sprintf("%s:%d:%s", path, lineNum, scanner.Text()))
		}
	}
}
