package permission

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/scottyj503/chet/internal/config"
)

// Rule is one parsed `[[permissions.rules]]` entry: a glob over the
// tool name, an optional `key:glob` pattern matched against a single
// top-level field of the tool's input JSON, and the level to apply
// when both match.
type Rule struct {
	ToolPattern string
	ArgsKey     string
	ArgsGlob    string
	Level       string
}

// parseRules converts config rule entries into matchable Rules,
// validating glob syntax up front so a malformed rule aborts config
// load rather than failing at runtime (spec §4.6 "Failure model").
func parseRules(entries []config.PermissionRuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(entries))
	for i, entry := range entries {
		if _, err := path.Match(entry.Tool, "probe"); err != nil {
			return nil, fmt.Errorf("rule %d: malformed tool pattern %q: %w", i, entry.Tool, err)
		}
		rule := Rule{ToolPattern: entry.Tool, Level: entry.Level}
		if entry.Args != "" {
			key, glob, ok := strings.Cut(entry.Args, ":")
			if !ok {
				return nil, fmt.Errorf("rule %d: args pattern %q must be key:glob", i, entry.Args)
			}
			if _, err := path.Match(glob, "probe"); err != nil {
				return nil, fmt.Errorf("rule %d: malformed args glob %q: %w", i, glob, err)
			}
			rule.ArgsKey, rule.ArgsGlob = key, glob
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Matches reports whether the rule applies to this tool call. An
// empty ArgsGlob means the rule applies to every input for a matching
// tool name.
func (r Rule) Matches(toolName string, input json.RawMessage) bool {
	if ok, err := path.Match(r.ToolPattern, toolName); err != nil || !ok {
		return false
	}
	if r.ArgsGlob == "" {
		return true
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return false
	}
	raw, ok := fields[r.ArgsKey]
	if !ok {
		return false
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		value = string(raw)
	}
	matched, err := path.Match(r.ArgsGlob, value)
	return err == nil && matched
}
