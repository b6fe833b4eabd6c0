// Package tool implements the tool interface and registry (spec §4.5):
// name/description/input_schema/is_mutating plus a context-bearing run
// operation. It is grounded in the teacher's internal/tools/tools.go
// (Tool interface, Runner/registry, ToolContext, FilterTools,
// DefaultTools), generalized with an IsMutating flag the permission
// engine needs for its prompt-by-default rule (spec §4.6 step 4) and
// an explicit read-only subset for plan mode (spec §4.7).
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scottyj503/chet/internal/cancel"
	"github.com/scottyj503/chet/internal/provider"
)

// Result is a tool's outcome. IsError flags a failure the model should
// see and adapt to, as opposed to a Go error, which is reserved for
// conditions the agent loop itself cannot recover from.
type Result struct {
	Content string
	IsError bool
}

// EventSink lets a tool report incremental progress (e.g. bash output
// chunks) without importing the agent package; the agent loop supplies
// a concrete implementation per spec §4.5's "event-callback sink".
type EventSink interface {
	ToolProgress(toolUseID, chunk string)
}

// Context carries everything a tool needs beyond its own input and
// the cancellation token: the working directory, sandbox, session ID,
// and an event sink. The token is passed to Run separately.
type Context struct {
	CWD       string
	Sandbox   *Sandbox
	SessionID string
	Events    EventSink
}

// Tool is the capability set spec §4.5 names. Concrete tool bodies
// (Read/Write/Edit/Glob/Grep/Bash/TodoWrite) are named explicitly by
// spec §4.7's plan-mode subset and by the worked examples in spec §8;
// everything else about a tool's body is an implementation detail the
// spec leaves to this package.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	IsMutating() bool
	Run(ctx context.Context, input json.RawMessage, toolCtx Context, token *cancel.Token) (Result, error)
}

// Registry is a name-indexed, order-preserving set of tools.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a Registry from tools, preserving first-seen
// order and de-duplicating by name (later duplicates are dropped),
// mirroring the teacher's Runner construction.
func NewRegistry(tools ...Tool) *Registry {
	registry := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, exists := registry.tools[t.Name()]; exists {
			continue
		}
		registry.tools[t.Name()] = t
		registry.order = append(registry.order, t.Name())
	}
	return registry
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Len reports how many tools are registered.
func (r *Registry) Len() int { return len(r.order) }

// Definitions returns the provider-facing tool definitions in
// registration order, for inclusion in a provider.Request.
func (r *Registry) Definitions() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Add returns a new Registry holding r's tools followed by extra, in
// order, deduplicating by name exactly like NewRegistry. Used to layer
// a tool that needs a reference to its own containing Runner (e.g. the
// subagent Task tool) on top of a registry built before that Runner
// existed.
func (r *Registry) Add(extra ...Tool) *Registry {
	tools := make([]Tool, 0, len(r.order)+len(extra))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	tools = append(tools, extra...)
	return NewRegistry(tools...)
}

// Filter returns a new Registry restricted by an allow-list and/or
// deny-list of tool names (allow-list applied first when non-empty),
// erroring if the result would be empty, mirroring the teacher's
// FilterTools.
func (r *Registry) Filter(allowed, disallowed []string) (*Registry, error) {
	names := r.order
	if len(allowed) > 0 {
		allowSet := toSet(allowed)
		var kept []string
		for _, name := range names {
			if allowSet[name] {
				kept = append(kept, name)
			}
		}
		names = kept
	}
	if len(disallowed) > 0 {
		denySet := toSet(disallowed)
		var kept []string
		for _, name := range names {
			if !denySet[name] {
				kept = append(kept, name)
			}
		}
		names = kept
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("tool filter leaves zero tools enabled")
	}
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return NewRegistry(tools...), nil
}

// ReadOnlyNames lists the plan-mode tool subset spec §4.7 names
// explicitly: Read, Glob, Grep.
var ReadOnlyNames = []string{"Read", "Glob", "Grep"}

// ReadOnlySubset returns the registry restricted to spec §4.7's
// plan-mode tool set, silently dropping any of the three not present
// in r.
func (r *Registry) ReadOnlySubset() *Registry {
	var tools []Tool
	for _, name := range ReadOnlyNames {
		if t, ok := r.tools[name]; ok {
			tools = append(tools, t)
		}
	}
	return NewRegistry(tools...)
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}
