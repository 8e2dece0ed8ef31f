// Package tools provides the tool registry and the built-in tools the
// agent can call: memory writes and search, outbound messaging, background
// spawns, filesystem access, shell execution, web search and fetch, and
// cron scheduling.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nextlevelbuilder/hermit/internal/providers"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// ContextAware tools receive the origin of the message being processed
// before each run. The loop calls SetContext during intake, ahead of any
// model call.
type ContextAware interface {
	SetContext(channel, chatID, messageID string)
}

// Registry holds the available tools and dispatches calls to them.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		slog.Warn("tool re-registered", "tool", t.Name())
	}
	r.tools[t.Name()] = t
	slog.Debug("tool registered", "tool", t.Name())
}

// Unregister removes a tool and its cached schema. Unknown names are a
// no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()

	r.schemaMu.Lock()
	delete(r.schemas, name)
	r.schemaMu.Unlock()
	slog.Debug("tool unregistered", "tool", name)
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions produces the tool catalog sent to the model provider.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Function.Name < defs[j].Function.Name
	})
	return defs
}

// SetContext forwards the message origin to every context-aware tool.
func (r *Registry) SetContext(channel, chatID, messageID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if ca, ok := t.(ContextAware); ok {
			ca.SetContext(channel, chatID, messageID)
		}
	}
}

// Execute validates args against the tool's schema and dispatches. Unknown
// tools and validation failures come back as error results, never panics.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult("Unknown tool: %s", name)
	}

	if err := r.validateArgs(t, args); err != nil {
		return ErrorResult("Invalid arguments for %s: %v", name, err)
	}

	return t.Execute(ctx, args)
}

func (r *Registry) validateArgs(t Tool, args map[string]interface{}) error {
	schema, err := r.compiledSchema(t)
	if err != nil {
		// A tool with a malformed schema should not become uncallable.
		slog.Warn("tool schema did not compile, skipping validation", "tool", t.Name(), "error", err)
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return schema.Validate(normalizeJSON(args))
}

func (r *Registry) compiledSchema(t Tool) (*jsonschema.Schema, error) {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if s, ok := r.schemas[t.Name()]; ok {
		return s, nil
	}
	raw, err := json.Marshal(t.Parameters())
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	s, err := jsonschema.CompileString(t.Name()+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	r.schemas[t.Name()] = s
	return s, nil
}

// normalizeJSON round-trips the value through encoding/json so the
// validator sees canonical JSON types regardless of how args were built.
func normalizeJSON(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
