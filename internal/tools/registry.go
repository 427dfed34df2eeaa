package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pywen-ai/pywen/pkg/models"
)

// Factory constructs one tool instance. The static factory table maps tool
// names to factories so registration is data, not init-order side effects.
type Factory func() Tool

// builtinFactories is the static table of tools every agent profile gets.
var builtinFactories = map[string]Factory{
	"think": func() Tool { return NewThinkTool() },
}

// Registry maps tool names to tools. Immutable after setup; reads are safe
// under concurrent tool execution.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns a registry populated from the builtin factory table.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
	names := make([]string, 0, len(builtinFactories))
	for name := range builtinFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.Register(builtinFactories[name]()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool, compiling its parameter schema. A bad schema fails
// registration so malformed tools are caught at startup, not mid-task.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tools: tool has empty name")
	}

	var compiled *jsonschema.Schema
	if raw := tool.ParameterSchema(); len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		url := "pywen://tools/" + name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("tools: schema for %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("tools: schema for %s: %w", name, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tools: %s already registered", name)
	}
	r.tools[name] = tool
	if compiled != nil {
		r.schemas[name] = compiled
	}
	return nil
}

// Get returns the tool for name, or ErrNotFound.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return tool, nil
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions renders the provider-facing descriptors of all tools.
func (r *Registry) Definitions(providerHint string) []models.ToolDefinition {
	list := r.List()
	defs := make([]models.ToolDefinition, 0, len(list))
	for _, tool := range list {
		defs = append(defs, tool.Build(providerHint))
	}
	return defs
}

// ValidateArgs checks args against the tool's compiled schema. Tools without
// a schema accept anything.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return &ExecutionError{Tool: name, Kind: "invalid_args", Message: "arguments are not valid JSON", Cause: err}
	}
	if err := schema.Validate(decoded); err != nil {
		return &ExecutionError{Tool: name, Kind: "invalid_args", Message: "arguments do not match schema", Cause: err}
	}
	return nil
}
