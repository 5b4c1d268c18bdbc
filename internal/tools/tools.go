// Package tools runs the tool calls requested by a language model.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/joeycumines/behavioral/internal/inference"
)

// ErrUnknownTool is returned for calls naming a tool an [Executor] does not
// provide.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Executor runs tools by name. Implementations must be safe for concurrent
// use.
type Executor interface {
	// Tools describes the available tools, for the model.
	Tools(ctx context.Context) ([]inference.ToolSpec, error)
	// Execute runs the named tool with args, a JSON object, and returns its
	// textual output.
	Execute(ctx context.Context, name, args string) (string, error)
}

// Handler implements a local tool.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is a locally implemented tool.
type Tool struct {
	Spec    inference.ToolSpec
	Handler Handler
}

// Func returns a tool decoding its arguments into In, which should be a
// struct. The parameter schema is derived from In.
func Func[In any](name, description string, fn func(ctx context.Context, in In) (string, error)) (Tool, error) {
	var zero In
	schema, err := jsonschema.GenerateSchemaForType(zero)
	if err != nil {
		return Tool{}, fmt.Errorf("tools: schema for %q: %w", name, err)
	}
	return Tool{
		Spec: inference.ToolSpec{Name: name, Description: description, Parameters: schema},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in In
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			return fn(ctx, in)
		},
	}, nil
}

// Registry is an [Executor] of local tools. Names are matched
// case-insensitively.
//
// The zero value is ready to use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

var _ Executor = (*Registry)(nil)

// NewRegistry returns a registry holding tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := new(Registry)
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t, failing if a tool of the same name exists.
func (r *Registry) Register(t Tool) error {
	if t.Spec.Name == "" || t.Handler == nil {
		return errors.New("tools: tool requires a name and a handler")
	}
	key := strings.ToLower(t.Spec.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[key]; ok {
		return fmt.Errorf("tools: duplicate tool %q", t.Spec.Name)
	}
	if r.tools == nil {
		r.tools = make(map[string]Tool)
	}
	r.tools[key] = t
	return nil
}

// Tools returns the specs of every registered tool, sorted by name.
func (r *Registry) Tools(context.Context) ([]inference.ToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]inference.ToolSpec, 0, len(r.tools))
	for _, k := range slices.Sorted(maps.Keys(r.tools)) {
		out = append(out, r.tools[k].Spec)
	}
	return out, nil
}

func (r *Registry) Execute(ctx context.Context, name, args string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t.Handler(ctx, json.RawMessage(args))
}

// Combined is an [Executor] dispatching each call to the first executor
// providing the tool.
type Combined []Executor

var _ Executor = Combined(nil)

func (c Combined) Tools(ctx context.Context) ([]inference.ToolSpec, error) {
	var out []inference.ToolSpec
	for _, e := range c {
		specs, err := e.Tools(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, specs...)
	}
	return out, nil
}

func (c Combined) Execute(ctx context.Context, name, args string) (string, error) {
	for _, e := range c {
		out, err := e.Execute(ctx, name, args)
		if errors.Is(err, ErrUnknownTool) {
			continue
		}
		return out, err
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
}
