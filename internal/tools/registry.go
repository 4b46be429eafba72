package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	jsonschema "github.com/swaggest/jsonschema-go"
)

// Tool is a function the model can call by name.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the call arguments.
	Parameters() *jsonschema.Schema
	// Call runs the tool. Only malformed arguments produce an error; tool failures
	// are reported in the returned text so the model can react to them.
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Handler is a typed tool implementation.
type Handler[In any] func(ctx context.Context, in In) (string, error)

type typedTool[In any] struct {
	name        string
	description string
	schema      *jsonschema.Schema
	handler     Handler[In]
}

// New builds a Tool whose parameter schema is reflected from In.
func New[In any](name, description string, handler Handler[In]) (Tool, error) {
	var in In
	t := reflect.TypeOf(in)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("tool %s: input type must be a struct", name)
	}

	reflector := jsonschema.Reflector{}
	schema, err := reflector.Reflect(in, jsonschema.InlineRefs)
	if err != nil {
		return nil, fmt.Errorf("tool %s: generate schema: %w", name, err)
	}

	return &typedTool[In]{
		name:        name,
		description: description,
		schema:      &schema,
		handler:     handler,
	}, nil
}

// MustNew is like New but panics on error.
func MustNew[In any](name, description string, handler Handler[In]) Tool {
	t, err := New(name, description, handler)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *typedTool[In]) Name() string                   { return t.name }
func (t *typedTool[In]) Description() string            { return t.description }
func (t *typedTool[In]) Parameters() *jsonschema.Schema { return t.schema }

func (t *typedTool[In]) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in In
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", t.name, err)
		}
	}
	return t.handler(ctx, in)
}

// Registry holds tools in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry from tools. Names must be unique.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t.
func (r *Registry) Register(t Tool) error {
	if _, dup := r.tools[t.Name()]; dup {
		return fmt.Errorf("tool %s already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// Get returns the tool named name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns every tool in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Subset returns a registry with only the named tools, in the given order.
func (r *Registry) Subset(names ...string) (*Registry, error) {
	sub := &Registry{tools: make(map[string]Tool, len(names))}
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool %s", name)
		}
		if err := sub.Register(t); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// Call dispatches to the tool named name.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %s", name)
	}
	return t.Call(ctx, args)
}
