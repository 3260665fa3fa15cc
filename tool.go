package braid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// --- Parameter schema ---

// PropertyType is the declared type of a tool parameter.
type PropertyType string

const (
	TypeString  PropertyType = "STRING"
	TypeInteger PropertyType = "INTEGER"
	TypeNumber  PropertyType = "NUMBER"
	TypeBoolean PropertyType = "BOOLEAN"
	TypeArray   PropertyType = "ARRAY"
	TypeObject  PropertyType = "OBJECT"
)

// jsonType maps a PropertyType to its JSON-schema type name.
func (t PropertyType) jsonType() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInteger:
		return "integer"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	default:
		return "string"
	}
}

// ToolProperty declares one tool parameter. ARRAY properties carry the item
// schema in Items; OBJECT properties carry child properties and derive their
// required list from children marked Required.
type ToolProperty struct {
	Name        string         `json:"name"`
	Type        PropertyType   `json:"type"`
	Description string         `json:"description,omitempty"`
	Required    bool           `json:"required,omitempty"`
	Enum        []string       `json:"enum,omitempty"`
	Items       *ToolProperty  `json:"items,omitempty"`
	Properties  []ToolProperty `json:"properties,omitempty"`
}

// schema emits the JSON-schema fragment for this property. Key order is
// fixed (type, description, enum, items/properties, required) so output is
// deterministic and diff-friendly.
func (p ToolProperty) schema(buf *bytes.Buffer) {
	buf.WriteString(`{"type":`)
	buf.WriteString(strconv.Quote(p.Type.jsonType()))
	if p.Description != "" {
		buf.WriteString(`,"description":`)
		buf.WriteString(strconv.Quote(p.Description))
	}
	if len(p.Enum) > 0 {
		buf.WriteString(`,"enum":[`)
		for i, v := range p.Enum {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(v))
		}
		buf.WriteByte(']')
	}
	switch p.Type {
	case TypeArray:
		buf.WriteString(`,"items":`)
		if p.Items != nil {
			p.Items.schema(buf)
		} else {
			buf.WriteString(`{"type":"string"}`)
		}
	case TypeObject:
		writeObjectSchema(buf, p.Properties)
	}
	buf.WriteByte('}')
}

// writeObjectSchema emits the properties map and required list for an
// object's children, preserving declaration order.
func writeObjectSchema(buf *bytes.Buffer, props []ToolProperty) {
	buf.WriteString(`,"properties":{`)
	for i, child := range props {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(child.Name))
		buf.WriteByte(':')
		child.schema(buf)
	}
	buf.WriteByte('}')
	var required []string
	for _, child := range props {
		if child.Required {
			required = append(required, child.Name)
		}
	}
	buf.WriteString(`,"required":[`)
	for i, name := range required {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(name))
	}
	buf.WriteByte(']')
}

// ObjectSchema builds the JSON schema for a parameter list, the shape
// providers expect for a tool's parameters:
// {"type":"object","properties":{...},"required":[...]}.
func ObjectSchema(params []ToolProperty) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"object"`)
	writeObjectSchema(&buf, params)
	buf.WriteByte('}')
	return json.RawMessage(buf.Bytes())
}

// --- Tool ---

// Callable is the body of a tool. It receives the parsed arguments map and
// returns a result value; non-string results are JSON-encoded before being
// handed back to the model. Callables must respect ctx cancellation.
type Callable func(ctx context.Context, args map[string]any) (any, error)

// Tool is a declared function the model may invoke: a name, a description,
// a typed parameter schema, and a callable body. The transient invocation
// state (inputs, call id, result) is guarded by a mutex, but a Tool instance
// is meant to be driven by one agent loop at a time.
type Tool struct {
	name        string
	description string
	parameters  []ToolProperty
	schema      json.RawMessage

	mu       sync.Mutex
	callable Callable
	inputs   map[string]any
	callID   string
	result   string
}

// NewTool declares a tool. The JSON schema is derived from params once at
// construction.
func NewTool(name, description string, params []ToolProperty, fn Callable) *Tool {
	return &Tool{
		name:        name,
		description: description,
		parameters:  params,
		schema:      ObjectSchema(params),
		callable:    fn,
	}
}

func (t *Tool) Name() string        { return t.name }
func (t *Tool) Description() string { return t.description }

// Parameters returns the declared parameter list.
func (t *Tool) Parameters() []ToolProperty { return t.parameters }

// JSONSchema returns the parameters object schema.
func (t *Tool) JSONSchema() json.RawMessage { return t.schema }

// Definition returns the provider-facing declaration.
func (t *Tool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.name, Description: t.description, Parameters: t.schema}
}

// SetCallable replaces the tool body. Must be set before Execute.
func (t *Tool) SetCallable(fn Callable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callable = fn
}

// SetInputs stages the argument map for the next Execute.
func (t *Tool) SetInputs(inputs map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputs = inputs
}

// SetCallID stages the provider call id for the next Execute.
func (t *Tool) SetCallID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callID = id
}

// CallID returns the staged call id.
func (t *Tool) CallID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callID
}

// Result returns the result captured by the last Execute.
func (t *Tool) Result() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Execute validates required parameters against the staged inputs and runs
// the callable. A missing required parameter fails with
// MissingParameterError; a callable error or panic is wrapped as
// CallableError. The result string is captured for Result.
func (t *Tool) Execute(ctx context.Context) (string, error) {
	t.mu.Lock()
	fn := t.callable
	inputs := t.inputs
	t.mu.Unlock()

	if fn == nil {
		return "", &CallableError{Tool: t.name, Err: fmt.Errorf("callable not set")}
	}
	for _, p := range t.parameters {
		if !p.Required {
			continue
		}
		if _, ok := inputs[p.Name]; !ok {
			return "", &MissingParameterError{Tool: t.name, Param: p.Name}
		}
	}

	out, err := runCallable(ctx, t.name, fn, inputs)
	if err != nil {
		return "", err
	}
	res, err := stringifyResult(out)
	if err != nil {
		return "", &CallableError{Tool: t.name, Err: err}
	}
	t.mu.Lock()
	t.result = res
	t.mu.Unlock()
	return res, nil
}

// runCallable invokes fn with panic recovery.
func runCallable(ctx context.Context, name string, fn Callable, inputs map[string]any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &CallableError{Tool: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	out, err = fn(ctx, inputs)
	if err != nil {
		return nil, &CallableError{Tool: name, Err: err}
	}
	return out, nil
}

// stringifyResult renders a callable result for the model: strings pass
// through, everything else is JSON-encoded.
func stringifyResult(v any) (string, error) {
	switch r := v.(type) {
	case nil:
		return "", nil
	case string:
		return r, nil
	default:
		raw, err := json.Marshal(r)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

// --- Registry ---

// ToolRegistry holds registered tools in insertion order and dispatches
// execution by name.
type ToolRegistry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*Tool)}
}

// Add registers a tool. Re-registering a name replaces the previous tool
// but keeps its position.
func (r *ToolRegistry) Add(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.name]; !exists {
		r.order = append(r.order, t.name)
	}
	r.tools[t.name] = t
}

// Get returns the tool registered under name.
func (r *ToolRegistry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Definitions returns provider-facing declarations in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute resolves name, parses the JSON arguments, stages inputs and call
// id, and runs the tool. An unknown tool or a failed execution returns the
// error text as the result content so the agent loop can hand it back to
// the model without aborting.
func (r *ToolRegistry) Execute(ctx context.Context, name, callID string, argsJSON string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "unknown tool: " + name, nil
	}
	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return fmt.Sprintf("invalid arguments for tool %s: %v", name, err), nil
		}
	}
	t.SetInputs(args)
	t.SetCallID(callID)
	res, err := t.Execute(ctx)
	if err != nil {
		return err.Error(), nil
	}
	return res, nil
}

// --- Toolkit ---

// Toolkit groups related tools with optional usage guidelines that agents
// surface into their instructions, and an exclusion list filtered over the
// provide function.
type Toolkit struct {
	name       string
	guidelines string
	provide    func() []*Tool
	exclude    map[string]struct{}
}

// ToolkitOption configures a Toolkit.
type ToolkitOption func(*Toolkit)

// WithGuidelines sets usage guidance surfaced into agent instructions.
func WithGuidelines(text string) ToolkitOption {
	return func(k *Toolkit) { k.guidelines = text }
}

// WithExclusions removes the named tools from the kit's output.
func WithExclusions(names ...string) ToolkitOption {
	return func(k *Toolkit) {
		for _, n := range names {
			k.exclude[n] = struct{}{}
		}
	}
}

// NewToolkit creates a named kit over a provide function. Tools are
// produced fresh on every Tools call so kits stay cheap to construct.
func NewToolkit(name string, provide func() []*Tool, opts ...ToolkitOption) *Toolkit {
	k := &Toolkit{name: name, provide: provide, exclude: make(map[string]struct{})}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Toolkit) Name() string { return k.name }

// Guidelines returns the kit's prompt guidance, "" when unset.
func (k *Toolkit) Guidelines() string { return k.guidelines }

// Tools returns the provided tools minus exclusions, in provide order.
func (k *Toolkit) Tools() []*Tool {
	if k.provide == nil {
		return nil
	}
	all := k.provide()
	out := make([]*Tool, 0, len(all))
	for _, t := range all {
		if _, skip := k.exclude[t.Name()]; skip {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Excluded returns the exclusion list, sorted for stable output.
func (k *Toolkit) Excluded() []string {
	names := make([]string, 0, len(k.exclude))
	for n := range k.exclude {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
