package braid

import (
	"context"
	"encoding/json"
	"fmt"
)

// NodeFunc adapts a function to the Node interface.
type NodeFunc func(ctx context.Context, wctx *WorkflowContext) (WorkflowState, error)

type funcNode struct {
	id string
	fn NodeFunc
}

// NewNode wraps fn as a Node with the given id.
func NewNode(id string, fn NodeFunc) Node {
	return &funcNode{id: id, fn: fn}
}

func (n *funcNode) ID() string { return n.id }

func (n *funcNode) Run(ctx context.Context, wctx *WorkflowContext) (WorkflowState, error) {
	return n.fn(ctx, wctx)
}

// AgentNode returns a Node that delegates to an agent. The text at
// state[inputKey] becomes the user message; the reply text is written to
// state[outputKey].
func AgentNode(id string, agent *Agent, inputKey, outputKey string) Node {
	return NewNode(id, func(ctx context.Context, wctx *WorkflowContext) (WorkflowState, error) {
		state := wctx.State().Clone()
		input, _ := state[inputKey].(string)
		if input == "" {
			return nil, fmt.Errorf("state key %q is empty", inputKey)
		}
		resp, err := agent.Chat(ctx, UserMessage(input))
		if err != nil {
			return nil, err
		}
		state[outputKey] = resp.Text()
		return state, nil
	})
}

// ToolNode returns a Node that executes a tool. Arguments come from
// state[argsKey] as a map, a JSON string, or any JSON-encodable value;
// a missing key means no arguments. The result string is written to
// state[outputKey].
func ToolNode(id string, tool *Tool, argsKey, outputKey string) Node {
	return NewNode(id, func(ctx context.Context, wctx *WorkflowContext) (WorkflowState, error) {
		state := wctx.State().Clone()

		inputs := map[string]any{}
		if v, ok := state[argsKey]; ok {
			switch a := v.(type) {
			case map[string]any:
				inputs = a
			case string:
				if err := json.Unmarshal([]byte(a), &inputs); err != nil {
					return nil, fmt.Errorf("parse tool args from %q: %w", argsKey, err)
				}
			case json.RawMessage:
				if err := json.Unmarshal(a, &inputs); err != nil {
					return nil, fmt.Errorf("parse tool args from %q: %w", argsKey, err)
				}
			default:
				b, err := json.Marshal(v)
				if err != nil {
					return nil, fmt.Errorf("encode tool args from %q: %w", argsKey, err)
				}
				if err := json.Unmarshal(b, &inputs); err != nil {
					return nil, fmt.Errorf("parse tool args from %q: %w", argsKey, err)
				}
			}
		}

		tool.SetInputs(inputs)
		tool.SetCallID(NewID())
		result, err := tool.Execute(ctx)
		if err != nil {
			return nil, err
		}
		state[outputKey] = result
		return state, nil
	})
}
