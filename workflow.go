package braid

import (
	"context"
	"fmt"
	"log/slog"
)

// WorkflowState is the document that flows through a workflow run. Nodes
// receive the current state and return the next one. Values must be
// JSON-encodable when persistence is configured.
type WorkflowState map[string]any

// Clone deep-copies the state. Nested maps and slices are copied; other
// values are shared.
func (s WorkflowState) Clone() WorkflowState {
	if s == nil {
		return WorkflowState{}
	}
	out := make(WorkflowState, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case WorkflowState:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Node is one unit of work in a workflow graph.
type Node interface {
	ID() string
	Run(ctx context.Context, wctx *WorkflowContext) (WorkflowState, error)
}

// Edge connects two nodes. A nil Condition always matches.
type Edge struct {
	From      string
	To        string
	Condition func(WorkflowState) bool
}

// WorkflowContext carries per-run execution state into nodes.
type WorkflowContext struct {
	WorkflowID    string
	CurrentNodeID string

	state       WorkflowState
	isResuming  bool
	feedback    any
	hasFeedback bool
}

// State returns the current workflow state. Nodes may read it freely;
// mutations only take effect through the state a node returns.
func (c *WorkflowContext) State() WorkflowState { return c.state }

// Interrupt pauses the workflow to wait for external input. On first
// execution it returns a *WorkflowInterrupt as the error; the node must
// propagate it unchanged. When the workflow is resumed with feedback,
// the same call returns that feedback (consumed once) and the node
// proceeds.
func (c *WorkflowContext) Interrupt(dataToSave WorkflowState) (any, error) {
	if c.isResuming && c.hasFeedback {
		fb := c.feedback
		c.feedback = nil
		c.hasFeedback = false
		c.isResuming = false
		return fb, nil
	}
	merged := c.state.Clone()
	for k, v := range dataToSave {
		merged[k] = cloneValue(v)
	}
	return nil, &WorkflowInterrupt{
		NodeID:     c.CurrentNodeID,
		State:      merged,
		DataToSave: dataToSave.Clone(),
	}
}

// WorkflowInterrupt is the control signal produced by
// WorkflowContext.Interrupt. It travels as an error so nodes can
// propagate it through ordinary returns; the engine detects it with
// errors.As, persists it, and hands it to the caller.
type WorkflowInterrupt struct {
	NodeID     string        `json:"node_id"`
	State      WorkflowState `json:"state"`
	DataToSave WorkflowState `json:"data_to_save,omitempty"`
}

func (i *WorkflowInterrupt) Error() string {
	return fmt.Sprintf("workflow interrupted at node %q", i.NodeID)
}

// Workflow is a directed graph of nodes with conditional edges. Build it
// with AddNode/AddEdge/SetStart/SetEnd, then call Run. A single Workflow
// value runs one execution at a time.
type Workflow struct {
	id      string
	nodes   map[string]Node
	order   []string
	edges   []Edge
	startID string
	endID   string
	persist WorkflowPersistence
	bus     *ObserverBus
	logger  *slog.Logger
}

type workflowConfig struct {
	id        string
	persist   WorkflowPersistence
	observers []subscription
	logger    *slog.Logger
}

// WorkflowOption configures a Workflow at construction.
type WorkflowOption func(*workflowConfig)

// WithWorkflowID fixes the workflow id used for persistence. Defaults to
// a generated id.
func WithWorkflowID(id string) WorkflowOption {
	return func(c *workflowConfig) { c.id = id }
}

// WithPersistence enables interrupt snapshots and Resume.
func WithPersistence(p WorkflowPersistence) WorkflowOption {
	return func(c *workflowConfig) { c.persist = p }
}

// WithWorkflowObserver subscribes an observer to workflow events.
func WithWorkflowObserver(pattern string, obs Observer) WorkflowOption {
	return func(c *workflowConfig) {
		c.observers = append(c.observers, subscription{pattern: pattern, observer: obs})
	}
}

// WithWorkflowLogger sets the structured logger.
func WithWorkflowLogger(l *slog.Logger) WorkflowOption {
	return func(c *workflowConfig) { c.logger = l }
}

// NewWorkflow creates an empty workflow graph.
func NewWorkflow(opts ...WorkflowOption) *Workflow {
	var cfg workflowConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = NewID()
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	w := &Workflow{
		id:      cfg.id,
		nodes:   make(map[string]Node),
		persist: cfg.persist,
		bus:     NewObserverBus(cfg.logger),
		logger:  cfg.logger,
	}
	for _, s := range cfg.observers {
		w.bus.Subscribe(s.pattern, s.observer)
	}
	return w
}

// ID returns the workflow's persistence id.
func (w *Workflow) ID() string { return w.id }

// AddNode registers a node. Node ids must be unique and non-empty.
func (w *Workflow) AddNode(n Node) error {
	id := n.ID()
	if id == "" {
		return &WorkflowError{WorkflowID: w.id, Message: "node id is empty"}
	}
	if _, exists := w.nodes[id]; exists {
		return &WorkflowError{WorkflowID: w.id, NodeID: id, Message: "duplicate node id"}
	}
	w.nodes[id] = n
	w.order = append(w.order, id)
	return nil
}

// AddEdge connects from to to unconditionally.
func (w *Workflow) AddEdge(from, to string) {
	w.edges = append(w.edges, Edge{From: from, To: to})
}

// AddConditionalEdge connects from to to, taken only when cond returns
// true for the state the from node produced. Edges are evaluated in the
// order they were added; the first match wins.
func (w *Workflow) AddConditionalEdge(from, to string, cond func(WorkflowState) bool) {
	w.edges = append(w.edges, Edge{From: from, To: to, Condition: cond})
}

// SetStart names the entry node.
func (w *Workflow) SetStart(id string) { w.startID = id }

// SetEnd names the terminal node. Optional; a node with no matching
// outgoing edge also terminates the run.
func (w *Workflow) SetEnd(id string) { w.endID = id }

// validate checks the graph before a run.
func (w *Workflow) validate() error {
	if w.startID == "" {
		return &WorkflowError{WorkflowID: w.id, Message: "start node not set"}
	}
	if _, ok := w.nodes[w.startID]; !ok {
		return &WorkflowError{WorkflowID: w.id, NodeID: w.startID, Message: "start node not found"}
	}
	if w.endID != "" {
		if _, ok := w.nodes[w.endID]; !ok {
			return &WorkflowError{WorkflowID: w.id, NodeID: w.endID, Message: "end node not found"}
		}
	}
	for _, e := range w.edges {
		if _, ok := w.nodes[e.From]; !ok {
			return &WorkflowError{WorkflowID: w.id, NodeID: e.From, Message: "edge references unknown node"}
		}
		if _, ok := w.nodes[e.To]; !ok {
			return &WorkflowError{WorkflowID: w.id, NodeID: e.To, Message: "edge references unknown node"}
		}
	}
	return nil
}
