package braid

import (
	"context"
	"errors"
	"time"
)

// Run executes the graph from the start node until the end node is
// reached, a node has no matching outgoing edge, a node fails, or a node
// interrupts. The final state is returned on normal termination.
func (w *Workflow) Run(ctx context.Context, initial WorkflowState) (WorkflowState, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	wctx := &WorkflowContext{
		WorkflowID:    w.id,
		CurrentNodeID: w.startID,
		state:         initial.Clone(),
	}
	w.publish(ctx, EventWorkflowStart, map[string]any{"workflow_id": w.id, "start": w.startID})
	w.logger.Info("workflow started", "workflow_id", w.id, "start", w.startID)
	return w.loop(ctx, wctx)
}

// Resume continues an interrupted run from its persisted snapshot. The
// feedback value is delivered to the interrupted node's pending Interrupt
// call. On terminal success the snapshot is deleted.
func (w *Workflow) Resume(ctx context.Context, feedback any) (WorkflowState, error) {
	if w.persist == nil {
		return nil, &WorkflowError{WorkflowID: w.id, Message: "resume requires persistence"}
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	intr, err := w.persist.Load(ctx, w.id)
	if err != nil {
		return nil, &WorkflowError{WorkflowID: w.id, Message: "load saved state", Err: err}
	}
	if intr == nil {
		return nil, &WorkflowError{WorkflowID: w.id, Message: "no saved state"}
	}
	if _, ok := w.nodes[intr.NodeID]; !ok {
		return nil, &WorkflowError{WorkflowID: w.id, NodeID: intr.NodeID, Message: "saved node no longer exists"}
	}

	wctx := &WorkflowContext{
		WorkflowID:    w.id,
		CurrentNodeID: intr.NodeID,
		state:         intr.State.Clone(),
		isResuming:    true,
		feedback:      feedback,
		hasFeedback:   true,
	}
	w.publish(ctx, EventWorkflowResumed, map[string]any{"workflow_id": w.id, "node": intr.NodeID})
	w.logger.Info("workflow resumed", "workflow_id", w.id, "node", intr.NodeID)

	out, err := w.loop(ctx, wctx)
	if err != nil {
		return nil, err
	}
	if derr := w.persist.Delete(ctx, w.id); derr != nil {
		w.logger.Warn("delete saved workflow state failed", "workflow_id", w.id, "error", derr)
	}
	return out, nil
}

func (w *Workflow) loop(ctx context.Context, wctx *WorkflowContext) (WorkflowState, error) {
	runStart := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil, &WorkflowError{WorkflowID: w.id, NodeID: wctx.CurrentNodeID, Message: "run cancelled", Err: err}
		}
		nodeID := wctx.CurrentNodeID
		node := w.nodes[nodeID]

		w.publish(ctx, EventWorkflowNodeStart, map[string]any{"workflow_id": w.id, "node": nodeID})
		nodeStart := time.Now()
		next, err := node.Run(ctx, wctx)
		if err != nil {
			var intr *WorkflowInterrupt
			if errors.As(err, &intr) {
				if w.persist != nil {
					if perr := w.persist.Save(ctx, w.id, intr); perr != nil {
						return nil, &WorkflowError{WorkflowID: w.id, NodeID: nodeID, Message: "save interrupt", Err: perr}
					}
				}
				w.publish(ctx, EventWorkflowInterrupted, map[string]any{"workflow_id": w.id, "node": intr.NodeID})
				w.logger.Info("workflow interrupted", "workflow_id", w.id, "node", intr.NodeID)
				return nil, intr
			}
			w.publish(ctx, EventError, map[string]any{"workflow_id": w.id, "node": nodeID, "error": err.Error()})
			w.logger.Error("workflow node failed", "workflow_id", w.id, "node", nodeID, "error", err)
			return nil, &WorkflowError{WorkflowID: w.id, NodeID: nodeID, Message: "node failed", Err: err}
		}
		// A nil return keeps the prior state.
		if next != nil {
			wctx.state = next
		}
		w.publish(ctx, EventWorkflowNodeStop, map[string]any{
			"workflow_id": w.id,
			"node":        nodeID,
			"duration_ms": time.Since(nodeStart).Milliseconds(),
		})

		if w.endID != "" && nodeID == w.endID {
			break
		}
		nextID, ok := w.findNextNode(nodeID, wctx.state)
		if !ok {
			break
		}
		wctx.CurrentNodeID = nextID
	}

	w.publish(ctx, EventWorkflowStop, map[string]any{
		"workflow_id": w.id,
		"node":        wctx.CurrentNodeID,
		"duration_ms": time.Since(runStart).Milliseconds(),
	})
	w.logger.Info("workflow completed", "workflow_id", w.id, "final_node", wctx.CurrentNodeID)
	return wctx.state, nil
}

// findNextNode returns the target of the first outgoing edge from the
// given node whose condition passes.
func (w *Workflow) findNextNode(from string, state WorkflowState) (string, bool) {
	for _, e := range w.edges {
		if e.From != from {
			continue
		}
		if e.Condition == nil || e.Condition(state) {
			return e.To, true
		}
	}
	return "", false
}

func (w *Workflow) publish(ctx context.Context, name string, data map[string]any) {
	w.bus.Publish(ctx, Event{Name: name, Source: w.id, Data: data})
}
