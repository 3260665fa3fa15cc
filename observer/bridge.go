package observer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/braid-ai/braid"
)

// Bridge is a braid.Observer that feeds observer-bus events into the OTEL
// instruments. Subscribing it with pattern "*" yields metrics for agent
// turns, inference calls, tool executions, retrievals, and workflow runs
// without wrapping any provider. When providers are also wrapped with
// WrapProvider, subscribe with a narrower pattern (for example "tool-*"
// or "workflow-*") so LLM requests are not counted twice.
type Bridge struct {
	inst *Instruments
}

// NewBridge creates a Bridge over the given instruments.
func NewBridge(inst *Instruments) *Bridge {
	return &Bridge{inst: inst}
}

var _ braid.Observer = (*Bridge)(nil)

func (b *Bridge) OnEvent(ctx context.Context, ev braid.Event) {
	switch ev.Name {
	case braid.EventInferenceStop:
		attrs := metric.WithAttributes(AttrSource.String(ev.Source))
		b.inst.LLMRequests.Add(ctx, 1, attrs)
		b.inst.LLMDuration.Record(ctx, dataFloat(ev.Data, "duration_ms"), attrs)

	case braid.EventChatStop:
		attrs := metric.WithAttributes(AttrAgentName.String(ev.Source))
		b.inst.AgentExecutions.Add(ctx, 1, attrs)
		b.inst.AgentDuration.Record(ctx, dataFloat(ev.Data, "duration_ms"), attrs)
		b.inst.TokenUsage.Add(ctx, dataInt(ev.Data, "prompt_tokens"), metric.WithAttributes(
			AttrAgentName.String(ev.Source),
			attribute.String("direction", "input"),
		))
		b.inst.TokenUsage.Add(ctx, dataInt(ev.Data, "completion_tokens"), metric.WithAttributes(
			AttrAgentName.String(ev.Source),
			attribute.String("direction", "output"),
		))

	case braid.EventToolCalled:
		attrs := metric.WithAttributes(AttrToolName.String(dataString(ev.Data, "tool")))
		b.inst.ToolExecutions.Add(ctx, 1, attrs)
		b.inst.ToolDuration.Record(ctx, dataFloat(ev.Data, "duration_ms"), attrs)

	case braid.EventRAGRetrievalStop:
		attrs := metric.WithAttributes(AttrSource.String(ev.Source))
		b.inst.RAGRetrievals.Add(ctx, 1, attrs)
		b.inst.RetrievalDuration.Record(ctx, dataFloat(ev.Data, "duration_ms"), attrs)

	case braid.EventWorkflowStop:
		attrs := metric.WithAttributes(AttrWorkflowID.String(ev.Source))
		b.inst.WorkflowRuns.Add(ctx, 1, attrs)
		b.inst.WorkflowDuration.Record(ctx, dataFloat(ev.Data, "duration_ms"), attrs)

	case braid.EventError:
		var rec otellog.Record
		rec.SetSeverity(otellog.SeverityError)
		rec.SetBody(otellog.StringValue("error event"))
		rec.AddAttributes(
			otellog.String("source", ev.Source),
			otellog.String("error", dataString(ev.Data, "error")),
		)
		b.inst.Logger.Emit(ctx, rec)
	}
}

// dataString reads a string field from an event payload.
func dataString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// dataInt reads a numeric field from an event payload. Payloads built in
// process carry int or int64; payloads that round-tripped through JSON
// carry float64.
func dataInt(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// dataFloat reads a numeric field from an event payload as float64.
func dataFloat(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}
