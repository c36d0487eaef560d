package observer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	connectoragents "github.com/git5001/connectoragents"
)

// TracingDebugger implements connectoragents.Debugger by emitting one OTEL
// span per agent step, closed on FinishedAgent or ErrorAgent, plus the
// agent_pipeline.* counters and histogram from Instruments. It embeds
// NoopDebugger so the message-level hooks (Input/Output/Transmission/
// NoInput/UserMessage/IsPause) stay no-op unless overridden below, matching
// the "no-op by default" contract for any hook a concrete Debugger does not
// care about.
type TracingDebugger struct {
	connectoragents.NoopDebugger

	inst *Instruments

	mu    sync.Mutex
	spans map[uuid.UUID]activeSpan
}

type activeSpan struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
}

// NewTracingDebugger returns a Debugger backed by inst. Call observer.Init
// first to wire a real OTLP exporter; otherwise spans go to OTEL's no-op
// backend.
func NewTracingDebugger(inst *Instruments) *TracingDebugger {
	return &TracingDebugger{inst: inst, spans: make(map[uuid.UUID]activeSpan)}
}

func (d *TracingDebugger) StartAgent(agent connectoragents.Identifiable, stepCount int) {
	ctx, span := d.inst.Tracer.Start(context.Background(), "agent.step", trace.WithAttributes(
		AttrAgentUUID.String(agent.AgentUUID().String()),
		AttrAgentType.String(agentTypeName(agent)),
		AttrStepCount.Int(stepCount),
	))
	d.mu.Lock()
	d.spans[agent.AgentUUID()] = activeSpan{ctx: ctx, span: span, start: time.Now()}
	d.mu.Unlock()
}

func (d *TracingDebugger) FinishedAgent(agent connectoragents.Identifiable, stepCount int, didRun bool) {
	as, ok := d.takeSpan(agent.AgentUUID())
	if !ok {
		return
	}
	as.span.SetAttributes(AttrDidRun.Bool(didRun), AttrStatus.String("ok"))
	as.span.End()

	durationMs := float64(time.Since(as.start).Milliseconds())
	attrs := metric.WithAttributes(AttrAgentType.String(agentTypeName(agent)), AttrStatus.String("ok"))
	d.inst.StepsTotal.Add(as.ctx, 1, attrs)
	d.inst.StepDuration.Record(as.ctx, durationMs, attrs)
}

func (d *TracingDebugger) ErrorAgent(agent connectoragents.Identifiable, stepCount int, err error) {
	as, ok := d.takeSpan(agent.AgentUUID())
	if !ok {
		return
	}
	as.span.RecordError(err)
	as.span.SetStatus(codes.Error, err.Error())
	as.span.SetAttributes(AttrStatus.String("error"))
	as.span.End()

	durationMs := float64(time.Since(as.start).Milliseconds())
	attrs := metric.WithAttributes(AttrAgentType.String(agentTypeName(agent)), AttrStatus.String("error"))
	d.inst.StepsTotal.Add(as.ctx, 1, attrs)
	d.inst.StepDuration.Record(as.ctx, durationMs, attrs)
	d.inst.ErrorsTotal.Add(as.ctx, 1, metric.WithAttributes(AttrAgentType.String(agentTypeName(agent))))
}

// UserMessage attaches name/data as an event on the agent's currently open
// span, if any, so debugger annotations show up inline with the step that
// produced them.
func (d *TracingDebugger) UserMessage(name string, agent connectoragents.Identifiable, data any) {
	d.mu.Lock()
	as, ok := d.spans[agent.AgentUUID()]
	d.mu.Unlock()
	if !ok {
		return
	}
	as.span.AddEvent(name, trace.WithAttributes(attribute.String("user.data", fmt.Sprintf("%v", data))))
}

func (d *TracingDebugger) takeSpan(id uuid.UUID) (activeSpan, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	as, ok := d.spans[id]
	if ok {
		delete(d.spans, id)
	}
	return as, ok
}

func agentTypeName(agent connectoragents.Identifiable) string {
	return fmt.Sprintf("%T", agent)
}

var _ connectoragents.Debugger = (*TracingDebugger)(nil)
