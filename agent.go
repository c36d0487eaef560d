package connectoragents

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// RunFunc is the user-supplied handler an agent invokes once per step with
// the dequeued payload and its correlation id. Its return value is routed
// to an output port by runtime type. Returning (nil, nil)
// means "no emission"; returning an error is a RunError that rolls the
// input envelope back to the front of the queue.
type RunFunc func(ctx context.Context, payload any, correlationID string) (any, error)

// Multi marks a run result as a tuple of independently-routed records: each
// element is routed independently by type. A plain slice instead means
// "list of records of the same type," which Send fans out as one
// provenance-linked batch; Multi exists precisely to distinguish the two
// return shapes in Go, which has no native tuple type.
type Multi []any

// Agent is the contract consumed by domain code: a uuid, an
// input port, one or more output ports routed by type, optional state, and
// the Schedulable step/save/load/active triad.
type Agent interface {
	Schedulable
	Feed(payload any, postTransform func(any) (any, error)) error
	InputPort() *Port
	OutputPort(schema any) (*Port, bool)
	OutputPorts() map[reflect.Type]*Port
}

// agentConfig collects AgentOption settings at construction time, matching
// the teacher's agentConfig/AgentOption functional-options shape.
type agentConfig struct {
	debugger    Debugger
	ctx         context.Context
	stateSchema reflect.Type
	state       any
}

// AgentOption configures an AgentCore at construction time.
type AgentOption func(*agentConfig)

// WithDebugger attaches an observer hook; defaults to
// NoopDebugger when omitted.
func WithDebugger(d Debugger) AgentOption {
	return func(c *agentConfig) { c.debugger = d }
}

// WithContext overrides the context.Context passed to run; defaults to
// context.Background(). Agents blocking on I/O inside run should honour
// cancellation of this context.
func WithContext(ctx context.Context) AgentOption {
	return func(c *agentConfig) { c.ctx = ctx }
}

// WithStateSchema declares the type validated by the optional state schema;
// zero is any value of that type.
func WithStateSchema(zero any) AgentOption {
	return func(c *agentConfig) { c.stateSchema = reflect.TypeOf(zero) }
}

// WithInitialState seeds the agent's private state.
func WithInitialState(state any) AgentOption {
	return func(c *agentConfig) { c.state = state }
}

// AgentCore is the embeddable implementation of the Agent Core component,
// grounded algorithmically on
// original_source/AgentFramework/core/ConnectedAgent.py (feed, step,
// _send_output_msg, unwrap_id) and structurally on the teacher's
// agent.go/agentcore.go (functional options, debugger-bracketed execution,
// panic-safe run invocation).
type AgentCore struct {
	id     uuid.UUID
	active bool

	inputPort   *Port
	isInfinite  bool
	outputPorts map[reflect.Type]*Port
	outputOrder []reflect.Type

	stateSchema reflect.Type
	state       any

	debugger Debugger
	ctx      context.Context
	run      RunFunc
}

// NewAgentCore constructs an Agent Core with a single input port of
// inputSchema and one output port per entry of outputSchemas (each a zero
// value of its payload type). inputSchema may be InfiniteSchema{} to mark
// this agent as a source.
func NewAgentCore(inputSchema any, outputSchemas []any, run RunFunc, opts ...AgentOption) *AgentCore {
	cfg := agentConfig{debugger: NoopDebugger{}, ctx: context.Background()}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := NewAgentID()
	c := &AgentCore{
		id:          id,
		active:      true,
		outputPorts: make(map[reflect.Type]*Port, len(outputSchemas)),
		stateSchema: cfg.stateSchema,
		state:       cfg.state,
		debugger:    cfg.debugger,
		ctx:         cfg.ctx,
		run:         run,
	}

	inputType := reflect.TypeOf(inputSchema)
	c.inputPort = NewPort(DirectionIn, inputType, id)
	c.isInfinite = inputType == reflect.TypeOf(InfiniteSchema{})

	for _, zero := range outputSchemas {
		t := reflect.TypeOf(zero)
		c.outputPorts[t] = NewPort(DirectionOut, t, id)
		c.outputOrder = append(c.outputOrder, t)
	}
	return c
}

func (c *AgentCore) AgentUUID() uuid.UUID { return c.id }
func (c *AgentCore) IsActive() bool       { return c.active }
func (c *AgentCore) SetActive(v bool)     { c.active = v }
func (c *AgentCore) InputPort() *Port     { return c.inputPort }

// IsInfiniteSource reports whether this agent was declared with
// InfiniteSchema{} as its input — the scheduler's entry-agent detection
// treats it as a root regardless of incoming edges.
func (c *AgentCore) IsInfiniteSource() bool { return c.isInfinite }

// corePorts satisfies the unexported portIntrospectable interface the
// Scheduler uses for entry-agent detection and reachability.
func (c *AgentCore) corePorts() ([]*Port, []*Port) {
	return []*Port{c.inputPort}, outputPortSlice(c.outputPorts, c.outputOrder)
}

func (c *AgentCore) OutputPort(schema any) (*Port, bool) {
	p, ok := c.outputPorts[reflect.TypeOf(schema)]
	return p, ok
}

func (c *AgentCore) OutputPorts() map[reflect.Type]*Port { return c.outputPorts }

// State returns the agent's private record, read/written only by run
// between steps.
func (c *AgentCore) State() any { return c.state }

// SetState overwrites the agent's private record; run implementations that
// close over their own state pointer should call this after mutating it so
// SaveState observes the latest value.
func (c *AgentCore) SetState(s any) { c.state = s }

// Feed injects an externally-sourced message directly into the input port
// — the pipeline's entry point. Grounded on
// ConnectedAgent.py's feed, which hardcodes the correlation id "start" for
// externally-fed messages and an empty provenance chain.
func (c *AgentCore) Feed(payload any, postTransform func(any) (any, error)) error {
	return c.inputPort.Receive(payload, nil, "start", postTransform)
}

// Step performs one cooperative turn:
//  1. infinite-source agents synthesise an empty input every call; others
//     dequeue one envelope or return false if idle;
//  2. run is invoked, wrapped with debugger.Input/Output and panic recovery;
//  3. on error the envelope is rolled back to the front of the queue and a
//     RunError is returned;
//  4. otherwise the result is routed to the matching output port(s).
func (c *AgentCore) Step() (bool, error) {
	var env Envelope
	if c.isInfinite {
		env = Envelope{Payload: InfiniteSchema{}, TimestampMS: NowUnixMS()}
	} else {
		var ok bool
		env, ok = c.inputPort.Dequeue()
		if !ok {
			c.debugger.NoInput(c)
			return false, nil
		}
	}

	c.debugger.Input(c, env.Payload, env.Parents)
	result, err := c.runSafely(env.Payload, env.CorrelationID)
	if err != nil {
		if !c.isInfinite {
			c.inputPort.PushFront(env)
		}
		return false, &RunError{AgentUUID: c.id, Cause: err}
	}
	c.debugger.Output(c, result, env.Parents)

	if err := c.route(result, env.Parents, env.CorrelationID); err != nil {
		if !c.isInfinite {
			c.inputPort.PushFront(env)
		}
		return false, err
	}
	return true, nil
}

// runSafely recovers a panicking run into a plain error, matching the
// teacher's executeWithSpan panic-safety pattern (agentcore.go).
func (c *AgentCore) runSafely(payload any, corr string) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in run: %v", r)
		}
	}()
	return c.run(c.ctx, payload, corr)
}

// route implements the return-value routing rules.
func (c *AgentCore) route(result any, parents []Provenance, inheritedCorr string) error {
	return routeResult(c.outputPorts, c.debugger, c.id, result, parents, inheritedCorr)
}

// TypedRunFunc is the generic alternative to RunFunc: a handler written
// against concrete payload/result types instead of any. The handler body
// needs no cast; NewTypedAgentCore's adapter asserts the payload type on
// every call and returns an error on a mismatch.
type TypedRunFunc[In, Out any] func(ctx context.Context, payload In, correlationID string) (Out, error)

// NewTypedAgentCore constructs an AgentCore whose run is a TypedRunFunc.
// The scheduler and ports still operate on the same untyped envelope
// underneath — a typed agent interoperates with untyped ones on the same
// pipeline; the generic adapter only removes the cast from hand-written run
// functions.
func NewTypedAgentCore[In, Out any](outputSchemas []any, run TypedRunFunc[In, Out], opts ...AgentOption) *AgentCore {
	var inZero In
	adapted := func(ctx context.Context, payload any, correlationID string) (any, error) {
		in, ok := payload.(In)
		if !ok {
			return nil, fmt.Errorf("connectoragents: typed agent expected payload %T, got %T", inZero, payload)
		}
		return run(ctx, in, correlationID)
	}
	return NewAgentCore(inZero, outputSchemas, adapted, opts...)
}

// routeResult implements the return-value routing rules against
// an arbitrary output-port registry. Shared by AgentCore and
// MultiInputAgent so both ends of the pipeline route identically.
func routeResult(outputPorts map[reflect.Type]*Port, debugger Debugger, agentID uuid.UUID, result any, parents []Provenance, inheritedCorr string) error {
	if result == nil {
		return nil
	}
	if _, ok := result.(NullSchema); ok {
		return nil
	}
	if multi, ok := result.(Multi); ok {
		for _, el := range multi {
			if err := routeOne(outputPorts, debugger, agentID, el, parents, inheritedCorr); err != nil {
				return err
			}
		}
		return nil
	}
	return routeOne(outputPorts, debugger, agentID, result, parents, inheritedCorr)
}

// routeOne routes a single record or a homogeneous list of records.
func routeOne(outputPorts map[reflect.Type]*Port, debugger Debugger, agentID uuid.UUID, v any, parents []Provenance, inheritedCorr string) error {
	if elems, ok := asSlice(v); ok {
		if len(elems) == 0 {
			return nil
		}
		payloads := make([]any, len(elems))
		corrIDs := make([]string, len(elems))
		var t reflect.Type
		for i, el := range elems {
			p, corr := unwrapID(el, inheritedCorr)
			payloads[i] = p
			corrIDs[i] = corr
			if i == 0 {
				t = reflect.TypeOf(p)
			}
		}
		port, err := resolvePort(outputPorts, agentID, t)
		if err != nil {
			return err
		}
		return port.Send(payloads, parents, corrIDs, debugger)
	}

	payload, corr := unwrapID(v, inheritedCorr)
	port, err := resolvePort(outputPorts, agentID, reflect.TypeOf(payload))
	if err != nil {
		return err
	}
	return port.Send(payload, parents, []string{corr}, debugger)
}

// resolvePort dispatches by reflect.Type against a registry built once at
// construction time, with a single-output-port fallback for agents
// declaring exactly one output schema.
func resolvePort(outputPorts map[reflect.Type]*Port, agentID uuid.UUID, t reflect.Type) (*Port, error) {
	if port, ok := outputPorts[t]; ok {
		return port, nil
	}
	if len(outputPorts) == 1 {
		for _, port := range outputPorts {
			return port, nil
		}
	}
	return nil, &PortResolutionError{AgentUUID: agentID, Value: t}
}

// SaveState encodes this agent's private state and every port into the
// stable port-key scheme (see AgentSnapshot).
func (c *AgentCore) SaveState() (AgentSnapshot, error) {
	var errs []error
	snap := AgentSnapshot{IsActive: c.active, Ports: make(map[string]PortSnapshot)}

	if c.state != nil {
		data, err := json.Marshal(c.state)
		if err != nil {
			errs = append(errs, &SnapshotError{PortKey: "state", Cause: err})
		} else {
			snap.State = data
			if name, ok := SchemaName(c.state); ok {
				snap.StateClass = name
			}
		}
	}

	snap.Ports["input_port"] = snapshotPort(c.inputPort, &errs)
	saveOutputPorts(c.outputPorts, c.outputOrder, snap.Ports, &errs)

	if len(errs) > 0 {
		return snap, errs[0]
	}
	return snap, nil
}

// LoadState restores ports (and, if a state schema was declared, state)
// from a prior snapshot. Unknown port keys are ignored; a per-port decode
// failure leaves that port empty and does not prevent other ports from
// restoring.
func (c *AgentCore) LoadState(snap AgentSnapshot) error {
	c.active = snap.IsActive
	var errs []error

	if ps, ok := snap.Ports["input_port"]; ok {
		restorePort(c.inputPort, ps, &errs)
	}
	loadOutputPorts(c.outputPorts, c.outputOrder, snap.Ports, &errs)

	if len(snap.State) > 0 && c.stateSchema != nil {
		ptr := reflect.New(c.stateSchema)
		if err := json.Unmarshal(snap.State, ptr.Interface()); err != nil {
			errs = append(errs, &SnapshotError{PortKey: "state", Cause: err})
		} else {
			c.state = ptr.Elem().Interface()
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func outputPortKeyForType(t reflect.Type) string {
	return outputPortKey(reflect.New(t).Elem().Interface())
}

// saveOutputPorts encodes every port in outputPorts under its
// "output_ports:<SchemaName>" key, and additionally under the legacy
// "output_port" alias when there is exactly one.
func saveOutputPorts(outputPorts map[reflect.Type]*Port, order []reflect.Type, dst map[string]PortSnapshot, errs *[]error) {
	for i, t := range order {
		port := outputPorts[t]
		key := outputPortKeyForType(t)
		dst[key] = snapshotPort(port, errs)
		if i == 0 && len(order) == 1 {
			dst["output_port"] = dst[key]
		}
	}
}

// loadOutputPorts is the inverse of saveOutputPorts.
func loadOutputPorts(outputPorts map[reflect.Type]*Port, order []reflect.Type, src map[string]PortSnapshot, errs *[]error) {
	for _, t := range order {
		key := outputPortKeyForType(t)
		if ps, ok := src[key]; ok {
			restorePort(outputPorts[t], ps, errs)
		}
	}
}

// outputPortSlice renders an output-port registry as an ordered slice,
// used by Scheduler reachability walks.
func outputPortSlice(outputPorts map[reflect.Type]*Port, order []reflect.Type) []*Port {
	out := make([]*Port, 0, len(order))
	for _, t := range order {
		out = append(out, outputPorts[t])
	}
	return out
}

// portIntrospectable is implemented by agents that expose their ports for
// Scheduler-level entry-agent detection and pipeline validation.
// CollectorAgent implements it with a nil input slice — its
// real input is a CollectorPort, not a *Port — and reports that
// CollectorPort through receiverOwner instead, so the Scheduler still
// matches edges that target it.
type portIntrospectable interface {
	corePorts() ([]*Port, []*Port)
}

var _ portIntrospectable = (*AgentCore)(nil)

var _ Agent = (*AgentCore)(nil)
