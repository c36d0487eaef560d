package connectoragents

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// MultiRunFunc is invoked once per multi-input step with the payload bound
// to each input schema actually present this round: in round-robin mode a
// singleton map holding whichever port produced input, in aggregate mode
// one entry per declared input schema.
type MultiRunFunc func(ctx context.Context, payloads map[reflect.Type]any, correlationID string) (any, error)

// MultiInputAgent is the Multi-Input Agent component,
// grounded on original_source/AgentFramework/core/MultiPortAgent.py: one
// input port per declared schema, round-robin or provenance-aligned
// aggregate consumption, and the same type-routed output side as
// AgentCore.
type MultiInputAgent struct {
	id     uuid.UUID
	active bool

	inputPorts  []*Port
	inputOrder  []reflect.Type
	aggregate   bool
	lastPolled  int
	outputPorts map[reflect.Type]*Port
	outputOrder []reflect.Type

	debugger Debugger
	ctx      context.Context
	run      MultiRunFunc
}

// NewMultiInputAgent constructs a Multi-Input Agent with one input port per
// entry of inputSchemas (each a zero value of its payload type) and one
// output port per entry of outputSchemas. aggregate selects aggregate mode
// (provenance-aligned join) over round-robin mode.
func NewMultiInputAgent(inputSchemas []any, outputSchemas []any, aggregate bool, run MultiRunFunc, opts ...AgentOption) *MultiInputAgent {
	cfg := agentConfig{debugger: NoopDebugger{}, ctx: context.Background()}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := NewAgentID()
	a := &MultiInputAgent{
		id:          id,
		active:      true,
		aggregate:   aggregate,
		lastPolled:  -1,
		outputPorts: make(map[reflect.Type]*Port, len(outputSchemas)),
		debugger:    cfg.debugger,
		ctx:         cfg.ctx,
		run:         run,
	}

	for _, zero := range inputSchemas {
		t := reflect.TypeOf(zero)
		a.inputPorts = append(a.inputPorts, NewPort(DirectionIn, t, id))
		a.inputOrder = append(a.inputOrder, t)
	}
	for _, zero := range outputSchemas {
		t := reflect.TypeOf(zero)
		a.outputPorts[t] = NewPort(DirectionOut, t, id)
		a.outputOrder = append(a.outputOrder, t)
	}
	return a
}

func (a *MultiInputAgent) AgentUUID() uuid.UUID { return a.id }
func (a *MultiInputAgent) IsActive() bool       { return a.active }
func (a *MultiInputAgent) SetActive(v bool)     { a.active = v }

// InputPorts exposes every declared input port in declaration order.
func (a *MultiInputAgent) InputPorts() []*Port { return a.inputPorts }

func (a *MultiInputAgent) OutputPort(schema any) (*Port, bool) {
	p, ok := a.outputPorts[reflect.TypeOf(schema)]
	return p, ok
}

func (a *MultiInputAgent) OutputPorts() map[reflect.Type]*Port { return a.outputPorts }

// corePorts satisfies the unexported portIntrospectable interface the
// Scheduler uses for entry-agent detection and reachability.
func (a *MultiInputAgent) corePorts() ([]*Port, []*Port) {
	return append([]*Port{}, a.inputPorts...), outputPortSlice(a.outputPorts, a.outputOrder)
}

// Feed injects a message directly onto the input port declared for
// schema's type.
func (a *MultiInputAgent) Feed(schema any, payload any, postTransform func(any) (any, error)) error {
	for i, t := range a.inputOrder {
		if t == reflect.TypeOf(schema) {
			return a.inputPorts[i].Receive(payload, nil, "start", postTransform)
		}
	}
	return fmt.Errorf("connectoragents: no input port declared for schema %T", schema)
}

// Step performs one cooperative turn in whichever mode this agent was
// constructed with.
func (a *MultiInputAgent) Step() (bool, error) {
	if a.aggregate {
		return a.stepAggregate()
	}
	return a.stepRoundRobin()
}

// stepRoundRobin probes input ports starting at (last+1) mod N and
// processes the first non-empty one found.
func (a *MultiInputAgent) stepRoundRobin() (bool, error) {
	n := len(a.inputPorts)
	for i := 0; i < n; i++ {
		idx := (a.lastPolled + 1 + i) % n
		port := a.inputPorts[idx]
		env, ok := port.Dequeue()
		if !ok {
			continue
		}
		a.lastPolled = idx
		payloads := map[reflect.Type]any{a.inputOrder[idx]: env.Payload}
		a.debugger.Input(a, env.Payload, env.Parents)
		result, err := a.runSafely(payloads, env.CorrelationID)
		if err != nil {
			port.PushFront(env)
			return false, &RunError{AgentUUID: a.id, Cause: err}
		}
		a.debugger.Output(a, result, env.Parents)
		if err := routeResult(a.outputPorts, a.debugger, a.id, result, env.Parents, env.CorrelationID); err != nil {
			port.PushFront(env)
			return false, err
		}
		return true, nil
	}
	a.debugger.NoInput(a)
	return false, nil
}

// stepAggregate implements the alignment rule: every envelope
// sitting on port 0 is tried in turn as the anchor, and every other port
// must hold an envelope whose suffix set is a superset of that anchor's.
// Matching original_source/AgentFramework/core/MultiPortAgent.py's
// _find_parent_indices_2, which loops over the whole port-0 queue rather
// than trying only its head: a stale head-of-queue envelope whose branch
// never completes on the other ports must not block a later envelope that
// would align right now.
func (a *MultiInputAgent) stepAggregate() (bool, error) {
	if len(a.inputPorts) == 0 {
		return false, nil
	}
	indices := a.findAlignedIndices()
	if indices == nil {
		a.debugger.NoInput(a)
		return false, nil
	}

	envs := make([]Envelope, len(a.inputPorts))
	for portIdx, idx := range indices {
		env, ok := a.inputPorts[portIdx].DequeueAt(idx)
		if !ok {
			// A concurrent mutation is impossible in this single-threaded
			// scheduler; defensive only.
			a.rollback(indices, envs, portIdx)
			return false, fmt.Errorf("connectoragents: alignment index %d vanished from port %d", idx, portIdx)
		}
		envs[portIdx] = env
	}

	payloads := make(map[reflect.Type]any, len(envs))
	chains := make([][]Provenance, len(envs))
	for i, env := range envs {
		payloads[a.inputOrder[i]] = env.Payload
		chains[i] = env.Parents
	}
	joinParents := longestCommonPrefix(chains)
	corr := envs[0].CorrelationID

	a.debugger.Input(a, payloads, joinParents)
	result, err := a.runSafely(payloads, corr)
	if err != nil {
		a.rollback(indices, envs, len(envs))
		return false, &RunError{AgentUUID: a.id, Cause: err}
	}
	a.debugger.Output(a, result, joinParents)

	if err := routeResult(a.outputPorts, a.debugger, a.id, result, joinParents, corr); err != nil {
		a.rollback(indices, envs, len(envs))
		return false, err
	}
	return true, nil
}

// findAlignedIndices tries every envelope on port 0, in queue order, as the
// join anchor, and returns the first candidate whose suffix set every other
// port can match. Returns nil if no port-0 candidate aligns across all
// ports yet.
func (a *MultiInputAgent) findAlignedIndices() []int {
	anchorEnvs := a.inputPorts[0].Peek()
	for anchorIdx, anchor := range anchorEnvs {
		anchorSuffixes := suffixSet(anchor.Parents)

		indices := make([]int, len(a.inputPorts))
		indices[0] = anchorIdx
		aligned := true
		for portIdx := 1; portIdx < len(a.inputPorts); portIdx++ {
			found := -1
			for k, env := range a.inputPorts[portIdx].Peek() {
				if isSuperset(suffixSet(env.Parents), anchorSuffixes) {
					found = k
					break
				}
			}
			if found == -1 {
				aligned = false
				break
			}
			indices[portIdx] = found
		}
		if aligned {
			return indices
		}
	}
	return nil
}

// rollback reinserts every already-dequeued envelope (ports [0, upTo)) at
// its original index.
func (a *MultiInputAgent) rollback(indices []int, envs []Envelope, upTo int) {
	for portIdx := 0; portIdx < upTo; portIdx++ {
		a.inputPorts[portIdx].InsertAt(indices[portIdx], envs[portIdx])
	}
}

// isSuperset reports whether super contains every key of sub.
func isSuperset(super, sub map[string]struct{}) bool {
	for k := range sub {
		if _, ok := super[k]; !ok {
			return false
		}
	}
	return true
}

func (a *MultiInputAgent) runSafely(payloads map[reflect.Type]any, corr string) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in run: %v", r)
		}
	}()
	return a.run(a.ctx, payloads, corr)
}

// SaveState encodes every input port under "input_<i>" (declaration
// order) and every output port under the usual "output_ports:<SchemaName>"
// scheme.
func (a *MultiInputAgent) SaveState() (AgentSnapshot, error) {
	var errs []error
	snap := AgentSnapshot{IsActive: a.active, Ports: make(map[string]PortSnapshot)}
	for i, port := range a.inputPorts {
		snap.Ports[fmt.Sprintf("input_%d", i)] = snapshotPort(port, &errs)
	}
	saveOutputPorts(a.outputPorts, a.outputOrder, snap.Ports, &errs)
	if len(errs) > 0 {
		return snap, errs[0]
	}
	return snap, nil
}

// LoadState is the inverse of SaveState.
func (a *MultiInputAgent) LoadState(snap AgentSnapshot) error {
	a.active = snap.IsActive
	var errs []error
	for i, port := range a.inputPorts {
		if ps, ok := snap.Ports[fmt.Sprintf("input_%d", i)]; ok {
			restorePort(port, ps, &errs)
		}
	}
	loadOutputPorts(a.outputPorts, a.outputOrder, snap.Ports, &errs)
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

var _ Schedulable = (*MultiInputAgent)(nil)
var _ portIntrospectable = (*MultiInputAgent)(nil)
