package connectoragents

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// Direction distinguishes an input port (holds a queue) from an output port
// (holds edges and an unconnected-outputs fallback buffer).
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "IN"
	}
	return "OUT"
}

// Envelope is the message 4-tuple queued on every port: provenance chain,
// enqueue timestamp, an opaque correlation id, and the typed payload.
type Envelope struct {
	Parents       []Provenance
	TimestampMS   int64
	CorrelationID string
	Payload       any
}

// Identifiable is implemented by anything the Debugger hook and port edges
// need to name — agents and, transitively, schedulers (Schedulable).
type Identifiable interface {
	AgentUUID() uuid.UUID
}

// Receiver is anything an OUT port edge can deliver a single tagged copy
// to: an ordinary *Port's FIFO queue, or a CollectorPort's provenance
// buffer. Kept narrow and transform-free — edge-level
// post-transforms are applied by Send before a Receiver ever sees a value.
type Receiver interface {
	ReceiveEnvelope(payload any, parents []Provenance, correlationID string) error
}

// Edge is one OUT→IN wire: the target plus the optional per-edge
// pre-transform, post-transform, and condition.
type Edge struct {
	Target        Receiver
	PreTransform  func(any) (any, error)
	PostTransform func(any) (any, error)
	Condition     func(any) bool
	SrcAgent      Identifiable
	TgtAgent      Identifiable
}

// Port is a typed message endpoint: an unbounded FIFO queue on the IN side,
// or an ordered edge list plus unconnected-outputs fallback on the OUT side.
type Port struct {
	Direction Direction
	Schema    reflect.Type
	Owner     uuid.UUID

	queue              []Envelope
	unconnectedOutputs []Envelope
	connections        []Edge
}

// NewPort constructs a port of the given direction and declared schema,
// owned by the given agent uuid, with empty queues.
func NewPort(direction Direction, schema reflect.Type, owner uuid.UUID) *Port {
	return &Port{Direction: direction, Schema: schema, Owner: owner}
}

// Connect appends an edge from this OUT port to target, ordinarily an IN
// port but possibly a CollectorPort. Only OUT→IN is legal
// when the target is an ordinary *Port; non-*Port
// Receivers have no Direction to validate.
func (p *Port) Connect(target Receiver, edge Edge) error {
	if p.Direction != DirectionOut {
		return fmt.Errorf("connectoragents: Connect called on a non-OUTPUT port")
	}
	if tp, ok := target.(*Port); ok && tp.Direction != DirectionIn {
		return fmt.Errorf("connectoragents: Connect target is not an INPUT port")
	}
	edge.Target = target
	p.connections = append(p.connections, edge)
	return nil
}

// ReceiveEnvelope implements Receiver for an ordinary IN port, delivering
// payload with no post-transform (Send already applied the edge's
// post-transform, if any, before calling this).
func (p *Port) ReceiveEnvelope(payload any, parents []Provenance, correlationID string) error {
	return p.Receive(payload, parents, correlationID, nil)
}

// Connections exposes the edge list for scheduler-level entry-agent
// detection and pipeline printing.
func (p *Port) Connections() []Edge { return p.connections }

// Len reports the current queue depth.
func (p *Port) Len() int { return len(p.queue) }

// Receive applies an optional post-transform and appends the resulting
// envelope to an IN port's queue. post_transform may rewrite the payload
// but never the provenance chain.
func (p *Port) Receive(payload any, parents []Provenance, correlationID string, postTransform func(any) (any, error)) error {
	if p.Direction != DirectionIn {
		return fmt.Errorf("connectoragents: Receive called on a non-INPUT port")
	}
	if postTransform != nil {
		out, err := postTransform(payload)
		if err != nil {
			return &TransformError{Edge: "receive:post_transform", Cause: err}
		}
		payload = out
	}
	p.queue = append(p.queue, Envelope{
		Parents:       parents,
		TimestampMS:   NowUnixMS(),
		CorrelationID: correlationID,
		Payload:       payload,
	})
	return nil
}

// Dequeue pops the front envelope, FIFO.
func (p *Port) Dequeue() (Envelope, bool) {
	if len(p.queue) == 0 {
		return Envelope{}, false
	}
	env := p.queue[0]
	p.queue = p.queue[1:]
	return env, true
}

// DequeueAt removes and returns the envelope at index idx, used by
// aggregate multi-input alignment.
func (p *Port) DequeueAt(idx int) (Envelope, bool) {
	if idx < 0 || idx >= len(p.queue) {
		return Envelope{}, false
	}
	env := p.queue[idx]
	p.queue = append(p.queue[:idx:idx], p.queue[idx+1:]...)
	return env, true
}

// InsertAt reinserts an envelope at idx, used to roll back a failed
// multi-input aggregate step to the original dequeue position.
func (p *Port) InsertAt(idx int, env Envelope) {
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.queue) {
		p.queue = append(p.queue, env)
		return
	}
	p.queue = append(p.queue, Envelope{})
	copy(p.queue[idx+1:], p.queue[idx:])
	p.queue[idx] = env
}

// PushFront reinserts an envelope at the head of the queue, used to roll
// back a failed single-input step.
func (p *Port) PushFront(env Envelope) {
	p.queue = append([]Envelope{env}, p.queue...)
}

// Peek returns the queue contents without modifying it (used by the
// snapshot engine and by multi-input alignment search).
func (p *Port) Peek() []Envelope { return p.queue }

// ReplaceQueue overwrites the queue wholesale, used when restoring a
// snapshot.
func (p *Port) ReplaceQueue(envs []Envelope) { p.queue = envs }

// UnconnectedOutputs returns the accumulated fallback buffer without
// draining it.
func (p *Port) UnconnectedOutputs() []Envelope { return p.unconnectedOutputs }

// ReplaceUnconnectedOutputs overwrites the fallback buffer, used when
// restoring a snapshot.
func (p *Port) ReplaceUnconnectedOutputs(envs []Envelope) { p.unconnectedOutputs = envs }

// PopOneOutput drains exactly one item from the fallback buffer, FIFO.
func (p *Port) PopOneOutput() (Envelope, bool) {
	if len(p.unconnectedOutputs) == 0 {
		return Envelope{}, false
	}
	env := p.unconnectedOutputs[0]
	p.unconnectedOutputs = p.unconnectedOutputs[1:]
	return env, true
}

// Send fans a payload (or slice of payloads) out across every connected
// edge, tagging every surviving copy with a fresh provenance segment.
// Grounded byte-for-byte on ToolPort.py.send: the fresh uuid is generated
// once per Send call and shared by every edge — ToolPort.py generates
// msg_uuid once, before iterating connections, not inside the per-edge
// loop — and each edge computes its own surviving count independently
// since pre/post transforms and conditions are per-edge.
func (p *Port) Send(payload any, parents []Provenance, correlationIDs []string, dbg Debugger) error {
	if p.Direction != DirectionOut {
		return fmt.Errorf("connectoragents: Send called on a non-OUTPUT port")
	}
	if dbg == nil {
		dbg = NoopDebugger{}
	}

	if len(p.connections) == 0 {
		corrID := ""
		if len(correlationIDs) > 0 {
			corrID = correlationIDs[0]
		}
		p.unconnectedOutputs = append(p.unconnectedOutputs, Envelope{
			Parents:       append([]Provenance{}, parents...),
			TimestampMS:   NowUnixMS(),
			CorrelationID: corrID,
			Payload:       payload,
		})
		return nil
	}

	msgUUID := NewProvenanceUUID()
	payloadElems, payloadIsList := asSlice(payload)

	for edgeIdx, edge := range p.connections {
		var elements []any
		var isList bool

		if payloadIsList {
			elements = make([]any, len(payloadElems))
			for i, el := range payloadElems {
				if edge.PreTransform != nil {
					out, err := edge.PreTransform(el)
					if err != nil {
						return &TransformError{Edge: fmt.Sprintf("edge[%d]", edgeIdx), Cause: err}
					}
					elements[i] = out
				} else {
					elements[i] = el
				}
			}
			isList = true
		} else {
			var single any = payload
			if edge.PreTransform != nil {
				out, err := edge.PreTransform(payload)
				if err != nil {
					return &TransformError{Edge: fmt.Sprintf("edge[%d]", edgeIdx), Cause: err}
				}
				single = out
			}
			if elems, ok := asSlice(single); ok {
				elements = elems
				isList = true
			} else {
				elements = []any{single}
				isList = false
			}
		}

		if isList {
			m := len(elements)
			survive := make([]bool, m)
			n := 0
			for i, el := range elements {
				if edge.Condition == nil || edge.Condition(el) {
					survive[i] = true
					n++
				}
			}
			realIdx := 0
			for i, el := range elements {
				if !survive[i] {
					continue
				}
				corrID := ""
				if i < len(correlationIDs) {
					corrID = correlationIDs[i]
				}
				newParents := NewProvenanceChain(parents, msgUUID, uint32(realIdx), uint32(n))
				dbg.Transmission(edge.SrcAgent, edge.TgtAgent, el, newParents)
				if edge.PostTransform != nil {
					out, err := edge.PostTransform(el)
					if err != nil {
						return &TransformError{Edge: fmt.Sprintf("edge[%d]:post_transform", edgeIdx), Cause: err}
					}
					el = out
				}
				if err := edge.Target.ReceiveEnvelope(el, newParents, corrID); err != nil {
					return err
				}
				realIdx++
			}
		} else {
			single := elements[0]
			if edge.Condition != nil && !edge.Condition(single) {
				continue
			}
			corrID := ""
			if len(correlationIDs) > 0 {
				corrID = correlationIDs[0]
			}
			newParents := NewProvenanceChain(parents, msgUUID, 0, 1)
			dbg.Transmission(edge.SrcAgent, edge.TgtAgent, single, newParents)
			if edge.PostTransform != nil {
				out, err := edge.PostTransform(single)
				if err != nil {
					return &TransformError{Edge: fmt.Sprintf("edge[%d]:post_transform", edgeIdx), Cause: err}
				}
				single = out
			}
			if err := edge.Target.ReceiveEnvelope(single, newParents, corrID); err != nil {
				return err
			}
		}
	}
	return nil
}

// asSlice reports whether v is a slice/array and, if so, returns its
// elements boxed as []any. Used instead of a type switch because payload
// types are declared per-agent and not known to the core package.
var _ Receiver = (*Port)(nil)

func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	default:
		return nil, false
	}
}
