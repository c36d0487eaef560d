package connectoragents

import (
	"encoding/json"
	"fmt"
)

// EnvelopeSnapshot is the textual encoding of one queued Envelope: the
// provenance chain printed in canonical "uuid:index:fanout" form, the
// timestamp, the correlation id, and the self-describing encoded payload.
type EnvelopeSnapshot struct {
	Parents       []string        `json:"parents"`
	TimestampMS   int64           `json:"timestamp_ms"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

// CollectorBucketSnapshot persists one List Collector Port partial buffer —
// the set of sibling envelopes seen so far for one provenance prefix, keyed
// by their surviving index — so an incomplete chain survives a snapshot
// round trip.
type CollectorBucketSnapshot struct {
	Fanout uint32                      `json:"fanout"`
	Items  map[uint32]EnvelopeSnapshot `json:"items"`
}

// PortSnapshot is the textual encoding of one port: its queue, and (for
// OUTPUT ports) the unconnected-outputs fallback buffer. CollectorBuffers
// is populated only for a CollectorPort's input side.
type PortSnapshot struct {
	Queue              []EnvelopeSnapshot                  `json:"queue"`
	UnconnectedOutputs []EnvelopeSnapshot                   `json:"unconnected_outputs,omitempty"`
	CollectorBuffers   map[string]CollectorBucketSnapshot `json:"collector_buffers,omitempty"`
}

// AgentSnapshot is the textual encoding of one agent's private state and
// every one of its ports, keyed by a stable port-key scheme:
// "input_port" for single-input agents, "input_<i>" for multi-input
// agents in declaration order, "output_ports:<SchemaName>" for every output
// port, and "output_port" kept for legacy single-output snapshots.
type AgentSnapshot struct {
	State       json.RawMessage         `json:"state,omitempty"`
	StateClass  string                  `json:"state_class,omitempty"`
	Ports       map[string]PortSnapshot `json:"ports"`
	IsActive    bool                    `json:"is_active"`
}

// SchedulerRunState is the Scheduler's own persisted cursor, mirroring
// AgentSchedulerState in original_source/AgentFramework/AgentScheduler.py.
type SchedulerRunState struct {
	AgentIdx       int `json:"agent_idx"`
	StepCounter    int `json:"step_counter"`
	AllDoneCounter int `json:"all_done_counter"`
}

// Snapshot is the full self-describing tree the engine round-trips:
// {is_active, scheduler_state, global_state, global_state_class, agents}.
type Snapshot struct {
	IsActive         bool                     `json:"is_active"`
	SchedulerState   SchedulerRunState        `json:"scheduler_state"`
	GlobalState      json.RawMessage          `json:"global_state,omitempty"`
	GlobalStateClass string                   `json:"global_state_class,omitempty"`
	Agents           map[string]AgentSnapshot `json:"agents"`
}

// encodeEnvelope converts a runtime Envelope into its textual snapshot
// form. A payload encode failure yields a SnapshotError but does not panic
// — callers decide whether to continue with other ports.
func encodeEnvelope(env Envelope) (EnvelopeSnapshot, error) {
	parents := make([]string, len(env.Parents))
	for i, seg := range env.Parents {
		parents[i] = seg.String()
	}
	payload, err := EncodePayload(env.Payload)
	if err != nil {
		return EnvelopeSnapshot{}, err
	}
	return EnvelopeSnapshot{
		Parents:       parents,
		TimestampMS:   env.TimestampMS,
		CorrelationID: env.CorrelationID,
		Payload:       payload,
	}, nil
}

// decodeEnvelope is the inverse of encodeEnvelope.
func decodeEnvelope(es EnvelopeSnapshot) (Envelope, error) {
	parents := make([]Provenance, len(es.Parents))
	for i, s := range es.Parents {
		p, err := ParseProvenance(s)
		if err != nil {
			return Envelope{}, &SnapshotError{Cause: err}
		}
		parents[i] = p
	}
	payload, err := DecodePayload(es.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Parents:       parents,
		TimestampMS:   es.TimestampMS,
		CorrelationID: es.CorrelationID,
		Payload:       payload,
	}, nil
}

// snapshotPort encodes a port's queue (and, for an OUTPUT port, its
// unconnected-outputs buffer) into a PortSnapshot. A per-envelope encoding
// failure is skipped with the error recorded in errs rather than aborting
// the whole port — one bad message must not blank an entire port.
func snapshotPort(p *Port, errs *[]error) PortSnapshot {
	ps := PortSnapshot{}
	for _, env := range p.Peek() {
		es, err := encodeEnvelope(env)
		if err != nil {
			*errs = append(*errs, err)
			continue
		}
		ps.Queue = append(ps.Queue, es)
	}
	if p.Direction == DirectionOut {
		for _, env := range p.UnconnectedOutputs() {
			es, err := encodeEnvelope(env)
			if err != nil {
				*errs = append(*errs, err)
				continue
			}
			ps.UnconnectedOutputs = append(ps.UnconnectedOutputs, es)
		}
	}
	return ps
}

// restorePort decodes a PortSnapshot back onto a live port. Decode failures
// leave that port empty with a warning-equivalent error appended to errs;
// unrelated ports still restore.
func restorePort(p *Port, ps PortSnapshot, errs *[]error) {
	failed := false
	queue := make([]Envelope, 0, len(ps.Queue))
	for _, es := range ps.Queue {
		env, err := decodeEnvelope(es)
		if err != nil {
			*errs = append(*errs, err)
			failed = true
			continue
		}
		queue = append(queue, env)
	}

	var outs []Envelope
	if p.Direction == DirectionOut {
		outs = make([]Envelope, 0, len(ps.UnconnectedOutputs))
		for _, es := range ps.UnconnectedOutputs {
			env, err := decodeEnvelope(es)
			if err != nil {
				*errs = append(*errs, err)
				failed = true
				continue
			}
			outs = append(outs, env)
		}
	}

	if failed {
		queue, outs = nil, nil
	}
	p.ReplaceQueue(queue)
	if p.Direction == DirectionOut {
		p.ReplaceUnconnectedOutputs(outs)
	}
}

// MarshalSnapshot renders a Snapshot as indented JSON, the wire format every
// SnapshotStore backend persists.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

// UnmarshalSnapshot is the inverse of MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, &SnapshotError{Cause: err}
	}
	return snap, nil
}

// outputPortKey builds the "output_ports:<SchemaName>" key for schema,
// falling back to the type's Go name if it was never registered with
// RegisterSchema (still deterministic, just not guaranteed stable across
// a type rename — callers are expected to register every payload type).
func outputPortKey(zero any) string {
	if name, ok := SchemaName(zero); ok {
		return "output_ports:" + name
	}
	return fmt.Sprintf("output_ports:%T", zero)
}
