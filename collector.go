package connectoragents

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ListModel is the batch envelope a CollectorPort releases once a
// provenance chain completes: every surviving sibling's payload, ordered
// by its fan-out index.
type ListModel struct {
	Data []any
}

func init() {
	RegisterSchema("connectoragents.ListModel", ListModel{})
}

// MarshalJSON re-tags every element of Data through the schema registry,
// the way SerializeHelper.py's encode_payload recurses into nested
// lists/dicts and re-tags each nested model with its own wrapper. Without
// this, a completed batch would serialize its elements as plain JSON and
// lose their registered Go type on the way back in.
func (m ListModel) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, len(m.Data))
	for i, v := range m.Data {
		raw, err := EncodePayload(v)
		if err != nil {
			return nil, err
		}
		items[i] = raw
	}
	return json.Marshal(struct {
		Data []json.RawMessage `json:"data"`
	}{Data: items})
}

// UnmarshalJSON is the inverse of MarshalJSON: each element is decoded back
// through the schema registry rather than into a generic map/interface.
func (m *ListModel) UnmarshalJSON(raw []byte) error {
	var wrapped struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return err
	}
	data := make([]any, len(wrapped.Data))
	for i, item := range wrapped.Data {
		v, err := DecodePayload(item)
		if err != nil {
			return err
		}
		data[i] = v
	}
	m.Data = data
	return nil
}

// collectorBucket buffers the siblings seen so far for one provenance
// prefix, keyed by their surviving index, until |seen| == fanout.
type collectorBucket struct {
	prefix []Provenance
	fanout uint32
	items  map[uint32]Envelope
}

// CollectorPort is the List Collector Port, grounded on
// original_source/AgentFramework/core/ListCollectionAgent.py: it accumulates
// fan-out siblings per distinct provenance prefix and releases one
// ListModel envelope, in index order, the moment every sibling has arrived.
// Unlike an ordinary *Port it never FIFO-dequeues out of order — completion
// is driven entirely by provenance, not arrival order.
type CollectorPort struct {
	owner   uuid.UUID
	buckets map[string]*collectorBucket
	order   []string
}

// NewCollectorPort constructs an empty List Collector Port owned by owner.
func NewCollectorPort(owner uuid.UUID) *CollectorPort {
	return &CollectorPort{owner: owner, buckets: make(map[string]*collectorBucket)}
}

// prefixKey renders every segment but the last as a stable map key — the
// shared-prefix identity a sibling set aligns on.
func prefixKey(parents []Provenance) string {
	if len(parents) == 0 {
		return ""
	}
	segs := make([]string, len(parents)-1)
	for i, seg := range parents[:len(parents)-1] {
		segs[i] = seg.String()
	}
	return strings.Join(segs, "|")
}

// ReceiveEnvelope implements Receiver, buffering one sibling envelope. It
// is an assertion failure — ErrAlreadyAggregated — for an incoming chain's
// final segment to already carry the ":0:1" shape a completed batch is
// rewritten to, grounded on ListCollectionAgent.py._replace_if_needed.
func (c *CollectorPort) ReceiveEnvelope(payload any, parents []Provenance, correlationID string) error {
	if isAlreadyAggregated(parents) {
		return ErrAlreadyAggregated
	}
	if len(parents) == 0 {
		return fmt.Errorf("connectoragents: CollectorPort requires a non-empty provenance chain")
	}
	last := parents[len(parents)-1]
	key := prefixKey(parents)

	bucket, ok := c.buckets[key]
	if !ok {
		bucket = &collectorBucket{
			prefix: append([]Provenance{}, parents[:len(parents)-1]...),
			fanout: last.Fanout,
			items:  make(map[uint32]Envelope),
		}
		c.buckets[key] = bucket
		c.order = append(c.order, key)
	}
	bucket.items[last.Index] = Envelope{
		Parents:       parents,
		TimestampMS:   NowUnixMS(),
		CorrelationID: correlationID,
		Payload:       payload,
	}
	return nil
}

// TryComplete scans buckets in the order their first sibling arrived and
// releases the first one whose |seen| == fanout, as a ListModel envelope
// whose parents are the shared prefix with the final segment replaced by
// "<uuid>:0:1".
func (c *CollectorPort) TryComplete() (Envelope, bool) {
	for i, key := range c.order {
		bucket := c.buckets[key]
		if uint32(len(bucket.items)) != bucket.fanout {
			continue
		}

		indices := make([]uint32, 0, len(bucket.items))
		for idx := range bucket.items {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })

		data := make([]any, len(indices))
		var corrID string
		var srcUUID uuid.UUID
		for j, idx := range indices {
			item := bucket.items[idx]
			data[j] = item.Payload
			if j == 0 {
				corrID = item.CorrelationID
				srcUUID = item.Parents[len(item.Parents)-1].UUID
			}
		}

		released := Envelope{
			Parents:       append(append([]Provenance{}, bucket.prefix...), Provenance{UUID: srcUUID, Index: 0, Fanout: 1}),
			TimestampMS:   NowUnixMS(),
			CorrelationID: corrID,
			Payload:       ListModel{Data: data},
		}

		delete(c.buckets, key)
		c.order = append(c.order[:i:i], c.order[i+1:]...)
		return released, true
	}
	return Envelope{}, false
}

// Snapshot encodes every partial bucket, keyed by its prefix key, so an
// incomplete chain survives a snapshot round trip.
func (c *CollectorPort) Snapshot(errs *[]error) map[string]CollectorBucketSnapshot {
	if len(c.buckets) == 0 {
		return nil
	}
	out := make(map[string]CollectorBucketSnapshot, len(c.buckets))
	for key, bucket := range c.buckets {
		items := make(map[uint32]EnvelopeSnapshot, len(bucket.items))
		for idx, env := range bucket.items {
			es, err := encodeEnvelope(env)
			if err != nil {
				*errs = append(*errs, err)
				continue
			}
			items[idx] = es
		}
		out[key] = CollectorBucketSnapshot{Fanout: bucket.fanout, Items: items}
	}
	return out
}

// Restore is the inverse of Snapshot.
func (c *CollectorPort) Restore(snap map[string]CollectorBucketSnapshot, errs *[]error) {
	c.buckets = make(map[string]*collectorBucket, len(snap))
	c.order = c.order[:0]
	for key, bs := range snap {
		items := make(map[uint32]Envelope, len(bs.Items))
		var prefix []Provenance
		for idx, es := range bs.Items {
			env, err := decodeEnvelope(es)
			if err != nil {
				*errs = append(*errs, err)
				continue
			}
			items[idx] = env
			if prefix == nil && len(env.Parents) > 0 {
				prefix = append([]Provenance{}, env.Parents[:len(env.Parents)-1]...)
			}
		}
		c.buckets[key] = &collectorBucket{prefix: prefix, fanout: bs.Fanout, items: items}
		c.order = append(c.order, key)
	}
}

// CollectorAgent drives a single CollectorPort to completion every step and
// forwards each completed ListModel onto its output port, grounded on
// ListCollectionAgent.py's automatic (run-less) step behaviour.
type CollectorAgent struct {
	id       uuid.UUID
	active   bool
	input    *CollectorPort
	output   *Port
	debugger Debugger
}

// NewCollectorAgent constructs a CollectorAgent whose output port carries
// ListModel payloads.
func NewCollectorAgent(opts ...AgentOption) *CollectorAgent {
	cfg := agentConfig{debugger: NoopDebugger{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	id := NewAgentID()
	return &CollectorAgent{
		id:       id,
		active:   true,
		input:    NewCollectorPort(id),
		output:   NewPort(DirectionOut, reflect.TypeOf(ListModel{}), id),
		debugger: cfg.debugger,
	}
}

// corePorts satisfies the unexported portIntrospectable interface for
// downstream reachability — CollectorAgent reports no input *Port (its
// input is a CollectorPort, reported through ownedReceivers for entry-agent
// detection), and its output port participates in forward BFS.
func (a *CollectorAgent) corePorts() ([]*Port, []*Port) { return nil, []*Port{a.output} }

// ownedReceivers exposes the CollectorPort as a Receiver so Scheduler
// pipeline validation and entry-agent detection can match edges that target
// it, even though it is not an ordinary *Port.
func (a *CollectorAgent) ownedReceivers() []Receiver { return []Receiver{a.input} }

func (a *CollectorAgent) AgentUUID() uuid.UUID    { return a.id }
func (a *CollectorAgent) IsActive() bool          { return a.active }
func (a *CollectorAgent) SetActive(v bool)        { a.active = v }
func (a *CollectorAgent) CollectorInput() *CollectorPort { return a.input }
func (a *CollectorAgent) OutputPort() *Port        { return a.output }

// Feed buffers one sibling envelope on the collector's CollectorPort. An
// upstream Port.Send whose edge targets CollectorInput() does the same by
// calling CollectorPort.ReceiveEnvelope directly.
func (a *CollectorAgent) Feed(payload any, parents []Provenance, correlationID string) error {
	return a.input.ReceiveEnvelope(payload, parents, correlationID)
}

// Step checks for one completed sibling set and, if found, emits it.
func (a *CollectorAgent) Step() (bool, error) {
	env, ok := a.input.TryComplete()
	if !ok {
		a.debugger.NoInput(a)
		return false, nil
	}
	a.debugger.Input(a, env.Payload, env.Parents)
	a.debugger.Output(a, env.Payload, env.Parents)
	if err := a.output.Send(env.Payload, env.Parents, []string{env.CorrelationID}, a.debugger); err != nil {
		return false, err
	}
	return true, nil
}

// SaveState encodes the collector's partial buffer under the input port
// key, alongside the (always empty-queue) output port.
func (a *CollectorAgent) SaveState() (AgentSnapshot, error) {
	var errs []error
	snap := AgentSnapshot{IsActive: a.active, Ports: make(map[string]PortSnapshot)}
	snap.Ports["input_port"] = PortSnapshot{CollectorBuffers: a.input.Snapshot(&errs)}
	snap.Ports["output_port"] = snapshotPort(a.output, &errs)
	if len(errs) > 0 {
		return snap, errs[0]
	}
	return snap, nil
}

// LoadState is the inverse of SaveState.
func (a *CollectorAgent) LoadState(snap AgentSnapshot) error {
	a.active = snap.IsActive
	var errs []error
	if ps, ok := snap.Ports["input_port"]; ok {
		a.input.Restore(ps.CollectorBuffers, &errs)
	}
	if ps, ok := snap.Ports["output_port"]; ok {
		restorePort(a.output, ps, &errs)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

var _ Schedulable = (*CollectorAgent)(nil)
var _ Receiver = (*CollectorPort)(nil)
