package connectoragents

import (
	"errors"
	"reflect"
	"testing"
)

func intPort(dir Direction) *Port {
	return NewPort(dir, reflect.TypeOf(0), NewAgentID())
}

func TestSendNoConnectionsGoesToUnconnectedOutputs(t *testing.T) {
	out := intPort(DirectionOut)
	if err := out.Send(42, nil, nil, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	outs := out.UnconnectedOutputs()
	if len(outs) != 1 || outs[0].Payload.(int) != 42 {
		t.Fatalf("expected one unconnected output of 42, got %+v", outs)
	}
}

func TestSendFanoutProvenanceInvariantP1(t *testing.T) {
	out := intPort(DirectionOut)
	in := intPort(DirectionIn)
	if err := out.Connect(in, Edge{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := out.Send([]int{10, 20, 30}, nil, nil, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if in.Len() != 3 {
		t.Fatalf("expected 3 queued envelopes, got %d", in.Len())
	}
	var sharedUUID = in.Peek()[0].Parents[0].UUID
	seen := map[uint32]bool{}
	for i, env := range in.Peek() {
		seg := env.Parents[len(env.Parents)-1]
		if seg.UUID != sharedUUID {
			t.Fatalf("envelope %d does not share the fresh uuid", i)
		}
		if seg.Fanout != 3 {
			t.Fatalf("envelope %d fanout = %d, want 3", i, seg.Fanout)
		}
		seen[seg.Index] = true
	}
	for i := uint32(0); i < 3; i++ {
		if !seen[i] {
			t.Fatalf("missing index %d among delivered envelopes", i)
		}
	}
}

func TestSendTransmissionSeesPreTransformPayload(t *testing.T) {
	out := intPort(DirectionOut)
	in := intPort(DirectionIn)
	_ = out.Connect(in, Edge{PostTransform: func(v any) (any, error) { return v.(int) * 100, nil }})

	var seen any
	d := transmissionRecordingDebugger{onTransmission: func(v any) { seen = v }}
	if err := out.Send(7, nil, nil, d); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if seen != 7 {
		t.Fatalf("expected debugger to observe the pre-transform payload 7, got %v", seen)
	}
	env, ok := in.Dequeue()
	if !ok || env.Payload.(int) != 700 {
		t.Fatalf("expected the delivered payload to be post-transformed to 700, got %+v", env)
	}
}

type transmissionRecordingDebugger struct {
	NoopDebugger
	onTransmission func(v any)
}

func (d transmissionRecordingDebugger) Transmission(_, _ Identifiable, v any, _ []Provenance) {
	if d.onTransmission != nil {
		d.onTransmission(v)
	}
}

func TestSendFIFOOrderPerEdge(t *testing.T) {
	out := intPort(DirectionOut)
	in := intPort(DirectionIn)
	_ = out.Connect(in, Edge{})
	_ = out.Send(1, nil, nil, nil)
	_ = out.Send(2, nil, nil, nil)
	_ = out.Send(3, nil, nil, nil)
	var got []int
	for {
		env, ok := in.Dequeue()
		if !ok {
			break
		}
		got = append(got, env.Payload.(int))
	}
	want := []int{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dequeue order = %v, want %v", got, want)
	}
}

func TestSendConditionFilterReindexesContiguously(t *testing.T) {
	out := intPort(DirectionOut)
	in := intPort(DirectionIn)
	odd := func(v any) bool { return v.(int)%2 == 1 }
	_ = out.Connect(in, Edge{Condition: odd})
	if err := out.Send([]int{1, 2, 3, 4, 5}, nil, nil, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if in.Len() != 3 {
		t.Fatalf("expected 3 surviving (odd) elements, got %d", in.Len())
	}
	for i, env := range in.Peek() {
		seg := env.Parents[len(env.Parents)-1]
		if int(seg.Index) != i {
			t.Fatalf("surviving element %d has non-contiguous index %d", i, seg.Index)
		}
		if seg.Fanout != 3 {
			t.Fatalf("surviving element %d fanout = %d, want 3", i, seg.Fanout)
		}
		if env.Payload.(int)%2 != 1 {
			t.Fatalf("even element %d leaked through condition filter", env.Payload)
		}
	}
}

func TestSendConditionDropsSingleElementAsZeroEmission(t *testing.T) {
	// Resolved against ToolPort.py.send: a condition-dropped single
	// (non-list) element is zero emissions, not a zero-length list send.
	out := intPort(DirectionOut)
	in := intPort(DirectionIn)
	never := func(any) bool { return false }
	_ = out.Connect(in, Edge{Condition: never})
	if err := out.Send(99, nil, nil, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if in.Len() != 0 {
		t.Fatalf("expected zero emission, got %d queued envelopes", in.Len())
	}
}

func TestSendTransformErrorStopsOffendingEdgeOnly(t *testing.T) {
	out := intPort(DirectionOut)
	inA := intPort(DirectionIn)
	inB := intPort(DirectionIn)
	boom := errors.New("boom")
	_ = out.Connect(inA, Edge{})
	_ = out.Connect(inB, Edge{PreTransform: func(any) (any, error) { return nil, boom }})

	err := out.Send(7, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected TransformError")
	}
	var te *TransformError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransformError, got %T: %v", err, err)
	}
	if inA.Len() != 1 {
		t.Fatalf("edge A should have already received its delivery before edge B failed, got %d", inA.Len())
	}
	if inB.Len() != 0 {
		t.Fatalf("edge B should have received nothing after its transform failed")
	}
}

func TestReceiveAppliesPostTransform(t *testing.T) {
	in := intPort(DirectionIn)
	double := func(v any) (any, error) { return v.(int) * 2, nil }
	if err := in.Receive(5, nil, "corr", double); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	env, ok := in.Dequeue()
	if !ok || env.Payload.(int) != 10 {
		t.Fatalf("expected post-transformed payload 10, got %+v", env)
	}
	if env.CorrelationID != "corr" {
		t.Fatalf("expected correlation id to survive post-transform, got %q", env.CorrelationID)
	}
}

func TestDequeueAtAndInsertAtRollback(t *testing.T) {
	in := intPort(DirectionIn)
	_ = in.Receive(1, nil, "", nil)
	_ = in.Receive(2, nil, "", nil)
	env, _ := in.DequeueAt(0)
	in.InsertAt(0, env)
	if in.Len() != 2 {
		t.Fatalf("expected queue restored to length 2, got %d", in.Len())
	}
	first, _ := in.Dequeue()
	if first.Payload.(int) != 1 {
		t.Fatalf("expected rollback to restore original order, got %v first", first.Payload)
	}
}

func TestPopOneOutputDrainsFIFO(t *testing.T) {
	out := intPort(DirectionOut)
	_ = out.Send(1, nil, nil, nil)
	_ = out.Send(2, nil, nil, nil)
	first, ok := out.PopOneOutput()
	if !ok || first.Payload.(int) != 1 {
		t.Fatalf("expected first popped output to be 1, got %+v", first)
	}
	if len(out.UnconnectedOutputs()) != 1 {
		t.Fatalf("expected one remaining unconnected output")
	}
}

func TestConnectDirectionValidation(t *testing.T) {
	in := intPort(DirectionIn)
	out := intPort(DirectionOut)
	if err := in.Connect(out, Edge{}); err == nil {
		t.Fatalf("expected error connecting from an INPUT port")
	}
	if err := out.Connect(out, Edge{}); err == nil {
		t.Fatalf("expected error connecting to a non-INPUT target")
	}
}
