package connectoragents

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

type leftMsg struct{ V int }
type rightMsg struct{ V int }
type sumMsg struct{ V int }

func init() {
	RegisterSchema("leftMsg", leftMsg{})
	RegisterSchema("rightMsg", rightMsg{})
	RegisterSchema("sumMsg", sumMsg{})
}

func TestMultiInputRoundRobinProbesFromLastPolledPlusOne(t *testing.T) {
	var seen []reflect.Type
	agent := NewMultiInputAgent([]any{leftMsg{}, rightMsg{}}, []any{sumMsg{}}, false,
		func(_ context.Context, payloads map[reflect.Type]any, _ string) (any, error) {
			for t := range payloads {
				seen = append(seen, t)
			}
			return NullSchema{}, nil
		})
	_ = agent.Feed(rightMsg{}, rightMsg{V: 1}, nil)
	_ = agent.Feed(leftMsg{}, leftMsg{V: 2}, nil)

	ran, err := agent.Step()
	if err != nil || !ran {
		t.Fatalf("Step: ran=%v err=%v", ran, err)
	}
	if len(seen) != 1 || seen[0] != reflect.TypeOf(leftMsg{}) {
		t.Fatalf("expected round-robin to pick the port at index 0 first, got %v", seen)
	}
}

func TestMultiInputAggregateAlignsOnSharedFanoutSuffix(t *testing.T) {
	fanUUID := uuid.New()
	leftEnv := Provenance{UUID: fanUUID, Index: 0, Fanout: 2}
	rightEnv := Provenance{UUID: fanUUID, Index: 0, Fanout: 2}

	var gotLeft, gotRight int
	agent := NewMultiInputAgent([]any{leftMsg{}, rightMsg{}}, []any{sumMsg{}}, true,
		func(_ context.Context, payloads map[reflect.Type]any, _ string) (any, error) {
			gotLeft = payloads[reflect.TypeOf(leftMsg{})].(leftMsg).V
			gotRight = payloads[reflect.TypeOf(rightMsg{})].(rightMsg).V
			return sumMsg{V: gotLeft + gotRight}, nil
		})

	left := agent.InputPorts()[0]
	right := agent.InputPorts()[1]
	_ = left.Receive(leftMsg{V: 10}, []Provenance{leftEnv}, "c1", nil)
	_ = right.Receive(rightMsg{V: 20}, []Provenance{rightEnv}, "c1", nil)

	ran, err := agent.Step()
	if err != nil || !ran {
		t.Fatalf("Step: ran=%v err=%v", ran, err)
	}
	if gotLeft != 10 || gotRight != 20 {
		t.Fatalf("expected aligned payloads 10/20, got %d/%d", gotLeft, gotRight)
	}
	out, _ := agent.OutputPort(sumMsg{})
	envs := out.UnconnectedOutputs()
	if len(envs) != 1 || envs[0].Payload.(sumMsg).V != 30 {
		t.Fatalf("unexpected sum output: %+v", envs)
	}
}

func TestMultiInputAggregateFailsAlignmentLeavesQueuesUntouched(t *testing.T) {
	agent := NewMultiInputAgent([]any{leftMsg{}, rightMsg{}}, []any{sumMsg{}}, true,
		func(_ context.Context, _ map[reflect.Type]any, _ string) (any, error) {
			t.Fatalf("run must not be invoked when alignment fails")
			return nil, nil
		})
	left := agent.InputPorts()[0]
	_ = left.Receive(leftMsg{V: 1}, nil, "c1", nil)
	// right port has nothing queued — no alignment partner possible.

	ran, err := agent.Step()
	if ran || err != nil {
		t.Fatalf("expected (false, nil) on alignment failure, got (%v, %v)", ran, err)
	}
	if left.Len() != 1 {
		t.Fatalf("expected left queue untouched, got len %d", left.Len())
	}
}

func TestMultiInputAggregateRollsBackOnRunError(t *testing.T) {
	boom := errors.New("boom")
	agent := NewMultiInputAgent([]any{leftMsg{}, rightMsg{}}, []any{sumMsg{}}, true,
		func(_ context.Context, _ map[reflect.Type]any, _ string) (any, error) {
			return nil, boom
		})
	left := agent.InputPorts()[0]
	right := agent.InputPorts()[1]
	_ = left.Receive(leftMsg{V: 1}, nil, "c1", nil)
	_ = right.Receive(rightMsg{V: 2}, nil, "c1", nil)

	ran, err := agent.Step()
	if ran || err == nil {
		t.Fatalf("expected run failure, got ran=%v err=%v", ran, err)
	}
	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("expected RunError, got %T", err)
	}
	if left.Len() != 1 || right.Len() != 1 {
		t.Fatalf("expected both dequeued envelopes reinserted, got left=%d right=%d", left.Len(), right.Len())
	}
}

func TestMultiInputAggregateJoinParentsIsLongestCommonPrefix(t *testing.T) {
	shared := uuid.New()
	branchLeft := uuid.New()
	branchRight := uuid.New()
	common := Provenance{UUID: shared, Index: 0, Fanout: 2}

	var gotParents []Provenance
	agent := NewMultiInputAgent([]any{leftMsg{}, rightMsg{}}, []any{sumMsg{}}, true,
		func(_ context.Context, payloads map[reflect.Type]any, _ string) (any, error) {
			return sumMsg{V: payloads[reflect.TypeOf(leftMsg{})].(leftMsg).V}, nil
		})
	agent.debugger = recordingDebugger{onInput: func(parents []Provenance) { gotParents = parents }}

	left := agent.InputPorts()[0]
	right := agent.InputPorts()[1]
	_ = left.Receive(leftMsg{V: 1}, []Provenance{common, {UUID: branchLeft, Index: 0, Fanout: 1}}, "c1", nil)
	_ = right.Receive(rightMsg{V: 2}, []Provenance{common, {UUID: branchRight, Index: 0, Fanout: 1}}, "c1", nil)

	if _, err := agent.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(gotParents) != 1 || gotParents[0] != common {
		t.Fatalf("expected join_parents = [%v], got %v", common, gotParents)
	}
}

func TestMultiInputAggregateSkipsStaleHeadAnchorForLaterAlignment(t *testing.T) {
	// Port 0's head-of-queue envelope belongs to a branch that never
	// completes on the right port; its second envelope aligns with what's
	// already sitting on the right port. The agent must not give up after
	// failing on the stale head — it must keep trying later port-0
	// candidates (original_source/AgentFramework/core/MultiPortAgent.py
	// _find_parent_indices_2 loops the whole queue).
	staleFan := uuid.New()
	readyFan := uuid.New()
	// Alignment compares ":index:fanout" suffixes only, so the stale branch
	// must carry a suffix (":1:2") the right port does not hold.
	staleEnv := Provenance{UUID: staleFan, Index: 1, Fanout: 2}
	readyLeftEnv := Provenance{UUID: readyFan, Index: 0, Fanout: 2}
	readyRightEnv := Provenance{UUID: readyFan, Index: 0, Fanout: 2}

	var gotLeft, gotRight int
	agent := NewMultiInputAgent([]any{leftMsg{}, rightMsg{}}, []any{sumMsg{}}, true,
		func(_ context.Context, payloads map[reflect.Type]any, _ string) (any, error) {
			gotLeft = payloads[reflect.TypeOf(leftMsg{})].(leftMsg).V
			gotRight = payloads[reflect.TypeOf(rightMsg{})].(rightMsg).V
			return sumMsg{V: gotLeft + gotRight}, nil
		})

	left := agent.InputPorts()[0]
	right := agent.InputPorts()[1]
	_ = left.Receive(leftMsg{V: 999}, []Provenance{staleEnv}, "stale", nil)
	_ = left.Receive(leftMsg{V: 10}, []Provenance{readyLeftEnv}, "c1", nil)
	_ = right.Receive(rightMsg{V: 20}, []Provenance{readyRightEnv}, "c1", nil)

	ran, err := agent.Step()
	if err != nil || !ran {
		t.Fatalf("Step: ran=%v err=%v", ran, err)
	}
	if gotLeft != 10 || gotRight != 20 {
		t.Fatalf("expected the second left envelope to align, got left=%d right=%d", gotLeft, gotRight)
	}
	if left.Len() != 1 || left.Peek()[0].Payload.(leftMsg).V != 999 {
		t.Fatalf("expected the stale head envelope to remain queued, got %+v", left.Peek())
	}
}

// recordingDebugger captures the parents passed to Input for assertions,
// leaving every other hook a no-op.
type recordingDebugger struct {
	NoopDebugger
	onInput func(parents []Provenance)
}

func (d recordingDebugger) Input(_ Identifiable, _ any, parents []Provenance) {
	if d.onInput != nil {
		d.onInput(parents)
	}
}
