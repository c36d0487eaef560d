package sqlite

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/git5001/connectoragents"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	s.Close()
	s2, err := New(path)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	s2.Close()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := testStore(t)

	snap := connectoragents.Snapshot{
		IsActive: true,
		SchedulerState: connectoragents.SchedulerRunState{
			AgentIdx: 2, StepCounter: 7, AllDoneCounter: 0,
		},
		Agents: map[string]connectoragents.AgentSnapshot{
			"agent-1": {IsActive: true, Ports: map[string]connectoragents.PortSnapshot{}},
		},
	}

	if err := s.Save("run-1", snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got.SchedulerState, snap.SchedulerState) {
		t.Errorf("scheduler state mismatch: got %+v, want %+v", got.SchedulerState, snap.SchedulerState)
	}
	if _, ok := got.Agents["agent-1"]; !ok {
		t.Errorf("expected agent-1 to round-trip, got %v", got.Agents)
	}
}

func TestSaveOverwritesPriorSnapshotForSameDir(t *testing.T) {
	s := testStore(t)

	first := connectoragents.Snapshot{SchedulerState: connectoragents.SchedulerRunState{StepCounter: 1}}
	second := connectoragents.Snapshot{SchedulerState: connectoragents.SchedulerRunState{StepCounter: 2}}

	if err := s.Save("run-1", first); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	if err := s.Save("run-1", second); err != nil {
		t.Fatalf("Save second: %v", err)
	}

	got, err := s.Load("run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SchedulerState.StepCounter != 2 {
		t.Errorf("expected latest save to win, got step_counter=%d", got.SchedulerState.StepCounter)
	}
}

func TestLoadMissingDirErrors(t *testing.T) {
	s := testStore(t)
	if _, err := s.Load("never-saved"); err == nil {
		t.Fatal("expected an error loading a directory that was never saved")
	}
}
