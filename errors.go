package connectoragents

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// TransformError wraps a panic/error raised by a pre-transform,
// post-transform, or condition function attached to a Port edge. It
// propagates out of Port.Send at the offending edge; edges already served
// earlier in the same emission keep their deliveries.
type TransformError struct {
	Edge  string
	Cause error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("connectoragents: transform failed on edge %s: %v", e.Edge, e.Cause)
}

func (e *TransformError) Unwrap() error { return e.Cause }

// RunError wraps a panic/error raised by an agent's run. The offending
// envelope is returned to the front of its input queue before this error is
// surfaced.
type RunError struct {
	AgentUUID uuid.UUID
	Cause     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("connectoragents: run failed in agent %s: %v", e.AgentUUID, e.Cause)
}

func (e *RunError) Unwrap() error { return e.Cause }

// PortResolutionError reports that run's return value could not be routed
// to any declared output port. Treated identically to RunError by the
// scheduler.
type PortResolutionError struct {
	AgentUUID uuid.UUID
	Value     any
}

func (e *PortResolutionError) Error() string {
	if t, ok := e.Value.(reflect.Type); ok {
		return fmt.Sprintf("connectoragents: agent %s returned %v, no matching output port", e.AgentUUID, t)
	}
	return fmt.Sprintf("connectoragents: agent %s returned %T, no matching output port", e.AgentUUID, e.Value)
}

// SnapshotError reports an encoding or decoding failure while saving or
// loading a snapshot. On save the scheduler logs and continues; on load the
// affected port is left empty and restoration of unrelated ports continues.
type SnapshotError struct {
	PortKey string
	Cause   error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("connectoragents: snapshot error on port %q: %v", e.PortKey, e.Cause)
}

func (e *SnapshotError) Unwrap() error { return e.Cause }

// ValidationError reports that step_all(validate_pipeline=true) found
// agents reachable from an entry agent that are not registered with the
// scheduler. Aborts before running.
type ValidationError struct {
	UnreachableFrom  uuid.UUID
	MissingAgentUUID uuid.UUID
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("connectoragents: pipeline validation failed: agent %s reachable from %s is not registered with the scheduler",
		e.MissingAgentUUID, e.UnreachableFrom)
}

// SchedulerError wraps a RunError/PortResolutionError that escaped an
// agent's step during a scheduler round, after the error snapshot (if
// error_dir is configured) and the debugger.error_agent hook have already
// fired.
type SchedulerError struct {
	AgentUUID uuid.UUID
	Cause     error
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("connectoragents: scheduler error in agent %s: %v", e.AgentUUID, e.Cause)
}

func (e *SchedulerError) Unwrap() error { return e.Cause }

// ErrAlreadyAggregated is returned by CollectorPort when an incoming
// envelope's provenance chain already ends in a ":0:1" segment — the exact
// shape a completed batch's rewritten prefix has. This is a defensive
// assertion, not a recoverable condition; it signals a pipeline wiring bug
// (an already-aggregated message fed back into a collector) rather than
// user data, grounded on ListCollectionAgent.py._replace_if_needed.
var ErrAlreadyAggregated = fmt.Errorf("connectoragents: input already carries an aggregated (:0:1) provenance segment")
