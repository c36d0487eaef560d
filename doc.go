// Package connectoragents is a cooperatively-scheduled agent pipeline
// runtime: typed ports wired into a directed graph, single-threaded
// round-robin scheduling, provenance-tracked fan-out/fan-in, and a
// self-describing snapshot engine for pausing and resuming an entire
// running pipeline.
//
// An Agent (built from AgentCore or MultiInputAgent) declares an input
// schema and one or more output schemas; Port.Connect wires an agent's
// output onto another agent's input, optionally through a pre-transform,
// post-transform, or condition. A Scheduler drives every registered
// Schedulable one step at a time until a full round produces no work, then
// GetFinalOutputs/PopOneOutputForAgent harvest whatever landed on
// unconnected output ports.
//
// Every message carries a Provenance chain recording which Port.Send calls
// produced it; the List Collector Port (CollectorPort/CollectorAgent) and
// the Multi-Input Agent's aggregate mode use that chain to re-synchronise
// fan-out siblings before continuing. SaveState/LoadState on every
// Schedulable, together with a SnapshotStore backend (see store/file,
// store/sqlite, store/postgres), let a Scheduler's entire state be
// persisted and restored byte-for-byte.
package connectoragents
