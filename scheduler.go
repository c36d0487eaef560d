package connectoragents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SnapshotStore persists and restores a full pipeline Snapshot under a
// directory key. The core ships no concrete implementation; store/file,
// store/sqlite, and store/postgres provide backends.
type SnapshotStore interface {
	Save(dir string, snap Snapshot) error
	Load(dir string) (Snapshot, error)
}

// Scheduler drives a fixed, ordered set of Schedulable agents with
// cooperative single-threaded round-robin scheduling,
// grounded algorithmically on
// original_source/AgentFramework/AgentScheduler.py and
// original_source/AgentFramework/core/Schedulable.py, and structurally on
// the teacher's workflow.go (its detectCycle/findReachable traversal is
// adapted below as ValidatePipeline).
//
// A Scheduler is itself Schedulable (AgentUUID/IsActive/Step/SaveState/
// LoadState), so it may be nested as an ordinary agent inside an outer
// Scheduler — composition is the system's sole extension mechanism for
// concurrency across agents.
type Scheduler struct {
	id     uuid.UUID
	active bool

	agents   []Schedulable
	agentIdx int

	stepCounter    int
	round          int
	allDoneCounter int

	globalState any

	debugger Debugger

	store    SnapshotStore
	saveDir  string
	saveStep int
	errorDir string
	pauseCnt int
	logger   *slog.Logger
}

// SchedulerOption configures a Scheduler at construction time.
type SchedulerOption func(*Scheduler)

// WithSchedulerDebugger attaches an observer hook; defaults to NoopDebugger.
func WithSchedulerDebugger(d Debugger) SchedulerOption {
	return func(s *Scheduler) { s.debugger = d }
}

// WithSnapshotStore attaches the backend used by periodic and error
// snapshots.
func WithSnapshotStore(store SnapshotStore) SchedulerOption {
	return func(s *Scheduler) { s.store = store }
}

// WithSaveDir enables periodic snapshots every saveStep rounds, written via
// the configured SnapshotStore under "<saveDir>/step_<round>/".
func WithSaveDir(dir string, saveStep int) SchedulerOption {
	return func(s *Scheduler) {
		s.saveDir = dir
		if saveStep <= 0 {
			saveStep = 1
		}
		s.saveStep = saveStep
	}
}

// WithErrorDir enables error snapshots, overwritten on each error.
func WithErrorDir(dir string) SchedulerOption {
	return func(s *Scheduler) { s.errorDir = dir }
}

// WithGlobalState seeds the scheduler's shared record. The record is held
// by the Scheduler (GlobalState/SetGlobalState) and included in its
// snapshots; AddAgent does not pass it on to the agents it registers.
func WithGlobalState(state any) SchedulerOption {
	return func(s *Scheduler) { s.globalState = state }
}

// WithLogger overrides the scheduler.log destination; defaults to
// slog.Default().
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler constructs an empty Scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		id:       NewAgentID(),
		active:   true,
		debugger: NoopDebugger{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) AgentUUID() uuid.UUID { return s.id }
func (s *Scheduler) IsActive() bool       { return s.active }
func (s *Scheduler) SetActive(v bool)     { s.active = v }

// AddAgent registers an agent with the scheduler; skip excludes it from
// stepping while still keeping it wired for reachability purposes.
func (s *Scheduler) AddAgent(agent Schedulable, skip bool) {
	agent.SetActive(!skip)
	s.agents = append(s.agents, agent)
}

// Agents returns the registered agents in declaration order.
func (s *Scheduler) Agents() []Schedulable { return s.agents }

// GlobalState returns the scheduler's shared record.
func (s *Scheduler) GlobalState() any { return s.globalState }

// SetGlobalState overwrites the scheduler's shared record.
func (s *Scheduler) SetGlobalState(state any) { s.globalState = state }

// Step runs one tick: the agent at agentIdx is stepped (if active), the
// index advances round-robin, and quiescence is detected when a full round
// of agents produces no work.
func (s *Scheduler) Step() (bool, error) {
	if len(s.agents) == 0 {
		return false, nil
	}

	didRun, err := s.stepOneAgent()
	if err != nil {
		return false, err
	}

	if didRun {
		s.allDoneCounter = 0
	} else {
		s.allDoneCounter++
	}
	s.stepCounter++

	if s.agentIdx == 0 {
		s.round++
		if s.saveDir != "" && s.store != nil && s.round%s.saveStep == 0 {
			if err := s.saveSnapshot(fmt.Sprintf("%s/step_%d", s.saveDir, s.round)); err != nil {
				s.logger.Warn("snapshot save failed", "round", s.round, "error", err)
			}
		}
	}

	if s.allDoneCounter >= len(s.agents) {
		return false, nil
	}
	return true, nil
}

// stepOneAgent steps the agent at agentIdx (if active) and advances the
// cursor, escalating any error to the caller.
func (s *Scheduler) stepOneAgent() (bool, error) {
	agent := s.agents[s.agentIdx]
	idx := s.agentIdx
	s.agentIdx = (s.agentIdx + 1) % len(s.agents)

	if !agent.IsActive() {
		return false, nil
	}

	s.debugger.StartAgent(agent, s.stepCounter)
	didRun, err := agent.Step()
	if err != nil {
		s.debugger.ErrorAgent(agent, s.stepCounter, err)
		if s.errorDir != "" && s.store != nil {
			if snapErr := s.saveSnapshot(s.errorDir); snapErr != nil {
				s.logger.Warn("error snapshot failed", "error", snapErr)
			}
		}
		return false, &SchedulerError{AgentUUID: agent.AgentUUID(), Cause: err}
	}
	s.debugger.FinishedAgent(agent, s.stepCounter, didRun)
	s.logger.Info("agent step",
		"step", s.stepCounter, "agent", fmt.Sprintf("%T(%s)", agent, agent.AgentUUID()),
		"index", idx, "did_run", didRun)
	return didRun, nil
}

// StepAll loops Step until it returns false (pipeline quiescent),
// optionally validating the pipeline first and clearing previous outputs.
func (s *Scheduler) StepAll(clearPreviousOutputs, validatePipeline bool) error {
	if validatePipeline {
		if err := s.ValidatePipeline(); err != nil {
			return err
		}
	}
	if clearPreviousOutputs {
		s.clearUnconnectedOutputs()
	}

	for {
		if s.debugger.IsPause(s.pauseCnt, s.stepCounter) {
			for s.debugger.IsPause(s.pauseCnt, s.stepCounter) {
				time.Sleep(250 * time.Millisecond)
			}
			s.pauseCnt++
		}
		ran, err := s.Step()
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}

func (s *Scheduler) clearUnconnectedOutputs() {
	for _, agent := range s.agents {
		pi, ok := agent.(portIntrospectable)
		if !ok {
			continue
		}
		_, outs := pi.corePorts()
		for _, p := range outs {
			if p != nil {
				p.ReplaceUnconnectedOutputs(nil)
			}
		}
	}
}

// agentReceivers returns every Receiver agent can be fed through: its
// ordinary input *Port(s), plus (for agents like CollectorAgent whose real
// input is not a *Port) whatever ownedReceivers() reports.
func agentReceivers(agent Schedulable) []Receiver {
	var recvs []Receiver
	if pi, ok := agent.(portIntrospectable); ok {
		ins, _ := pi.corePorts()
		for _, in := range ins {
			if in != nil {
				recvs = append(recvs, in)
			}
		}
	}
	if ro, ok := agent.(receiverOwner); ok {
		recvs = append(recvs, ro.ownedReceivers()...)
	}
	return recvs
}

// receiverOwner is implemented by agents whose real input is not an
// ordinary *Port (e.g. CollectorAgent's CollectorPort), so Scheduler
// entry-agent detection and pipeline validation can still match edges
// targeting it.
type receiverOwner interface {
	ownedReceivers() []Receiver
}

// IsEntryAgent reports whether agent is a pipeline root: its input schema
// is the infinite-source sentinel, or no OUT port anywhere targets any of
// its receivers.
func (s *Scheduler) IsEntryAgent(agent Schedulable) bool {
	if infinite, ok := agent.(interface{ IsInfiniteSource() bool }); ok && infinite.IsInfiniteSource() {
		return true
	}
	recvs := agentReceivers(agent)
	if len(recvs) == 0 {
		return false
	}
	targeted := s.targetedReceivers()
	for _, r := range recvs {
		if !targeted[r] {
			return true
		}
	}
	return false
}

// targetedReceivers returns the set of every Receiver targeted by some
// registered agent's OUT edge.
func (s *Scheduler) targetedReceivers() map[Receiver]bool {
	targeted := make(map[Receiver]bool)
	for _, agent := range s.agents {
		pi, ok := agent.(portIntrospectable)
		if !ok {
			continue
		}
		_, outs := pi.corePorts()
		for _, out := range outs {
			if out == nil {
				continue
			}
			for _, edge := range out.Connections() {
				targeted[edge.Target] = true
			}
		}
	}
	return targeted
}

// ValidatePipeline computes the transitive closure of agents reachable
// from the entry agents and requires every reachable agent to already be
// registered with this scheduler.
func (s *Scheduler) ValidatePipeline() error {
	receiverOwnerIdx := make(map[Receiver]Schedulable)
	for _, agent := range s.agents {
		for _, r := range agentReceivers(agent) {
			receiverOwnerIdx[r] = agent
		}
	}

	registered := make(map[uuid.UUID]bool, len(s.agents))
	for _, agent := range s.agents {
		registered[agent.AgentUUID()] = true
	}

	visited := make(map[uuid.UUID]bool)
	var queue []Schedulable
	for _, agent := range s.agents {
		if s.IsEntryAgent(agent) {
			queue = append(queue, agent)
		}
	}

	for len(queue) > 0 {
		agent := queue[0]
		queue = queue[1:]
		if visited[agent.AgentUUID()] {
			continue
		}
		visited[agent.AgentUUID()] = true

		pi, ok := agent.(portIntrospectable)
		if !ok {
			continue
		}
		_, outs := pi.corePorts()
		for _, out := range outs {
			if out == nil {
				continue
			}
			for _, edge := range out.Connections() {
				downstream, ok := receiverOwnerIdx[edge.Target]
				if !ok {
					// The target belongs to no registered agent; name its
					// owner from the receiver itself.
					var owner uuid.UUID
					switch r := edge.Target.(type) {
					case *Port:
						owner = r.Owner
					case *CollectorPort:
						owner = r.owner
					default:
						continue
					}
					if !registered[owner] {
						return &ValidationError{UnreachableFrom: agent.AgentUUID(), MissingAgentUUID: owner}
					}
					continue
				}
				if !registered[downstream.AgentUUID()] {
					return &ValidationError{UnreachableFrom: agent.AgentUUID(), MissingAgentUUID: downstream.AgentUUID()}
				}
				if !visited[downstream.AgentUUID()] {
					queue = append(queue, downstream)
				}
			}
		}
	}
	return nil
}

// GetFinalOutputs returns every item sitting in every agent's unconnected
// outputs, keyed by agent uuid. Call only
// when the scheduler is quiescent.
func (s *Scheduler) GetFinalOutputs() map[uuid.UUID][]Envelope {
	out := make(map[uuid.UUID][]Envelope)
	for _, agent := range s.agents {
		pi, ok := agent.(portIntrospectable)
		if !ok {
			continue
		}
		_, outs := pi.corePorts()
		var items []Envelope
		for _, p := range outs {
			if p != nil {
				items = append(items, p.UnconnectedOutputs()...)
			}
		}
		if len(items) > 0 {
			out[agent.AgentUUID()] = items
		}
	}
	return out
}

// PopOneOutputForAgent drains exactly one item across agent's output
// ports, FIFO within each port in declaration order.
func (s *Scheduler) PopOneOutputForAgent(agent Schedulable) (Envelope, bool) {
	pi, ok := agent.(portIntrospectable)
	if !ok {
		return Envelope{}, false
	}
	_, outs := pi.corePorts()
	for _, p := range outs {
		if p == nil {
			continue
		}
		if env, ok := p.PopOneOutput(); ok {
			return env, true
		}
	}
	return Envelope{}, false
}

// SaveState lets a Scheduler be nested as an ordinary agent inside another
// Scheduler: the whole sub-tree's Snapshot is
// marshalled into this agent's State field rather than written through a
// SnapshotStore.
func (s *Scheduler) SaveState() (AgentSnapshot, error) {
	snap, err := s.buildSnapshot()
	if err != nil {
		return AgentSnapshot{}, err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return AgentSnapshot{}, &SnapshotError{PortKey: "scheduler_state", Cause: err}
	}
	return AgentSnapshot{IsActive: s.active, State: data, StateClass: "connectoragents.Scheduler"}, nil
}

// LoadState is the inverse of SaveState. The nested scheduler's own agents
// must already be registered with identical topology — the same
// precondition LoadSnapshot documents at top level.
func (s *Scheduler) LoadState(snap AgentSnapshot) error {
	s.active = snap.IsActive
	if len(snap.State) == 0 {
		return nil
	}
	var inner Snapshot
	if err := json.Unmarshal(snap.State, &inner); err != nil {
		return &SnapshotError{PortKey: "scheduler_state", Cause: err}
	}
	return s.restoreFromSnapshot(inner)
}

// SaveSnapshot builds and persists a full Snapshot via the configured
// SnapshotStore.
func (s *Scheduler) SaveSnapshot(dir string) error {
	return s.saveSnapshot(dir)
}

func (s *Scheduler) saveSnapshot(dir string) error {
	if s.store == nil {
		return fmt.Errorf("connectoragents: no SnapshotStore configured")
	}
	snap, err := s.buildSnapshot()
	if err != nil {
		return err
	}
	return s.store.Save(dir, snap)
}

func (s *Scheduler) buildSnapshot() (Snapshot, error) {
	snap := Snapshot{
		IsActive: s.active,
		SchedulerState: SchedulerRunState{
			AgentIdx:       s.agentIdx,
			StepCounter:    s.stepCounter,
			AllDoneCounter: s.allDoneCounter,
		},
		Agents: make(map[string]AgentSnapshot, len(s.agents)),
	}
	if s.globalState != nil {
		data, err := encodeGlobalState(s.globalState)
		if err != nil {
			return snap, err
		}
		snap.GlobalState = data
		if name, ok := SchemaName(s.globalState); ok {
			snap.GlobalStateClass = name
		}
	}
	for _, agent := range s.agents {
		as, err := agent.SaveState()
		if err != nil {
			s.logger.Warn("agent snapshot failed", "agent", agent.AgentUUID(), "error", err)
		}
		snap.Agents[agent.AgentUUID().String()] = as
	}
	return snap, nil
}

func encodeGlobalState(state any) ([]byte, error) {
	raw, err := EncodePayload(state)
	if err != nil {
		return nil, &SnapshotError{PortKey: "global_state", Cause: err}
	}
	return raw, nil
}

// LoadSnapshot restores scheduler cursor, global state, and every
// registered agent from store. The caller must have already rebuilt the
// identical agent topology and wiring and registered every agent with
// AddAgent before calling this; agents
// absent from the snapshot keep their fresh state.
func (s *Scheduler) LoadSnapshot(dir string) error {
	if s.store == nil {
		return fmt.Errorf("connectoragents: no SnapshotStore configured")
	}
	snap, err := s.store.Load(dir)
	if err != nil {
		return err
	}
	return s.restoreFromSnapshot(snap)
}

// restoreFromSnapshot applies an already-decoded Snapshot to this
// scheduler's cursor, global state, and every already-registered agent.
func (s *Scheduler) restoreFromSnapshot(snap Snapshot) error {
	s.active = snap.IsActive
	s.agentIdx = snap.SchedulerState.AgentIdx
	s.stepCounter = snap.SchedulerState.StepCounter
	s.allDoneCounter = snap.SchedulerState.AllDoneCounter

	if len(snap.GlobalState) > 0 {
		state, err := DecodePayload(snap.GlobalState)
		if err != nil {
			s.logger.Warn("global state restore failed", "error", err)
		} else {
			s.globalState = state
		}
	}

	for _, agent := range s.agents {
		as, ok := snap.Agents[agent.AgentUUID().String()]
		if !ok {
			continue
		}
		if err := agent.LoadState(as); err != nil {
			s.logger.Warn("agent restore failed", "agent", agent.AgentUUID(), "error", err)
		}
	}
	return nil
}

var _ Schedulable = (*Scheduler)(nil)
