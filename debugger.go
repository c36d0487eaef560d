package connectoragents

// Debugger is the uniform observer hook invoked by ports, agents, and the
// scheduler. Every method is no-op by default (see NoopDebugger);
// implementations must not mutate messages or agent state, and must not
// block inside any method other than IsPause — blocking elsewhere blocks
// the whole scheduler, which is intentional.
//
// Concrete transports (console, TCP, file) are explicitly outside the
// core's scope — only this contract is specified here.
// The observer package ships one concrete implementation backed by
// OpenTelemetry.
type Debugger interface {
	// InitDebugger starts the debugger (e.g. a TCP listener) and may block
	// up to timeout seconds waiting for a client to attach.
	InitDebugger(timeoutSeconds int)
	// ExitDebugger releases any resources acquired by InitDebugger.
	ExitDebugger()

	// NoInput is called when an agent is stepped but its queue was empty.
	NoInput(agent Identifiable)
	// Input brackets a call to run on the input side.
	Input(agent Identifiable, msg any, parents []Provenance)
	// Output brackets a call to run on the output side.
	Output(agent Identifiable, msg any, parents []Provenance)
	// Transmission fires once per delivered copy during Port.Send.
	Transmission(src, tgt Identifiable, msg any, parents []Provenance)

	// StartAgent fires just before an agent's step begins executing.
	StartAgent(agent Identifiable, stepCount int)
	// FinishedAgent fires after an agent's step completes or idles.
	FinishedAgent(agent Identifiable, stepCount int, didRun bool)
	// ErrorAgent fires when an agent's step raised.
	ErrorAgent(agent Identifiable, stepCount int, err error)

	// IsPause is polled between scheduler iterations; returning true makes
	// step_all sleep in short increments until it returns false again. This
	// is the only legitimate cooperative-pause point in the system.
	IsPause(pauseCount, stepCounter int) bool

	// UserMessage is a free-form annotation channel for user-facing events.
	UserMessage(name string, agent Identifiable, data any)
}

// NoopDebugger implements Debugger with no-op methods, matching the
// "no-op by default" contract every hook is expected to honour. It is the
// zero-value default used whenever a Scheduler or Agent is constructed
// without an explicit debugger.
type NoopDebugger struct{}

func (NoopDebugger) InitDebugger(int)                                   {}
func (NoopDebugger) ExitDebugger()                                      {}
func (NoopDebugger) NoInput(Identifiable)                               {}
func (NoopDebugger) Input(Identifiable, any, []Provenance)              {}
func (NoopDebugger) Output(Identifiable, any, []Provenance)             {}
func (NoopDebugger) Transmission(Identifiable, Identifiable, any, []Provenance) {}
func (NoopDebugger) StartAgent(Identifiable, int)                       {}
func (NoopDebugger) FinishedAgent(Identifiable, int, bool)              {}
func (NoopDebugger) ErrorAgent(Identifiable, int, error)                {}
func (NoopDebugger) IsPause(int, int) bool                              { return false }
func (NoopDebugger) UserMessage(string, Identifiable, any)              {}

var _ Debugger = NoopDebugger{}
