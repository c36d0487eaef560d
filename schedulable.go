package connectoragents

// Schedulable is the contract shared by Agent and Scheduler, letting a
// Scheduler nest inside another Scheduler and be driven as an ordinary
// agent — composition is the primary extension mechanism, grounded on
// original_source/AgentFramework/core/Schedulable.py's
// {uuid, is_active, step()->bool, save_state()->dict, load_state(dict)}
// Protocol.
type Schedulable interface {
	Identifiable
	IsActive() bool
	SetActive(bool)
	Step() (bool, error)
	SaveState() (AgentSnapshot, error)
	LoadState(AgentSnapshot) error
}
