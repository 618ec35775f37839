package servo

// State is the position of the scheduler in its cycle state machine.
//
//	Idle --Start--> CycleArmed --group on--> GroupFiring --pulses done--> CycleArmed
//	any --Stop--> Draining --last armed callback fired--> Idle
type State int

const (
	// Idle: not running and nothing armed.
	Idle State = iota
	// CycleArmed: running, the next cycle and group callbacks are armed.
	CycleArmed
	// GroupFiring: running, a group is being switched on or has pulses
	// waiting for their off callback.
	GroupFiring
	// Draining: stopped, callbacks armed before Stop are still pending.
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CycleArmed:
		return "cycle-armed"
	case GroupFiring:
		return "group-firing"
	case Draining:
		return "draining"
	}
	return "unknown"
}
