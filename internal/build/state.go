package build

// NodeState is a node's position in the install lifecycle.
type NodeState int

const (
	StatePending NodeState = iota
	StateLocked
	StateSkipped
	StateBuilding
	StateInstalled
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StatePending:   "pending",
	StateLocked:    "locked",
	StateSkipped:   "skipped",
	StateBuilding:  "building",
	StateInstalled: "installed",
	StateFailed:    "failed",
	StateCancelled: "cancelled",
}

func (s NodeState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition follows s.
func (s NodeState) Terminal() bool {
	switch s {
	case StateSkipped, StateInstalled, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Satisfied reports whether a dependent may build on a node in state s.
func (s NodeState) Satisfied() bool {
	return s == StateSkipped || s == StateInstalled
}
