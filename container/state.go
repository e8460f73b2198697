package container

// State is the lifecycle position of a Server. Transitions only move forward:
// Unconfigured, Configured, Running, Stopped.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
