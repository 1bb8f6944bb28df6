package domain

// SessionState is the connection lifecycle of a streaming session.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateConnecting
	StateActive
	StateTerminating
	StateTerminated
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Final reports whether no further transition can happen within the
// current connection.
func (s SessionState) Final() bool {
	return s == StateTerminated || s == StateFailed
}

// CanStart reports whether a new connection may be started from s.
func (s SessionState) CanStart() bool {
	return s == StateIdle || s.Final()
}
