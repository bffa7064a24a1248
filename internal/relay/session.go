package relay

import "time"

// State is the relay connection lifecycle. Failed is terminal: the only
// recovery is a process restart by whatever supervises the daemon.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is the single active identity/connection context. Exactly one
// exists per supervisor; mutated only under the supervisor's lock.
type Session struct {
	PublicKey string
	RelayURL  string
	Kinds     []int

	State          State
	Attempts       int
	NextTryAt      time.Time
	LastMessage    time.Time
	LastPing       time.Time
	SubscriptionID string
}

// StateChange is emitted on the notification channel once per actual
// transition.
type StateChange struct {
	State State
	At    time.Time
}
