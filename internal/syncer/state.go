package syncer

// State is the sync engine's connection lifecycle.
type State int

const (
	// Disconnected: not running, or stopped.
	Disconnected State = iota
	// Connecting: handshake in progress or awaiting retry backoff.
	Connecting
	// Syncing: a push/pull round is in flight.
	Syncing
	// Idle: caught up, parked until a commit or poll tick.
	Idle
	// Errored: terminal failure (authentication, protocol mismatch).
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Syncing:
		return "syncing"
	case Idle:
		return "idle"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}
