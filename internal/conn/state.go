package conn

// State is the lifecycle state of the managed connection.
type State int

const (
	// Closed means no handle is open or connecting. It is the zero value.
	Closed State = iota
	// Connecting means a handle exists and has not reported open yet.
	Connecting
	// Open means the current handle is connected.
	Open
	// Closing means the manager closed its handle and is waiting for the
	// transport to confirm.
	Closing
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}
