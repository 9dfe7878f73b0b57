package session

// State represents where a generation session is in its lifecycle
type State string

const (
	// StateIdle indicates the session has not started
	StateIdle State = "idle"

	// StateRequested indicates the provider is being prepared
	StateRequested State = "requested"

	// StateStreaming indicates tokens are arriving
	StateStreaming State = "streaming"

	// StateCompleted indicates the stream finished normally
	StateCompleted State = "completed"

	// StateFailed indicates the stream ended with an error
	StateFailed State = "failed"

	// StateCancelled indicates the user stopped the stream
	StateCancelled State = "cancelled"
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// Terminal reports whether the session has finished.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}
