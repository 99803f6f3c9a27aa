package trigger

import "fmt"

// LatchState is the state of a Latch.
type LatchState int

const (
	// LatchIdle has never been requested.
	LatchIdle LatchState = iota
	// LatchRequested is waiting for its consumer.
	LatchRequested
	// LatchCompleted was consumed and may be requested again.
	LatchCompleted
)

// String returns the state's log name.
func (s LatchState) String() string {
	switch s {
	case LatchIdle:
		return "idle"
	case LatchRequested:
		return "requested"
	case LatchCompleted:
		return "completed"
	default:
		return fmt.Sprintf("latch_state(%d)", int(s))
	}
}

// Latch is a one-shot signal: a producer requests it and the consumer takes it once.
//
// Invariant: Take returns true at most once per Request.
// A Latch is owned by the host loop and is not safe for concurrent use.
type Latch struct {
	name        string
	state       LatchState
	activations int
}

// NewLatch creates an idle latch.
func NewLatch(name string) *Latch {
	return &Latch{name: name}
}

// Name returns the latch's name.
func (l *Latch) Name() string {
	return l.name
}

// Request arms the latch. Requesting an armed latch has no further effect.
func (l *Latch) Request() {
	l.state = LatchRequested
}

// Requested reports whether the latch is armed.
func (l *Latch) Requested() bool {
	return l.state == LatchRequested
}

// Take consumes the latch.
//
// Postcondition: returns true iff the latch was requested; the latch is then Completed.
func (l *Latch) Take() bool {
	if l.state != LatchRequested {
		return false
	}
	l.state = LatchCompleted
	l.activations++
	return true
}

// State returns the current state.
func (l *Latch) State() LatchState {
	return l.state
}

// Activations counts completed activations.
func (l *Latch) Activations() int {
	return l.activations
}

// Latch names exposed to operators.
const (
	LatchPlayerInit  = "db_pipeline_player_init"
	LatchClientState = "network_get_client_state_game"
)
