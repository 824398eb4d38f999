package retry

import (
	"fmt"
	"time"
)

// State is a unit's position in the attempt state machine:
//
//	pending -> running -> completed
//	                   -> retrying -> running
//	                   -> failed
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var allowed = map[State][]State{
	StatePending:  {StateRunning, StateFailed},
	StateRunning:  {StateCompleted, StateRetrying, StateFailed},
	StateRetrying: {StateRunning, StateFailed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Attempt int       `json:"attempt"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// machine tracks one unit's state. It is owned by a single goroutine.
type machine struct {
	state   State
	history []Transition
	now     func() time.Time
}

func newMachine(now func() time.Time) *machine {
	return &machine{state: StatePending, now: now}
}

func (m *machine) to(next State, attempt int, reason string) {
	if !CanTransition(m.state, next) {
		panic(fmt.Sprintf("retry: illegal transition %s -> %s", m.state, next))
	}
	m.history = append(m.history, Transition{From: m.state, To: next, Attempt: attempt, Reason: reason, At: m.now()})
	m.state = next
}
