// Package state is the single source of truth for sandbox lifecycle
// transitions (C2). Nothing outside this package may encode adjacency rules
// between states; everything else calls Transition or CanTransition.
package state

import "fmt"

// State is one of the eight lifecycle states a tracked sandbox moves
// through.
type State int

const (
	Creating State = iota
	Initializing
	Ready
	Executing
	Idle
	Suspended
	Error
	Destroyed
)

func (s State) String() string {
	switch s {
	case Creating:
		return "creating"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Executing:
		return "executing"
	case Idle:
		return "idle"
	case Suspended:
		return "suspended"
	case Error:
		return "error"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// table is the single source of truth for the legal (from, to) pairs. Direct
// writes to Destroyed (teardown paths) bypass this table deliberately; see
// Transition's doc comment.
var table = map[State]map[State]bool{
	Creating:     {Initializing: true, Error: true, Destroyed: true},
	Initializing: {Ready: true, Error: true, Destroyed: true},
	Ready:        {Executing: true, Destroyed: true},
	Executing:    {Idle: true, Error: true, Destroyed: true},
	Idle:         {Ready: true, Suspended: true, Destroyed: true},
	Suspended:    {Initializing: true, Destroyed: true},
	Error:        {Creating: true, Destroyed: true},
	Destroyed:    {},
}

// InvalidTransitionError reports an illegal (from, to) pair, a programmer
// error per spec.md §7. The manager does check for it: its resume and
// ready-queue paths skip a candidate whose transition fails, its create
// path treats it as a failed attempt, and Release returns it to the caller.
type InvalidTransitionError struct {
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// CanTransition reports whether moving from `from` to `to` is legal
// according to the table in spec.md §3.
func CanTransition(from, to State) bool {
	return table[from][to]
}

// Transition returns `to` if the move is legal, or an *InvalidTransitionError
// otherwise. Teardown paths that must always succeed assign State(Destroyed)
// directly instead of calling this function — see manager.destroy.
func Transition(from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, &InvalidTransitionError{From: from, To: to}
	}
	return to, nil
}
