package state

import "testing"

func TestCanTransitionTable(t *testing.T) {
	legal := map[State][]State{
		Creating:     {Initializing, Error, Destroyed},
		Initializing: {Ready, Error, Destroyed},
		Ready:        {Executing, Destroyed},
		Executing:    {Idle, Error, Destroyed},
		Idle:         {Ready, Suspended, Destroyed},
		Suspended:    {Initializing, Destroyed},
		Error:        {Creating, Destroyed},
	}

	all := []State{Creating, Initializing, Ready, Executing, Idle, Suspended, Error, Destroyed}

	for from, tos := range legal {
		wanted := map[State]bool{}
		for _, to := range tos {
			wanted[to] = true
		}
		for _, to := range all {
			got := CanTransition(from, to)
			if got != wanted[to] {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, wanted[to])
			}
		}
	}

	for _, to := range all {
		if CanTransition(Destroyed, to) {
			t.Errorf("Destroyed must have no legal outbound transitions, got one to %s", to)
		}
	}
}

func TestTransitionReturnsNewState(t *testing.T) {
	got, err := Transition(Ready, Executing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Executing {
		t.Fatalf("got %s, want %s", got, Executing)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	_, err := Transition(Ready, Idle)
	if err == nil {
		t.Fatal("expected InvalidTransitionError, got nil")
	}
	var ite *InvalidTransitionError
	if _, ok := err.(*InvalidTransitionError); !ok {
		t.Fatalf("got %T, want *InvalidTransitionError", err)
	}
	_ = ite
}

func TestErrorSinkOnlyExitsToCreatingOrDestroyed(t *testing.T) {
	for _, to := range []State{Creating, Destroyed} {
		if !CanTransition(Error, to) {
			t.Errorf("Error -> %s should be legal", to)
		}
	}
	for _, to := range []State{Initializing, Ready, Executing, Idle, Suspended} {
		if CanTransition(Error, to) {
			t.Errorf("Error -> %s should be illegal", to)
		}
	}
}

func TestSuspendedOnlyExitsToInitializingOrDestroyed(t *testing.T) {
	for _, to := range []State{Initializing, Destroyed} {
		if !CanTransition(Suspended, to) {
			t.Errorf("Suspended -> %s should be legal", to)
		}
	}
	for _, to := range []State{Creating, Ready, Executing, Idle, Error} {
		if CanTransition(Suspended, to) {
			t.Errorf("Suspended -> %s should be illegal", to)
		}
	}
}
