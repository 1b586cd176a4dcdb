package controller

import "fmt"

type State string

const (
	StateUninitialized State = "uninitialized"
	StateDiscovering   State = "discovering"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

func (s State) String() string {
	return string(s)
}

func ValidateTransition(from, to State) error {
	validTransitions := map[State][]State{
		StateUninitialized: {StateDiscovering},
		StateDiscovering:   {StateReady, StateFailed},
		StateReady:         {StateDiscovering},
		StateFailed:        {StateDiscovering},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
