package assetcache

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a lifecycle step is not allowed from
// the current state, e.g. activating a cache that was never installed.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// State is a step in the install/activate lifecycle of one cache identifier.
type State int

const (
	StateUninstalled State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRetired:
		return "retired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets State render by name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Serving reports whether the state is only reachable with a committed
// cache. Manager.Serving also covers a re-install in flight.
func (s State) Serving() bool {
	return s == StateInstalled || s == StateActivating || s == StateActive
}

// Installing may roll back to whichever state it was entered from.
var transitions = map[State][]State{
	StateUninstalled: {StateInstalling},
	StateInstalling:  {StateInstalled, StateUninstalled, StateActive, StateRetired},
	StateInstalled:   {StateActivating, StateInstalling, StateRetired},
	StateActivating:  {StateActive, StateInstalled},
	StateActive:      {StateInstalling, StateRetired},
	StateRetired:     {StateInstalling},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
