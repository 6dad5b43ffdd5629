package asiotest

import (
	"errors"
	"fmt"
)

// State is a step of the driver lifecycle, in strict forward order.
type State int

const (
	Uninitialized State = iota
	Initialized
	ChannelsKnown
	SampleRateEstablished
	BufferSizeKnown
	BuffersAllocated
	Started
	Stopped
	Released
)

// StateNames provides human-readable names for lifecycle states.
var StateNames = map[State]string{
	Uninitialized:         "Uninitialized",
	Initialized:           "Initialized",
	ChannelsKnown:         "ChannelsKnown",
	SampleRateEstablished: "SampleRateEstablished",
	BufferSizeKnown:       "BufferSizeKnown",
	BuffersAllocated:      "BuffersAllocated",
	Started:               "Started",
	Stopped:               "Stopped",
	Released:              "Released",
}

func (s State) String() string {
	if name, ok := StateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// Policy tells what a failed driver call means for the run.
type Policy int

const (
	// Mandatory failures abort the run.
	Mandatory Policy = iota
	// Advisory failures are recorded and the run continues.
	Advisory
	// Informational results are only logged.
	Informational
)

func (p Policy) String() string {
	switch p {
	case Mandatory:
		return "mandatory"
	case Advisory:
		return "advisory"
	case Informational:
		return "informational"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Transition is one edge of the lifecycle, made by one driver call.
type Transition struct {
	Name   string
	From   State
	To     State
	Policy Policy
}

var transitions = []Transition{
	{"Init", Uninitialized, Initialized, Mandatory},
	{"GetChannels", Initialized, ChannelsKnown, Mandatory},
	{"SetSampleRate", ChannelsKnown, SampleRateEstablished, Mandatory},
	{"GetBufferSize", SampleRateEstablished, BufferSizeKnown, Mandatory},
	{"CreateBuffers", BufferSizeKnown, BuffersAllocated, Mandatory},
	{"Start", BuffersAllocated, Started, Mandatory},
	{"Stop", Started, Stopped, Mandatory},
	{"DisposeBuffers", Stopped, Released, Advisory},
}

// Calls made outside the transition table and how their failures are treated.
var callPolicies = map[string]Policy{
	"CanSampleRate":     Informational,
	"OutputReady":       Advisory,
	"GetChannelInfo":    Informational,
	"GetLatencies":      Informational,
	"GetSamplePosition": Informational,
	"GetSampleRate":     Informational,
}

// ErrInvalidTransition is returned when a transition does not start at the current state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Transitions returns the lifecycle transition table in order.
func Transitions() []Transition {
	t := make([]Transition, len(transitions))
	copy(t, transitions)

	return t
}

// CallPolicy returns the failure policy of a driver call by name.
func CallPolicy(call string) Policy {
	if p, ok := callPolicies[call]; ok {
		return p
	}

	for _, t := range transitions {
		if t.Name == call {
			return t.Policy
		}
	}

	return Mandatory
}

// Predecessor returns the only state s can be reached from.
func Predecessor(s State) (State, bool) {
	for _, t := range transitions {
		if t.To == s {
			return t.From, true
		}
	}

	return 0, false
}

// Machine tracks the lifecycle state of one run.
type Machine struct {
	state State
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Check returns the named transition if it can be taken from the current state.
func (m *Machine) Check(name string) (Transition, error) {
	for _, t := range transitions {
		if t.Name != name {
			continue
		}

		if t.From != m.state {
			return t, fmt.Errorf("%w: %s from %s, expected %s", ErrInvalidTransition, name, m.state, t.From)
		}

		return t, nil
	}

	return Transition{}, fmt.Errorf("%w: unknown transition %s", ErrInvalidTransition, name)
}

// Advance moves to the state reached by the named transition.
func (m *Machine) Advance(name string) error {
	t, err := m.Check(name)
	if err != nil {
		return err
	}

	m.state = t.To

	return nil
}
