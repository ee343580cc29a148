package trip

import "fmt"

// State represents the current state of a trip in its lifecycle.
type State string

const (
	StateRequested            State = "requested"
	StateDenied               State = "denied"
	StateAccepted             State = "accepted"
	StateDriverArrived        State = "driver_arrived"
	StateInProgress           State = "in_progress"
	StateArrivedAtDestination State = "arrived_at_destination"
	StateCompleted            State = "completed"
)

// Event is a lifecycle event applied to a trip. Transitions are driven by
// events rather than target states because the same event may be delivered
// more than once by the location and transport layers.
type Event string

const (
	EventMatchFound               Event = "match_found"
	EventMatchTimeout             Event = "match_timeout"
	EventNoDriverAvailable        Event = "no_driver_available"
	EventDriverEnteredPickup      Event = "driver_entered_pickup_region"
	EventDriverConfirmsPickup     Event = "driver_confirms_pickup"
	EventDriverEnteredDestination Event = "driver_entered_destination_region"
	EventDriverConfirmsDropoff    Event = "driver_confirms_dropoff"
	EventPassengerCancels         Event = "passenger_cancels"
	EventDriverCancels            Event = "driver_cancels"
)

// transitions defines the state machine: for each event, the states it may
// fire from and the state it leads to. Any (state, event) pair not listed is
// rejected.
var transitions = map[Event]struct {
	from []State
	to   State
}{
	EventMatchFound:               {from: []State{StateRequested}, to: StateAccepted},
	EventMatchTimeout:             {from: []State{StateRequested}, to: StateDenied},
	EventNoDriverAvailable:        {from: []State{StateRequested}, to: StateDenied},
	EventDriverEnteredPickup:      {from: []State{StateAccepted}, to: StateDriverArrived},
	EventDriverConfirmsPickup:     {from: []State{StateDriverArrived}, to: StateInProgress},
	EventDriverEnteredDestination: {from: []State{StateInProgress}, to: StateArrivedAtDestination},
	EventDriverConfirmsDropoff:    {from: []State{StateArrivedAtDestination}, to: StateCompleted},
	EventPassengerCancels:         {from: []State{StateAccepted, StateDriverArrived, StateInProgress}, to: StateDenied},
	EventDriverCancels:            {from: []State{StateAccepted, StateDriverArrived, StateInProgress}, to: StateDenied},
}

var validStates = map[State]bool{
	StateRequested:            true,
	StateDenied:               true,
	StateAccepted:             true,
	StateDriverArrived:        true,
	StateInProgress:           true,
	StateArrivedAtDestination: true,
	StateCompleted:            true,
}

// IsValid returns true if the state is a recognized trip state.
func (s State) IsValid() bool {
	return validStates[s]
}

// IsTerminal returns true if no further transitions are possible from this state.
func (s State) IsTerminal() bool {
	return s == StateDenied || s == StateCompleted
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// ParseState converts a string to a State, returning an error if invalid.
func ParseState(s string) (State, error) {
	state := State(s)
	if !state.IsValid() {
		return "", fmt.Errorf("invalid trip state: %s", s)
	}
	return state, nil
}

// Target returns the state this event leads to, and whether the event is known.
func (e Event) Target() (State, bool) {
	t, ok := transitions[e]
	if !ok {
		return "", false
	}
	return t.to, true
}

// allowedFrom reports whether the event may fire from the given state.
func (e Event) allowedFrom(s State) bool {
	t, ok := transitions[e]
	if !ok {
		return false
	}
	for _, from := range t.from {
		if from == s {
			return true
		}
	}
	return false
}
