package session

import "fmt"

// State is the connection state of one camera session.
type State uint8

const (
	Disconnected State = iota
	Connecting
	AwaitingMedia
	Connected
	Failed

	numStates
)

var stateNames = [...]string{
	Disconnected:  "Disconnected",
	Connecting:    "Connecting",
	AwaitingMedia: "AwaitingMedia",
	Connected:     "Connected",
	Failed:        "Failed",
}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := State(0); st < numStates; st++ {
		if stateNames[st] == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// States lists every state in declaration order.
func States() []State {
	out := make([]State, 0, numStates)
	for s := State(0); s < numStates; s++ {
		out = append(out, s)
	}
	return out
}

var transitions = map[State][]State{
	Disconnected:  {Connecting},
	Connecting:    {AwaitingMedia, Failed},
	AwaitingMedia: {Connected, Failed},
	Connected:     {AwaitingMedia},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Removable reports whether a disconnect request is accepted in s.
func (s State) Removable() bool {
	return s == AwaitingMedia || s == Connected || s == Failed
}

// Presentation is how a state is shown to the operator.
type Presentation struct {
	Label    string `json:"label"`
	Color    string `json:"color"`
	Icon     string `json:"icon"`
	Guidance string `json:"guidance,omitempty"`
}

var presentations = [...]Presentation{
	Disconnected:  {Label: "Disconnected", Color: "gray", Icon: "camera"},
	Connecting:    {Label: "Connecting...", Color: "blue", Icon: "loader"},
	AwaitingMedia: {Label: "Starting video", Color: "green", Icon: "loader"},
	Connected:     {Label: "Connected", Color: "green", Icon: "wifi"},
	Failed: {
		Label:    "Connection failed",
		Color:    "red",
		Icon:     "wifi-off",
		Guidance: "Connection failed. Check the IP address and credentials.",
	},
}

// compile-time check: one presentation per state
var _ = [1]struct{}{}[int(numStates)-len(presentations)]

// Present returns the presentation of s.
func (s State) Present() Presentation {
	if s < numStates {
		return presentations[s]
	}
	return presentations[Disconnected]
}
