package tlsforward

import (
	"encoding/json"
	"fmt"
)

// State identifies a phase of the tunnel lifecycle.
type State string

const (
	StateDisabled     State = "disabled"
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Status is the supervisor's externally visible state machine value.
// Domain is set only for StateConnected, Message only for StateError.
type Status struct {
	State   State
	Domain  string
	Message string
}

// Disabled returns the status of a node with the tunnel feature off.
func Disabled() Status { return Status{State: StateDisabled} }

// Disconnected returns the status of an enabled but not yet dialing tunnel.
func Disconnected() Status { return Status{State: StateDisconnected} }

// Connecting returns the status while a handshake or renewal is in flight.
func Connecting() Status { return Status{State: StateConnecting} }

// Connected returns the status of a live tunnel serving the given domain.
func Connected(domain string) Status {
	return Status{State: StateConnected, Domain: domain}
}

// Failed returns the error status with a human readable message.
func Failed(message string) Status {
	return Status{State: StateError, Message: message}
}

func (s Status) String() string {
	switch s.State {
	case StateConnected:
		return fmt.Sprintf("connected(%s)", s.Domain)
	case StateError:
		return fmt.Sprintf("error(%s)", s.Message)
	default:
		return string(s.State)
	}
}

type statusJSON struct {
	State   State  `json:"state"`
	Domain  string `json:"domain,omitempty"`
	Message string `json:"message,omitempty"`
}

// MarshalJSON renders the status as a tagged object. Only the field that
// belongs to the state is emitted.
func (s Status) MarshalJSON() ([]byte, error) {
	out := statusJSON{State: s.State}
	switch s.State {
	case StateConnected:
		out.Domain = s.Domain
	case StateError:
		out.Message = s.Message
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the tagged form produced by MarshalJSON.
func (s *Status) UnmarshalJSON(data []byte) error {
	var in statusJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("tlsforward: decode status: %w", err)
	}
	switch in.State {
	case StateDisabled, StateDisconnected, StateConnecting:
		*s = Status{State: in.State}
	case StateConnected:
		*s = Status{State: StateConnected, Domain: in.Domain}
	case StateError:
		*s = Status{State: StateError, Message: in.Message}
	default:
		return fmt.Errorf("tlsforward: unknown state %q", in.State)
	}
	return nil
}

// legalEdges enumerates the allowed transitions of the state machine.
// StateDisabled is additionally reachable from every state via explicit
// disablement, handled in canTransition.
var legalEdges = map[State][]State{
	StateDisabled:     {StateDisconnected},
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateError},
	StateConnected:    {StateConnecting, StateDisconnected},
	StateError:        {StateConnecting, StateDisconnected},
}

// canTransition reports whether moving from one state to another follows a
// declared edge. Self transitions are not edges; callers collapse them.
func canTransition(from, to State) bool {
	if to == StateDisabled {
		return from != StateDisabled
	}
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}
