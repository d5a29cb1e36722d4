package tlsforward

import (
	"encoding/json"
	"testing"
)

func TestStatusJSONTagged(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   string
	}{
		{"disabled", Disabled(), `{"state":"disabled"}`},
		{"disconnected", Disconnected(), `{"state":"disconnected"}`},
		{"connecting", Connecting(), `{"state":"connecting"}`},
		{"connected", Connected("abc.private.example.org"), `{"state":"connected","domain":"abc.private.example.org"}`},
		{"error", Failed("handshake refused"), `{"state":"error","message":"handshake refused"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.status)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Fatalf("marshal = %s, want %s", data, tt.want)
			}

			var back Status
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back != tt.status {
				t.Fatalf("round trip = %+v, want %+v", back, tt.status)
			}
		})
	}
}

func TestStatusJSONRejectsUnknownState(t *testing.T) {
	var s Status
	if err := json.Unmarshal([]byte(`{"state":"warp"}`), &s); err == nil {
		t.Fatal("unknown state should fail to decode")
	}
}

func TestStatusJSONOmitsForeignFields(t *testing.T) {
	// A status carrying stale payload fields must not leak them for states
	// that do not own them.
	s := Status{State: StateConnecting, Domain: "stale", Message: "stale"}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"state":"connecting"}` {
		t.Fatalf("marshal = %s", data)
	}
}

func TestTransitionEdges(t *testing.T) {
	tests := []struct {
		from, to State
		legal    bool
	}{
		{StateDisabled, StateDisconnected, true},
		{StateDisabled, StateConnecting, false},
		{StateDisabled, StateConnected, false},
		{StateDisabled, StateError, false},
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateDisconnected, StateError, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateError, true},
		{StateConnecting, StateDisconnected, false},
		{StateConnected, StateConnecting, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateError, false},
		{StateError, StateConnecting, true},
		{StateError, StateDisconnected, true},
		{StateError, StateConnected, false},
		// Disablement is reachable from every other state.
		{StateDisconnected, StateDisabled, true},
		{StateConnecting, StateDisabled, true},
		{StateConnected, StateDisabled, true},
		{StateError, StateDisabled, true},
		{StateDisabled, StateDisabled, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.legal {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.legal)
		}
	}
}
