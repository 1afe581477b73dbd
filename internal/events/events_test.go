package events

import (
	"errors"
	"testing"
	"time"
)

func TestNewBus(t *testing.T) {
	bus := NewBus()
	if bus == nil {
		t.Fatal("NewBus() returned nil")
	}
	if bus.Actions == nil {
		t.Fatal("Actions channel is nil")
	}
}

func TestBus_SendReceive(t *testing.T) {
	bus := NewBus()

	go func() {
		bus.Actions <- ActionGotoResult
	}()

	select {
	case received := <-bus.Actions:
		if received != ActionGotoResult {
			t.Errorf("received = %q, want %q", received, ActionGotoResult)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for action")
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(ActionRefresh)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"action":"refresh"}` {
		t.Errorf("Encode() = %s, want %s", data, `{"action":"refresh"}`)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Action
		unknown bool
		wantErr bool
	}{
		{name: "refresh", in: `{"action":"refresh"}`, want: ActionRefresh},
		{name: "goto result", in: `{"action":"goto_result"}`, want: ActionGotoResult},
		{name: "goto vote with extra fields", in: `{"action":"goto_vote","by":"host"}`, want: ActionGotoVote},
		{name: "unknown action", in: `{"action":"explode"}`, unknown: true, wantErr: true},
		{name: "missing action", in: `{}`, unknown: true, wantErr: true},
		{name: "not json", in: `refresh`, wantErr: true},
		{name: "wrong type", in: `{"action":5}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if errors.Is(err, ErrUnknownAction) != tt.unknown {
				t.Errorf("Decode(%s) unknown = %v, want %v", tt.in, errors.Is(err, ErrUnknownAction), tt.unknown)
			}
			if got != tt.want {
				t.Errorf("Decode(%s) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
