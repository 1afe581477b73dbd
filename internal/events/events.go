package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action is the discriminant carried by every push channel message.
type Action string

const (
	ActionRefresh    = Action("refresh")
	ActionGotoResult = Action("goto_result")
	ActionGotoVote   = Action("goto_vote")
)

var ErrUnknownAction = errors.New("unknown action")

// Message is the JSON frame sent over the push channel.
type Message struct {
	Action Action `json:"action"`
}

func (a Action) Known() bool {
	switch a {
	case ActionRefresh, ActionGotoResult, ActionGotoVote:
		return true
	}
	return false
}

func Encode(a Action) ([]byte, error) {
	return json.Marshal(Message{Action: a})
}

// Decode parses a push frame. Frames with an unrecognized action return
// ErrUnknownAction; anything that is not a JSON object returns a decode error.
func Decode(data []byte) (Action, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("decoding push message: %w", err)
	}
	if !msg.Action.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}
	return msg.Action, nil
}

// Bus carries the actions a room publishes to its broadcaster.
type Bus struct {
	Actions chan Action
}

func NewBus() *Bus {
	return &Bus{
		Actions: make(chan Action, 64),
	}
}
