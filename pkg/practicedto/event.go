package practicedto

import "time"

// Event is the JSON frame pushed to feed subscribers.
type Event struct {
	Kind      string        `json:"kind"`
	SessionID string        `json:"session_id,omitempty"`
	State     string        `json:"state,omitempty"`
	At        time.Time     `json:"at"`
	Input     string        `json:"input,omitempty"`
	Move      *MoveRecord   `json:"move,omitempty"`
	Opponent  *OpponentMove `json:"opponent,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Stats     *Stats        `json:"stats,omitempty"`
	Error     string        `json:"error,omitempty"`
}

const EventHello = "hello"
