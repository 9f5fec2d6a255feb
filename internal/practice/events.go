package practice

import (
	"time"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/domain"
)

type EventKind string

const (
	EventOpponentMoved     EventKind = "opponent_moved"
	EventMoveRecorded      EventKind = "move_recorded"
	EventMoveRejected      EventKind = "move_rejected"
	EventPersistenceFailed EventKind = "persistence_failed"
	EventSessionComplete   EventKind = "session_complete"
)

type Event struct {
	Kind      EventKind
	SessionID string
	State     State
	At        time.Time

	Move     *domain.PracticeMove
	Opponent *corechess.Applied
	Input    string
	Reason   domain.CompletionReason
	Stats    *domain.PracticeStats
	Err      error
}

// Observer receives engine events. It must not block.
type Observer func(Event)

// Observers fans one event out to several observers.
func Observers(list ...Observer) Observer {
	out := make([]Observer, 0, len(list))
	for _, o := range list {
		if o != nil {
			out = append(out, o)
		}
	}
	return func(ev Event) {
		for _, o := range out {
			o(ev)
		}
	}
}
