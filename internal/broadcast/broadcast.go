package broadcast

import (
	"github.com/rs/zerolog/log"

	"wevote/internal/events"
	"wevote/internal/metrics"
)

// Sink receives every action a room publishes.
type Sink interface {
	Broadcast(a events.Action)
}

// Broadcaster drains a room's bus into its sink until the bus is closed.
type Broadcaster struct {
	roomID string
	done   chan struct{}
}

func NewBroadcaster(roomID string, bus *events.Bus, sink Sink) *Broadcaster {
	b := &Broadcaster{
		roomID: roomID,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(b.done)
		for a := range bus.Actions {
			sink.Broadcast(a)
			metrics.Broadcasts.WithLabelValues(string(a)).Inc()
			log.Debug().Str("room_id", roomID).Str("action", string(a)).Msg("action broadcast")
		}
	}()
	return b
}

// Done is closed once the bus has been closed and drained.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}
