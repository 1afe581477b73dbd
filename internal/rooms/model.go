package rooms

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"wevote/internal/broadcast"
	"wevote/internal/events"
	"wevote/internal/metrics"
	"wevote/internal/players"
	"wevote/internal/wshub"
)

type Phase string

const (
	PhaseVoting = Phase("voting")
	PhaseLocked = Phase("locked")
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrInvalidName    = errors.New("name must not be empty")
	ErrNameTaken      = players.ErrNameTaken
	ErrPlayerNotFound = players.ErrNotFound
	ErrLocked         = errors.New("voting is locked")
	ErrNotHost        = errors.New("only the host can lock voting")
)

type Room struct {
	Code        string
	Host        string
	Players     *players.Store
	Hub         *wshub.Hub
	Broadcaster *broadcast.Broadcaster
	CreatedAt   time.Time

	// mu serializes mutations with their broadcast so subscribers see actions
	// in the order the room changed.
	mu     sync.Mutex
	phase  Phase
	bus    *events.Bus
	closed bool
}

// Snapshot is the aggregate result of a room at one instant.
type Snapshot struct {
	Code    string
	Host    string
	Phase   Phase
	Players []players.Player
	Average *float64
}

func (s Snapshot) Locked() bool {
	return s.Phase == PhaseLocked
}

func newRoom(code, host string, now time.Time) *Room {
	bus := events.NewBus()
	hub := wshub.NewHub()
	ps := players.NewStore()
	// The store is empty, Add cannot fail.
	_, _ = ps.Add(host, true)
	return &Room{
		Code:        code,
		Host:        host,
		Players:     ps,
		Hub:         hub,
		Broadcaster: broadcast.NewBroadcaster(code, bus, hub),
		CreatedAt:   now,
		phase:       PhaseVoting,
		bus:         bus,
	}
}

func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Room) Join(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.Players.Add(name, false); err != nil {
		return err
	}
	r.publishLocked(events.ActionRefresh)
	return nil
}

// Vote records score for name, or clears the vote when score is nil.
func (r *Room) Vote(name string, score *float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseLocked {
		return ErrLocked
	}
	if err := r.Players.SetScore(name, score); err != nil {
		return err
	}
	kind := "set"
	if score == nil {
		kind = "clear"
	}
	metrics.Votes.WithLabelValues(kind).Inc()
	r.publishLocked(events.ActionRefresh)
	return nil
}

// Lock freezes votes and tells every participant to show the result.
func (r *Room) Lock(name string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name != r.Host {
		return Snapshot{}, ErrNotHost
	}
	r.phase = PhaseLocked
	r.publishLocked(events.ActionGotoResult)
	return r.snapshotLocked(), nil
}

// Restart clears all votes and sends everyone back to voting.
func (r *Room) Restart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Players.ClearScores()
	r.phase = PhaseVoting
	r.publishLocked(events.ActionGotoVote)
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() Snapshot {
	list := r.Players.GetList()
	return Snapshot{
		Code:    r.Code,
		Host:    r.Host,
		Phase:   r.phase,
		Players: list,
		Average: Average(list),
	}
}

func (r *Room) publishLocked(a events.Action) {
	if r.closed {
		return
	}
	r.bus.Actions <- a
}

func (r *Room) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.bus.Actions)
	r.Hub.Close()
}

// Average is the mean of all recorded votes rounded to two decimals, or nil
// when nobody has voted.
func Average(list []players.Player) *float64 {
	sum := decimal.Zero
	n := 0
	for _, p := range list {
		if p.Score == nil {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(*p.Score))
		n++
	}
	if n == 0 {
		return nil
	}
	avg, _ := sum.Div(decimal.NewFromInt(int64(n))).Round(2).Float64()
	return &avg
}
