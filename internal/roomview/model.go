// Package roomview holds a participant's projection of a room: the last
// authoritative snapshot plus the participant's own optimistic selection.
package roomview

import "sync"

type Phase string

const (
	PhaseConnecting = Phase("connecting")
	PhaseVoting     = Phase("voting")
	PhaseLocked     = Phase("locked")
)

type Connectivity string

const (
	Connecting   = Connectivity("connecting")
	Open         = Connectivity("open")
	Reconnecting = Connectivity("reconnecting")
	Closed       = Connectivity("closed")
)

// Entry is one roster line. Score is nil when the participant has not voted.
type Entry struct {
	Name  string
	Score *float64
}

func (e Entry) Voted() bool {
	return e.Score != nil
}

// View is a self-consistent read of the model.
type View struct {
	Roster       []Entry
	Locked       bool
	Average      *float64
	Selection    *float64
	Unconfirmed  bool
	Phase        Phase
	Connectivity Connectivity
}

type Model struct {
	mu      sync.RWMutex
	view    View
	changes chan struct{}
}

func New() *Model {
	return &Model{
		view: View{
			Phase:        PhaseConnecting,
			Connectivity: Connecting,
		},
		changes: make(chan struct{}, 1),
	}
}

// ApplySnapshot replaces roster, lock flag and average in one step.
func (m *Model) ApplySnapshot(roster []Entry, locked bool, average *float64) {
	m.mu.Lock()
	m.view.Roster = copyRoster(roster)
	m.view.Locked = locked
	m.view.Average = copyScore(average)
	m.mu.Unlock()
	m.notify()
}

func (m *Model) SetLocalSelection(score *float64) {
	m.mu.Lock()
	m.view.Selection = copyScore(score)
	m.view.Unconfirmed = false
	m.mu.Unlock()
	m.notify()
}

// MarkSelectionFailed flags the local selection as not acknowledged by the
// server. The selection itself is left in place.
func (m *Model) MarkSelectionFailed() {
	m.mu.Lock()
	m.view.Unconfirmed = true
	m.mu.Unlock()
	m.notify()
}

func (m *Model) SetPhase(p Phase) {
	m.mu.Lock()
	m.view.Phase = p
	m.mu.Unlock()
	m.notify()
}

func (m *Model) SetConnectivity(c Connectivity) {
	m.mu.Lock()
	m.view.Connectivity = c
	m.mu.Unlock()
	m.notify()
}

// View returns a deep copy of the current state.
func (m *Model) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := m.view
	v.Roster = copyRoster(m.view.Roster)
	v.Average = copyScore(m.view.Average)
	v.Selection = copyScore(m.view.Selection)
	return v
}

// Changes signals after every update. Bursts coalesce into one pending
// signal, so readers should call View after each receive.
func (m *Model) Changes() <-chan struct{} {
	return m.changes
}

func (m *Model) notify() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func copyScore(s *float64) *float64 {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyRoster(roster []Entry) []Entry {
	if roster == nil {
		return nil
	}
	out := make([]Entry, len(roster))
	for i, e := range roster {
		out[i] = Entry{Name: e.Name, Score: copyScore(e.Score)}
	}
	return out
}
