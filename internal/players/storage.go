package players

import (
	"errors"
	"sync"
)

var (
	ErrNameTaken = errors.New("name already in room")
	ErrNotFound  = errors.New("player not found")
)

// Store is the roster of one room, keyed by display name and kept in join order.
type Store struct {
	mu      sync.Mutex
	order   []string
	players map[string]*Player
}

func NewStore() *Store {
	return &Store{
		players: make(map[string]*Player),
	}
}

func (s *Store) Add(name string, isHost bool) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.players[name]; exists {
		return Player{}, ErrNameTaken
	}
	player := &Player{Name: name, IsHost: isHost}
	s.players[name] = player
	s.order = append(s.order, name)
	return *player, nil
}

func (s *Store) Get(name string) (Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[name]
	if !ok {
		return Player{}, false
	}
	return copyPlayer(p), true
}

// GetList returns copies of all players in join order.
func (s *Store) GetList() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	playerList := make([]Player, 0, len(s.order))
	for _, name := range s.order {
		playerList = append(playerList, copyPlayer(s.players[name]))
	}
	return playerList
}

// SetScore records or, with a nil score, clears a player's vote.
func (s *Store) SetScore(name string, score *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[name]
	if !ok {
		return ErrNotFound
	}
	if score == nil {
		p.Score = nil
		return nil
	}
	v := *score
	p.Score = &v
	return nil
}

func (s *Store) ClearScores() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players {
		p.Score = nil
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func copyPlayer(p *Player) Player {
	out := *p
	if p.Score != nil {
		v := *p.Score
		out.Score = &v
	}
	return out
}
