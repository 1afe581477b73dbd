package rooms

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"wevote/internal/metrics"
)

const sweepInterval = 5 * time.Minute

const maxCodeAttempts = 10

type Store struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	clock   clockwork.Clock
	ttl     time.Duration
	newCode func() (string, error)
	stop    chan struct{}
	once    sync.Once
}

// NewStore creates a room store that expires rooms older than ttl.
func NewStore(clock clockwork.Clock, ttl time.Duration) *Store {
	s := &Store{
		rooms:   make(map[string]*Room),
		clock:   clock,
		ttl:     ttl,
		newCode: GenerateCode,
		stop:    make(chan struct{}),
	}
	go s.sweepStale()
	return s
}

func (s *Store) Create(hostName string) (*Room, error) {
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return nil, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Codes of live rooms are never reused.
	for range maxCodeAttempts {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generating room code: %w", err)
		}
		if _, exists := s.rooms[code]; exists {
			continue
		}

		room := newRoom(code, hostName, s.clock.Now())
		s.rooms[code] = room
		metrics.RoomsActive.Inc()
		log.Info().Str("room_id", code).Str("host", hostName).Msg("room created")
		return room, nil
	}
	return nil, fmt.Errorf("failed to generate unique room code after %d attempts", maxCodeAttempts)
}

func (s *Store) Get(code string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[code]
}

// Lookup is Get with ErrRoomNotFound for unknown codes.
func (s *Store) Lookup(code string) (*Room, error) {
	if room := s.Get(code); room != nil {
		return room, nil
	}
	return nil, ErrRoomNotFound
}

func (s *Store) Join(code, name string) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	room, err := s.Lookup(code)
	if err != nil {
		return nil, err
	}
	if err := room.Join(name); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Store) Delete(code string) {
	s.mu.Lock()
	room, ok := s.rooms[code]
	delete(s.rooms, code)
	s.mu.Unlock()
	if ok {
		room.close()
		metrics.RoomsActive.Dec()
	}
}

func (s *Store) List() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		list = append(list, r)
	}
	return list
}

// Stop ends the sweeper and closes every room.
func (s *Store) Stop() {
	s.once.Do(func() { close(s.stop) })
	for _, r := range s.List() {
		s.Delete(r.Code)
	}
}

func (s *Store) sweepStale() {
	ticker := s.clock.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
			s.SweepStale()
		}
	}
}

// SweepStale deletes rooms created more than ttl ago.
func (s *Store) SweepStale() {
	now := s.clock.Now()
	var stale []string
	s.mu.Lock()
	for code, room := range s.rooms {
		if now.Sub(room.CreatedAt) > s.ttl {
			stale = append(stale, code)
		}
	}
	s.mu.Unlock()

	for _, code := range stale {
		s.Delete(code)
		log.Info().Str("room_id", code).Msg("stale room expired")
	}
}
