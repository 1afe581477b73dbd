// Package syncctl keeps a participant's room view in step with the directory.
// Push events decide when to re-fetch and when to change phase; user intents
// become directory requests.
package syncctl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wevote/internal/directory"
	"wevote/internal/events"
	"wevote/internal/metrics"
	"wevote/internal/pushchan"
	"wevote/internal/roomview"
)

var (
	ErrNotHost        = errors.New("only the host can do that")
	ErrLocked         = errors.New("voting is locked")
	ErrClosed         = errors.New("controller is closed")
	ErrAlreadyStarted = errors.New("controller already started")
)

// Directory is the subset of the directory client the controller needs.
type Directory interface {
	SubmitVote(ctx context.Context, roomID, name string, score *float64) error
	LockRoom(ctx context.Context, roomID, name string) error
	RestartRoom(ctx context.Context, roomID string) error
	GetState(ctx context.Context, roomID string) (directory.State, error)
}

type Op string

const (
	OpFetch   = Op("fetch")
	OpVote    = Op("vote")
	OpLock    = Op("lock")
	OpRestart = Op("restart")
)

// Notice reports a failed request to the user.
type Notice struct {
	Op  Op
	Err error
}

type Notifier interface {
	Notify(n Notice)
}

type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type trigger string

const (
	triggerConnect    = trigger("connect")
	triggerRefresh    = trigger("refresh")
	triggerGotoResult = trigger("goto_result")
	triggerGotoVote   = trigger("goto_vote")
)

type Option func(*Controller)

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithOnPhase registers a callback run after every phase change.
func WithOnPhase(fn func(roomview.Phase)) Option {
	return func(c *Controller) { c.onPhase = fn }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) { c.requestTimeout = d }
}

type Controller struct {
	dir            Directory
	view           *roomview.Model
	channels       *pushchan.Registry
	notifier       Notifier
	onPhase        func(roomview.Phase)
	requestTimeout time.Duration

	mu         sync.Mutex
	roomID     string
	name       string
	isHost     bool
	conn       *pushchan.Conn
	selection  *float64
	phase      roomview.Phase
	fetchSeq   uint64
	appliedSeq uint64
	started    bool
	closed     bool

	// votesInFlight counts vote requests not yet answered.
	votesInFlight int
}

// New builds a controller whose push channels are dialed with dialer.
func New(dir Directory, dialer pushchan.Dialer, chanOpts pushchan.Options, opts ...Option) *Controller {
	c := &Controller{
		dir:            dir,
		view:           roomview.New(),
		phase:          roomview.PhaseConnecting,
		requestTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.channels = pushchan.NewRegistry(dialer, chanOpts, pushchan.Handlers{
		OnConnect: c.onConnect,
		OnEvent:   func(_ *pushchan.Conn, a events.Action) { c.HandleEvent(a) },
		OnState:   c.onState,
	})
	return c
}

// View is the read-only projection for presentation code.
func (c *Controller) View() *roomview.Model {
	return c.view
}

func (c *Controller) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Controller) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isHost
}

// Start subscribes to the room. The first fetch runs as soon as the push
// channel connects.
func (c *Controller) Start(roomID, name string, isHost bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.roomID = roomID
	c.name = name
	c.isHost = isHost
	c.mu.Unlock()

	conn := c.channels.Open(roomID)

	c.mu.Lock()
	c.conn = conn
	closed := c.closed
	c.mu.Unlock()

	if closed {
		// Close ran while the channel was opening and could not see it.
		c.channels.Close(conn)
		return ErrClosed
	}

	log.Info().Str("room_id", roomID).Str("name", name).Bool("host", isHost).Msg("sync started")
	return nil
}

// Close drops the subscription without reconnecting. Results of requests
// still in flight are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.channels.Close(conn)
	}
	c.view.SetConnectivity(roomview.Closed)
	log.Info().Str("room_id", c.RoomID()).Msg("sync closed")
}

func (c *Controller) onConnect(_ *pushchan.Conn) {
	c.fetch(triggerConnect)
}

func (c *Controller) onState(_ *pushchan.Conn, s pushchan.State) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.view.SetConnectivity(roomview.Connectivity(s))
}

// HandleEvent reacts to one push action.
func (c *Controller) HandleEvent(a events.Action) {
	log.Debug().Str("action", string(a)).Msg("push event")
	switch a {
	case events.ActionRefresh:
		c.fetch(triggerRefresh)
	case events.ActionGotoResult:
		c.transition(roomview.PhaseLocked, false)
		c.fetch(triggerGotoResult)
	case events.ActionGotoVote:
		c.transition(roomview.PhaseVoting, true)
		c.fetch(triggerGotoVote)
	}
}

func (c *Controller) transition(p roomview.Phase, clearSelection bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if clearSelection {
		c.selection = nil
		c.view.SetLocalSelection(nil)
	}
	changed := c.setPhaseLocked(p)
	c.mu.Unlock()

	if changed {
		c.phaseChanged(p)
	}
}

func (c *Controller) setPhaseLocked(p roomview.Phase) bool {
	if c.phase == p {
		return false
	}
	c.phase = p
	c.view.SetPhase(p)
	return true
}

func (c *Controller) phaseChanged(p roomview.Phase) {
	log.Info().Str("room_id", c.RoomID()).Str("phase", string(p)).Msg("phase changed")
	if c.onPhase != nil {
		c.onPhase(p)
	}
}

// fetch pulls the authoritative state and overwrites the snapshot. A response
// older than one already applied is dropped.
func (c *Controller) fetch(tr trigger) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.fetchSeq++
	seq := c.fetchSeq
	roomID := c.roomID
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	st, err := c.dir.GetState(ctx, roomID)
	cancel()
	if err != nil {
		metrics.StateFetches.WithLabelValues(string(tr), "error").Inc()
		log.Warn().Err(err).Str("room_id", roomID).Str("trigger", string(tr)).Msg("state fetch failed")
		c.notify(Notice{Op: OpFetch, Err: err})
		return
	}

	c.mu.Lock()
	if c.closed || seq < c.appliedSeq {
		c.mu.Unlock()
		metrics.StateFetches.WithLabelValues(string(tr), "stale").Inc()
		return
	}
	c.appliedSeq = seq

	roster := make([]roomview.Entry, 0, len(st.Roster))
	var own *float64
	for _, p := range st.Roster {
		roster = append(roster, roomview.Entry{Name: p.Name, Score: p.Score})
		if p.Name == c.name {
			own = p.Score
		}
	}
	c.view.ApplySnapshot(roster, st.Locked, st.Average)

	var phase roomview.Phase
	changed := false
	if tr == triggerConnect {
		// Events missed while disconnected are not redelivered, so the
		// connect fetch is the only place phase and selection realign.
		phase = roomview.PhaseVoting
		if st.Locked {
			phase = roomview.PhaseLocked
		}
		changed = c.setPhaseLocked(phase)
		// A pending vote is newer than what the directory recorded.
		if c.votesInFlight == 0 {
			c.selection = copyScore(own)
			c.view.SetLocalSelection(own)
		}
	}
	c.mu.Unlock()

	metrics.StateFetches.WithLabelValues(string(tr), "ok").Inc()
	if changed {
		c.phaseChanged(phase)
	}
}

// SubmitVote toggles the participant's vote: picking the current selection
// again withdraws it. The selection changes before the request is sent and
// stays in place if the request fails.
func (c *Controller) SubmitVote(ctx context.Context, score float64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase == roomview.PhaseLocked {
		c.mu.Unlock()
		return ErrLocked
	}
	var next *float64
	if c.selection == nil || *c.selection != score {
		next = &score
	}
	c.selection = copyScore(next)
	c.view.SetLocalSelection(next)
	c.votesInFlight++
	roomID, name := c.roomID, c.name
	c.mu.Unlock()

	err := c.dir.SubmitVote(ctx, roomID, name, next)

	c.mu.Lock()
	c.votesInFlight--
	if err != nil && !c.closed && sameScore(c.selection, next) {
		c.view.MarkSelectionFailed()
	}
	c.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("name", name).Msg("vote failed")
		c.notify(Notice{Op: OpVote, Err: err})
		return err
	}
	return nil
}

// Selection is the participant's local pick, nil when none.
func (c *Controller) Selection() *float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyScore(c.selection)
}

func (c *Controller) Phase() roomview.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// LockRoom asks the directory to lock voting. The phase changes only when the
// goto_result push arrives.
func (c *Controller) LockRoom(ctx context.Context) error {
	roomID, name, err := c.hostRequest()
	if err != nil {
		return err
	}
	if err := c.dir.LockRoom(ctx, roomID, name); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("lock failed")
		c.notify(Notice{Op: OpLock, Err: err})
		return err
	}
	return nil
}

// RestartRoom asks the directory to clear the round. The phase changes only
// when the goto_vote push arrives.
func (c *Controller) RestartRoom(ctx context.Context) error {
	roomID, _, err := c.hostRequest()
	if err != nil {
		return err
	}
	if err := c.dir.RestartRoom(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("restart failed")
		c.notify(Notice{Op: OpRestart, Err: err})
		return err
	}
	return nil
}

func (c *Controller) hostRequest() (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", "", ErrClosed
	}
	if !c.isHost {
		return "", "", ErrNotHost
	}
	return c.roomID, c.name, nil
}

func (c *Controller) notify(n Notice) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.notifier == nil {
		return
	}
	c.notifier.Notify(n)
}

func copyScore(s *float64) *float64 {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func sameScore(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
