package syncctl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wevote/internal/api"
	"wevote/internal/directory"
	"wevote/internal/events"
	"wevote/internal/metrics"
	"wevote/internal/pushchan"
	"wevote/internal/roomview"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func ptr(v float64) *float64 { return &v }

type voteCall struct {
	Name  string
	Score *float64
}

type fakeDirectory struct {
	mu       sync.Mutex
	state    directory.State
	getState func(ctx context.Context, call int) (directory.State, error)
	fetches  int
	votes    []voteCall
	voteErr  error
	voteGate chan struct{}
	locks    int
	restarts int
	lockErr  error
}

func (d *fakeDirectory) SubmitVote(ctx context.Context, roomID, name string, score *float64) error {
	d.mu.Lock()
	var s *float64
	if score != nil {
		v := *score
		s = &v
	}
	d.votes = append(d.votes, voteCall{Name: name, Score: s})
	gate, err := d.voteGate, d.voteErr
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (d *fakeDirectory) LockRoom(ctx context.Context, roomID, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locks++
	return d.lockErr
}

func (d *fakeDirectory) RestartRoom(ctx context.Context, roomID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restarts++
	return nil
}

func (d *fakeDirectory) GetState(ctx context.Context, roomID string) (directory.State, error) {
	d.mu.Lock()
	d.fetches++
	call := d.fetches
	hook := d.getState
	st := d.state
	d.mu.Unlock()
	if hook != nil {
		return hook(ctx, call)
	}
	return st, nil
}

func (d *fakeDirectory) setState(st directory.State) {
	d.mu.Lock()
	d.state = st
	d.mu.Unlock()
}

func (d *fakeDirectory) fetchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetches
}

func (d *fakeDirectory) counts() (locks, restarts int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locks, d.restarts
}

func (d *fakeDirectory) voteCalls() []voteCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]voteCall(nil), d.votes...)
}

// pipeDialer hands out transports fed from the test.
type pipeDialer struct {
	mu      sync.Mutex
	dials   int
	frames  chan []byte
	preload [][]byte
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{frames: make(chan []byte, 16)}
}

func (d *pipeDialer) Dial(ctx context.Context, roomID string) (pushchan.Transport, error) {
	d.mu.Lock()
	d.dials++
	for _, f := range d.preload {
		d.frames <- f
	}
	d.preload = nil
	d.mu.Unlock()
	return &pipeTransport{frames: d.frames, done: make(chan struct{})}, nil
}

func (d *pipeDialer) push(t *testing.T, a events.Action) {
	t.Helper()
	data, err := events.Encode(a)
	require.NoError(t, err)
	d.frames <- data
}

type pipeTransport struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (t *pipeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-t.frames:
		return f, nil
	case <-t.done:
		return nil, errors.New("closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *pipeTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func twoPlayers(locked bool, a, b *float64, avg *float64) directory.State {
	return directory.State{
		Roster:  []api.PlayerResult{{Name: "A", Score: a}, {Name: "B", Score: b}},
		Locked:  locked,
		Average: avg,
	}
}

func startController(t *testing.T, dir *fakeDirectory, dialer *pipeDialer, name string, host bool, opts ...Option) *Controller {
	t.Helper()
	c := New(dir, dialer, pushchan.Options{Clock: clockwork.NewFakeClock()}, opts...)
	t.Cleanup(c.Close)
	require.NoError(t, c.Start("ROOM01", name, host))
	require.Eventually(t, func() bool { return c.Phase() != roomview.PhaseConnecting }, waitFor, tick)
	return c
}

func TestFetchOnConnect(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var order []int
	dir := &fakeDirectory{}
	dir.getState = func(ctx context.Context, call int) (directory.State, error) {
		if call == 1 {
			<-release
		}
		mu.Lock()
		order = append(order, call)
		mu.Unlock()
		return twoPlayers(false, nil, nil, nil), nil
	}
	dialer := newPipeDialer()
	dialer.preload = [][]byte{[]byte(`{"action":"refresh"}`)}

	c := New(dir, dialer, pushchan.Options{Clock: clockwork.NewFakeClock()})
	t.Cleanup(c.Close)
	require.NoError(t, c.Start("ROOM01", "B", false))

	require.Eventually(t, func() bool { return dir.fetchCount() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return dir.fetchCount() > 1 }, 50*time.Millisecond, tick,
		"push-driven fetch must wait for the connect fetch")

	close(release)
	require.Eventually(t, func() bool { return dir.fetchCount() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, waitFor, tick)
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, roomview.PhaseVoting, c.Phase())
}

func TestConnectFetchAdoptsServerPhaseAndVote(t *testing.T) {
	dir := &fakeDirectory{state: twoPlayers(true, ptr(5), ptr(3), ptr(4))}
	c := startController(t, dir, newPipeDialer(), "B", false)

	v := c.View().View()
	assert.Equal(t, roomview.PhaseLocked, v.Phase)
	assert.True(t, v.Locked)
	require.NotNil(t, v.Selection)
	assert.Equal(t, 3.0, *v.Selection)
	assert.Equal(t, 4.0, *v.Average)
	assert.Equal(t, roomview.Open, v.Connectivity)
}

func TestVoteToggle(t *testing.T) {
	dir := &fakeDirectory{state: twoPlayers(false, nil, nil, nil)}
	c := startController(t, dir, newPipeDialer(), "A", true)
	ctx := context.Background()

	require.NoError(t, c.SubmitVote(ctx, 8))
	assert.Equal(t, 8.0, *c.Selection())

	require.NoError(t, c.SubmitVote(ctx, 8))
	assert.Nil(t, c.Selection())

	require.NoError(t, c.SubmitVote(ctx, 5))
	require.NoError(t, c.SubmitVote(ctx, 8))
	assert.Equal(t, 8.0, *c.Selection())

	assert.Equal(t, []voteCall{
		{Name: "A", Score: ptr(8)},
		{Name: "A", Score: nil},
		{Name: "A", Score: ptr(5)},
		{Name: "A", Score: ptr(8)},
	}, dir.voteCalls())
}

func TestVoteFailureKeepsSelection(t *testing.T) {
	dir := &fakeDirectory{state: twoPlayers(false, nil, nil, nil)}
	var notices []Notice
	var mu sync.Mutex
	c := startController(t, dir, newPipeDialer(), "B", false, WithNotifier(NotifierFunc(func(n Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})))

	dir.mu.Lock()
	dir.voteErr = directory.ErrRateLimited
	dir.mu.Unlock()

	err := c.SubmitVote(context.Background(), 8)
	require.ErrorIs(t, err, directory.ErrRateLimited)

	v := c.View().View()
	require.NotNil(t, v.Selection)
	assert.Equal(t, 8.0, *v.Selection)
	assert.True(t, v.Unconfirmed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notices, 1)
	assert.Equal(t, OpVote, notices[0].Op)
	assert.ErrorIs(t, notices[0].Err, directory.ErrRateLimited)
}

func TestVoteRejectedWhileLocked(t *testing.T) {
	dir := &fakeDirectory{state: twoPlayers(false, nil, nil, nil)}
	c := startController(t, dir, newPipeDialer(), "B", false)

	c.HandleEvent(events.ActionGotoResult)

	assert.ErrorIs(t, c.SubmitVote(context.Background(), 3), ErrLocked)
	assert.Empty(t, dir.voteCalls())
}

func TestRefreshKeepsSelection(t *testing.T) {
	dir := &fakeDirectory{state: twoPlayers(false, nil, nil, nil)}
	c := startController(t, dir, newPipeDialer(), "A", true)

	require.NoError(t, c.SubmitVote(context.Background(), 13))
	// The directory has not recorded the vote yet.
	dir.setState(twoPlayers(false, nil, ptr(2), nil))
	c.HandleEvent(events.ActionRefresh)

	v := c.View().View()
	assert.Equal(t, 13.0, *v.Selection)
	require.Len(t, v.Roster, 2)
	assert.Equal(t, 2.0, *v.Roster[1].Score)
}

func TestSymmetricLock(t *testing.T) {
	dir := &fakeDirectory{state: twoPlayers(false, ptr(5), nil, nil)}
	dialer := newPipeDialer()
	var phases []roomview.Phase
	var mu sync.Mutex
	c := startController(t, dir, dialer, "A", true, WithOnPhase(func(p roomview.Phase) {
		mu.Lock()
		phases = append(phases, p)
		mu.Unlock()
	}))

	require.NoError(t, c.LockRoom(context.Background()))
	locks, _ := dir.counts()
	assert.Equal(t, 1, locks)
	assert.Equal(t, roomview.PhaseVoting, c.Phase(), "host must wait for goto_result")

	dir.setState(twoPlayers(true, ptr(5), nil, ptr(5)))
	dialer.push(t, events.ActionGotoResult)
	require.Eventually(t, func() bool { return c.Phase() == roomview.PhaseLocked }, waitFor, tick)
	require.Eventually(t, func() bool { return c.View().View().Locked }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []roomview.Phase{roomview.PhaseVoting, roomview.PhaseLocked}, phases)
}

func TestHostOnlyIntents(t *testing.T) {
	dir := &fakeDirectory{state: twoPlayers(false, nil, nil, nil)}
	c := startController(t, dir, newPipeDialer(), "B", false)

	assert.ErrorIs(t, c.LockRoom(context.Background()), ErrNotHost)
	assert.ErrorIs(t, c.RestartRoom(context.Background()), ErrNotHost)
	locks, restarts := dir.counts()
	assert.Zero(t, locks)
	assert.Zero(t, restarts)
}

func TestLockFailureNoTransition(t *testing.T) {
	dir := &fakeDirectory{state: twoPlayers(false, nil, nil, nil), lockErr: errors.New("network down")}
	var got Notice
	c := startController(t, dir, newPipeDialer(), "A", true, WithNotifier(NotifierFunc(func(n Notice) { got = n })))

	require.Error(t, c.LockRoom(context.Background()))
	assert.Equal(t, OpLock, got.Op)
	assert.Equal(t, roomview.PhaseVoting, c.Phase())
}

func TestGotoVoteClearsState(t *testing.T) {
	dir := &fakeDirectory{state: twoPlayers(true, ptr(5), nil, ptr(5))}
	dialer := newPipeDialer()
	c := startController(t, dir, dialer, "A", true)
	require.Equal(t, roomview.PhaseLocked, c.Phase())
	require.Equal(t, 5.0, *c.Selection())

	require.NoError(t, c.RestartRoom(context.Background()))
	assert.Equal(t, roomview.PhaseLocked, c.Phase(), "host must wait for goto_vote")

	dir.setState(twoPlayers(false, nil, nil, nil))
	dialer.push(t, events.ActionGotoVote)
	require.Eventually(t, func() bool { return c.Phase() == roomview.PhaseVoting }, waitFor, tick)
	require.Eventually(t, func() bool { return !c.View().View().Locked }, waitFor, tick)

	v := c.View().View()
	assert.Nil(t, v.Selection)
	assert.Nil(t, v.Average)
	for _, e := range v.Roster {
		assert.False(t, e.Voted(), "%s should have no vote", e.Name)
	}
}

func TestStaleFetchDiscarded(t *testing.T) {
	slow := make(chan struct{})
	dir := &fakeDirectory{}
	dir.getState = func(ctx context.Context, call int) (directory.State, error) {
		switch call {
		case 1:
			return twoPlayers(false, nil, nil, nil), nil
		case 2:
			<-slow
			return twoPlayers(false, ptr(1), nil, nil), nil
		default:
			return twoPlayers(false, ptr(2), ptr(3), nil), nil
		}
	}
	c := startController(t, dir, newPipeDialer(), "A", true)
	stale := metrics.StateFetches.WithLabelValues(string(triggerRefresh), "stale")
	staleBefore := testutil.ToFloat64(stale)

	done := make(chan struct{})
	go func() {
		c.HandleEvent(events.ActionRefresh)
		close(done)
	}()
	require.Eventually(t, func() bool { return dir.fetchCount() == 2 }, waitFor, tick)

	c.HandleEvent(events.ActionRefresh)
	close(slow)
	<-done

	v := c.View().View()
	assert.Equal(t, 2.0, *v.Roster[0].Score)
	assert.Equal(t, 3.0, *v.Roster[1].Score)
	assert.Equal(t, staleBefore+1, testutil.ToFloat64(stale))
}

func TestCloseDiscardsLateResults(t *testing.T) {
	slow := make(chan struct{})
	dir := &fakeDirectory{}
	dir.getState = func(ctx context.Context, call int) (directory.State, error) {
		if call == 2 {
			<-slow
			return twoPlayers(true, ptr(9), nil, ptr(9)), nil
		}
		return twoPlayers(false, nil, nil, nil), nil
	}
	var notified bool
	c := startController(t, dir, newPipeDialer(), "A", true, WithNotifier(NotifierFunc(func(Notice) { notified = true })))

	done := make(chan struct{})
	go func() {
		c.HandleEvent(events.ActionRefresh)
		close(done)
	}()
	require.Eventually(t, func() bool { return dir.fetchCount() == 2 }, waitFor, tick)

	c.Close()
	close(slow)
	<-done

	v := c.View().View()
	assert.False(t, v.Locked)
	assert.Equal(t, roomview.Closed, v.Connectivity)
	assert.False(t, notified)
	assert.ErrorIs(t, c.SubmitVote(context.Background(), 1), ErrClosed)
	assert.ErrorIs(t, c.Start("ROOM01", "A", true), ErrClosed)
}

func TestStartTwice(t *testing.T) {
	dir := &fakeDirectory{state: twoPlayers(false, nil, nil, nil)}
	c := startController(t, dir, newPipeDialer(), "A", true)

	assert.ErrorIs(t, c.Start("ROOM02", "A", true), ErrAlreadyStarted)
	assert.Equal(t, "ROOM01", c.RoomID())
}

func TestConnectFetchKeepsPendingVote(t *testing.T) {
	dir := &fakeDirectory{state: twoPlayers(false, nil, nil, nil)}
	c := startController(t, dir, newPipeDialer(), "B", false)
	ctx := context.Background()

	gate := make(chan struct{})
	dir.mu.Lock()
	dir.voteGate = gate
	dir.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.SubmitVote(ctx, 8) }()
	require.Eventually(t, func() bool { return len(dir.voteCalls()) == 1 }, waitFor, tick)

	// The channel reconnects before the directory has recorded the vote.
	c.onConnect(nil)
	require.NotNil(t, c.Selection())
	assert.Equal(t, 8.0, *c.Selection())

	close(gate)
	require.NoError(t, <-done)

	dir.setState(twoPlayers(false, nil, ptr(8), nil))
	c.onConnect(nil)
	require.NotNil(t, c.Selection())
	assert.Equal(t, 8.0, *c.Selection())

	// Picking the same card again withdraws the vote.
	require.NoError(t, c.SubmitVote(ctx, 8))
	assert.Nil(t, c.Selection())
	calls := dir.voteCalls()
	assert.Equal(t, voteCall{Name: "B", Score: nil}, calls[len(calls)-1])
}

func TestCloseDuringStart(t *testing.T) {
	for range 200 {
		dir := &fakeDirectory{state: twoPlayers(false, nil, nil, nil)}
		c := New(dir, newPipeDialer(), pushchan.Options{Clock: clockwork.NewFakeClock()})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Start("ROOM01", "A", true)
		}()
		go func() {
			defer wg.Done()
			c.Close()
		}()
		wg.Wait()

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			require.Equal(t, pushchan.StateClosed, conn.State(), "channel outlived Close")
		}
	}
}
