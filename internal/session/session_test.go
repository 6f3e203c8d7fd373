package session

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(t *testing.T) (*Session, *fakePlayer, *fakeTransport, *fakeSource) {
	t.Helper()
	player := newFakePlayer()
	tr := newFakeTransport()
	src := newFakeSource()
	s := New(Options{
		GuildID:   "g1",
		Log:       slog.Default(),
		Transport: tr,
		Player:    player,
	})
	return s, player, tr, src
}

func TestSessionEnqueueAndAutoAdvance(t *testing.T) {
	s, player, _, src := testSession(t)

	a := src.track("a")
	b := src.track("b")
	s.Enqueue(context.Background(), []*Track{a, b}, false)

	cur, ok := s.CurrentTrack()
	require.True(t, ok)
	assert.Equal(t, "a", cur.Link)
	assert.Equal(t, []string{"b"}, links(s.Queue()))

	// The player going idle retriggers the advance asynchronously.
	player.setStatus(PlayerIdle)
	waitFor(t, func() bool {
		cur, ok := s.CurrentTrack()
		return ok && cur.Link == "b"
	})
	assert.Empty(t, s.Queue())

	// Final idle with no loop leaves no current track.
	player.setStatus(PlayerIdle)
	waitFor(t, func() bool {
		_, ok := s.CurrentTrack()
		return !ok
	})
}

func TestSessionPauseResume(t *testing.T) {
	s, player, _, src := testSession(t)
	s.Enqueue(context.Background(), []*Track{src.track("a")}, false)
	require.Equal(t, PlayerPlaying, player.Status())

	assert.True(t, s.Pause())
	assert.True(t, s.Paused())
	assert.False(t, s.Pause(), "double pause reports failure")

	assert.True(t, s.Resume())
	assert.False(t, s.Paused())
}

func TestSessionStopPreventsResurrection(t *testing.T) {
	s, player, _, src := testSession(t)
	s.Enqueue(context.Background(), []*Track{
		src.track("a"), src.track("b"), src.track("c"),
	}, false)

	s.Stop()
	assert.Empty(t, s.Queue())
	assert.Equal(t, time.Duration(0), s.CurrentTrackPlayTime())

	played := player.playCount()
	player.setStatus(PlayerIdle)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, played, player.playCount())
}

func TestSessionSeekProducesFreshResource(t *testing.T) {
	s, player, _, src := testSession(t)
	s.Enqueue(context.Background(), []*Track{src.track("a")}, false)
	require.Equal(t, 1, player.playCount())

	err := s.Seek(context.Background(), 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, player.playCount())

	res := player.lastPlayed()
	assert.Equal(t, 30*time.Second, res.opts.Seek)
	// Clock is reset and pre-seeded with the target before the player
	// reports playing again.
	s.clock.mu.Lock()
	started := s.clock.started
	s.clock.mu.Unlock()
	assert.True(t, started.IsZero())
	assert.Equal(t, 30*time.Second, s.CurrentTrackPlayTime())
}

func TestSessionClockStartsOnImmediatePlaying(t *testing.T) {
	// fakePlayer reports Playing synchronously from within Play, the fastest
	// possible transition. The clock must keep the start timestamp recorded
	// there rather than losing it to the per-track reset.
	s, player, _, src := testSession(t)
	s.Enqueue(context.Background(), []*Track{src.track("a")}, false)
	require.Equal(t, PlayerPlaying, player.Status())

	s.clock.mu.Lock()
	started := s.clock.started
	s.clock.mu.Unlock()
	assert.False(t, started.IsZero())
}

func TestSessionSeekFromPausedKeepsOffset(t *testing.T) {
	s, player, _, src := testSession(t)
	s.Enqueue(context.Background(), []*Track{src.track("a")}, false)
	require.True(t, s.Pause())

	// Seeking restarts playback; the Paused→Playing transition fires
	// synchronously from within Play and must land on the seeded offset.
	require.NoError(t, s.Seek(context.Background(), 30*time.Second))
	require.Equal(t, PlayerPlaying, player.Status())

	s.clock.mu.Lock()
	started := s.clock.started
	s.clock.mu.Unlock()
	assert.False(t, started.IsZero())

	elapsed := s.CurrentTrackPlayTime()
	assert.GreaterOrEqual(t, elapsed, 30*time.Second)
	assert.Less(t, elapsed, 31*time.Second)
}

func TestSessionSeekErrors(t *testing.T) {
	s, _, _, src := testSession(t)
	err := s.Seek(context.Background(), time.Second)
	assert.Error(t, err, "seek with nothing playing")

	live := src.track("live")
	live.IsLive = true
	s.Enqueue(context.Background(), []*Track{live}, false)
	assert.Error(t, s.Seek(context.Background(), time.Second))
}

func TestSessionSpeedAppliesToNextResource(t *testing.T) {
	s, player, _, src := testSession(t)
	s.Enqueue(context.Background(), []*Track{src.track("a"), src.track("b")}, false)
	require.Equal(t, 1.0, player.lastPlayed().opts.Speed)

	s.SetPlaybackSpeed(2.0)
	assert.Equal(t, 2.0, s.PlaybackSpeed())
	// The in-flight resource is unaffected; the next one carries the speed.
	assert.Equal(t, 1.0, player.lastPlayed().opts.Speed)

	player.setStatus(PlayerIdle)
	waitFor(t, func() bool { return player.playCount() == 2 })
	assert.Equal(t, 2.0, player.lastPlayed().opts.Speed)
}

func TestSessionCloseDestroysTransport(t *testing.T) {
	s, player, tr, src := testSession(t)
	s.Enqueue(context.Background(), []*Track{src.track("a")}, false)

	s.Close()
	assert.True(t, tr.isDestroyed())
	assert.Equal(t, PlayerIdle, player.Status())
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Peek("g1"))

	var mu sync.Mutex
	created := 0
	create := func() *Session {
		mu.Lock()
		created++
		mu.Unlock()
		return New(Options{
			GuildID:   "g1",
			Transport: newFakeTransport(),
			Player:    newFakePlayer(),
			Destroy:   func(string) {},
		})
	}

	s1 := r.GetOrCreate("g1", create)
	s2 := r.GetOrCreate("g1", create)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, created)
	assert.Same(t, s1, r.Peek("g1"))

	r.Destroy("g1")
	assert.Nil(t, r.Peek("g1"))
	// Destroying an absent session is a no-op.
	r.Destroy("g1")
}
