package session

import (
	"context"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) (*QueueEngine, *fakePlayer, *fakeSource) {
	t.Helper()
	player := newFakePlayer()
	src := newFakeSource()
	eng := NewQueueEngine(slog.Default(), player, NewPlayClock(), nil)
	return eng, player, src
}

func links(ts []*Track) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Link
	}
	return out
}

func TestEnqueueAdvancesWhenIdle(t *testing.T) {
	eng, player, src := testEngine(t)

	a := src.track("a")
	eng.Enqueue(context.Background(), []*Track{a}, false)

	cur, ok := eng.Current()
	require.True(t, ok)
	assert.Equal(t, "a", cur.Link)
	assert.Equal(t, 0, eng.Size())
	assert.Equal(t, 1, player.playCount())
}

func TestEnqueueWhilePlayingDoesNotInterrupt(t *testing.T) {
	eng, player, src := testEngine(t)

	eng.Enqueue(context.Background(), []*Track{src.track("a")}, false)
	require.Equal(t, 1, player.playCount())

	eng.Enqueue(context.Background(), []*Track{src.track("b")}, false)
	cur, _ := eng.Current()
	assert.Equal(t, "a", cur.Link)
	assert.Equal(t, []string{"b"}, links(eng.Tracks()))
	assert.Equal(t, 1, player.playCount())
}

func TestEnqueuePushToFront(t *testing.T) {
	eng, player, src := testEngine(t)

	eng.Enqueue(context.Background(), []*Track{src.track("a"), src.track("b")}, false)
	require.Equal(t, 1, player.playCount())
	eng.Enqueue(context.Background(), []*Track{src.track("c")}, true)
	assert.Equal(t, []string{"c", "b"}, links(eng.Tracks()))
}

func TestRemoveAndMoveOutOfRange(t *testing.T) {
	eng, _, src := testEngine(t)
	eng.Enqueue(context.Background(), []*Track{src.track("a"), src.track("b"), src.track("c")}, false)
	// a is current; queue is [b, c].

	_, ok := eng.Remove(5)
	assert.False(t, ok)
	_, ok = eng.Remove(-1)
	assert.False(t, ok)
	_, ok = eng.Move(0, 9)
	assert.False(t, ok)

	removed, ok := eng.Remove(0)
	require.True(t, ok)
	assert.Equal(t, "b", removed.Link)
	assert.Equal(t, []string{"c"}, links(eng.Tracks()))
}

func TestMoveReordersQueue(t *testing.T) {
	eng, _, src := testEngine(t)
	eng.Enqueue(context.Background(), []*Track{
		src.track("cur"), src.track("a"), src.track("b"), src.track("c"),
	}, false)

	moved, ok := eng.Move(2, 0)
	require.True(t, ok)
	assert.Equal(t, "c", moved.Link)
	assert.Equal(t, []string{"c", "a", "b"}, links(eng.Tracks()))
}

func TestReverse(t *testing.T) {
	eng, _, src := testEngine(t)
	eng.Enqueue(context.Background(), []*Track{
		src.track("cur"), src.track("a"), src.track("b"), src.track("c"),
	}, false)
	eng.Reverse()
	assert.Equal(t, []string{"c", "b", "a"}, links(eng.Tracks()))
}

func TestClearDropsFlags(t *testing.T) {
	eng, _, src := testEngine(t)
	eng.Enqueue(context.Background(), []*Track{src.track("a"), src.track("b")}, false)
	eng.Shuffle()
	eng.Loop()
	require.True(t, eng.Shuffled())
	require.True(t, eng.Looped())

	eng.Clear()
	assert.False(t, eng.Shuffled())
	assert.False(t, eng.Looped())
	assert.Equal(t, 0, eng.Size())
}

func TestLoopThenUnloopLeavesQueueUnchanged(t *testing.T) {
	eng, _, src := testEngine(t)
	eng.Enqueue(context.Background(), []*Track{
		src.track("cur"), src.track("a"), src.track("b"),
	}, false)

	before := links(eng.Tracks())
	eng.Loop()
	eng.Unloop()
	assert.Equal(t, before, links(eng.Tracks()))
	assert.False(t, eng.Looped())
}

func TestLoopQueueHoldsClones(t *testing.T) {
	eng, _, src := testEngine(t)
	a := src.track("a")
	b := src.track("b")
	eng.Enqueue(context.Background(), []*Track{a, b}, false)
	eng.Loop()

	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.loopQueue, 2)
	for _, lt := range eng.loopQueue {
		assert.NotSame(t, a, lt)
		assert.NotSame(t, b, lt)
	}
}

func TestUnshuffleDoesNotRestoreOrder(t *testing.T) {
	eng, _, src := testEngine(t)
	var tracks []*Track
	for _, l := range []string{"cur", "a", "b", "c", "d", "e"} {
		tracks = append(tracks, src.track(l))
	}
	eng.Enqueue(context.Background(), tracks, false)
	eng.Shuffle()
	shuffled := links(eng.Tracks())
	eng.Unshuffle()
	assert.Equal(t, shuffled, links(eng.Tracks()))
	assert.False(t, eng.Shuffled())
}

func TestLoopRefillKeepsMultiset(t *testing.T) {
	eng, player, src := testEngine(t)
	var tracks []*Track
	all := []string{"a", "b", "c", "d"}
	for _, l := range all {
		tracks = append(tracks, src.track(l))
	}
	eng.Enqueue(context.Background(), tracks, false)
	eng.Loop()
	eng.Shuffle()

	// Drain the first cycle.
	for i := 0; i < len(all)-1; i++ {
		player.setStatus(PlayerIdle)
		eng.Advance(context.Background(), false)
	}

	// Next idle triggers the refill.
	player.setStatus(PlayerIdle)
	eng.Advance(context.Background(), false)

	cur, ok := eng.Current()
	require.True(t, ok)
	got := append(links(eng.Tracks()), cur.Link)
	sort.Strings(got)
	assert.Equal(t, all, got)
	assert.True(t, eng.Looped(), "loop template survives the refill")
}

func TestDrainWithoutLoopClearsShuffleFlag(t *testing.T) {
	eng, player, src := testEngine(t)
	eng.Enqueue(context.Background(), []*Track{src.track("a")}, false)
	eng.Shuffle()

	player.setStatus(PlayerIdle)
	eng.Advance(context.Background(), false)

	_, ok := eng.Current()
	assert.False(t, ok)
	assert.False(t, eng.Shuffled())
}

func TestAdvanceSkipsWhenPlayerBusy(t *testing.T) {
	eng, player, src := testEngine(t)
	eng.Enqueue(context.Background(), []*Track{src.track("a"), src.track("b")}, false)
	require.Equal(t, 1, player.playCount())

	// Player is still playing; a non-forced advance is a no-op.
	eng.Advance(context.Background(), false)
	cur, _ := eng.Current()
	assert.Equal(t, "a", cur.Link)
	assert.Equal(t, 1, player.playCount())

	// Forced advance moves on.
	eng.Advance(context.Background(), true)
	cur, _ = eng.Current()
	assert.Equal(t, "b", cur.Link)
}

func TestAdvanceEndToEndDrain(t *testing.T) {
	eng, player, src := testEngine(t)
	eng.Enqueue(context.Background(), []*Track{src.track("a"), src.track("b")}, false)

	cur, _ := eng.Current()
	require.Equal(t, "a", cur.Link)
	require.Equal(t, []string{"b"}, links(eng.Tracks()))

	player.setStatus(PlayerIdle)
	eng.Advance(context.Background(), false)
	cur, _ = eng.Current()
	assert.Equal(t, "b", cur.Link)
	assert.Empty(t, eng.Tracks())

	player.setStatus(PlayerIdle)
	eng.Advance(context.Background(), false)
	_, ok := eng.Current()
	assert.False(t, ok)
}

func TestFailedResourceSkipsToNext(t *testing.T) {
	eng, player, src := testEngine(t)
	src.failFor["bad"] = true

	eng.Enqueue(context.Background(), []*Track{
		src.track("bad"), src.track("good"),
	}, false)

	cur, ok := eng.Current()
	require.True(t, ok)
	assert.Equal(t, "good", cur.Link)
	assert.Equal(t, 1, player.playCount())
}

func TestAllFailingQueueDrainsCompletely(t *testing.T) {
	eng, player, src := testEngine(t)
	src.failFor["x"] = true
	src.failFor["y"] = true
	src.failFor["z"] = true

	eng.Enqueue(context.Background(), []*Track{
		src.track("x"), src.track("y"), src.track("z"),
	}, false)

	_, ok := eng.Current()
	assert.False(t, ok)
	assert.Equal(t, 0, eng.Size())
	assert.Equal(t, 0, player.playCount())
}

func TestSkipDropsExtraEntries(t *testing.T) {
	eng, _, src := testEngine(t)
	eng.Enqueue(context.Background(), []*Track{
		src.track("cur"), src.track("a"), src.track("b"), src.track("c"),
	}, false)

	eng.Skip(context.Background(), 2)
	cur, ok := eng.Current()
	require.True(t, ok)
	assert.Equal(t, "c", cur.Link)
	assert.Equal(t, 0, eng.Size())
}

func TestHaltStopsPlayerAndBlocksResurrection(t *testing.T) {
	eng, player, src := testEngine(t)
	eng.Enqueue(context.Background(), []*Track{
		src.track("a"), src.track("b"), src.track("c"),
	}, false)

	eng.Halt()
	assert.Equal(t, 0, eng.Size())
	_, ok := eng.Current()
	assert.False(t, ok)
	assert.GreaterOrEqual(t, player.stopCount(), 1)

	// A later idle event finds nothing to play.
	played := player.playCount()
	player.setStatus(PlayerIdle)
	eng.Advance(context.Background(), false)
	assert.Equal(t, played, player.playCount())
}

func TestSpeedIsBakedIntoProducedResource(t *testing.T) {
	eng, player, src := testEngine(t)
	eng.clock.SetSpeed(1.25)
	eng.Enqueue(context.Background(), []*Track{src.track("a")}, false)

	res := player.lastPlayed()
	require.NotNil(t, res)
	assert.Equal(t, 1.25, res.opts.Speed)
}
