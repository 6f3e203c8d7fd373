package session

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// QueueEngine owns the play order: the live queue, the loop-queue template
// replayed when looping, the shuffle flag, and the serialized advance
// procedure that retires the current track and starts the next one.
//
// The loop-queue never shares Track instances with the live queue; it holds
// clones, so a resource exhausted on one side never aliases the other.
type QueueEngine struct {
	log      *slog.Logger
	player   Player
	clock    *PlayClock
	announce func(*Track) // now-playing hook; failures are the callee's problem

	mu        sync.Mutex
	queue     []*Track
	loopQueue []*Track
	shuffled  bool
	current   *Track

	// advancing serializes Advance: a call arriving while one is in flight
	// is dropped, not queued. The eventual player-idle event retriggers it.
	advancing atomic.Bool
}

func NewQueueEngine(log *slog.Logger, player Player, clock *PlayClock, announce func(*Track)) *QueueEngine {
	if announce == nil {
		announce = func(*Track) {}
	}
	return &QueueEngine{log: log, player: player, clock: clock, announce: announce}
}

// Enqueue appends (or prepends) tracks and attempts to start playback if the
// player is idle. Incoming tracks are randomized first when shuffle is on,
// and mirrored into the loop-queue as clones when looping.
func (e *QueueEngine) Enqueue(ctx context.Context, tracks []*Track, pushToFront bool) {
	if len(tracks) == 0 {
		return
	}
	add := make([]*Track, len(tracks))
	copy(add, tracks)

	e.mu.Lock()
	if e.shuffled {
		shuffleTracks(add)
	}
	if pushToFront {
		e.queue = append(add, e.queue...)
	} else {
		e.queue = append(e.queue, add...)
	}
	if len(e.loopQueue) > 0 {
		dup := cloneTracks(add)
		if pushToFront {
			e.loopQueue = append(dup, e.loopQueue...)
		} else {
			e.loopQueue = append(e.loopQueue, dup...)
		}
	}
	e.mu.Unlock()

	e.Advance(ctx, false)
}

// Remove drops the track at index (0 = next to play). Out-of-range indices
// report absence instead of failing.
func (e *QueueEngine) Remove(index int) (*Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.queue) {
		return nil, false
	}
	t := e.queue[index]
	e.queue = append(e.queue[:index], e.queue[index+1:]...)
	return t, true
}

// Move relocates the track at from to position to.
func (e *QueueEngine) Move(from, to int) (*Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if from < 0 || from >= len(e.queue) || to < 0 || to >= len(e.queue) {
		return nil, false
	}
	t := e.queue[from]
	e.queue = append(e.queue[:from], e.queue[from+1:]...)
	rest := append([]*Track{t}, e.queue[to:]...)
	e.queue = append(e.queue[:to], rest...)
	return t, true
}

func (e *QueueEngine) Reverse() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, j := 0, len(e.queue)-1; i < j; i, j = i+1, j-1 {
		e.queue[i], e.queue[j] = e.queue[j], e.queue[i]
	}
}

// Clear empties the queue and drops the shuffle and loop state.
func (e *QueueEngine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = nil
	e.loopQueue = nil
	e.shuffled = false
}

// Shuffle randomizes the live queue and the loop-queue and keeps future
// loop refills randomized.
func (e *QueueEngine) Shuffle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	shuffleTracks(e.queue)
	shuffleTracks(e.loopQueue)
	e.shuffled = true
}

// Unshuffle only stops future reshuffling; it does not restore any order.
func (e *QueueEngine) Unshuffle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shuffled = false
}

func (e *QueueEngine) Shuffled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shuffled
}

// Loop snapshots [current]+queue, in that order, as the replay template.
func (e *QueueEngine) Loop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	var tmpl []*Track
	if e.current != nil {
		tmpl = append(tmpl, e.current.Clone())
	}
	tmpl = append(tmpl, cloneTracks(e.queue)...)
	e.loopQueue = tmpl
}

func (e *QueueEngine) Unloop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loopQueue = nil
}

// Looped reports whether a replay template exists.
func (e *QueueEngine) Looped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loopQueue) > 0
}

func (e *QueueEngine) Current() (*Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.current != nil
}

// Tracks returns a snapshot of the upcoming queue.
func (e *QueueEngine) Tracks() []*Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Track, len(e.queue))
	copy(out, e.queue)
	return out
}

func (e *QueueEngine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Skip drops extra additional entries from the front and forces an advance.
func (e *QueueEngine) Skip(ctx context.Context, extra int) {
	e.mu.Lock()
	if extra > len(e.queue) {
		extra = len(e.queue)
	}
	if extra > 0 {
		e.queue = e.queue[extra:]
	}
	e.mu.Unlock()

	e.Advance(ctx, true)
}

// Halt hard-clears all queue state and stops the player. The advance guard is
// engaged for the duration so a concurrent idle event cannot restart playback
// mid-teardown.
func (e *QueueEngine) Halt() {
	e.advancing.Store(true)
	defer e.advancing.Store(false)

	e.mu.Lock()
	e.queue = nil
	e.loopQueue = nil
	e.current = nil
	e.shuffled = false
	e.mu.Unlock()

	e.player.Stop(true)
	e.clock.Reset()
}

// Advance retires the current track and starts the next one. At most one
// advance runs at a time; a concurrent call returns immediately. Unless
// forceSkip is set, the advance is skipped while the player is busy.
//
// When a track's resource cannot be produced, the failure is logged and the
// next entry is tried, bounded only by queue exhaustion.
func (e *QueueEngine) Advance(ctx context.Context, forceSkip bool) {
	if !e.advancing.CompareAndSwap(false, true) {
		return
	}
	defer e.advancing.Store(false)

	if !forceSkip && e.player.Status() != PlayerIdle {
		return
	}

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			if len(e.loopQueue) == 0 {
				e.shuffled = false
			} else {
				// Refill from the template, then mint a fresh template so
				// looped playback never replays a consumed instance. Both
				// sides reshuffle independently, so loop+shuffle never
				// reproduces the previous cycle's order.
				e.queue = cloneTracks(e.loopQueue)
				e.loopQueue = cloneTracks(e.loopQueue)
				if e.shuffled {
					shuffleTracks(e.queue)
					shuffleTracks(e.loopQueue)
				}
			}
		}
		if len(e.queue) == 0 {
			e.current = nil
			e.mu.Unlock()
			if forceSkip {
				e.player.Stop(true)
			}
			return
		}
		cur := e.queue[0]
		e.queue = e.queue[1:]
		e.current = cur
		e.mu.Unlock()

		res, err := cur.Resource(ctx, ResourceOptions{Speed: e.clock.Speed()})
		if err != nil {
			e.log.Error("produce audio resource, skipping track", "link", cur.Link, "err", err)
			forceSkip = true
			continue
		}

		// Reset before Play so a fast Playing transition cannot observe (and
		// then lose) its start timestamp to the reset.
		e.clock.Reset()
		e.player.Play(res)
		e.announce(cur)
		return
	}
}

func cloneTracks(ts []*Track) []*Track {
	if len(ts) == 0 {
		return nil
	}
	out := make([]*Track, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}

func shuffleTracks(ts []*Track) {
	rand.Shuffle(len(ts), func(i, j int) {
		ts[i], ts[j] = ts[j], ts[i]
	})
}
