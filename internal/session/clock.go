package session

import (
	"sync"
	"time"
)

// PlayClock estimates elapsed play time for the current track from player
// state transitions and wall-clock reads. The underlying player reports no
// timestamps, so the clock derives position from when playback actually
// started, how long it sat paused, the seek offset the resource was produced
// with, and the playback speed baked into that resource.
type PlayClock struct {
	mu           sync.Mutex
	now          func() time.Time
	started      time.Time // zero until the player first reports playing
	pauseStarted time.Time // non-zero only while currently paused
	totalPause   time.Duration
	seekOffset   time.Duration
	speed        float64
}

func NewPlayClock() *PlayClock {
	return &PlayClock{now: time.Now, speed: 1.0}
}

// HandlePlayerState feeds a player state transition into the clock. Buffering
// before the first Playing report is excluded from elapsed time.
func (c *PlayClock) HandlePlayerState(old, new PlayerStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case new == PlayerPlaying && c.started.IsZero():
		c.started = c.now()
	case new == PlayerPlaying && !c.pauseStarted.IsZero():
		c.totalPause += c.now().Sub(c.pauseStarted)
		c.pauseStarted = time.Time{}
	case old == PlayerPlaying && new != PlayerPlaying:
		c.pauseStarted = c.now()
	}
}

// Elapsed returns the estimated play position. Before playback has started it
// returns the seek offset, which is zero for a track started from the top.
func (c *PlayClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started.IsZero() {
		return c.seekOffset
	}
	pause := c.totalPause
	if !c.pauseStarted.IsZero() {
		pause += c.now().Sub(c.pauseStarted)
	}
	wall := c.now().Sub(c.started) - pause
	return time.Duration(float64(wall)*c.speed) + c.seekOffset
}

// Reset prepares the clock for a new track started from the beginning. The
// speed multiplier is process-held and survives resets.
func (c *PlayClock) Reset() {
	c.resetTo(0)
}

// ResetToSeek prepares the clock for a resource produced at the given offset.
func (c *PlayClock) ResetToSeek(offset time.Duration) {
	c.resetTo(offset)
}

func (c *PlayClock) resetTo(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = time.Time{}
	c.pauseStarted = time.Time{}
	c.totalPause = 0
	c.seekOffset = offset
}

func (c *PlayClock) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
}

func (c *PlayClock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}
