package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Session is the per-guild composition root. It wires the queue engine, the
// play clock and the connection supervisor to the transport and player
// collaborators, and exposes the public control surface the command layer
// calls into.
//
// A Session is created when the bot joins a voice channel and destroyed when
// the transport is destroyed or gives up reconnecting.
type Session struct {
	GuildID string

	log       *slog.Logger
	transport Transport
	player    Player
	engine    *QueueEngine
	clock     *PlayClock
	sup       *Supervisor

	unsubPlayer    func()
	unsubTransport func()
}

// Options configures a new Session.
type Options struct {
	GuildID   string
	Log       *slog.Logger
	Transport Transport
	Player    Player

	// Destroy removes the session from its registry; invoked by the
	// supervisor on unrecoverable transport failure.
	Destroy func(guildID string)

	// Announce optionally posts a "now playing" notification. Failures in
	// the announcer must never reach playback; implementations swallow them.
	Announce func(s *Session, t *Track)
}

func New(opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("guildID", opts.GuildID)

	s := &Session{
		GuildID:   opts.GuildID,
		log:       log,
		transport: opts.Transport,
		player:    opts.Player,
		clock:     NewPlayClock(),
	}

	announce := func(*Track) {}
	if opts.Announce != nil {
		announce = func(t *Track) { opts.Announce(s, t) }
	}
	s.engine = NewQueueEngine(log, opts.Player, s.clock, announce)

	teardown := func(reason string) {
		log.Error("tearing down session", "reason", reason)
		if opts.Destroy != nil {
			opts.Destroy(opts.GuildID)
		}
	}
	s.sup = NewSupervisor(log, opts.GuildID, opts.Transport, teardown, s.engine.Halt)

	s.unsubPlayer = opts.Player.Subscribe(s.handlePlayerState)
	s.unsubTransport = opts.Transport.Subscribe(s.sup.HandleTransportState)

	return s
}

// handlePlayerState fans player transitions out to the clock and, when the
// player has gone idle after doing something, to the queue engine.
func (s *Session) handlePlayerState(old, new PlayerStatus) {
	s.clock.HandlePlayerState(old, new)
	if old != PlayerIdle && new == PlayerIdle {
		go s.engine.Advance(context.Background(), false)
	}
}

func (s *Session) CurrentTrack() (*Track, bool) { return s.engine.Current() }
func (s *Session) Queue() []*Track              { return s.engine.Tracks() }
func (s *Session) QueueSize() int               { return s.engine.Size() }

func (s *Session) Enqueue(ctx context.Context, tracks []*Track, pushToFront bool) {
	s.engine.Enqueue(ctx, tracks, pushToFront)
}

func (s *Session) Remove(index int) (*Track, bool) { return s.engine.Remove(index) }
func (s *Session) Move(from, to int) (*Track, bool) {
	return s.engine.Move(from, to)
}
func (s *Session) Reverse() { s.engine.Reverse() }
func (s *Session) Clear()   { s.engine.Clear() }

func (s *Session) Loop()          { s.engine.Loop() }
func (s *Session) Unloop()        { s.engine.Unloop() }
func (s *Session) Looped() bool   { return s.engine.Looped() }
func (s *Session) Shuffle()       { s.engine.Shuffle() }
func (s *Session) Unshuffle()     { s.engine.Unshuffle() }
func (s *Session) Shuffled() bool { return s.engine.Shuffled() }

func (s *Session) Pause() bool  { return s.player.Pause() }
func (s *Session) Resume() bool { return s.player.Unpause() }
func (s *Session) Paused() bool {
	st := s.player.Status()
	return st == PlayerPaused || st == PlayerAutoPaused
}

// Stop hard-clears the queue, stops the player and resets the clock. The
// engine's advance guard stays engaged throughout so a queued idle event
// cannot resurrect a track mid-stop.
func (s *Session) Stop() {
	s.engine.Halt()
}

func (s *Session) Skip(ctx context.Context, extraSkips int) {
	s.engine.Skip(ctx, extraSkips)
}

func (s *Session) SetPlaybackSpeed(speed float64) { s.clock.SetSpeed(speed) }
func (s *Session) PlaybackSpeed() float64         { return s.clock.Speed() }

// Seek produces a fresh resource for the current track at the given offset
// and plays it immediately.
func (s *Session) Seek(ctx context.Context, pos time.Duration) error {
	cur, ok := s.engine.Current()
	if !ok {
		return errors.New("nothing is playing")
	}
	if cur.IsLive {
		return errors.New("can't seek in a livestream")
	}
	if cur.Length > 0 && pos > cur.Length {
		return errors.New("seek position is past the end of the track")
	}
	res, err := cur.Resource(ctx, ResourceOptions{Speed: s.clock.Speed(), Seek: pos})
	if err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	// Re-seed the clock before Play so a fast Playing transition lands on
	// the new offset instead of being wiped by the reset.
	s.clock.ResetToSeek(pos)
	s.player.Play(res)
	return nil
}

// CurrentTrackPlayTime is the estimated position within the current track.
func (s *Session) CurrentTrackPlayTime() time.Duration {
	return s.clock.Elapsed()
}

// Close stops playback, unsubscribes from the collaborators and destroys the
// transport. Called by the registry, never directly by command handlers.
func (s *Session) Close() {
	s.engine.Halt()
	s.sup.Close()
	if s.unsubPlayer != nil {
		s.unsubPlayer()
	}
	if s.unsubTransport != nil {
		s.unsubTransport()
	}
	s.transport.Destroy()
}
