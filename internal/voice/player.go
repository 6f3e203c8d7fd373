package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/museko-bot/museko/internal/session"
)

const (
	frameInterval   = 20 * time.Millisecond
	bufferFrames    = 100
	minStartFrames  = 10
	sendTimeout     = 200 * time.Millisecond
	readyWait       = 5 * time.Second
	stopDrainWindow = 2 * time.Second
)

// Conn is the slice of the transport the frame player needs.
type Conn interface {
	Ready() bool
	Speaking(on bool)
	Send(frame []byte, timeout time.Duration) bool
}

// FramePlayer streams a single AudioResource's opus frames over the voice
// transport, paced one frame per 20 ms, and publishes its status transitions.
// It plays one resource at a time; Play tears down whatever was in flight.
type FramePlayer struct {
	log  *slog.Logger
	conn Conn

	mu      sync.Mutex
	status  session.PlayerStatus
	subs    map[int]func(old, new session.PlayerStatus)
	nextSub int
	cur     *playback
}

type playback struct {
	res    session.AudioResource
	buf    *frameBuffer
	cancel context.CancelFunc
	done   chan struct{}

	pauseMu sync.Mutex
	paused  bool
	resume  chan struct{}
}

func NewFramePlayer(log *slog.Logger, conn Conn) *FramePlayer {
	return &FramePlayer{
		log:    log,
		conn:   conn,
		status: session.PlayerIdle,
		subs:   make(map[int]func(old, new session.PlayerStatus)),
	}
}

func (p *FramePlayer) Play(res session.AudioResource) {
	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{
		res:    res,
		buf:    newFrameBuffer(bufferFrames),
		cancel: cancel,
		done:   make(chan struct{}),
		resume: make(chan struct{}, 1),
	}

	p.mu.Lock()
	old := p.cur
	p.cur = pb
	p.mu.Unlock()
	p.stopPlayback(old)

	p.setStatus(session.PlayerBuffering)

	go p.fill(ctx, pb)
	go p.stream(ctx, pb)
}

func (p *FramePlayer) Pause() bool {
	p.mu.Lock()
	pb := p.cur
	ok := pb != nil && p.status == session.PlayerPlaying
	p.mu.Unlock()
	if !ok {
		return false
	}

	pb.pauseMu.Lock()
	pb.paused = true
	pb.pauseMu.Unlock()
	p.setStatus(session.PlayerPaused)
	return true
}

func (p *FramePlayer) Unpause() bool {
	p.mu.Lock()
	pb := p.cur
	ok := pb != nil && (p.status == session.PlayerPaused || p.status == session.PlayerAutoPaused)
	p.mu.Unlock()
	if !ok {
		return false
	}

	pb.pauseMu.Lock()
	pb.paused = false
	pb.pauseMu.Unlock()
	select {
	case pb.resume <- struct{}{}:
	default:
	}
	p.setStatus(session.PlayerPlaying)
	return true
}

func (p *FramePlayer) Stop(force bool) bool {
	p.mu.Lock()
	pb := p.cur
	p.cur = nil
	p.mu.Unlock()
	if pb == nil && !force {
		return false
	}
	p.stopPlayback(pb)
	p.setStatus(session.PlayerIdle)
	return true
}

func (p *FramePlayer) Status() session.PlayerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *FramePlayer) Subscribe(fn func(old, new session.PlayerStatus)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// fill reads frames from the resource into the ring buffer.
func (p *FramePlayer) fill(ctx context.Context, pb *playback) {
	defer pb.buf.MarkEOS()

	for {
		frame, err := pb.res.ReadFrame()
		if err != nil {
			return
		}
		for !pb.buf.Push(frame) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(frameInterval / 2):
			}
		}
	}
}

// stream waits for the buffer to prime and the transport to be ready, then
// sends frames paced at the frame interval until the resource runs out.
func (p *FramePlayer) stream(ctx context.Context, pb *playback) {
	defer func() {
		pb.buf.Close()
		_ = pb.res.Close()
		pb.cancel()
		close(pb.done)
	}()

	if !p.waitForStart(ctx, pb) {
		p.finish(pb, false)
		return
	}

	p.conn.Speaking(true)
	defer p.conn.Speaking(false)
	p.setStatusIfCurrent(pb, session.PlayerPlaying)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		if !p.waitWhilePaused(ctx, pb) {
			p.finish(pb, false)
			return
		}

		frame, ok := pb.buf.Pop()
		if !ok {
			p.finish(pb, true)
			return
		}

		select {
		case <-ctx.Done():
			p.finish(pb, false)
			return
		case <-ticker.C:
		}

		if !p.conn.Send(frame, sendTimeout) {
			p.log.Debug("dropped frame: send timeout")
		}
	}
}

func (p *FramePlayer) waitForStart(ctx context.Context, pb *playback) bool {
	deadline := time.Now().Add(readyWait)
	for time.Now().Before(deadline) {
		// A short resource may end before reaching the priming threshold.
		if p.conn.Ready() && (pb.buf.BufferedCount() >= minStartFrames || pb.buf.EndOfStream()) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
	p.log.Warn("playback never became ready")
	return false
}

// waitWhilePaused blocks while the playback is paused. Returns false when the
// context was cancelled.
func (p *FramePlayer) waitWhilePaused(ctx context.Context, pb *playback) bool {
	for {
		pb.pauseMu.Lock()
		paused := pb.paused
		pb.pauseMu.Unlock()
		if !paused {
			return true
		}
		p.conn.Speaking(false)
		select {
		case <-ctx.Done():
			return false
		case <-pb.resume:
			p.conn.Speaking(true)
		}
	}
}

// finish transitions to idle if pb is still the live playback. toIdle is
// false when the playback was cancelled by a successor or a stop, in which
// case the successor owns the status.
func (p *FramePlayer) finish(pb *playback, toIdle bool) {
	p.mu.Lock()
	isCurrent := p.cur == pb
	if isCurrent {
		p.cur = nil
	}
	p.mu.Unlock()

	if isCurrent && toIdle {
		p.setStatus(session.PlayerIdle)
	}
}

// stopPlayback cancels pb and waits briefly for its goroutines to wind down.
func (p *FramePlayer) stopPlayback(pb *playback) {
	if pb == nil {
		return
	}
	pb.cancel()
	pb.buf.Close()
	select {
	case <-pb.done:
	case <-time.After(stopDrainWindow):
	}
}

func (p *FramePlayer) setStatusIfCurrent(pb *playback, st session.PlayerStatus) {
	p.mu.Lock()
	if p.cur != pb {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.setStatus(st)
}

func (p *FramePlayer) setStatus(st session.PlayerStatus) {
	p.mu.Lock()
	old := p.status
	if old == st {
		p.mu.Unlock()
		return
	}
	p.status = st
	fns := make([]func(old, new session.PlayerStatus), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(old, st)
	}
}
