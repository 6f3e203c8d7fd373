package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

type fakeResource struct {
	track  *Track
	opts   ResourceOptions
	closed bool
}

func (r *fakeResource) ReadFrame() ([]byte, error) { return nil, io.EOF }
func (r *fakeResource) Close() error               { r.closed = true; return nil }

// fakeSource mints fakeResources and can be told to fail for specific links.
type fakeSource struct {
	mu       sync.Mutex
	failFor  map[string]bool
	produced []*fakeResource
}

func newFakeSource() *fakeSource {
	return &fakeSource{failFor: make(map[string]bool)}
}

func (s *fakeSource) Produce(ctx context.Context, t *Track, opts ResourceOptions) (AudioResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[t.Link] {
		return nil, errors.New("resolve failed")
	}
	r := &fakeResource{track: t, opts: opts}
	s.produced = append(s.produced, r)
	return r, nil
}

func (s *fakeSource) track(link string) *Track {
	return NewTrack(link, VariantYouTube, s)
}

type fakePlayer struct {
	mu      sync.Mutex
	status  PlayerStatus
	playing []AudioResource
	stops   int
	subs    map[int]func(old, new PlayerStatus)
	nextSub int
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{status: PlayerIdle, subs: make(map[int]func(old, new PlayerStatus))}
}

func (p *fakePlayer) Play(res AudioResource) {
	p.mu.Lock()
	p.playing = append(p.playing, res)
	p.mu.Unlock()
	p.setStatus(PlayerPlaying)
}

func (p *fakePlayer) Pause() bool {
	if p.Status() != PlayerPlaying {
		return false
	}
	p.setStatus(PlayerPaused)
	return true
}

func (p *fakePlayer) Unpause() bool {
	if p.Status() != PlayerPaused {
		return false
	}
	p.setStatus(PlayerPlaying)
	return true
}

func (p *fakePlayer) Stop(force bool) bool {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	p.setStatus(PlayerIdle)
	return true
}

func (p *fakePlayer) Status() PlayerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakePlayer) Subscribe(fn func(old, new PlayerStatus)) func() {
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

func (p *fakePlayer) setStatus(st PlayerStatus) {
	p.mu.Lock()
	old := p.status
	if old == st {
		p.mu.Unlock()
		return
	}
	p.status = st
	fns := make([]func(old, new PlayerStatus), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(old, st)
	}
}

func (p *fakePlayer) lastPlayed() *fakeResource {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.playing) == 0 {
		return nil
	}
	return p.playing[len(p.playing)-1].(*fakeResource)
}

func (p *fakePlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.playing)
}

func (p *fakePlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

type fakeTransport struct {
	mu       sync.Mutex
	state    TransportState
	subs     map[int]func(old, new TransportState)
	nextSub  int
	attempts int
	rejoins  int
	rejoinOK bool

	// awaitResults maps a target status to the error AwaitStatus returns
	// for it; missing entries block until timeout.
	awaitResults map[TransportStatus]error
	destroyed    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:        TransportState{Status: TransportReady},
		subs:         make(map[int]func(old, new TransportState)),
		rejoinOK:     true,
		awaitResults: make(map[TransportStatus]error),
	}
}

func (t *fakeTransport) Subscribe(fn func(old, new TransportState)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

func (t *fakeTransport) AwaitStatus(ctx context.Context, status TransportStatus, timeout time.Duration) error {
	t.mu.Lock()
	err, ok := t.awaitResults[status]
	cur := t.state.Status
	t.mu.Unlock()
	if cur == status {
		return nil
	}
	if ok {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errors.New("timed out")
	}
}

func (t *fakeTransport) Rejoin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejoins++
	t.attempts++
	return t.rejoinOK
}

func (t *fakeTransport) RejoinAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func (t *fakeTransport) Destroy() {
	t.mu.Lock()
	t.destroyed = true
	t.mu.Unlock()
	t.emit(TransportState{Status: TransportDestroyed})
}

func (t *fakeTransport) emit(st TransportState) {
	t.mu.Lock()
	old := t.state
	t.state = st
	fns := make([]func(old, new TransportState), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(old, st)
	}
}

func (t *fakeTransport) rejoinCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rejoins
}

func (t *fakeTransport) isDestroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}
