package voice

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museko-bot/museko/internal/session"
)

type fakeConn struct {
	mu       sync.Mutex
	ready    bool
	sent     int
	speaking bool
}

func (c *fakeConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeConn) Speaking(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speaking = on
}

func (c *fakeConn) Send(frame []byte, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	return true
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// stubResource yields n frames then EOF.
type stubResource struct {
	mu     sync.Mutex
	n      int
	closed bool
}

func (r *stubResource) ReadFrame() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n <= 0 {
		return nil, io.EOF
	}
	r.n--
	return []byte{0xf8, 0xff, 0xfe}, nil
}

func (r *stubResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *stubResource) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

type transitions struct {
	mu   sync.Mutex
	seen []session.PlayerStatus
}

func (tr *transitions) record(old, new session.PlayerStatus) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.seen = append(tr.seen, new)
}

func (tr *transitions) snapshot() []session.PlayerStatus {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]session.PlayerStatus, len(tr.seen))
	copy(out, tr.seen)
	return out
}

func TestFramePlayerPlaysToCompletion(t *testing.T) {
	conn := &fakeConn{ready: true}
	p := NewFramePlayer(slog.Default(), conn)

	tr := &transitions{}
	cancel := p.Subscribe(tr.record)
	defer cancel()

	res := &stubResource{n: 15}
	p.Play(res)

	waitFor(t, func() bool { return p.Status() == session.PlayerIdle && res.isClosed() })
	assert.Equal(t, 15, conn.sentCount())
	assert.Equal(t,
		[]session.PlayerStatus{session.PlayerBuffering, session.PlayerPlaying, session.PlayerIdle},
		tr.snapshot())
}

func TestFramePlayerPauseStopsSending(t *testing.T) {
	conn := &fakeConn{ready: true}
	p := NewFramePlayer(slog.Default(), conn)

	res := &stubResource{n: 500}
	p.Play(res)
	waitFor(t, func() bool { return p.Status() == session.PlayerPlaying })

	require.True(t, p.Pause())
	assert.Equal(t, session.PlayerPaused, p.Status())

	time.Sleep(100 * time.Millisecond)
	sentWhilePaused := conn.sentCount()
	time.Sleep(100 * time.Millisecond)
	// One in-flight frame may land after the pause; nothing beyond that.
	assert.InDelta(t, sentWhilePaused, conn.sentCount(), 1)

	require.True(t, p.Unpause())
	waitFor(t, func() bool { return conn.sentCount() > sentWhilePaused+1 })

	p.Stop(true)
	assert.Equal(t, session.PlayerIdle, p.Status())
}

func TestFramePlayerPauseWhenIdleFails(t *testing.T) {
	p := NewFramePlayer(slog.Default(), &fakeConn{ready: true})
	assert.False(t, p.Pause())
	assert.False(t, p.Unpause())
}

func TestFramePlayerNewPlaySupersedesOld(t *testing.T) {
	conn := &fakeConn{ready: true}
	p := NewFramePlayer(slog.Default(), conn)

	first := &stubResource{n: 5000}
	p.Play(first)
	waitFor(t, func() bool { return p.Status() == session.PlayerPlaying })

	second := &stubResource{n: 15}
	p.Play(second)

	waitFor(t, func() bool { return first.isClosed() })
	waitFor(t, func() bool { return p.Status() == session.PlayerIdle && second.isClosed() })
}

func TestFrameBuffer(t *testing.T) {
	fb := newFrameBuffer(4)
	require.True(t, fb.Push([]byte{1}))
	require.True(t, fb.Push([]byte{2}))
	require.True(t, fb.Push([]byte{3}))
	// Ring keeps one slot free.
	assert.False(t, fb.Push([]byte{4}))
	assert.Equal(t, 3, fb.BufferedCount())

	f, ok := fb.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte{1}, f)

	fb.MarkEOS()
	assert.False(t, fb.Push([]byte{5}))

	_, ok = fb.Pop()
	assert.True(t, ok)
	_, ok = fb.Pop()
	assert.True(t, ok)
	_, ok = fb.Pop()
	assert.False(t, ok, "EOS with empty buffer ends the stream")
}
