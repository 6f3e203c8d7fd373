package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/museko-bot/museko/internal/session"
)

// Transport adapts a discordgo voice connection to the session.Transport
// contract. discordgo exposes only a Ready flag, so the adapter synthesizes
// the full state sequence: Signalling/Connecting around the join handshake, a
// watcher that flags Ready flapping as Disconnected, and a gateway-fed close
// code for the cases discordgo does not surface (moved channel, kicked).
type Transport struct {
	log     *slog.Logger
	dg      *discordgo.Session
	guildID string

	mu          sync.Mutex
	channelID   string
	vc          *discordgo.VoiceConnection
	state       session.TransportState
	subs        map[int]func(old, new session.TransportState)
	nextSub     int
	attempts    int
	destroyed   bool
	watchCancel context.CancelFunc
}

func NewTransport(log *slog.Logger, dg *discordgo.Session, guildID, channelID string) *Transport {
	return &Transport{
		log:       log.With("guildID", guildID),
		dg:        dg,
		guildID:   guildID,
		channelID: channelID,
		state:     session.TransportState{Status: session.TransportSignalling},
		subs:      make(map[int]func(old, new session.TransportState)),
	}
}

// Join establishes the voice connection.
func (t *Transport) Join(ctx context.Context) error {
	t.setState(session.TransportState{Status: session.TransportSignalling})
	t.setState(session.TransportState{Status: session.TransportConnecting})

	t.mu.Lock()
	channelID := t.channelID
	t.mu.Unlock()

	vc, err := t.dg.ChannelVoiceJoin(t.guildID, channelID, false, true)
	if err != nil {
		t.setState(session.TransportState{Status: session.TransportDisconnected})
		return err
	}

	// Kill() panics on nil channels if the connection dies before the opus
	// pipeline came up.
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	if vc.OpusRecv == nil {
		vc.OpusRecv = make(chan *discordgo.Packet, 2)
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	t.mu.Lock()
	if t.watchCancel != nil {
		t.watchCancel()
	}
	t.vc = vc
	t.watchCancel = watchCancel
	t.mu.Unlock()

	go t.watch(watchCtx)

	t.setState(session.TransportState{Status: session.TransportReady})
	return nil
}

// MoveTo retargets the transport at another channel and rejoins it.
func (t *Transport) MoveTo(ctx context.Context, channelID string) error {
	t.mu.Lock()
	t.channelID = channelID
	t.mu.Unlock()
	return t.Join(ctx)
}

func (t *Transport) Subscribe(fn func(old, new session.TransportState)) func() {
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

func (t *Transport) AwaitStatus(ctx context.Context, status session.TransportStatus, timeout time.Duration) error {
	reached := make(chan struct{}, 1)
	cancel := t.Subscribe(func(old, new session.TransportState) {
		if new.Status == status {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	t.mu.Lock()
	cur := t.state.Status
	t.mu.Unlock()
	if cur == status {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return context.DeadlineExceeded
	}
}

// Rejoin re-establishes the connection to the current channel.
func (t *Transport) Rejoin() bool {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return false
	}
	t.attempts++
	attempt := t.attempts
	t.mu.Unlock()

	t.log.Info("rejoining voice channel", "attempt", attempt)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.Join(ctx); err != nil {
		t.log.Warn("rejoin failed", "attempt", attempt, "err", err)
		return false
	}
	return true
}

func (t *Transport) RejoinAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// NotifyClosed feeds a voice websocket close code observed on the gateway
// into the state machine. Used for the codes discordgo does not surface
// through the connection itself.
func (t *Transport) NotifyClosed(code int) {
	t.mu.Lock()
	destroyed := t.destroyed
	t.mu.Unlock()
	if destroyed {
		return
	}
	t.setState(session.TransportState{Status: session.TransportDisconnected, CloseCode: code})
}

// NotifyMoved retargets the transport after the gateway moved the bot to
// another channel. discordgo re-establishes the voice connection on its own,
// so the state machine replays the close-then-reconnect sequence here: close
// code 4014 followed by Connecting, which is how an observer tells a move
// from a kick. The watcher reports Ready once the connection recovers.
func (t *Transport) NotifyMoved(channelID string) {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.channelID = channelID
	t.mu.Unlock()

	t.setState(session.TransportState{Status: session.TransportDisconnected, CloseCode: session.CloseCodeMovedOrKicked})
	t.setState(session.TransportState{Status: session.TransportConnecting})
}

// Destroy permanently tears the connection down.
func (t *Transport) Destroy() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	if t.watchCancel != nil {
		t.watchCancel()
		t.watchCancel = nil
	}
	vc := t.vc
	t.vc = nil
	t.mu.Unlock()

	if vc != nil {
		t.safeDisconnect(vc)
	}
	t.setState(session.TransportState{Status: session.TransportDestroyed})
}

func (t *Transport) safeDisconnect(vc *discordgo.VoiceConnection) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("voice disconnect panic recovered", "panic", r)
		}
	}()

	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	if vc.OpusRecv == nil {
		vc.OpusRecv = make(chan *discordgo.Packet, 2)
	}

	_ = vc.Speaking(false)
	time.Sleep(150 * time.Millisecond)

	_ = vc.Disconnect()
}

// watch polls the connection's Ready flag and reports flaps as transitions.
// discordgo reconnects the voice websocket on its own; the watcher's job is
// only to tell the supervisor what happened.
func (t *Transport) watch(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		vc := t.vc
		cur := t.state.Status
		t.mu.Unlock()
		if vc == nil {
			return
		}

		switch {
		case cur == session.TransportReady && !vc.Ready:
			t.setState(session.TransportState{Status: session.TransportDisconnected})
		case cur == session.TransportDisconnected && vc.Ready:
			t.setState(session.TransportState{Status: session.TransportReady})
		case cur == session.TransportConnecting && vc.Ready:
			// Reached after a channel move, once discordgo's internal
			// reconnect has caught up.
			t.setState(session.TransportState{Status: session.TransportReady})
		}
	}
}

// Ready reports whether opus frames can be sent right now.
func (t *Transport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vc != nil && t.vc.Ready
}

// Speaking toggles the speaking indicator.
func (t *Transport) Speaking(on bool) {
	t.mu.Lock()
	vc := t.vc
	t.mu.Unlock()
	if vc != nil {
		_ = vc.Speaking(on)
	}
}

// Send delivers one opus frame, giving up after timeout.
func (t *Transport) Send(frame []byte, timeout time.Duration) bool {
	t.mu.Lock()
	vc := t.vc
	t.mu.Unlock()
	if vc == nil || vc.OpusSend == nil {
		return false
	}
	select {
	case vc.OpusSend <- frame:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ChannelID returns the channel the transport is (or was last) joined to.
func (t *Transport) ChannelID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channelID
}

func (t *Transport) setState(st session.TransportState) {
	t.mu.Lock()
	old := t.state
	if old.Status == st.Status && old.CloseCode == st.CloseCode {
		t.mu.Unlock()
		return
	}
	t.state = st
	fns := make([]func(old, new session.TransportState), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	t.log.Debug("voice transport state", "old", old.Status, "new", st.Status, "closeCode", st.CloseCode)
	for _, fn := range fns {
		fn(old, st)
	}
}
