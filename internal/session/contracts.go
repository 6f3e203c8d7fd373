package session

import (
	"context"
	"time"
)

// TransportStatus mirrors the lifecycle of the underlying voice connection.
type TransportStatus int

const (
	TransportSignalling TransportStatus = iota
	TransportConnecting
	TransportReady
	TransportDisconnected
	TransportDestroyed
)

func (s TransportStatus) String() string {
	switch s {
	case TransportSignalling:
		return "signalling"
	case TransportConnecting:
		return "connecting"
	case TransportReady:
		return "ready"
	case TransportDisconnected:
		return "disconnected"
	case TransportDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// CloseCodeMovedOrKicked is the voice websocket close code Discord sends both
// when the bot was moved to another channel and when it was kicked. The
// supervisor disambiguates by waiting for a reconnect attempt.
const CloseCodeMovedOrKicked = 4014

// TransportState is one observed state of the transport, including the close
// code when the status is TransportDisconnected.
type TransportState struct {
	Status    TransportStatus
	CloseCode int
}

// Transport is the voice connection collaborator. Implementations publish
// state transitions to subscribers registered before any transition occurs.
type Transport interface {
	// Subscribe registers fn for state transitions; the returned func
	// unregisters it.
	Subscribe(fn func(old, new TransportState)) (cancel func())
	// AwaitStatus blocks until the transport reaches status or the timeout
	// elapses, in which case it returns an error.
	AwaitStatus(ctx context.Context, status TransportStatus, timeout time.Duration) error
	// Rejoin asks the transport to re-establish the connection. It reports
	// whether a rejoin was initiated.
	Rejoin() bool
	// RejoinAttempts returns how many rejoins have been initiated so far.
	RejoinAttempts() int
	// Destroy tears the connection down permanently.
	Destroy()
}

// PlayerStatus mirrors the audio player states.
type PlayerStatus int

const (
	PlayerIdle PlayerStatus = iota
	PlayerBuffering
	PlayerPlaying
	PlayerPaused
	PlayerAutoPaused
)

func (s PlayerStatus) String() string {
	switch s {
	case PlayerIdle:
		return "idle"
	case PlayerBuffering:
		return "buffering"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerAutoPaused:
		return "autopaused"
	}
	return "unknown"
}

// Player is the audio-frame player collaborator.
type Player interface {
	Play(res AudioResource)
	Pause() bool
	Unpause() bool
	Stop(force bool) bool
	Status() PlayerStatus
	Subscribe(fn func(old, new PlayerStatus)) (cancel func())
}

// AudioResource is a single-use stream of 20 ms opus frames. Once consumed it
// cannot be rewound; playing a track again requires producing a new resource.
type AudioResource interface {
	// ReadFrame returns the next opus frame, or io.EOF when the stream ends.
	ReadFrame() ([]byte, error)
	Close() error
}
