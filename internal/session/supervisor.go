package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	maxRejoinAttempts = 5
	rejoinBackoffUnit = 5 * time.Second
	ambiguousWait     = 5 * time.Second
	readinessTimeout  = 20 * time.Second
)

// Supervisor applies the reconnection and teardown policy to transport state
// transitions. It is subscribed once at session construction and unsubscribed
// at teardown.
//
// Teardown is irreversible: once invoked, a later state transition cannot
// recall it.
type Supervisor struct {
	log      *slog.Logger
	guildID  string
	teardown func(reason string) // removes the session from the registry
	release  func()              // stops playback and frees resources

	backoffUnit   time.Duration
	ambiguousWait time.Duration
	readyTimeout  time.Duration

	mu             sync.Mutex
	transport      Transport
	readinessArmed bool
	rejoinTimer    *time.Timer
}

func NewSupervisor(log *slog.Logger, guildID string, transport Transport, teardown func(reason string), release func()) *Supervisor {
	return &Supervisor{
		log:           log,
		guildID:       guildID,
		transport:     transport,
		teardown:      teardown,
		release:       release,
		backoffUnit:   rejoinBackoffUnit,
		ambiguousWait: ambiguousWait,
		readyTimeout:  readinessTimeout,
	}
}

// rejoinDelay is the linear backoff before rejoin attempt attempts+1.
func (s *Supervisor) rejoinDelay(attempts int) time.Duration {
	return time.Duration(attempts+1) * s.backoffUnit
}

// HandleTransportState is the subscription callback.
func (s *Supervisor) HandleTransportState(old, new TransportState) {
	switch new.Status {
	case TransportDisconnected:
		s.handleDisconnected(new)
	case TransportDestroyed:
		s.release()
	case TransportConnecting, TransportSignalling:
		s.armReadinessTimer()
	}
}

func (s *Supervisor) handleDisconnected(st TransportState) {
	if st.CloseCode == CloseCodeMovedOrKicked {
		// Either moved to another channel (the transport will re-enter
		// Connecting on its own) or kicked. Give it a grace period before
		// concluding the latter.
		go func() {
			err := s.transport.AwaitStatus(context.Background(), TransportConnecting, s.ambiguousWait)
			if err != nil {
				s.teardown("removed from voice channel")
			}
		}()
		return
	}

	attempts := s.transport.RejoinAttempts()
	if attempts >= maxRejoinAttempts {
		s.teardown("rejoin attempts exhausted")
		return
	}

	delay := s.rejoinDelay(attempts)
	s.log.Warn("transport disconnected, scheduling rejoin",
		"guildID", s.guildID, "attempt", attempts+1, "delay", delay)

	s.mu.Lock()
	if s.rejoinTimer != nil {
		s.rejoinTimer.Stop()
	}
	s.rejoinTimer = time.AfterFunc(delay, func() {
		if !s.transport.Rejoin() {
			s.teardown("rejoin failed")
		}
	})
	s.mu.Unlock()
}

// armReadinessTimer guards against limbo in a half-established connection:
// if Ready is not reached within the window, the session is torn down. Only
// one timer may be armed at a time.
func (s *Supervisor) armReadinessTimer() {
	s.mu.Lock()
	if s.readinessArmed {
		s.mu.Unlock()
		return
	}
	s.readinessArmed = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.readinessArmed = false
			s.mu.Unlock()
		}()
		err := s.transport.AwaitStatus(context.Background(), TransportReady, s.readyTimeout)
		if err != nil {
			s.teardown("voice connection never became ready")
		}
	}()
}

// Close cancels any pending rejoin timer.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejoinTimer != nil {
		s.rejoinTimer.Stop()
		s.rejoinTimer = nil
	}
}
