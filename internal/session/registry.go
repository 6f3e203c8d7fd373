package session

import "sync"

// Registry holds the live sessions, one per guild. Sessions are independent
// and may run concurrently with each other.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the guild's session, creating it with create on first
// use.
func (r *Registry) GetOrCreate(guildID string, create func() *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s
	}
	s := create()
	r.sessions[guildID] = s
	return s
}

// Peek returns the guild's session without creating one.
func (r *Registry) Peek(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[guildID]
}

// Destroy removes and closes the guild's session. Safe to call for a guild
// with no session, and reentrancy-safe: the session is removed from the map
// before Close runs, so a transport event fired during Close finds nothing.
func (r *Registry) Destroy(guildID string) {
	r.mu.Lock()
	s := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()

	if s != nil {
		s.Close()
	}
}
