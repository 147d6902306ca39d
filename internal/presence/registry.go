package presence

import (
	"sort"
	"sync"
	"time"
)

type sessionKey struct {
	guildID string
	userID  string
}

// Registry is the in-memory set of sessions currently being timed. It holds
// at most one session per (guild, user).
type Registry struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[sessionKey]*Session)}
}

// Start creates a session unless one already exists for (guild, user).
// It returns the session now registered and whether it was created.
func (r *Registry) Start(guildID, userID, channelID string, at time.Time) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{guildID, userID}
	if existing, ok := r.sessions[key]; ok {
		return *existing, false
	}

	session := &Session{
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: channelID,
		StartedAt: at,
	}
	r.sessions[key] = session
	return *session, true
}

// Stop removes the session for (guild, user) and returns it.
func (r *Registry) Stop(guildID, userID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{guildID, userID}
	session, ok := r.sessions[key]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, key)
	return *session, true
}

// Get returns the session for (guild, user) without removing it.
func (r *Registry) Get(guildID, userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionKey{guildID, userID}]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

// Restart moves the start of an existing session to at and returns the
// updated session. It is a no-op when no session exists.
func (r *Registry) Restart(guildID, userID string, at time.Time) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionKey{guildID, userID}]
	if !ok {
		return Session{}, false
	}
	session.StartedAt = at
	return *session, true
}

// ListActive returns the sessions of one guild ordered by start time.
func (r *Registry) ListActive(guildID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]Session, 0)
	for key, session := range r.sessions {
		if key.guildID == guildID {
			sessions = append(sessions, *session)
		}
	}
	sortSessions(sessions)
	return sessions
}

// ListAll returns every registered session.
func (r *Registry) ListAll() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, *session)
	}
	sortSessions(sessions)
	return sessions
}

// HasActive reports whether any user of the guild has a session.
func (r *Registry) HasActive(guildID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for key := range r.sessions {
		if key.guildID == guildID {
			return true
		}
	}
	return false
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func sortSessions(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		if sessions[i].GuildID != sessions[j].GuildID {
			return sessions[i].GuildID < sessions[j].GuildID
		}
		return sessions[i].UserID < sessions[j].UserID
	})
}
