package presence

import "sync"

// keyLocks serializes work per (guild, user). Guild-wide operations take the
// guild lock exclusively, which excludes every user of that guild.
type keyLocks struct {
	mu     sync.Mutex
	guilds map[string]*sync.RWMutex
	users  map[sessionKey]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{
		guilds: make(map[string]*sync.RWMutex),
		users:  make(map[sessionKey]*userLock),
	}
}

func (l *keyLocks) guild(guildID string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	gl, ok := l.guilds[guildID]
	if !ok {
		gl = &sync.RWMutex{}
		l.guilds[guildID] = gl
	}
	return gl
}

// lockUser locks (guild, user) and returns the matching unlock function.
func (l *keyLocks) lockUser(guildID, userID string) func() {
	gl := l.guild(guildID)
	gl.RLock()

	key := sessionKey{guildID, userID}
	l.mu.Lock()
	ul, ok := l.users[key]
	if !ok {
		ul = &userLock{}
		l.users[key] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()

	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.users, key)
		}
		l.mu.Unlock()

		gl.RUnlock()
	}
}

// lockGuild locks every user of a guild and returns the unlock function.
func (l *keyLocks) lockGuild(guildID string) func() {
	gl := l.guild(guildID)
	gl.Lock()
	return gl.Unlock
}
