package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goodtune/patrol/internal/storage"
)

// pauseFlags is the in-memory pause state of every guild.
type pauseFlags struct {
	mu     sync.RWMutex
	guilds map[string]*guildPause
}

type guildPause struct {
	paused bool
	users  map[string]struct{}
}

func newPauseFlags() *pauseFlags {
	return &pauseFlags{guilds: make(map[string]*guildPause)}
}

func (p *pauseFlags) entry(guildID string) *guildPause {
	gp, ok := p.guilds[guildID]
	if !ok {
		gp = &guildPause{users: make(map[string]struct{})}
		p.guilds[guildID] = gp
	}
	return gp
}

func (p *pauseFlags) setGuild(guildID string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(guildID).paused = paused
}

func (p *pauseFlags) setUser(guildID, userID string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gp := p.entry(guildID)
	if paused {
		gp.users[userID] = struct{}{}
	} else {
		delete(gp.users, userID)
	}
}

func (p *pauseFlags) isPaused(guildID, userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gp, ok := p.guilds[guildID]
	if !ok {
		return false
	}
	if gp.paused {
		return true
	}
	_, ok = gp.users[userID]
	return ok
}

func (p *pauseFlags) snapshot(guildID string) storage.PauseState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state := storage.PauseState{GuildID: guildID, UserIDs: []string{}}
	gp, ok := p.guilds[guildID]
	if !ok {
		return state
	}
	state.GuildPaused = gp.paused
	for userID := range gp.users {
		state.UserIDs = append(state.UserIDs, userID)
	}
	sort.Strings(state.UserIDs)
	return state
}

func (p *pauseFlags) load(states []storage.PauseState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, state := range states {
		gp := p.entry(state.GuildID)
		gp.paused = state.GuildPaused
		for _, userID := range state.UserIDs {
			gp.users[userID] = struct{}{}
		}
	}
}

// guildFlag reports whether the guild-wide flag is set.
func (p *pauseFlags) guildFlag(guildID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gp, ok := p.guilds[guildID]
	return ok && gp.paused
}

// userFlag reports whether the user's own flag is set, ignoring the guild flag.
func (p *pauseFlags) userFlag(guildID, userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gp, ok := p.guilds[guildID]
	if !ok {
		return false
	}
	_, ok = gp.users[userID]
	return ok
}

// IsPaused reports whether accrual is suppressed for (guild, user), either by
// the guild-wide flag or the user's own flag.
func (t *Tracker) IsPaused(guildID, userID string) bool {
	return t.pauses.isPaused(guildID, userID)
}

// PauseState returns the pause flags of a guild.
func (t *Tracker) PauseState(guildID string) storage.PauseState {
	return t.pauses.snapshot(guildID)
}

// PauseUser suppresses accrual for one user. It returns false, without
// changing anything, while the user has an open session.
func (t *Tracker) PauseUser(ctx context.Context, guildID, userID string) (bool, error) {
	unlock := t.locks.lockUser(guildID, userID)
	defer unlock()

	if _, active := t.registry.Get(guildID, userID); active {
		t.logger.Debug().
			Str("guild_id", guildID).
			Str("user_id", userID).
			Msg("Pause rejected, user has an active session")
		return false, nil
	}

	if err := t.pauseStore.SetUserPaused(ctx, guildID, userID, true); err != nil {
		return false, t.storageError("pause_user", fmt.Errorf("failed to persist user pause: %w", err))
	}
	t.pauses.setUser(guildID, userID, true)

	t.logger.Info().
		Str("guild_id", guildID).
		Str("user_id", userID).
		Msg("User paused")
	return true, nil
}

// UnpauseUser clears the user's pause flag. If the flag was set, the clock of
// the user's open session restarts so paused time is never credited.
func (t *Tracker) UnpauseUser(ctx context.Context, guildID, userID string) error {
	unlock := t.locks.lockUser(guildID, userID)
	defer unlock()

	now := t.clock.Now()
	var sessions []Session
	if session, active := t.registry.Get(guildID, userID); active && t.pauses.userFlag(guildID, userID) {
		sessions = append(sessions, session)
	}

	if err := t.restartDurable(ctx, sessions, now); err != nil {
		return err
	}
	if err := t.pauseStore.SetUserPaused(ctx, guildID, userID, false); err != nil {
		t.restoreDurable(ctx, sessions)
		return t.storageError("unpause_user", fmt.Errorf("failed to persist user unpause: %w", err))
	}
	t.pauses.setUser(guildID, userID, false)
	for _, session := range sessions {
		t.registry.Restart(guildID, session.UserID, now)
	}

	t.logger.Info().
		Str("guild_id", guildID).
		Str("user_id", userID).
		Bool("clock_restarted", len(sessions) > 0).
		Msg("User unpaused")
	return nil
}

// PauseGuild suppresses accrual for a whole guild. It returns false, without
// changing anything, while any user of the guild has an open session.
func (t *Tracker) PauseGuild(ctx context.Context, guildID string) (bool, error) {
	unlock := t.locks.lockGuild(guildID)
	defer unlock()

	if t.registry.HasActive(guildID) {
		t.logger.Debug().
			Str("guild_id", guildID).
			Msg("Guild pause rejected, sessions are active")
		return false, nil
	}

	if err := t.pauseStore.SetGuildPaused(ctx, guildID, true); err != nil {
		return false, t.storageError("pause_guild", fmt.Errorf("failed to persist guild pause: %w", err))
	}
	t.pauses.setGuild(guildID, true)

	t.logger.Info().Str("guild_id", guildID).Msg("Guild paused")
	return true, nil
}

// UnpauseGuild clears the guild-wide flag. If the flag was set, the clock of
// every open session in the guild restarts.
func (t *Tracker) UnpauseGuild(ctx context.Context, guildID string) error {
	unlock := t.locks.lockGuild(guildID)
	defer unlock()

	now := t.clock.Now()
	var sessions []Session
	if t.pauses.guildFlag(guildID) {
		sessions = t.registry.ListActive(guildID)
	}

	if err := t.restartDurable(ctx, sessions, now); err != nil {
		return err
	}
	if err := t.pauseStore.SetGuildPaused(ctx, guildID, false); err != nil {
		t.restoreDurable(ctx, sessions)
		return t.storageError("unpause_guild", fmt.Errorf("failed to persist guild unpause: %w", err))
	}
	t.pauses.setGuild(guildID, false)
	for _, session := range sessions {
		t.registry.Restart(guildID, session.UserID, now)
	}

	t.logger.Info().
		Str("guild_id", guildID).
		Int("restarted_sessions", len(sessions)).
		Msg("Guild unpaused")
	return nil
}
