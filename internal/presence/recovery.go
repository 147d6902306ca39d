package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// LivePresence is a user currently connected to a voice channel according to
// the event source's live state.
type LivePresence struct {
	UserID    string
	ChannelID string
	IsBot     bool
}

// LiveMembership lists the users currently connected to voice in a guild.
type LiveMembership interface {
	VoiceMembers(ctx context.Context, guildID string) ([]LivePresence, error)
}

// Bootstrap reconciles durable active-session records with live voice
// membership. It runs once, before any transition is processed, and releases
// HandleTransition when done even if some steps failed.
//
// Sessions whose user is no longer present are credited up to now: the real
// disconnect time during the outage is unknowable.
func (t *Tracker) Bootstrap(ctx context.Context, live LiveMembership) error {
	defer t.markReady()

	now := t.clock.Now()
	var errs []error

	pauses, err := t.pauseStore.ListPauses(ctx)
	if err != nil {
		errs = append(errs, t.storageError("list_pauses", fmt.Errorf("failed to load pause state: %w", err)))
	} else {
		t.pauses.load(pauses)
	}

	// Without the stored sessions, live members are still started: begin
	// overwrites whatever stale record they left behind.
	records, err := t.sessions.ListActiveSessions(ctx)
	if err != nil {
		errs = append(errs, t.storageError("list_sessions", fmt.Errorf("failed to load active sessions: %w", err)))
		records = nil
	}

	seeded := make(map[sessionKey]Session, len(records))
	for _, record := range records {
		session, _ := t.registry.Start(record.GuildID, record.UserID, record.ChannelID, record.StartedAt)
		seeded[sessionKey{record.GuildID, record.UserID}] = session
	}

	t.logger.Info().Int("sessions", len(seeded)).Msg("Seeded sessions from storage")

	present := make(map[sessionKey]bool)
	unreachable := make(map[string]bool)

	guilds := t.Guilds()
	sort.Strings(guilds)
	for _, guildID := range guilds {
		members, err := live.VoiceMembers(ctx, guildID)
		if err != nil {
			unreachable[guildID] = true
			t.logger.Warn().
				Err(err).
				Str("guild_id", guildID).
				Msg("Failed to list live voice members, keeping stored sessions")
			continue
		}

		started := 0
		for _, member := range members {
			if member.IsBot || !t.inCategory(ctx, guildID, member.ChannelID) {
				continue
			}
			key := sessionKey{guildID, member.UserID}
			present[key] = true

			if err := t.recoverMember(ctx, seeded, key, member.ChannelID); err != nil {
				errs = append(errs, err)
				continue
			}
			if _, ok := seeded[key]; !ok {
				started++
			}
		}

		t.updateGauge(guildID)
		t.logger.Info().
			Str("guild_id", guildID).
			Int("members", len(members)).
			Int("started", started).
			Msg("Reconciled live voice members")
	}

	finalized := 0
	for key, session := range seeded {
		if present[key] || unreachable[key.guildID] {
			continue
		}
		unlock := t.locks.lockUser(key.guildID, key.userID)
		err := t.finish(ctx, session, now)
		unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		finalized++
	}

	t.logger.Info().
		Int("tracked", t.registry.Len()).
		Int("finalized", finalized).
		Msg("Presence bootstrap complete")

	return errors.Join(errs...)
}

// recoverMember starts timing a member found present at startup. A seeded
// session in a different channel is closed out and restarted in the live one.
func (t *Tracker) recoverMember(ctx context.Context, seeded map[sessionKey]Session, key sessionKey, channelID string) error {
	unlock := t.locks.lockUser(key.guildID, key.userID)
	defer unlock()

	now := t.clock.Now()
	if session, ok := seeded[key]; ok {
		if session.ChannelID == channelID {
			return nil
		}
		if err := t.finish(ctx, session, now); err != nil {
			return err
		}
	}
	return t.begin(ctx, key.guildID, key.userID, channelID, now)
}
