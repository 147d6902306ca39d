package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/patrol/internal/metrics"
	"github.com/goodtune/patrol/internal/storage"
)

// HandleTransition applies one presence change. It blocks until Bootstrap
// has completed or ctx is done.
func (t *Tracker) HandleTransition(ctx context.Context, tr Transition) error {
	if tr.IsBot {
		metrics.Transitions.WithLabelValues("bot").Inc()
		return nil
	}
	if _, ok := t.categories[tr.GuildID]; !ok {
		metrics.Transitions.WithLabelValues("unconfigured").Inc()
		return nil
	}

	if err := t.waitReady(ctx); err != nil {
		return err
	}

	unlock := t.locks.lockUser(tr.GuildID, tr.UserID)
	defer unlock()

	now := t.clock.Now()
	wasTracked := t.inCategory(ctx, tr.GuildID, tr.PreviousChannelID)
	nowTracked := t.inCategory(ctx, tr.GuildID, tr.NewChannelID)
	moved := tr.PreviousChannelID != tr.NewChannelID

	// A registered session the event does not account for is left over from
	// a stop whose durable delete failed, or from a missed event. Close it
	// out first. A repeated enter for the session's own channel is a no-op.
	if existing, ok := t.registry.Get(tr.GuildID, tr.UserID); ok {
		end, failed := t.takeFailedStop(sessionKey{tr.GuildID, tr.UserID})
		unaccounted := (!wasTracked || existing.ChannelID != tr.PreviousChannelID) &&
			existing.ChannelID != tr.NewChannelID
		if failed || unaccounted {
			if !failed {
				end = now
			}
			t.logger.Warn().
				Str("guild_id", tr.GuildID).
				Str("user_id", tr.UserID).
				Str("channel_id", existing.ChannelID).
				Msg("Finalizing stale session")
			if err := t.finish(ctx, existing, end); err != nil {
				return err
			}
		}
	}

	outcome := "ignored"

	if wasTracked && (!nowTracked || moved) {
		if session, ok := t.registry.Get(tr.GuildID, tr.UserID); ok && session.ChannelID == tr.PreviousChannelID {
			if err := t.finish(ctx, session, now); err != nil {
				return err
			}
		}
		outcome = "stop"
	}

	// A same-channel update with no registered session retries a start
	// whose durable write failed.
	_, registered := t.registry.Get(tr.GuildID, tr.UserID)
	if nowTracked && (!wasTracked || moved || !registered) {
		if err := t.begin(ctx, tr.GuildID, tr.UserID, tr.NewChannelID, now); err != nil {
			return err
		}
		if outcome == "stop" {
			outcome = "move"
		} else {
			outcome = "start"
		}
	}

	metrics.Transitions.WithLabelValues(outcome).Inc()
	return nil
}

// begin registers a session and writes its durable mirror. A duplicate start
// keeps the existing session untouched.
func (t *Tracker) begin(ctx context.Context, guildID, userID, channelID string, now time.Time) error {
	session, created := t.registry.Start(guildID, userID, channelID, now)
	if !created {
		return nil
	}

	if err := t.persistSession(ctx, session); err != nil {
		t.registry.Stop(guildID, userID)
		return fmt.Errorf("failed to start session: %w", err)
	}
	t.updateGauge(guildID)

	t.logger.Info().
		Str("guild_id", guildID).
		Str("user_id", userID).
		Str("channel_id", channelID).
		Bool("paused", t.IsPaused(guildID, userID)).
		Msg("Started presence session")
	return nil
}

// finish finalizes a session ending at end. The durable record is deleted
// before the time is accrued: a crash in between loses the interval rather
// than crediting it twice. Paused and too-short intervals are discarded.
func (t *Tracker) finish(ctx context.Context, session Session, end time.Time) error {
	key := sessionKey{session.GuildID, session.UserID}

	err := t.sessions.DeleteActiveSession(ctx, session.GuildID, session.UserID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		t.markFailedStop(key, end)
		return t.storageError("delete_session", fmt.Errorf("failed to delete active session: %w", err))
	}

	t.registry.Stop(session.GuildID, session.UserID)
	t.takeFailedStop(key)
	t.updateGauge(session.GuildID)

	elapsed := session.Elapsed(end)
	log := t.logger.With().
		Str("guild_id", session.GuildID).
		Str("user_id", session.UserID).
		Str("channel_id", session.ChannelID).
		Dur("duration", elapsed).
		Logger()

	if t.IsPaused(session.GuildID, session.UserID) {
		metrics.SessionsDiscarded.WithLabelValues("paused").Inc()
		log.Debug().Msg("Session ended while paused, not counting")
		return nil
	}
	if elapsed < t.minSessionDuration {
		metrics.SessionsDiscarded.WithLabelValues("too_short").Inc()
		log.Debug().Dur("min_duration", t.minSessionDuration).Msg("Session too short, not counting")
		return nil
	}

	if err := t.accrue(ctx, session, end); err != nil {
		return err
	}

	log.Info().Msg("Finalized presence session")
	return nil
}
