package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/patrol/internal/storage"
)

// CurrentlyTracked lists the users of a guild whose presence is being timed.
func (t *Tracker) CurrentlyTracked(guildID string) []TrackedUser {
	now := t.clock.Now()
	sessions := t.registry.ListActive(guildID)

	users := make([]TrackedUser, 0, len(sessions))
	for _, session := range sessions {
		users = append(users, TrackedUser{
			UserID:    session.UserID,
			ChannelID: session.ChannelID,
			StartedAt: session.StartedAt,
			Elapsed:   session.Elapsed(now),
			Paused:    t.IsPaused(guildID, session.UserID),
		})
	}
	return users
}

// AllTimeTotal returns the durable all-time total of a user plus the live
// time of their open, unpaused session.
func (t *Tracker) AllTimeTotal(ctx context.Context, guildID, userID string) (uint64, error) {
	var total uint64
	row, err := t.totals.GetAllTime(ctx, guildID, userID)
	switch {
	case err == nil:
		total = row.TotalMs
	case !errors.Is(err, storage.ErrNotFound):
		return 0, fmt.Errorf("failed to get all-time total: %w", err)
	}

	if session, ok := t.liveSession(guildID, userID); ok {
		total += uint64(session.Elapsed(t.clock.Now()).Milliseconds())
	}
	return total, nil
}

// MonthTotal returns the durable total of a user for one UTC month plus the
// part of their open, unpaused session that falls inside that month.
func (t *Tracker) MonthTotal(ctx context.Context, guildID, userID string, year, month int) (uint64, error) {
	if !storage.ValidMonth(year, month) {
		return 0, fmt.Errorf("invalid month %d-%d", year, month)
	}

	var total uint64
	row, err := t.totals.GetMonthly(ctx, guildID, userID, year, month)
	switch {
	case err == nil:
		total = row.TotalMs
	case !errors.Is(err, storage.ErrNotFound):
		return 0, fmt.Errorf("failed to get monthly total: %w", err)
	}

	if session, ok := t.liveSession(guildID, userID); ok {
		total += uint64(monthDelta(session, t.clock.Now(), year, month).Milliseconds())
	}
	return total, nil
}

// Leaderboard ranks the users of a guild by total time in scope, including
// live time of open, unpaused sessions.
func (t *Tracker) Leaderboard(ctx context.Context, guildID string, scope Scope, limit int) ([]LeaderboardEntry, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}

	durable := make(map[string]uint64)
	switch scope.Kind {
	case ScopeAllTime:
		rows, err := t.totals.ListAllTime(ctx, guildID)
		if err != nil {
			return nil, fmt.Errorf("failed to list all-time totals: %w", err)
		}
		for _, row := range rows {
			durable[row.UserID] += row.TotalMs
		}
	case ScopeMonth:
		rows, err := t.totals.ListMonthly(ctx, guildID, scope.Year, scope.Month)
		if err != nil {
			return nil, fmt.Errorf("failed to list monthly totals: %w", err)
		}
		for _, row := range rows {
			durable[row.UserID] += row.TotalMs
		}
	case ScopeChannel:
		rows, err := t.totals.ListChannel(ctx, guildID, scope.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("failed to list channel totals: %w", err)
		}
		for _, row := range rows {
			durable[row.UserID] += row.TotalMs
		}
	}

	now := t.clock.Now()
	live := make(map[string]uint64)
	for _, session := range t.registry.ListActive(guildID) {
		if t.IsPaused(guildID, session.UserID) {
			continue
		}
		var delta time.Duration
		switch scope.Kind {
		case ScopeAllTime:
			delta = session.Elapsed(now)
		case ScopeMonth:
			delta = monthDelta(session, now, scope.Year, scope.Month)
			if _, ranked := durable[session.UserID]; delta == 0 && !ranked {
				// The session does not reach into this month
				continue
			}
		case ScopeChannel:
			if session.ChannelID != scope.ChannelID {
				continue
			}
			delta = session.Elapsed(now)
		}
		live[session.UserID] = uint64(delta.Milliseconds())
	}

	entries := make([]LeaderboardEntry, 0, len(durable)+len(live))
	for userID, total := range durable {
		liveMs, active := live[userID]
		if total == 0 && !active {
			continue
		}
		entries = append(entries, LeaderboardEntry{UserID: userID, TotalMs: total + liveMs, LiveMs: liveMs, Active: active})
	}
	for userID, liveMs := range live {
		if _, ok := durable[userID]; ok {
			continue
		}
		entries = append(entries, LeaderboardEntry{UserID: userID, TotalMs: liveMs, LiveMs: liveMs, Active: true})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalMs != entries[j].TotalMs {
			return entries[i].TotalMs > entries[j].TotalMs
		}
		return entries[i].UserID < entries[j].UserID
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// Adjust adds deltaMs (negative to subtract) to a user's all-time total and to
// the total of the given month, flooring both at zero. A zero year and month
// selects the current UTC month. Open sessions are not touched.
func (t *Tracker) Adjust(ctx context.Context, guildID, userID string, deltaMs int64, year, month int) error {
	if year == 0 && month == 0 {
		now := t.clock.Now()
		year, month = now.Year(), int(now.Month())
	}
	if !storage.ValidMonth(year, month) {
		return fmt.Errorf("invalid month %d-%d", year, month)
	}

	if err := t.totals.AdjustTotals(ctx, guildID, userID, year, month, deltaMs); err != nil {
		return t.storageError("adjust", fmt.Errorf("failed to adjust totals: %w", err))
	}

	t.logger.Info().
		Str("guild_id", guildID).
		Str("user_id", userID).
		Int64("delta_ms", deltaMs).
		Str("month", storage.MonthKey(year, month)).
		Msg("Adjusted presence totals")
	return nil
}

// Reset zeroes the all-time total of one user, or of every user in the guild
// when userID is empty. Open sessions keep running from now, so time before
// the reset is not credited afterwards.
func (t *Tracker) Reset(ctx context.Context, guildID, userID string) error {
	var unlock func()
	if userID == "" {
		unlock = t.locks.lockGuild(guildID)
	} else {
		unlock = t.locks.lockUser(guildID, userID)
	}
	defer unlock()

	now := t.clock.Now()
	var sessions []Session
	if userID == "" {
		sessions = t.registry.ListActive(guildID)
	} else if session, ok := t.registry.Get(guildID, userID); ok {
		sessions = []Session{session}
	}

	if err := t.restartDurable(ctx, sessions, now); err != nil {
		return err
	}

	var err error
	if userID == "" {
		err = t.totals.ResetGuildAllTime(ctx, guildID)
	} else {
		err = t.totals.ResetAllTime(ctx, guildID, userID)
	}
	if err != nil {
		t.restoreDurable(ctx, sessions)
		return t.storageError("reset", fmt.Errorf("failed to reset totals: %w", err))
	}

	for _, session := range sessions {
		t.registry.Restart(guildID, session.UserID, now)
	}

	t.logger.Info().
		Str("guild_id", guildID).
		Str("user_id", userID).
		Int("restarted_sessions", len(sessions)).
		Msg("Reset all-time totals")
	return nil
}

// liveSession returns the user's open session if it is accruing.
func (t *Tracker) liveSession(guildID, userID string) (Session, bool) {
	session, ok := t.registry.Get(guildID, userID)
	if !ok || t.IsPaused(guildID, userID) {
		return Session{}, false
	}
	return session, true
}

// monthDelta returns the part of an open session inside the given month.
func monthDelta(session Session, now time.Time, year, month int) time.Duration {
	start, end := monthBounds(year, month)
	return overlap(session.StartedAt, now, start, end)
}
