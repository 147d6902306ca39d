package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goodtune/patrol/internal/storage"
)

type sessionStore struct {
	db *sql.DB
}

// UpsertActiveSession creates or replaces the active session of a user.
func (s *sessionStore) UpsertActiveSession(ctx context.Context, session storage.ActiveSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_sessions (guild_id, user_id, channel_id, started_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (guild_id, user_id) DO UPDATE SET
		   channel_id = excluded.channel_id,
		   started_at = excluded.started_at`,
		session.GuildID, session.UserID, session.ChannelID, toMillis(session.StartedAt),
	)
	return err
}

// DeleteActiveSession removes the active session of a user.
func (s *sessionStore) DeleteActiveSession(ctx context.Context, guildID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM active_sessions WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetActiveSession retrieves the active session of a user.
func (s *sessionStore) GetActiveSession(ctx context.Context, guildID, userID string) (*storage.ActiveSession, error) {
	var (
		session   = storage.ActiveSession{GuildID: guildID, UserID: userID}
		startedAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id, started_at FROM active_sessions WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	).Scan(&session.ChannelID, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	session.StartedAt = fromMillis(startedAt)
	return &session, nil
}

// ListActiveSessions returns every active session.
func (s *sessionStore) ListActiveSessions(ctx context.Context) ([]storage.ActiveSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guild_id, user_id, channel_id, started_at FROM active_sessions ORDER BY guild_id, user_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []storage.ActiveSession{}
	for rows.Next() {
		var (
			session   storage.ActiveSession
			startedAt int64
		)
		if err := rows.Scan(&session.GuildID, &session.UserID, &session.ChannelID, &startedAt); err != nil {
			return nil, err
		}
		session.StartedAt = fromMillis(startedAt)
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}
