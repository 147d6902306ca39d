package sqlite

import (
	"context"
	"database/sql"
	"sort"

	"github.com/goodtune/patrol/internal/storage"
)

type pauseStore struct {
	db *sql.DB
}

// SetGuildPaused sets or clears the guild-wide pause flag.
func (s *pauseStore) SetGuildPaused(ctx context.Context, guildID string, paused bool) error {
	query := `DELETE FROM paused_guilds WHERE guild_id = ?`
	if paused {
		query = `INSERT OR IGNORE INTO paused_guilds (guild_id) VALUES (?)`
	}
	_, err := s.db.ExecContext(ctx, query, guildID)
	return err
}

// SetUserPaused sets or clears the pause flag of one user.
func (s *pauseStore) SetUserPaused(ctx context.Context, guildID, userID string, paused bool) error {
	query := `DELETE FROM paused_users WHERE guild_id = ? AND user_id = ?`
	if paused {
		query = `INSERT OR IGNORE INTO paused_users (guild_id, user_id) VALUES (?, ?)`
	}
	_, err := s.db.ExecContext(ctx, query, guildID, userID)
	return err
}

// ListPauses returns the pause state of every guild with any flag set.
func (s *pauseStore) ListPauses(ctx context.Context) ([]storage.PauseState, error) {
	states := make(map[string]*storage.PauseState)
	state := func(guildID string) *storage.PauseState {
		st, ok := states[guildID]
		if !ok {
			st = &storage.PauseState{GuildID: guildID, UserIDs: []string{}}
			states[guildID] = st
		}
		return st
	}

	guildRows, err := s.db.QueryContext(ctx, `SELECT guild_id FROM paused_guilds`)
	if err != nil {
		return nil, err
	}
	for guildRows.Next() {
		var guildID string
		if err := guildRows.Scan(&guildID); err != nil {
			guildRows.Close()
			return nil, err
		}
		state(guildID).GuildPaused = true
	}
	if err := guildRows.Err(); err != nil {
		guildRows.Close()
		return nil, err
	}
	guildRows.Close()

	userRows, err := s.db.QueryContext(ctx, `SELECT guild_id, user_id FROM paused_users ORDER BY guild_id, user_id`)
	if err != nil {
		return nil, err
	}
	defer userRows.Close()

	for userRows.Next() {
		var guildID, userID string
		if err := userRows.Scan(&guildID, &userID); err != nil {
			return nil, err
		}
		st := state(guildID)
		st.UserIDs = append(st.UserIDs, userID)
	}
	if err := userRows.Err(); err != nil {
		return nil, err
	}

	result := make([]storage.PauseState, 0, len(states))
	for _, st := range states {
		result = append(result, *st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].GuildID < result[j].GuildID })

	return result, nil
}
