package redis

import (
	"context"
	"time"

	"github.com/goodtune/patrol/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
	keys   keys
}

var (
	upsertActiveSession = redis.NewScript(upsertActiveSessionScript)
	deleteActiveSession = redis.NewScript(deleteActiveSessionScript)
)

// UpsertActiveSession creates or replaces the active session of a user
func (s *sessionStore) UpsertActiveSession(ctx context.Context, session storage.ActiveSession) error {
	keys := []string{s.keys.activeSession(session.GuildID, session.UserID), s.keys.activeIndex()}
	args := []interface{}{
		session.GuildID,
		session.UserID,
		session.ChannelID,
		session.StartedAt.UTC().Format(time.RFC3339Nano),
	}

	return upsertActiveSession.Run(ctx, s.client, keys, args...).Err()
}

// DeleteActiveSession removes the active session of a user
func (s *sessionStore) DeleteActiveSession(ctx context.Context, guildID, userID string) error {
	keys := []string{s.keys.activeSession(guildID, userID), s.keys.activeIndex()}

	deleted, err := deleteActiveSession.Run(ctx, s.client, keys, indexMember(guildID, userID)).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetActiveSession retrieves the active session of a user
func (s *sessionStore) GetActiveSession(ctx context.Context, guildID, userID string) (*storage.ActiveSession, error) {
	data, err := s.client.HGetAll(ctx, s.keys.activeSession(guildID, userID)).Result()
	if err != nil {
		return nil, err
	}

	return parseActiveSession(data)
}

// ListActiveSessions returns every active session
func (s *sessionStore) ListActiveSessions(ctx context.Context) ([]storage.ActiveSession, error) {
	members, err := s.client.SMembers(ctx, s.keys.activeIndex()).Result()
	if err != nil {
		return nil, err
	}

	if len(members) == 0 {
		return []storage.ActiveSession{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(members))

	for _, member := range members {
		guildID, userID, ok := splitIndexMember(member)
		if !ok {
			continue
		}
		cmds = append(cmds, pipe.HGetAll(ctx, s.keys.activeSession(guildID, userID)))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.ActiveSession, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseActiveSession(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	return sessions, nil
}
