package redis

import (
	"context"
	"sort"

	"github.com/goodtune/patrol/internal/storage"
	"github.com/redis/go-redis/v9"
)

type pauseStore struct {
	client *redis.Client
	keys   keys
}

// SetGuildPaused sets or clears the guild-wide pause flag
func (s *pauseStore) SetGuildPaused(ctx context.Context, guildID string, paused bool) error {
	if paused {
		return s.client.SAdd(ctx, s.keys.pausedGuilds(), guildID).Err()
	}
	return s.client.SRem(ctx, s.keys.pausedGuilds(), guildID).Err()
}

// SetUserPaused sets or clears the pause flag of one user
func (s *pauseStore) SetUserPaused(ctx context.Context, guildID, userID string, paused bool) error {
	usersKey := s.keys.pausedUsers(guildID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if paused {
			pipe.SAdd(ctx, usersKey, userID)
			pipe.SAdd(ctx, s.keys.pausedIndex(), guildID)
		} else {
			pipe.SRem(ctx, usersKey, userID)
		}
		return nil
	})
	return err
}

// ListPauses returns the pause state of every guild with any flag set
func (s *pauseStore) ListPauses(ctx context.Context) ([]storage.PauseState, error) {
	pausedGuilds, err := s.client.SMembers(ctx, s.keys.pausedGuilds()).Result()
	if err != nil {
		return nil, err
	}

	indexed, err := s.client.SMembers(ctx, s.keys.pausedIndex()).Result()
	if err != nil {
		return nil, err
	}

	states := make(map[string]*storage.PauseState)
	state := func(guildID string) *storage.PauseState {
		st, ok := states[guildID]
		if !ok {
			st = &storage.PauseState{GuildID: guildID, UserIDs: []string{}}
			states[guildID] = st
		}
		return st
	}

	for _, guildID := range pausedGuilds {
		state(guildID).GuildPaused = true
	}

	for _, guildID := range indexed {
		users, err := s.client.SMembers(ctx, s.keys.pausedUsers(guildID)).Result()
		if err != nil {
			return nil, err
		}
		if len(users) == 0 {
			continue
		}
		sort.Strings(users)
		state(guildID).UserIDs = users
	}

	result := make([]storage.PauseState, 0, len(states))
	for _, st := range states {
		result = append(result, *st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].GuildID < result[j].GuildID })

	return result, nil
}
