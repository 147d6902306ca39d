package redis

import (
	"fmt"
	"math"
	"time"

	"github.com/goodtune/patrol/internal/storage"
)

// parseActiveSession converts a Redis hash to ActiveSession
func parseActiveSession(data map[string]string) (*storage.ActiveSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	return &storage.ActiveSession{
		GuildID:   data["guild_id"],
		UserID:    data["user_id"],
		ChannelID: data["channel_id"],
		StartedAt: startedAt.UTC(),
	}, nil
}

// scoreToMs converts a sorted set score to milliseconds
func scoreToMs(score float64) uint64 {
	if score <= 0 || math.IsNaN(score) {
		return 0
	}
	return uint64(math.Round(score))
}
