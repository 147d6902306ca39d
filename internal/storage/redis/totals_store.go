package redis

import (
	"context"
	"errors"

	"github.com/goodtune/patrol/internal/storage"
	"github.com/redis/go-redis/v9"
)

type totalsStore struct {
	client *redis.Client
	keys   keys
}

var (
	accrue = redis.NewScript(accrueScript)
	adjust = redis.NewScript(adjustScript)
)

// Accrue atomically adds a finalized interval to the all-time, channel and
// monthly totals
func (s *totalsStore) Accrue(ctx context.Context, accrual storage.Accrual) error {
	keys := make([]string, 0, 2+len(accrual.Months))
	args := make([]interface{}, 0, 2+len(accrual.Months))

	keys = append(keys, s.keys.allTime(accrual.GuildID), s.keys.channel(accrual.GuildID, accrual.ChannelID))
	args = append(args, accrual.UserID, accrual.TotalMs)

	for _, slice := range accrual.Months {
		keys = append(keys, s.keys.monthly(accrual.GuildID, slice.Year, slice.Month))
		args = append(args, slice.TotalMs)
	}

	return accrue.Run(ctx, s.client, keys, args...).Err()
}

// AdjustTotals applies a signed delta to the all-time and monthly totals,
// flooring each at zero
func (s *totalsStore) AdjustTotals(ctx context.Context, guildID, userID string, year, month int, deltaMs int64) error {
	keys := []string{s.keys.allTime(guildID), s.keys.monthly(guildID, year, month)}
	return adjust.Run(ctx, s.client, keys, userID, deltaMs).Err()
}

// ResetAllTime zeroes the all-time total of one user
func (s *totalsStore) ResetAllTime(ctx context.Context, guildID, userID string) error {
	return s.client.ZAddXX(ctx, s.keys.allTime(guildID), redis.Z{Score: 0, Member: userID}).Err()
}

// ResetGuildAllTime zeroes the all-time total of every user in a guild
func (s *totalsStore) ResetGuildAllTime(ctx context.Context, guildID string) error {
	return s.client.Del(ctx, s.keys.allTime(guildID)).Err()
}

// GetAllTime retrieves the all-time total of a user
func (s *totalsStore) GetAllTime(ctx context.Context, guildID, userID string) (*storage.AllTimeTotal, error) {
	score, err := s.score(ctx, s.keys.allTime(guildID), userID)
	if err != nil {
		return nil, err
	}

	return &storage.AllTimeTotal{GuildID: guildID, UserID: userID, TotalMs: scoreToMs(score)}, nil
}

// GetMonthly retrieves the total of a user for one month
func (s *totalsStore) GetMonthly(ctx context.Context, guildID, userID string, year, month int) (*storage.MonthlyTotal, error) {
	score, err := s.score(ctx, s.keys.monthly(guildID, year, month), userID)
	if err != nil {
		return nil, err
	}

	return &storage.MonthlyTotal{
		GuildID: guildID,
		UserID:  userID,
		Year:    year,
		Month:   month,
		TotalMs: scoreToMs(score),
	}, nil
}

// ListAllTime returns the all-time totals of a guild, highest first
func (s *totalsStore) ListAllTime(ctx context.Context, guildID string) ([]storage.AllTimeTotal, error) {
	members, err := s.client.ZRevRangeWithScores(ctx, s.keys.allTime(guildID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	totals := make([]storage.AllTimeTotal, 0, len(members))
	for _, z := range members {
		userID, ok := z.Member.(string)
		if !ok {
			continue
		}
		totals = append(totals, storage.AllTimeTotal{GuildID: guildID, UserID: userID, TotalMs: scoreToMs(z.Score)})
	}

	return totals, nil
}

// ListMonthly returns the totals of a guild for one month, highest first
func (s *totalsStore) ListMonthly(ctx context.Context, guildID string, year, month int) ([]storage.MonthlyTotal, error) {
	members, err := s.client.ZRevRangeWithScores(ctx, s.keys.monthly(guildID, year, month), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	totals := make([]storage.MonthlyTotal, 0, len(members))
	for _, z := range members {
		userID, ok := z.Member.(string)
		if !ok {
			continue
		}
		totals = append(totals, storage.MonthlyTotal{
			GuildID: guildID,
			UserID:  userID,
			Year:    year,
			Month:   month,
			TotalMs: scoreToMs(z.Score),
		})
	}

	return totals, nil
}

// ListChannel returns the totals of a guild for one channel, highest first
func (s *totalsStore) ListChannel(ctx context.Context, guildID, channelID string) ([]storage.ChannelTotal, error) {
	members, err := s.client.ZRevRangeWithScores(ctx, s.keys.channel(guildID, channelID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	totals := make([]storage.ChannelTotal, 0, len(members))
	for _, z := range members {
		userID, ok := z.Member.(string)
		if !ok {
			continue
		}
		totals = append(totals, storage.ChannelTotal{
			GuildID:   guildID,
			UserID:    userID,
			ChannelID: channelID,
			TotalMs:   scoreToMs(z.Score),
		})
	}

	return totals, nil
}

func (s *totalsStore) score(ctx context.Context, key, member string) (float64, error) {
	score, err := s.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, storage.ErrNotFound
	}
	return score, err
}
