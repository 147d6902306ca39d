package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goodtune/patrol/internal/storage"
)

type totalsStore struct {
	db *sql.DB
}

// Accrue adds a finalized interval to the all-time, channel and monthly
// totals in one transaction.
func (s *totalsStore) Accrue(ctx context.Context, accrual storage.Accrual) error {
	total := int64(accrual.TotalMs)

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alltime_totals (guild_id, user_id, total_ms) VALUES (?, ?, ?)
			 ON CONFLICT (guild_id, user_id) DO UPDATE SET total_ms = total_ms + excluded.total_ms`,
			accrual.GuildID, accrual.UserID, total,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO channel_totals (guild_id, user_id, channel_id, total_ms) VALUES (?, ?, ?, ?)
			 ON CONFLICT (guild_id, user_id, channel_id) DO UPDATE SET total_ms = total_ms + excluded.total_ms`,
			accrual.GuildID, accrual.UserID, accrual.ChannelID, total,
		); err != nil {
			return err
		}

		for _, slice := range accrual.Months {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO monthly_totals (guild_id, user_id, year, month, total_ms) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (guild_id, user_id, year, month) DO UPDATE SET total_ms = total_ms + excluded.total_ms`,
				accrual.GuildID, accrual.UserID, slice.Year, slice.Month, int64(slice.TotalMs),
			); err != nil {
				return err
			}
		}

		return nil
	})
}

// AdjustTotals applies a signed delta to the all-time and monthly totals,
// flooring each at zero.
func (s *totalsStore) AdjustTotals(ctx context.Context, guildID, userID string, year, month int, deltaMs int64) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alltime_totals (guild_id, user_id, total_ms) VALUES (?, ?, MAX(0, ?))
			 ON CONFLICT (guild_id, user_id) DO UPDATE SET total_ms = MAX(0, total_ms + ?)`,
			guildID, userID, deltaMs, deltaMs,
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO monthly_totals (guild_id, user_id, year, month, total_ms) VALUES (?, ?, ?, ?, MAX(0, ?))
			 ON CONFLICT (guild_id, user_id, year, month) DO UPDATE SET total_ms = MAX(0, total_ms + ?)`,
			guildID, userID, year, month, deltaMs, deltaMs,
		)
		return err
	})
}

// ResetAllTime zeroes the all-time total of one user.
func (s *totalsStore) ResetAllTime(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alltime_totals SET total_ms = 0 WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	)
	return err
}

// ResetGuildAllTime zeroes the all-time total of every user in a guild.
func (s *totalsStore) ResetGuildAllTime(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alltime_totals WHERE guild_id = ?`, guildID)
	return err
}

// GetAllTime retrieves the all-time total of a user.
func (s *totalsStore) GetAllTime(ctx context.Context, guildID, userID string) (*storage.AllTimeTotal, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT total_ms FROM alltime_totals WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &storage.AllTimeTotal{GuildID: guildID, UserID: userID, TotalMs: clampMs(total)}, nil
}

// GetMonthly retrieves the total of a user for one month.
func (s *totalsStore) GetMonthly(ctx context.Context, guildID, userID string, year, month int) (*storage.MonthlyTotal, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT total_ms FROM monthly_totals WHERE guild_id = ? AND user_id = ? AND year = ? AND month = ?`,
		guildID, userID, year, month,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &storage.MonthlyTotal{
		GuildID: guildID,
		UserID:  userID,
		Year:    year,
		Month:   month,
		TotalMs: clampMs(total),
	}, nil
}

// ListAllTime returns the all-time totals of a guild, highest first.
func (s *totalsStore) ListAllTime(ctx context.Context, guildID string) ([]storage.AllTimeTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, total_ms FROM alltime_totals WHERE guild_id = ? ORDER BY total_ms DESC, user_id`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := []storage.AllTimeTotal{}
	for rows.Next() {
		row := storage.AllTimeTotal{GuildID: guildID}
		var total int64
		if err := rows.Scan(&row.UserID, &total); err != nil {
			return nil, err
		}
		row.TotalMs = clampMs(total)
		totals = append(totals, row)
	}

	return totals, rows.Err()
}

// ListMonthly returns the totals of a guild for one month, highest first.
func (s *totalsStore) ListMonthly(ctx context.Context, guildID string, year, month int) ([]storage.MonthlyTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, total_ms FROM monthly_totals
		 WHERE guild_id = ? AND year = ? AND month = ?
		 ORDER BY total_ms DESC, user_id`,
		guildID, year, month,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := []storage.MonthlyTotal{}
	for rows.Next() {
		row := storage.MonthlyTotal{GuildID: guildID, Year: year, Month: month}
		var total int64
		if err := rows.Scan(&row.UserID, &total); err != nil {
			return nil, err
		}
		row.TotalMs = clampMs(total)
		totals = append(totals, row)
	}

	return totals, rows.Err()
}

// ListChannel returns the totals of a guild for one channel, highest first.
func (s *totalsStore) ListChannel(ctx context.Context, guildID, channelID string) ([]storage.ChannelTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, total_ms FROM channel_totals
		 WHERE guild_id = ? AND channel_id = ?
		 ORDER BY total_ms DESC, user_id`,
		guildID, channelID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := []storage.ChannelTotal{}
	for rows.Next() {
		row := storage.ChannelTotal{GuildID: guildID, ChannelID: channelID}
		var total int64
		if err := rows.Scan(&row.UserID, &total); err != nil {
			return nil, err
		}
		row.TotalMs = clampMs(total)
		totals = append(totals, row)
	}

	return totals, rows.Err()
}
