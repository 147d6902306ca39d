package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/patrol/internal/metrics"
	"github.com/goodtune/patrol/internal/storage"
)

// SplitByMonth splits [start, end) into contiguous slices that never cross a
// UTC calendar-month boundary. The slice durations sum to end-start.
func SplitByMonth(start, end time.Time) []storage.MonthSlice {
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return nil
	}

	var slices []storage.MonthSlice
	cursor := start
	for cursor.Before(end) {
		boundary := monthStart(cursor).AddDate(0, 1, 0)
		if boundary.After(end) {
			boundary = end
		}
		slices = append(slices, storage.MonthSlice{
			Year:    cursor.Year(),
			Month:   int(cursor.Month()),
			TotalMs: uint64(boundary.Sub(cursor).Milliseconds()),
		})
		cursor = boundary
	}
	return slices
}

// monthStart returns midnight UTC on the first day of t's month.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthBounds returns [start, end) of a UTC calendar month.
func monthBounds(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// overlap returns the length of the intersection of [aStart, aEnd) and
// [bStart, bEnd).
func overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

// buildAccrual converts a finalized interval into the increments applied to
// the durable totals.
func buildAccrual(session Session, end time.Time) storage.Accrual {
	months := SplitByMonth(session.StartedAt, end)

	var total uint64
	for _, slice := range months {
		total += slice.TotalMs
	}

	return storage.Accrual{
		GuildID:   session.GuildID,
		UserID:    session.UserID,
		ChannelID: session.ChannelID,
		TotalMs:   total,
		Months:    months,
	}
}

// accrue credits [session.StartedAt, end) to the all-time, monthly and
// channel totals of the session's user.
func (t *Tracker) accrue(ctx context.Context, session Session, end time.Time) error {
	accrual := buildAccrual(session, end)
	if accrual.TotalMs == 0 {
		return nil
	}

	if err := t.totals.Accrue(ctx, accrual); err != nil {
		return t.storageError("accrue", fmt.Errorf("failed to accrue %dms for %s/%s: %w",
			accrual.TotalMs, session.GuildID, session.UserID, err))
	}

	metrics.AccruedSeconds.WithLabelValues(session.GuildID).Add(float64(accrual.TotalMs) / 1000.0)

	t.logger.Debug().
		Str("guild_id", session.GuildID).
		Str("user_id", session.UserID).
		Str("channel_id", session.ChannelID).
		Uint64("total_ms", accrual.TotalMs).
		Int("months", len(accrual.Months)).
		Msg("Accrued session time")

	return nil
}
