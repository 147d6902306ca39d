package storage

import (
	"fmt"
	"time"
)

// ActiveSession is the durable mirror of a session that is currently being timed.
type ActiveSession struct {
	GuildID   string    `json:"guild_id"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	StartedAt time.Time `json:"started_at"`
}

// AllTimeTotal is the lifetime presence total for a user in a guild.
type AllTimeTotal struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	TotalMs uint64 `json:"total_ms"`
}

// MonthlyTotal is the presence total for a user in one UTC calendar month.
type MonthlyTotal struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	Year    int    `json:"year"`
	Month   int    `json:"month"`
	TotalMs uint64 `json:"total_ms"`
}

// ChannelTotal is the lifetime presence total for a user in one channel.
type ChannelTotal struct {
	GuildID   string `json:"guild_id"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	TotalMs   uint64 `json:"total_ms"`
}

// PauseState holds the pause flags of a single guild.
type PauseState struct {
	GuildID     string   `json:"guild_id"`
	GuildPaused bool     `json:"guild_paused"`
	UserIDs     []string `json:"user_ids"`
}

// MonthSlice is the part of an interval that falls inside one UTC month.
type MonthSlice struct {
	Year    int    `json:"year"`
	Month   int    `json:"month"`
	TotalMs uint64 `json:"total_ms"`
}

// Accrual is a finalized interval ready to be added to the durable totals.
// TotalMs equals the sum of the Months slices.
type Accrual struct {
	GuildID   string       `json:"guild_id"`
	UserID    string       `json:"user_id"`
	ChannelID string       `json:"channel_id"`
	TotalMs   uint64       `json:"total_ms"`
	Months    []MonthSlice `json:"months"`
}

// MonthKey formats a year and month as YYYY-MM.
func MonthKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// ValidMonth reports whether month is in 1-12 and year is positive.
func ValidMonth(year, month int) bool {
	return year > 0 && month >= 1 && month <= 12
}
