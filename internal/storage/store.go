package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Sessions() SessionStore
	Totals() TotalsStore
	Pauses() PauseStore
}

// SessionStore persists the durable mirror of in-progress sessions. Rows
// are keyed by (guild, user) and exist only to recover time after a crash.
type SessionStore interface {
	UpsertActiveSession(ctx context.Context, session ActiveSession) error
	DeleteActiveSession(ctx context.Context, guildID, userID string) error
	GetActiveSession(ctx context.Context, guildID, userID string) (*ActiveSession, error)
	ListActiveSessions(ctx context.Context) ([]ActiveSession, error)
}

// TotalsStore manages accumulated presence time.
//
// Accrue must apply every increment of an Accrual atomically. AdjustTotals
// floors each affected total at zero.
type TotalsStore interface {
	Accrue(ctx context.Context, accrual Accrual) error
	AdjustTotals(ctx context.Context, guildID, userID string, year, month int, deltaMs int64) error
	ResetAllTime(ctx context.Context, guildID, userID string) error
	ResetGuildAllTime(ctx context.Context, guildID string) error
	GetAllTime(ctx context.Context, guildID, userID string) (*AllTimeTotal, error)
	GetMonthly(ctx context.Context, guildID, userID string, year, month int) (*MonthlyTotal, error)
	ListAllTime(ctx context.Context, guildID string) ([]AllTimeTotal, error)
	ListMonthly(ctx context.Context, guildID string, year, month int) ([]MonthlyTotal, error)
	ListChannel(ctx context.Context, guildID, channelID string) ([]ChannelTotal, error)
}

// PauseStore persists guild-wide and per-user pause flags.
type PauseStore interface {
	SetGuildPaused(ctx context.Context, guildID string, paused bool) error
	SetUserPaused(ctx context.Context, guildID, userID string, paused bool) error
	ListPauses(ctx context.Context) ([]PauseState, error)
}
