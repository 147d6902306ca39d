package presence

import (
	"fmt"
	"time"
)

// Transition is a presence change reported by the event source. An empty
// channel ID means the user was (or is now) not connected to voice.
type Transition struct {
	GuildID           string
	UserID            string
	PreviousChannelID string
	NewChannelID      string
	IsBot             bool
}

// Session is a single continuous interval during which a user is inside the
// tracked category.
type Session struct {
	GuildID   string    `json:"guild_id"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	StartedAt time.Time `json:"started_at"`
}

// Elapsed returns the time since the session started, never negative.
func (s Session) Elapsed(now time.Time) time.Duration {
	if now.Before(s.StartedAt) {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// TrackedUser describes a user whose presence is currently being timed.
type TrackedUser struct {
	UserID    string        `json:"user_id"`
	ChannelID string        `json:"channel_id"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Paused    bool          `json:"paused"`
}

// ScopeKind selects which totals a leaderboard ranks.
type ScopeKind string

const (
	ScopeAllTime ScopeKind = "all"
	ScopeMonth   ScopeKind = "month"
	ScopeChannel ScopeKind = "channel"
)

// Scope describes a leaderboard query.
type Scope struct {
	Kind      ScopeKind
	Year      int
	Month     int
	ChannelID string
}

// AllTime returns the all-time leaderboard scope.
func AllTime() Scope {
	return Scope{Kind: ScopeAllTime}
}

// ForMonth returns the leaderboard scope of one UTC calendar month.
func ForMonth(year, month int) Scope {
	return Scope{Kind: ScopeMonth, Year: year, Month: month}
}

// ForChannel returns the leaderboard scope of a single channel.
func ForChannel(channelID string) Scope {
	return Scope{Kind: ScopeChannel, ChannelID: channelID}
}

func (s Scope) validate() error {
	switch s.Kind {
	case ScopeAllTime:
		return nil
	case ScopeMonth:
		if s.Month < 1 || s.Month > 12 || s.Year <= 0 {
			return fmt.Errorf("invalid month %d-%d", s.Year, s.Month)
		}
		return nil
	case ScopeChannel:
		if s.ChannelID == "" {
			return fmt.Errorf("channel scope requires a channel ID")
		}
		return nil
	default:
		return fmt.Errorf("unknown leaderboard scope: %q", s.Kind)
	}
}

// LeaderboardEntry is one ranked row of a leaderboard.
type LeaderboardEntry struct {
	Rank    int    `json:"rank"`
	UserID  string `json:"user_id"`
	TotalMs uint64 `json:"total_ms"`
	LiveMs  uint64 `json:"live_ms"`
	Active  bool   `json:"active"`
}
