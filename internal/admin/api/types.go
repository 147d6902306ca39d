package api

import (
	"github.com/goodtune/patrol/internal/presence"
	"github.com/goodtune/patrol/internal/storage"
)

// GuildInfo describes a configured guild.
type GuildInfo struct {
	GuildID    string `json:"guild_id"`
	CategoryID string `json:"category_id"`
	Active     int    `json:"active"`
}

// GuildsResponse lists every configured guild.
type GuildsResponse struct {
	Guilds []GuildInfo `json:"guilds"`
}

// ActiveResponse lists the users currently being timed.
type ActiveResponse struct {
	GuildID string                 `json:"guild_id"`
	Users   []presence.TrackedUser `json:"users"`
	Count   int                    `json:"count"`
}

// TotalResponse reports one user's total, including live time.
type TotalResponse struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	Year    int    `json:"year,omitempty"`
	Month   int    `json:"month,omitempty"`
	TotalMs uint64 `json:"total_ms"`
}

// LeaderboardResponse is a ranked leaderboard.
type LeaderboardResponse struct {
	GuildID   string                      `json:"guild_id"`
	Scope     presence.ScopeKind          `json:"scope"`
	Year      int                         `json:"year,omitempty"`
	Month     int                         `json:"month,omitempty"`
	ChannelID string                      `json:"channel_id,omitempty"`
	Entries   []presence.LeaderboardEntry `json:"entries"`
}

// AdjustRequest is a manual correction of a user's totals. Omitting year and
// month targets the current UTC month.
type AdjustRequest struct {
	DeltaMs int64 `json:"delta_ms"`
	Year    int   `json:"year,omitempty"`
	Month   int   `json:"month,omitempty"`
}

// PauseResponse reports the outcome of a pause request and the resulting
// pause flags of the guild.
type PauseResponse struct {
	Applied bool               `json:"applied"`
	State   storage.PauseState `json:"state"`
}

// StatusResponse acknowledges a mutation.
type StatusResponse struct {
	Status string `json:"status"`
}
