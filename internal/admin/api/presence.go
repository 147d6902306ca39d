package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/goodtune/patrol/internal/presence"
	"github.com/goodtune/patrol/internal/storage"
	"github.com/rs/zerolog"
)

// Tracker is the part of the presence tracker the API exposes.
type Tracker interface {
	Guilds() []string
	TrackedCategory(guildID string) (string, bool)
	CurrentlyTracked(guildID string) []presence.TrackedUser
	AllTimeTotal(ctx context.Context, guildID, userID string) (uint64, error)
	MonthTotal(ctx context.Context, guildID, userID string, year, month int) (uint64, error)
	Leaderboard(ctx context.Context, guildID string, scope presence.Scope, limit int) ([]presence.LeaderboardEntry, error)
	Adjust(ctx context.Context, guildID, userID string, deltaMs int64, year, month int) error
	Reset(ctx context.Context, guildID, userID string) error
	PauseState(guildID string) storage.PauseState
	PauseUser(ctx context.Context, guildID, userID string) (bool, error)
	UnpauseUser(ctx context.Context, guildID, userID string) error
	PauseGuild(ctx context.Context, guildID string) (bool, error)
	UnpauseGuild(ctx context.Context, guildID string) error
}

// PresenceHandler handles presence query and control requests.
type PresenceHandler struct {
	tracker Tracker
	logger  zerolog.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(tracker Tracker, logger zerolog.Logger) *PresenceHandler {
	return &PresenceHandler{
		tracker: tracker,
		logger:  logger.With().Str("handler", "presence").Logger(),
	}
}

// guild extracts the guild from the path and rejects guilds that are not
// configured.
func (h *PresenceHandler) guild(w http.ResponseWriter, r *http.Request) (string, bool) {
	guildID := r.PathValue("guild")
	if _, ok := h.tracker.TrackedCategory(guildID); !ok {
		writeError(w, http.StatusNotFound, "Guild is not tracked")
		return "", false
	}
	return guildID, true
}

// ListGuilds returns every configured guild.
func (h *PresenceHandler) ListGuilds(w http.ResponseWriter, r *http.Request) {
	guilds := h.tracker.Guilds()
	sort.Strings(guilds)

	resp := GuildsResponse{Guilds: make([]GuildInfo, 0, len(guilds))}
	for _, guildID := range guilds {
		categoryID, _ := h.tracker.TrackedCategory(guildID)
		resp.Guilds = append(resp.Guilds, GuildInfo{
			GuildID:    guildID,
			CategoryID: categoryID,
			Active:     len(h.tracker.CurrentlyTracked(guildID)),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Active returns the users of a guild currently being timed.
func (h *PresenceHandler) Active(w http.ResponseWriter, r *http.Request) {
	guildID, ok := h.guild(w, r)
	if !ok {
		return
	}

	users := h.tracker.CurrentlyTracked(guildID)
	writeJSON(w, http.StatusOK, ActiveResponse{GuildID: guildID, Users: users, Count: len(users)})
}

// AllTimeTotal returns a user's all-time total.
func (h *PresenceHandler) AllTimeTotal(w http.ResponseWriter, r *http.Request) {
	guildID, ok := h.guild(w, r)
	if !ok {
		return
	}
	userID := r.PathValue("user")

	total, err := h.tracker.AllTimeTotal(r.Context(), guildID, userID)
	if err != nil {
		h.logger.Error().Err(err).Str("guild_id", guildID).Str("user_id", userID).Msg("Failed to get all-time total")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve total")
		return
	}

	writeJSON(w, http.StatusOK, TotalResponse{GuildID: guildID, UserID: userID, TotalMs: total})
}

// MonthTotal returns a user's total for one UTC month.
func (h *PresenceHandler) MonthTotal(w http.ResponseWriter, r *http.Request) {
	guildID, ok := h.guild(w, r)
	if !ok {
		return
	}
	userID := r.PathValue("user")

	year, yearErr := intParam(r.PathValue("year"), 0)
	month, monthErr := intParam(r.PathValue("month"), 0)
	if yearErr != nil || monthErr != nil || !storage.ValidMonth(year, month) {
		writeError(w, http.StatusBadRequest, "Invalid year or month")
		return
	}

	total, err := h.tracker.MonthTotal(r.Context(), guildID, userID, year, month)
	if err != nil {
		h.logger.Error().Err(err).Str("guild_id", guildID).Str("user_id", userID).Msg("Failed to get monthly total")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve total")
		return
	}

	writeJSON(w, http.StatusOK, TotalResponse{GuildID: guildID, UserID: userID, Year: year, Month: month, TotalMs: total})
}

// Leaderboard returns the ranked totals of a guild. Query parameters:
// scope (all, month, channel), year, month, channel and limit.
func (h *PresenceHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	guildID, ok := h.guild(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"), presence.DefaultLeaderboardLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	var scope presence.Scope
	switch presence.ScopeKind(query.Get("scope")) {
	case "", presence.ScopeAllTime:
		scope = presence.AllTime()
	case presence.ScopeMonth:
		year, yearErr := intParam(query.Get("year"), 0)
		month, monthErr := intParam(query.Get("month"), 0)
		if yearErr != nil || monthErr != nil || !storage.ValidMonth(year, month) {
			writeError(w, http.StatusBadRequest, "Month scope requires a valid year and month")
			return
		}
		scope = presence.ForMonth(year, month)
	case presence.ScopeChannel:
		channelID := query.Get("channel")
		if channelID == "" {
			writeError(w, http.StatusBadRequest, "Channel scope requires a channel")
			return
		}
		scope = presence.ForChannel(channelID)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scope")
		return
	}

	entries, err := h.tracker.Leaderboard(r.Context(), guildID, scope, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("guild_id", guildID).Str("scope", string(scope.Kind)).Msg("Failed to build leaderboard")
		writeError(w, http.StatusInternalServerError, "Failed to build leaderboard")
		return
	}

	writeJSON(w, http.StatusOK, LeaderboardResponse{
		GuildID:   guildID,
		Scope:     scope.Kind,
		Year:      scope.Year,
		Month:     scope.Month,
		ChannelID: scope.ChannelID,
		Entries:   entries,
	})
}
