package api

import (
	"encoding/json"
	"net/http"

	"github.com/goodtune/patrol/internal/storage"
)

// Adjust applies a manual correction to a user's totals.
func (h *PresenceHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	guildID, ok := h.guild(w, r)
	if !ok {
		return
	}
	userID := r.PathValue("user")

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !(req.Year == 0 && req.Month == 0) && !storage.ValidMonth(req.Year, req.Month) {
		writeError(w, http.StatusBadRequest, "Invalid year or month")
		return
	}

	if err := h.tracker.Adjust(r.Context(), guildID, userID, req.DeltaMs, req.Year, req.Month); err != nil {
		h.logger.Error().Err(err).Str("guild_id", guildID).Str("user_id", userID).Msg("Failed to adjust totals")
		writeError(w, http.StatusInternalServerError, "Failed to adjust totals")
		return
	}

	h.logger.Info().
		Str("guild_id", guildID).
		Str("user_id", userID).
		Int64("delta_ms", req.DeltaMs).
		Msg("Totals adjusted via API")

	writeJSON(w, http.StatusOK, StatusResponse{Status: "adjusted"})
}

// PauseState returns the pause flags of a guild.
func (h *PresenceHandler) PauseState(w http.ResponseWriter, r *http.Request) {
	guildID, ok := h.guild(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.PauseState(guildID))
}

// PauseGuild pauses accrual for a whole guild. It answers 409 while any
// session in the guild is open.
func (h *PresenceHandler) PauseGuild(w http.ResponseWriter, r *http.Request) {
	guildID, ok := h.guild(w, r)
	if !ok {
		return
	}

	applied, err := h.tracker.PauseGuild(r.Context(), guildID)
	h.writePause(w, guildID, applied, err, "Guild has active sessions")
}

// UnpauseGuild resumes accrual for a whole guild.
func (h *PresenceHandler) UnpauseGuild(w http.ResponseWriter, r *http.Request) {
	guildID, ok := h.guild(w, r)
	if !ok {
		return
	}

	err := h.tracker.UnpauseGuild(r.Context(), guildID)
	h.writePause(w, guildID, true, err, "")
}

// PauseUser pauses accrual for one user. It answers 409 while the user has
// an open session.
func (h *PresenceHandler) PauseUser(w http.ResponseWriter, r *http.Request) {
	guildID, ok := h.guild(w, r)
	if !ok {
		return
	}

	applied, err := h.tracker.PauseUser(r.Context(), guildID, r.PathValue("user"))
	h.writePause(w, guildID, applied, err, "User has an active session")
}

// UnpauseUser resumes accrual for one user.
func (h *PresenceHandler) UnpauseUser(w http.ResponseWriter, r *http.Request) {
	guildID, ok := h.guild(w, r)
	if !ok {
		return
	}

	err := h.tracker.UnpauseUser(r.Context(), guildID, r.PathValue("user"))
	h.writePause(w, guildID, true, err, "")
}

func (h *PresenceHandler) writePause(w http.ResponseWriter, guildID string, applied bool, err error, conflict string) {
	if err != nil {
		h.logger.Error().Err(err).Str("guild_id", guildID).Msg("Failed to change pause state")
		writeError(w, http.StatusInternalServerError, "Failed to change pause state")
		return
	}
	if !applied {
		writeError(w, http.StatusConflict, conflict)
		return
	}

	writeJSON(w, http.StatusOK, PauseResponse{Applied: true, State: h.tracker.PauseState(guildID)})
}

// ResetGuild zeroes the all-time totals of every user in a guild.
func (h *PresenceHandler) ResetGuild(w http.ResponseWriter, r *http.Request) {
	h.reset(w, r, "")
}

// ResetUser zeroes the all-time total of one user.
func (h *PresenceHandler) ResetUser(w http.ResponseWriter, r *http.Request) {
	h.reset(w, r, r.PathValue("user"))
}

func (h *PresenceHandler) reset(w http.ResponseWriter, r *http.Request, userID string) {
	guildID, ok := h.guild(w, r)
	if !ok {
		return
	}

	if err := h.tracker.Reset(r.Context(), guildID, userID); err != nil {
		h.logger.Error().Err(err).Str("guild_id", guildID).Str("user_id", userID).Msg("Failed to reset totals")
		writeError(w, http.StatusInternalServerError, "Failed to reset totals")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: "reset"})
}
