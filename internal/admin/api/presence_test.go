package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goodtune/patrol/internal/presence"
	"github.com/goodtune/patrol/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adjustCall struct {
	guildID, userID string
	deltaMs         int64
	year, month     int
}

type fakeTracker struct {
	categories map[string]string
	active     []presence.TrackedUser
	allTime    uint64
	monthly    uint64
	entries    []presence.LeaderboardEntry
	err        error

	pauseApplied bool
	pauses       storage.PauseState

	lastScope presence.Scope
	lastLimit int
	adjusts   []adjustCall
	resets    []string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		categories:   map[string]string{"g1": "cat-1"},
		pauseApplied: true,
		pauses:       storage.PauseState{GuildID: "g1", UserIDs: []string{}},
	}
}

func (f *fakeTracker) Guilds() []string {
	guilds := make([]string, 0, len(f.categories))
	for guildID := range f.categories {
		guilds = append(guilds, guildID)
	}
	return guilds
}

func (f *fakeTracker) TrackedCategory(guildID string) (string, bool) {
	categoryID, ok := f.categories[guildID]
	return categoryID, ok
}

func (f *fakeTracker) CurrentlyTracked(string) []presence.TrackedUser { return f.active }

func (f *fakeTracker) AllTimeTotal(context.Context, string, string) (uint64, error) {
	return f.allTime, f.err
}

func (f *fakeTracker) MonthTotal(context.Context, string, string, int, int) (uint64, error) {
	return f.monthly, f.err
}

func (f *fakeTracker) Leaderboard(_ context.Context, _ string, scope presence.Scope, limit int) ([]presence.LeaderboardEntry, error) {
	f.lastScope, f.lastLimit = scope, limit
	return f.entries, f.err
}

func (f *fakeTracker) Adjust(_ context.Context, guildID, userID string, deltaMs int64, year, month int) error {
	f.adjusts = append(f.adjusts, adjustCall{guildID, userID, deltaMs, year, month})
	return f.err
}

func (f *fakeTracker) Reset(_ context.Context, guildID, userID string) error {
	f.resets = append(f.resets, guildID+"/"+userID)
	return f.err
}

func (f *fakeTracker) PauseState(string) storage.PauseState { return f.pauses }

func (f *fakeTracker) PauseUser(context.Context, string, string) (bool, error) {
	return f.pauseApplied, f.err
}

func (f *fakeTracker) UnpauseUser(context.Context, string, string) error { return f.err }

func (f *fakeTracker) PauseGuild(context.Context, string) (bool, error) {
	return f.pauseApplied, f.err
}

func (f *fakeTracker) UnpauseGuild(context.Context, string) error { return f.err }

func newTestMux(tracker Tracker) *http.ServeMux {
	h := NewPresenceHandler(tracker, zerolog.Nop())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/guilds", h.ListGuilds)
	mux.HandleFunc("GET /api/guilds/{guild}/active", h.Active)
	mux.HandleFunc("GET /api/guilds/{guild}/leaderboard", h.Leaderboard)
	mux.HandleFunc("GET /api/guilds/{guild}/users/{user}/total", h.AllTimeTotal)
	mux.HandleFunc("GET /api/guilds/{guild}/users/{user}/months/{year}/{month}", h.MonthTotal)
	mux.HandleFunc("POST /api/guilds/{guild}/users/{user}/adjust", h.Adjust)
	mux.HandleFunc("GET /api/guilds/{guild}/pause", h.PauseState)
	mux.HandleFunc("POST /api/guilds/{guild}/pause", h.PauseGuild)
	mux.HandleFunc("POST /api/guilds/{guild}/unpause", h.UnpauseGuild)
	mux.HandleFunc("POST /api/guilds/{guild}/users/{user}/pause", h.PauseUser)
	mux.HandleFunc("POST /api/guilds/{guild}/users/{user}/unpause", h.UnpauseUser)
	mux.HandleFunc("POST /api/guilds/{guild}/reset", h.ResetGuild)
	mux.HandleFunc("POST /api/guilds/{guild}/users/{user}/reset", h.ResetUser)
	return mux
}

func do(t *testing.T, mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestListGuilds(t *testing.T) {
	tracker := newFakeTracker()
	tracker.categories["g0"] = "cat-0"
	tracker.active = []presence.TrackedUser{{UserID: "u1", ChannelID: "c1"}}

	rec := do(t, newTestMux(tracker), http.MethodGet, "/api/guilds", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[GuildsResponse](t, rec)
	require.Len(t, resp.Guilds, 2)
	assert.Equal(t, "g0", resp.Guilds[0].GuildID)
	assert.Equal(t, "cat-1", resp.Guilds[1].CategoryID)
	assert.Equal(t, 1, resp.Guilds[1].Active)
}

func TestUnknownGuild(t *testing.T) {
	mux := newTestMux(newFakeTracker())

	for _, target := range []string{
		"/api/guilds/nope/active",
		"/api/guilds/nope/users/u1/total",
		"/api/guilds/nope/leaderboard",
	} {
		rec := do(t, mux, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestActive(t *testing.T) {
	tracker := newFakeTracker()
	tracker.active = []presence.TrackedUser{{UserID: "u1", ChannelID: "c1"}, {UserID: "u2", ChannelID: "c2"}}

	rec := do(t, newTestMux(tracker), http.MethodGet, "/api/guilds/g1/active", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ActiveResponse](t, rec)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "u2", resp.Users[1].UserID)
}

func TestTotals(t *testing.T) {
	tracker := newFakeTracker()
	tracker.allTime = 7000
	tracker.monthly = 3000
	mux := newTestMux(tracker)

	rec := do(t, mux, http.MethodGet, "/api/guilds/g1/users/u1/total", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(7000), decode[TotalResponse](t, rec).TotalMs)

	rec = do(t, mux, http.MethodGet, "/api/guilds/g1/users/u1/months/2024/3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TotalResponse](t, rec)
	assert.Equal(t, uint64(3000), resp.TotalMs)
	assert.Equal(t, 2024, resp.Year)
	assert.Equal(t, 3, resp.Month)

	rec = do(t, mux, http.MethodGet, "/api/guilds/g1/users/u1/months/2024/13", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tracker.err = errors.New("storage down")
	rec = do(t, mux, http.MethodGet, "/api/guilds/g1/users/u1/total", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLeaderboard(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantScope presence.Scope
		wantLimit int
	}{
		{
			name:      "default scope",
			query:     "",
			wantCode:  http.StatusOK,
			wantScope: presence.AllTime(),
			wantLimit: presence.DefaultLeaderboardLimit,
		},
		{
			name:      "month scope",
			query:     "?scope=month&year=2024&month=2&limit=5",
			wantCode:  http.StatusOK,
			wantScope: presence.ForMonth(2024, 2),
			wantLimit: 5,
		},
		{
			name:      "channel scope",
			query:     "?scope=channel&channel=c1",
			wantCode:  http.StatusOK,
			wantScope: presence.ForChannel("c1"),
			wantLimit: presence.DefaultLeaderboardLimit,
		},
		{name: "month without year", query: "?scope=month&month=2", wantCode: http.StatusBadRequest},
		{name: "channel without id", query: "?scope=channel", wantCode: http.StatusBadRequest},
		{name: "unknown scope", query: "?scope=weekly", wantCode: http.StatusBadRequest},
		{name: "bad limit", query: "?limit=zero", wantCode: http.StatusBadRequest},
		{name: "negative limit", query: "?limit=-1", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newFakeTracker()
			tracker.entries = []presence.LeaderboardEntry{{Rank: 1, UserID: "u1", TotalMs: 9000}}

			rec := do(t, newTestMux(tracker), http.MethodGet, "/api/guilds/g1/leaderboard"+tt.query, "")
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}

			assert.Equal(t, tt.wantScope, tracker.lastScope)
			assert.Equal(t, tt.wantLimit, tracker.lastLimit)

			resp := decode[LeaderboardResponse](t, rec)
			require.Len(t, resp.Entries, 1)
			assert.Equal(t, tt.wantScope.Kind, resp.Scope)
		})
	}
}

func TestAdjust(t *testing.T) {
	tracker := newFakeTracker()
	mux := newTestMux(tracker)

	rec := do(t, mux, http.MethodPost, "/api/guilds/g1/users/u1/adjust", `{"delta_ms":-5000,"year":2024,"month":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, tracker.adjusts, 1)
	assert.Equal(t, adjustCall{"g1", "u1", -5000, 2024, 3}, tracker.adjusts[0])

	rec = do(t, mux, http.MethodPost, "/api/guilds/g1/users/u1/adjust", `{"delta_ms":1000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, adjustCall{"g1", "u1", 1000, 0, 0}, tracker.adjusts[1])

	rec = do(t, mux, http.MethodPost, "/api/guilds/g1/users/u1/adjust", `{"delta_ms":1000,"year":2024}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/guilds/g1/users/u1/adjust", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, tracker.adjusts, 2)
}

func TestPause(t *testing.T) {
	tracker := newFakeTracker()
	tracker.pauses = storage.PauseState{GuildID: "g1", GuildPaused: true, UserIDs: []string{}}
	mux := newTestMux(tracker)

	rec := do(t, mux, http.MethodPost, "/api/guilds/g1/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[PauseResponse](t, rec)
	assert.True(t, resp.Applied)
	assert.True(t, resp.State.GuildPaused)

	rec = do(t, mux, http.MethodPost, "/api/guilds/g1/unpause", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, mux, http.MethodGet, "/api/guilds/g1/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "g1", decode[storage.PauseState](t, rec).GuildID)
}

func TestPauseRejectedWhileActive(t *testing.T) {
	tracker := newFakeTracker()
	tracker.pauseApplied = false
	mux := newTestMux(tracker)

	rec := do(t, mux, http.MethodPost, "/api/guilds/g1/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/guilds/g1/users/u1/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "User has an active session", resp.Message)

	rec = do(t, mux, http.MethodPost, "/api/guilds/g1/users/u1/unpause", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReset(t *testing.T) {
	tracker := newFakeTracker()
	mux := newTestMux(tracker)

	rec := do(t, mux, http.MethodPost, "/api/guilds/g1/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/guilds/g1/users/u1/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"g1/", "g1/u1"}, tracker.resets)
}
