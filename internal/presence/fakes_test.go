package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/patrol/internal/storage"
	"github.com/rs/zerolog"
)

var errInjected = errors.New("injected storage failure")

// memStore is an in-memory storage.Store with failure injection.
type memStore struct {
	mu sync.Mutex

	active  map[sessionKey]storage.ActiveSession
	allTime map[sessionKey]uint64
	monthly map[string]uint64
	channel map[string]uint64
	guilds  map[string]bool
	users   map[sessionKey]bool

	failUpsert bool
	failDelete bool
	failAccrue bool
	failList   bool
	failPause  bool
	failReset  bool
	accruals   []storage.Accrual
}

func newMemStore() *memStore {
	return &memStore{
		active:  make(map[sessionKey]storage.ActiveSession),
		allTime: make(map[sessionKey]uint64),
		monthly: make(map[string]uint64),
		channel: make(map[string]uint64),
		guilds:  make(map[string]bool),
		users:   make(map[sessionKey]bool),
	}
}

func monthlyKey(guildID, userID string, year, month int) string {
	return fmt.Sprintf("%s/%s/%s", guildID, userID, storage.MonthKey(year, month))
}

func channelKey(guildID, userID, channelID string) string {
	return fmt.Sprintf("%s/%s/%s", guildID, userID, channelID)
}

func (m *memStore) Close() error                   { return nil }
func (m *memStore) Sessions() storage.SessionStore { return m }
func (m *memStore) Totals() storage.TotalsStore    { return m }
func (m *memStore) Pauses() storage.PauseStore     { return m }

func (m *memStore) UpsertActiveSession(ctx context.Context, session storage.ActiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert {
		return errInjected
	}
	m.active[sessionKey{session.GuildID, session.UserID}] = session
	return nil
}

func (m *memStore) DeleteActiveSession(ctx context.Context, guildID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return errInjected
	}
	key := sessionKey{guildID, userID}
	if _, ok := m.active[key]; !ok {
		return storage.ErrNotFound
	}
	delete(m.active, key)
	return nil
}

func (m *memStore) GetActiveSession(ctx context.Context, guildID, userID string) (*storage.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.active[sessionKey{guildID, userID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &session, nil
}

func (m *memStore) ListActiveSessions(ctx context.Context) ([]storage.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList {
		return nil, errInjected
	}
	sessions := make([]storage.ActiveSession, 0, len(m.active))
	for _, session := range m.active {
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (m *memStore) Accrue(ctx context.Context, accrual storage.Accrual) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAccrue {
		return errInjected
	}
	m.accruals = append(m.accruals, accrual)
	m.allTime[sessionKey{accrual.GuildID, accrual.UserID}] += accrual.TotalMs
	m.channel[channelKey(accrual.GuildID, accrual.UserID, accrual.ChannelID)] += accrual.TotalMs
	for _, slice := range accrual.Months {
		m.monthly[monthlyKey(accrual.GuildID, accrual.UserID, slice.Year, slice.Month)] += slice.TotalMs
	}
	return nil
}

func floorAdd(value uint64, delta int64) uint64 {
	result := int64(value) + delta
	if result < 0 {
		return 0
	}
	return uint64(result)
}

func (m *memStore) AdjustTotals(ctx context.Context, guildID, userID string, year, month int, deltaMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey{guildID, userID}
	m.allTime[key] = floorAdd(m.allTime[key], deltaMs)
	mk := monthlyKey(guildID, userID, year, month)
	m.monthly[mk] = floorAdd(m.monthly[mk], deltaMs)
	return nil
}

func (m *memStore) ResetAllTime(ctx context.Context, guildID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReset {
		return errInjected
	}
	key := sessionKey{guildID, userID}
	if _, ok := m.allTime[key]; ok {
		m.allTime[key] = 0
	}
	return nil
}

func (m *memStore) ResetGuildAllTime(ctx context.Context, guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReset {
		return errInjected
	}
	for key := range m.allTime {
		if key.guildID == guildID {
			delete(m.allTime, key)
		}
	}
	return nil
}

func (m *memStore) GetAllTime(ctx context.Context, guildID, userID string) (*storage.AllTimeTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, ok := m.allTime[sessionKey{guildID, userID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.AllTimeTotal{GuildID: guildID, UserID: userID, TotalMs: total}, nil
}

func (m *memStore) GetMonthly(ctx context.Context, guildID, userID string, year, month int) (*storage.MonthlyTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, ok := m.monthly[monthlyKey(guildID, userID, year, month)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.MonthlyTotal{GuildID: guildID, UserID: userID, Year: year, Month: month, TotalMs: total}, nil
}

func (m *memStore) ListAllTime(ctx context.Context, guildID string) ([]storage.AllTimeTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var totals []storage.AllTimeTotal
	for key, total := range m.allTime {
		if key.guildID == guildID {
			totals = append(totals, storage.AllTimeTotal{GuildID: guildID, UserID: key.userID, TotalMs: total})
		}
	}
	return totals, nil
}

func (m *memStore) ListMonthly(ctx context.Context, guildID string, year, month int) ([]storage.MonthlyTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var totals []storage.MonthlyTotal
	suffix := "/" + storage.MonthKey(year, month)
	prefix := guildID + "/"
	for key, total := range m.monthly {
		if len(key) > len(prefix)+len(suffix) && key[:len(prefix)] == prefix && key[len(key)-len(suffix):] == suffix {
			userID := key[len(prefix) : len(key)-len(suffix)]
			totals = append(totals, storage.MonthlyTotal{GuildID: guildID, UserID: userID, Year: year, Month: month, TotalMs: total})
		}
	}
	return totals, nil
}

func (m *memStore) ListChannel(ctx context.Context, guildID, channelID string) ([]storage.ChannelTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var totals []storage.ChannelTotal
	prefix := guildID + "/"
	suffix := "/" + channelID
	for key, total := range m.channel {
		if len(key) > len(prefix)+len(suffix) && key[:len(prefix)] == prefix && key[len(key)-len(suffix):] == suffix {
			userID := key[len(prefix) : len(key)-len(suffix)]
			totals = append(totals, storage.ChannelTotal{GuildID: guildID, UserID: userID, ChannelID: channelID, TotalMs: total})
		}
	}
	return totals, nil
}

func (m *memStore) SetGuildPaused(ctx context.Context, guildID string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPause {
		return errInjected
	}
	m.guilds[guildID] = paused
	return nil
}

func (m *memStore) SetUserPaused(ctx context.Context, guildID, userID string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPause {
		return errInjected
	}
	m.users[sessionKey{guildID, userID}] = paused
	return nil
}

func (m *memStore) ListPauses(ctx context.Context) ([]storage.PauseState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make(map[string]*storage.PauseState)
	state := func(guildID string) *storage.PauseState {
		if st, ok := states[guildID]; ok {
			return st
		}
		st := &storage.PauseState{GuildID: guildID}
		states[guildID] = st
		return st
	}
	for guildID, paused := range m.guilds {
		if paused {
			state(guildID).GuildPaused = true
		}
	}
	for key, paused := range m.users {
		if paused {
			st := state(key.guildID)
			st.UserIDs = append(st.UserIDs, key.userID)
		}
	}
	result := make([]storage.PauseState, 0, len(states))
	for _, st := range states {
		sort.Strings(st.UserIDs)
		result = append(result, *st)
	}
	return result, nil
}

func (m *memStore) allTimeOf(guildID, userID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allTime[sessionKey{guildID, userID}]
}

func (m *memStore) monthOf(guildID, userID string, year, month int) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monthly[monthlyKey(guildID, userID, year, month)]
}

func (m *memStore) activeStart(guildID, userID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.active[sessionKey{guildID, userID}]
	return session.StartedAt, ok
}

func (m *memStore) hasActive(guildID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[sessionKey{guildID, userID}]
	return ok
}

// fakeChannels maps channel IDs to their parent category.
type fakeChannels map[string]string

func (f fakeChannels) ChannelParent(ctx context.Context, guildID, channelID string) (string, error) {
	parent, ok := f[channelID]
	if !ok {
		return "", fmt.Errorf("unknown channel %s", channelID)
	}
	return parent, nil
}

// fakeLive serves a fixed voice membership per guild.
type fakeLive struct {
	members map[string][]LivePresence
	errs    map[string]error
}

func (f fakeLive) VoiceMembers(ctx context.Context, guildID string) ([]LivePresence, error) {
	if err := f.errs[guildID]; err != nil {
		return nil, err
	}
	return f.members[guildID], nil
}

const (
	testGuild    = "g1"
	testCategory = "patrol-category"
)

var testEpoch = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func testChannels() fakeChannels {
	return fakeChannels{
		"c1":      testCategory,
		"c2":      testCategory,
		"lobby":   "general",
		"afk":     "general",
		"other-1": "other-category",
	}
}

// newTestTracker returns a tracker for testGuild that has not bootstrapped.
func newTestTracker(t *testing.T, store *memStore) (*Tracker, *TestClock) {
	t.Helper()

	clock := &TestClock{CurrentTime: testEpoch}
	tracker := NewTracker(store, testChannels(), Config{
		Categories: map[string]string{testGuild: testCategory},
		Clock:      clock,
	}, zerolog.Nop())

	return tracker, clock
}

// newReadyTracker returns a bootstrapped tracker with no prior state.
func newReadyTracker(t *testing.T) (*Tracker, *memStore, *TestClock) {
	t.Helper()

	store := newMemStore()
	tracker, clock := newTestTracker(t, store)
	if err := tracker.Bootstrap(context.Background(), fakeLive{}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	return tracker, store, clock
}

func join(t *testing.T, tracker *Tracker, userID, channelID string) {
	t.Helper()
	move(t, tracker, userID, "", channelID)
}

func leave(t *testing.T, tracker *Tracker, userID, channelID string) {
	t.Helper()
	move(t, tracker, userID, channelID, "")
}

func move(t *testing.T, tracker *Tracker, userID, from, to string) {
	t.Helper()
	err := tracker.HandleTransition(context.Background(), Transition{
		GuildID:           testGuild,
		UserID:            userID,
		PreviousChannelID: from,
		NewChannelID:      to,
	})
	if err != nil {
		t.Fatalf("HandleTransition(%s: %q -> %q) failed: %v", userID, from, to, err)
	}
}
