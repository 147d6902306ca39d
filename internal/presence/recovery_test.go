package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/patrol/internal/storage"
)

func TestBootstrap_RestartRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	first, clock := newTestTracker(t, store)
	if err := first.Bootstrap(ctx, fakeLive{}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	join(t, first, "u1", "c1")

	// Process restarts 30s later with u1 still connected
	second, _ := newTestTracker(t, store)
	second.clock = clock
	clock.Advance(30 * time.Second)

	live := fakeLive{members: map[string][]LivePresence{
		testGuild: {{UserID: "u1", ChannelID: "c1"}},
	}}
	if err := second.Bootstrap(ctx, live); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	session, ok := second.registry.Get(testGuild, "u1")
	if !ok || !session.StartedAt.Equal(testEpoch) {
		t.Fatalf("Expected seeded session from %v, got %+v", testEpoch, session)
	}

	clock.Advance(10 * time.Second)
	leave(t, second, "u1", "c1")

	if got := store.allTimeOf(testGuild, "u1"); got != 40000 {
		t.Errorf("Expected 40000ms across restart, got %d", got)
	}
}

func TestBootstrap_AbsentUserFinalizedThroughNow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.active[sessionKey{testGuild, "u1"}] = storage.ActiveSession{
		GuildID:   testGuild,
		UserID:    "u1",
		ChannelID: "c1",
		StartedAt: testEpoch.Add(-time.Minute),
	}

	tracker, _ := newTestTracker(t, store)
	if err := tracker.Bootstrap(ctx, fakeLive{}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	if got := store.allTimeOf(testGuild, "u1"); got != 60000 {
		t.Errorf("Expected 60000ms credited through now, got %d", got)
	}
	if store.hasActive(testGuild, "u1") {
		t.Error("Expected active session record to be removed")
	}
	if tracker.registry.Len() != 0 {
		t.Error("Expected no sessions after bootstrap")
	}
}

func TestBootstrap_StartsLiveMembers(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tracker, _ := newTestTracker(t, store)

	live := fakeLive{members: map[string][]LivePresence{
		testGuild: {
			{UserID: "u1", ChannelID: "c1"},
			{UserID: "u2", ChannelID: "lobby"},
			{UserID: "bot", ChannelID: "c2", IsBot: true},
			{UserID: "u3", ChannelID: "c2"},
		},
	}}
	if err := tracker.Bootstrap(ctx, live); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	tracked := tracker.CurrentlyTracked(testGuild)
	if len(tracked) != 2 {
		t.Fatalf("Expected 2 tracked users, got %+v", tracked)
	}
	for _, user := range tracked {
		if !user.StartedAt.Equal(testEpoch) {
			t.Errorf("%s: expected start at recovery time, got %v", user.UserID, user.StartedAt)
		}
		if !store.hasActive(testGuild, user.UserID) {
			t.Errorf("%s: expected persisted session", user.UserID)
		}
	}
}

func TestBootstrap_ChannelChangedWhileDown(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.active[sessionKey{testGuild, "u1"}] = storage.ActiveSession{
		GuildID:   testGuild,
		UserID:    "u1",
		ChannelID: "c1",
		StartedAt: testEpoch.Add(-10 * time.Second),
	}

	tracker, _ := newTestTracker(t, store)
	live := fakeLive{members: map[string][]LivePresence{
		testGuild: {{UserID: "u1", ChannelID: "c2"}},
	}}
	if err := tracker.Bootstrap(ctx, live); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	if got := store.channel[channelKey(testGuild, "u1", "c1")]; got != 10000 {
		t.Errorf("Expected 10000ms credited to c1, got %d", got)
	}
	session, ok := tracker.registry.Get(testGuild, "u1")
	if !ok || session.ChannelID != "c2" || !session.StartedAt.Equal(testEpoch) {
		t.Errorf("Expected fresh session in c2, got %+v", session)
	}
}

func TestBootstrap_LiveListingFailureKeepsSessions(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.active[sessionKey{testGuild, "u1"}] = storage.ActiveSession{
		GuildID:   testGuild,
		UserID:    "u1",
		ChannelID: "c1",
		StartedAt: testEpoch.Add(-time.Minute),
	}

	tracker, _ := newTestTracker(t, store)
	live := fakeLive{errs: map[string]error{testGuild: errors.New("guild unavailable")}}
	if err := tracker.Bootstrap(ctx, live); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	if _, ok := tracker.registry.Get(testGuild, "u1"); !ok {
		t.Error("Expected seeded session to be kept")
	}
	if got := store.allTimeOf(testGuild, "u1"); got != 0 {
		t.Errorf("Expected nothing credited, got %d", got)
	}
}

func TestBootstrap_LoadsPauses(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.users[sessionKey{testGuild, "u1"}] = true

	tracker, _ := newTestTracker(t, store)
	if err := tracker.Bootstrap(ctx, fakeLive{}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	if !tracker.IsPaused(testGuild, "u1") {
		t.Error("Expected persisted pause to be restored")
	}
	if tracker.IsPaused(testGuild, "u2") {
		t.Error("Expected u2 to be unpaused")
	}
}

func TestBootstrap_MarksReady(t *testing.T) {
	tracker, _ := newTestTracker(t, newMemStore())

	select {
	case <-tracker.Ready():
		t.Fatal("Expected tracker not ready before bootstrap")
	default:
	}

	if err := tracker.Bootstrap(context.Background(), fakeLive{}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	select {
	case <-tracker.Ready():
	default:
		t.Fatal("Expected tracker ready after bootstrap")
	}
}

func TestBootstrap_SessionListFailureStillStartsLiveMembers(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.active[sessionKey{testGuild, "u1"}] = storage.ActiveSession{
		GuildID:   testGuild,
		UserID:    "u1",
		ChannelID: "c1",
		StartedAt: testEpoch.Add(-24 * time.Hour),
	}
	store.failList = true

	tracker, clock := newTestTracker(t, store)
	live := fakeLive{members: map[string][]LivePresence{
		testGuild: {{UserID: "u1", ChannelID: "c1"}},
	}}
	err := tracker.Bootstrap(ctx, live)
	if !errors.Is(err, errInjected) {
		t.Fatalf("Expected injected error, got %v", err)
	}

	select {
	case <-tracker.Ready():
	default:
		t.Fatal("Expected tracker ready after failed bootstrap")
	}

	session, ok := tracker.registry.Get(testGuild, "u1")
	if !ok || !session.StartedAt.Equal(clock.Now()) {
		t.Fatalf("Expected live member timed from %v, got %+v", clock.Now(), session)
	}
	if start, ok := store.activeStart(testGuild, "u1"); !ok || !start.Equal(clock.Now()) {
		t.Errorf("Expected stale record overwritten with %v, got %v", clock.Now(), start)
	}
}
