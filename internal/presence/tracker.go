package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/patrol/internal/metrics"
	"github.com/goodtune/patrol/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultMinSessionDuration is the shortest interval that is credited.
	// Shorter intervals are reconnect noise from the gateway.
	DefaultMinSessionDuration = 3 * time.Second

	// DefaultLeaderboardLimit is used when a leaderboard query has no limit.
	DefaultLeaderboardLimit = 10
)

// ChannelDirectory resolves the category a channel belongs to.
type ChannelDirectory interface {
	ChannelParent(ctx context.Context, guildID, channelID string) (string, error)
}

// Config holds tracker configuration
type Config struct {
	// Categories maps a guild ID to its tracked category ID. Guilds without
	// an entry are ignored.
	Categories         map[string]string
	MinSessionDuration time.Duration
	Clock              Clock
}

// Tracker times how long users spend inside each guild's tracked category.
type Tracker struct {
	registry   *Registry
	pauses     *pauseFlags
	locks      *keyLocks
	sessions   storage.SessionStore
	totals     storage.TotalsStore
	pauseStore storage.PauseStore
	channels   ChannelDirectory

	categories         map[string]string
	minSessionDuration time.Duration
	clock              Clock
	logger             zerolog.Logger

	failedMu    sync.Mutex
	failedStops map[sessionKey]time.Time

	ready     chan struct{}
	readyOnce sync.Once
}

// NewTracker creates a new presence tracker. Transitions are held back until
// Bootstrap has run.
func NewTracker(store storage.Store, channels ChannelDirectory, config Config, logger zerolog.Logger) *Tracker {
	if config.MinSessionDuration == 0 {
		config.MinSessionDuration = DefaultMinSessionDuration
	}
	if config.Clock == nil {
		config.Clock = RealClock{}
	}

	categories := make(map[string]string, len(config.Categories))
	for guildID, categoryID := range config.Categories {
		categories[guildID] = categoryID
	}

	return &Tracker{
		registry:           NewRegistry(),
		pauses:             newPauseFlags(),
		locks:              newKeyLocks(),
		sessions:           store.Sessions(),
		totals:             store.Totals(),
		pauseStore:         store.Pauses(),
		channels:           channels,
		categories:         categories,
		minSessionDuration: config.MinSessionDuration,
		clock:              config.Clock,
		logger:             logger.With().Str("component", "presence-tracker").Logger(),
		failedStops:        make(map[sessionKey]time.Time),
		ready:              make(chan struct{}),
	}
}

// Ready is closed once Bootstrap has completed.
func (t *Tracker) Ready() <-chan struct{} {
	return t.ready
}

// Guilds returns the IDs of every guild with a tracked category.
func (t *Tracker) Guilds() []string {
	guilds := make([]string, 0, len(t.categories))
	for guildID := range t.categories {
		guilds = append(guilds, guildID)
	}
	return guilds
}

// TrackedCategory returns the tracked category of a guild.
func (t *Tracker) TrackedCategory(guildID string) (string, bool) {
	categoryID, ok := t.categories[guildID]
	return categoryID, ok
}

func (t *Tracker) markReady() {
	t.readyOnce.Do(func() { close(t.ready) })
}

func (t *Tracker) waitReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inCategory reports whether channelID is inside the guild's tracked
// category. No channel, no configured category, or a failed lookup all
// count as outside.
func (t *Tracker) inCategory(ctx context.Context, guildID, channelID string) bool {
	if channelID == "" {
		return false
	}
	categoryID, ok := t.categories[guildID]
	if !ok {
		return false
	}

	parentID, err := t.channels.ChannelParent(ctx, guildID, channelID)
	if err != nil {
		t.logger.Warn().
			Err(err).
			Str("guild_id", guildID).
			Str("channel_id", channelID).
			Msg("Channel lookup failed, treating channel as untracked")
		return false
	}
	return parentID == categoryID
}

// persistSession writes the durable mirror of a session.
func (t *Tracker) persistSession(ctx context.Context, session Session) error {
	err := t.sessions.UpsertActiveSession(ctx, storage.ActiveSession{
		GuildID:   session.GuildID,
		UserID:    session.UserID,
		ChannelID: session.ChannelID,
		StartedAt: session.StartedAt,
	})
	if err != nil {
		return t.storageError("upsert_session", err)
	}
	return nil
}

// restartDurable rewrites the durable start of each session to now. When a
// write fails, the records already rewritten are put back.
func (t *Tracker) restartDurable(ctx context.Context, sessions []Session, now time.Time) error {
	for i, session := range sessions {
		session.StartedAt = now
		if err := t.persistSession(ctx, session); err != nil {
			t.restoreDurable(ctx, sessions[:i])
			return fmt.Errorf("failed to restart session: %w", err)
		}
	}
	return nil
}

// restoreDurable writes session records back with their original start.
func (t *Tracker) restoreDurable(ctx context.Context, sessions []Session) {
	for _, session := range sessions {
		if err := t.persistSession(ctx, session); err != nil {
			t.logger.Error().
				Err(err).
				Str("guild_id", session.GuildID).
				Str("user_id", session.UserID).
				Msg("Failed to restore session record")
		}
	}
}

// storageError records a failed storage call and returns err unchanged.
func (t *Tracker) storageError(operation string, err error) error {
	metrics.StorageErrors.WithLabelValues(operation).Inc()
	t.logger.Error().Err(err).Str("operation", operation).Msg("Storage operation failed")
	return err
}

func (t *Tracker) updateGauge(guildID string) {
	metrics.TrackedSessions.WithLabelValues(guildID).Set(float64(len(t.registry.ListActive(guildID))))
}

func (t *Tracker) markFailedStop(key sessionKey, at time.Time) {
	t.failedMu.Lock()
	defer t.failedMu.Unlock()
	if _, ok := t.failedStops[key]; !ok {
		t.failedStops[key] = at
	}
}

// takeFailedStop returns and clears the end time of a stop whose durable
// delete failed earlier.
func (t *Tracker) takeFailedStop(key sessionKey) (time.Time, bool) {
	t.failedMu.Lock()
	defer t.failedMu.Unlock()
	at, ok := t.failedStops[key]
	delete(t.failedStops, key)
	return at, ok
}
