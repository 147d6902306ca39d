// Package gateway connects the presence tracker to the Discord gateway.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/goodtune/patrol/internal/config"
	"github.com/goodtune/patrol/internal/metrics"
	"github.com/goodtune/patrol/internal/presence"
	"github.com/rs/zerolog"
)

// Intents are the gateway intents the tracker needs: guild and channel
// metadata plus voice state updates.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

// TransitionHandler consumes presence transitions.
type TransitionHandler interface {
	HandleTransition(ctx context.Context, tr presence.Transition) error
}

// DefaultEventQueueSize is used when no queue size is configured.
const DefaultEventQueueSize = 1024

// Gateway owns the Discord session. It feeds voice state updates to a
// TransitionHandler in arrival order and answers channel and membership
// lookups from the session's state cache.
type Gateway struct {
	session  *discordgo.Session
	channels *channelResolver
	events   chan presence.Transition
	logger   zerolog.Logger

	guilds      map[string]struct{}
	mu          sync.Mutex
	pending     map[string]struct{}
	guildsReady chan struct{}
	readyOnce   sync.Once

	removers []func()
}

// New creates a gateway for the given guilds. The connection is not opened
// until Start.
func New(cfg config.DiscordConfig, guilds []string, logger zerolog.Logger) (*Gateway, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	session.Identify.Intents = Intents
	// Handlers run on the read loop so voice updates are queued in the
	// order the gateway sent them.
	session.SyncEvents = true
	session.State.TrackVoice = true
	session.State.TrackChannels = true
	session.LogLevel = discordgo.LogWarning

	g, err := newGateway(session, cfg.ChannelCache, cfg.EventQueue, guilds, logger)
	if err != nil {
		return nil, err
	}
	routeLibraryLogs(g.logger.With().Str("source", "discordgo").Logger())
	return g, nil
}

// routeLibraryLogs sends discordgo's internal log lines through zerolog.
func routeLibraryLogs(logger zerolog.Logger) {
	discordgo.Logger = func(msgL, caller int, format string, a ...interface{}) {
		var event *zerolog.Event
		switch msgL {
		case discordgo.LogError:
			event = logger.Error()
		case discordgo.LogWarning:
			event = logger.Warn()
		case discordgo.LogInformational:
			event = logger.Info()
		default:
			event = logger.Debug()
		}
		event.Msgf(format, a...)
	}
}

func newGateway(session *discordgo.Session, cacheSize, queueSize int, guilds []string, logger zerolog.Logger) (*Gateway, error) {
	if queueSize <= 0 {
		queueSize = DefaultEventQueueSize
	}

	g := &Gateway{
		session:     session,
		events:      make(chan presence.Transition, queueSize),
		logger:      logger.With().Str("component", "gateway").Logger(),
		guilds:      make(map[string]struct{}, len(guilds)),
		pending:     make(map[string]struct{}, len(guilds)),
		guildsReady: make(chan struct{}),
	}

	for _, guildID := range guilds {
		g.guilds[guildID] = struct{}{}
		g.pending[guildID] = struct{}{}
	}
	if len(g.pending) == 0 {
		close(g.guildsReady)
	}

	channels, err := newChannelResolver(cacheSize, g.stateChannel, g.restChannel)
	if err != nil {
		return nil, err
	}
	g.channels = channels

	return g, nil
}

// Start registers the event handlers, starts the dispatcher and opens the
// gateway connection. Transitions stop flowing once ctx is done.
func (g *Gateway) Start(ctx context.Context, handler TransitionHandler) error {
	g.removers = append(g.removers,
		g.session.AddHandler(g.onReady),
		g.session.AddHandler(g.onGuildCreate),
		g.session.AddHandler(g.onChannelUpdate),
		g.session.AddHandler(g.onChannelDelete),
		g.session.AddHandler(func(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
			g.onVoiceStateUpdate(ctx, e)
		}),
	)
	go g.dispatch(ctx, handler)

	g.logger.Info().Int("guilds", len(g.guilds)).Msg("Connecting to Discord gateway")
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	return nil
}

// WaitForGuilds blocks until every configured guild has been received from
// the gateway, or timeout elapses. A timeout is logged, not returned: the
// missing guilds are treated as temporarily unreachable.
func (g *Gateway) WaitForGuilds(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.guildsReady:
		g.logger.Info().Msg("All configured guilds available")
		return nil
	case <-timer.C:
		g.logger.Warn().
			Strs("missing_guilds", g.pendingGuilds()).
			Dur("timeout", timeout).
			Msg("Timed out waiting for guilds, continuing")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close removes the event handlers and closes the gateway connection.
func (g *Gateway) Close() error {
	for _, remove := range g.removers {
		remove()
	}
	g.removers = nil

	g.logger.Info().Msg("Closing Discord gateway")
	return g.session.Close()
}

// ChannelParent returns the parent category ID of a channel.
func (g *Gateway) ChannelParent(ctx context.Context, guildID, channelID string) (string, error) {
	return g.channels.parent(ctx, channelID)
}

// VoiceMembers lists the users connected to voice in a guild, according to
// the gateway's live state.
func (g *Gateway) VoiceMembers(ctx context.Context, guildID string) ([]presence.LivePresence, error) {
	guild, err := g.session.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s not available: %w", guildID, err)
	}

	g.session.State.RLock()
	unavailable := guild.Unavailable
	states := make([]discordgo.VoiceState, 0, len(guild.VoiceStates))
	for _, vs := range guild.VoiceStates {
		if vs != nil {
			states = append(states, *vs)
		}
	}
	g.session.State.RUnlock()

	if unavailable {
		return nil, fmt.Errorf("guild %s is unavailable", guildID)
	}

	members := make([]presence.LivePresence, 0, len(states))
	for i := range states {
		vs := &states[i]
		if vs.ChannelID == "" {
			continue
		}
		members = append(members, presence.LivePresence{
			UserID:    vs.UserID,
			ChannelID: vs.ChannelID,
			IsBot:     g.isBot(guildID, vs.UserID, vs.Member),
		})
	}

	return members, nil
}

func (g *Gateway) onReady(s *discordgo.Session, e *discordgo.Ready) {
	metrics.GatewayEvents.WithLabelValues("ready").Inc()

	username := ""
	if e.User != nil {
		username = e.User.Username
	}
	g.logger.Info().
		Str("user", username).
		Int("guilds", len(e.Guilds)).
		Msg("Discord gateway ready")
}

func (g *Gateway) onGuildCreate(s *discordgo.Session, e *discordgo.GuildCreate) {
	metrics.GatewayEvents.WithLabelValues("guild_create").Inc()
	if e.Guild == nil || e.Unavailable {
		return
	}
	g.markGuildAvailable(e.ID)
}

func (g *Gateway) onChannelUpdate(s *discordgo.Session, e *discordgo.ChannelUpdate) {
	metrics.GatewayEvents.WithLabelValues("channel_update").Inc()
	if e.Channel != nil {
		g.channels.invalidate(e.ID)
	}
}

func (g *Gateway) onChannelDelete(s *discordgo.Session, e *discordgo.ChannelDelete) {
	metrics.GatewayEvents.WithLabelValues("channel_delete").Inc()
	if e.Channel != nil {
		g.channels.invalidate(e.ID)
	}
}

// onVoiceStateUpdate queues the transition for the dispatcher. Same-channel
// updates (mute, deafen, stream) are queued too: they let the tracker retry a
// start that failed to persist.
func (g *Gateway) onVoiceStateUpdate(ctx context.Context, e *discordgo.VoiceStateUpdate) {
	metrics.GatewayEvents.WithLabelValues("voice_state_update").Inc()
	if e.VoiceState == nil {
		return
	}
	if _, ok := g.guilds[e.GuildID]; !ok {
		return
	}

	tr := toTransition(e, g.isBot(e.GuildID, e.UserID, e.Member))
	select {
	case g.events <- tr:
		metrics.GatewayQueueDepth.Set(float64(len(g.events)))
	case <-ctx.Done():
	}
}

// dispatch hands queued transitions to handler one at a time, in the order
// they were received. The first call blocks until the tracker has
// bootstrapped; later events wait in the queue behind it.
func (g *Gateway) dispatch(ctx context.Context, handler TransitionHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-g.events:
			metrics.GatewayQueueDepth.Set(float64(len(g.events)))
			g.deliver(ctx, handler, tr)
		}
	}
}

func (g *Gateway) deliver(ctx context.Context, handler TransitionHandler, tr presence.Transition) {
	g.logger.Debug().
		Str("guild_id", tr.GuildID).
		Str("user_id", tr.UserID).
		Str("from", tr.PreviousChannelID).
		Str("to", tr.NewChannelID).
		Msg("Voice state update")

	if err := handler.HandleTransition(ctx, tr); err != nil {
		g.logger.Error().
			Err(err).
			Str("guild_id", tr.GuildID).
			Str("user_id", tr.UserID).
			Msg("Failed to handle presence transition")
	}
}

func (g *Gateway) markGuildAvailable(guildID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.pending[guildID]; !ok {
		return
	}
	delete(g.pending, guildID)
	g.logger.Debug().Str("guild_id", guildID).Int("remaining", len(g.pending)).Msg("Guild available")

	if len(g.pending) == 0 {
		g.readyOnce.Do(func() { close(g.guildsReady) })
	}
}

func (g *Gateway) pendingGuilds() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	guilds := make([]string, 0, len(g.pending))
	for guildID := range g.pending {
		guilds = append(guilds, guildID)
	}
	sort.Strings(guilds)
	return guilds
}

// isBot checks the member attached to the event first, then the state cache.
func (g *Gateway) isBot(guildID, userID string, member *discordgo.Member) bool {
	if bot, known := memberIsBot(member); known {
		return bot
	}
	cached, err := g.session.State.Member(guildID, userID)
	if err != nil {
		return false
	}
	bot, _ := memberIsBot(cached)
	return bot
}

func (g *Gateway) stateChannel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	return g.session.State.Channel(channelID)
}

func (g *Gateway) restChannel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	return g.session.Channel(channelID, discordgo.WithContext(ctx))
}
