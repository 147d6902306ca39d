package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/goodtune/patrol/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultChannelCacheSize is used when no cache size is configured.
const DefaultChannelCacheSize = 512

var errNoLookup = errors.New("no channel lookup configured")

// channelLookup fetches a channel by ID from one source.
type channelLookup func(ctx context.Context, channelID string) (*discordgo.Channel, error)

// channelResolver maps channel IDs to their parent category, trying each
// lookup in order and caching the first answer.
type channelResolver struct {
	cache   *lru.Cache[string, string]
	lookups []channelLookup
}

func newChannelResolver(size int, lookups ...channelLookup) (*channelResolver, error) {
	if size <= 0 {
		size = DefaultChannelCacheSize
	}

	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel cache: %w", err)
	}

	return &channelResolver{cache: cache, lookups: lookups}, nil
}

func (r *channelResolver) parent(ctx context.Context, channelID string) (string, error) {
	if parentID, ok := r.cache.Get(channelID); ok {
		metrics.ChannelCacheHits.Inc()
		return parentID, nil
	}
	metrics.ChannelCacheMisses.Inc()

	lastErr := errNoLookup
	for _, lookup := range r.lookups {
		channel, err := lookup(ctx, channelID)
		if err != nil {
			lastErr = err
			continue
		}
		r.cache.Add(channelID, channel.ParentID)
		return channel.ParentID, nil
	}

	return "", fmt.Errorf("failed to resolve channel %s: %w", channelID, lastErr)
}

func (r *channelResolver) invalidate(channelID string) {
	r.cache.Remove(channelID)
}

func (r *channelResolver) len() int {
	return r.cache.Len()
}
