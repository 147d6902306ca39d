package redis

import (
	"fmt"
	"strings"

	"github.com/goodtune/patrol/internal/storage"
)

// keys builds every Redis key used by the store.
//
//	{prefix}:active                          set of "guild:user" with an active session
//	{prefix}:active:{guild}:{user}           hash, active session record
//	{prefix}:totals:{guild}                  zset user -> all-time ms
//	{prefix}:monthly:{guild}:{YYYY-MM}       zset user -> monthly ms
//	{prefix}:channel:{guild}:{channel}       zset user -> channel ms
//	{prefix}:paused:guilds                   set of paused guilds
//	{prefix}:paused:index                    set of guilds with paused users
//	{prefix}:paused:users:{guild}            set of paused users
type keys struct {
	prefix string
}

func (k keys) activeIndex() string {
	return k.prefix + ":active"
}

func (k keys) activeSession(guildID, userID string) string {
	return fmt.Sprintf("%s:active:%s:%s", k.prefix, guildID, userID)
}

func (k keys) allTime(guildID string) string {
	return fmt.Sprintf("%s:totals:%s", k.prefix, guildID)
}

func (k keys) monthly(guildID string, year, month int) string {
	return fmt.Sprintf("%s:monthly:%s:%s", k.prefix, guildID, storage.MonthKey(year, month))
}

func (k keys) channel(guildID, channelID string) string {
	return fmt.Sprintf("%s:channel:%s:%s", k.prefix, guildID, channelID)
}

func (k keys) pausedGuilds() string {
	return k.prefix + ":paused:guilds"
}

func (k keys) pausedIndex() string {
	return k.prefix + ":paused:index"
}

func (k keys) pausedUsers(guildID string) string {
	return fmt.Sprintf("%s:paused:users:%s", k.prefix, guildID)
}

func indexMember(guildID, userID string) string {
	return guildID + ":" + userID
}

func splitIndexMember(member string) (string, string, bool) {
	return strings.Cut(member, ":")
}
