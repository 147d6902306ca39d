package gateway

import (
	"github.com/bwmarrin/discordgo"
	"github.com/goodtune/patrol/internal/presence"
)

// toTransition converts a voice state update into a presence transition. The
// previous channel comes from the state cache snapshot taken before the
// update was applied; a user unknown to the cache had no channel.
func toTransition(e *discordgo.VoiceStateUpdate, isBot bool) presence.Transition {
	tr := presence.Transition{
		GuildID:      e.GuildID,
		UserID:       e.UserID,
		NewChannelID: e.ChannelID,
		IsBot:        isBot,
	}
	if e.BeforeUpdate != nil {
		tr.PreviousChannelID = e.BeforeUpdate.ChannelID
	}
	return tr
}

// memberIsBot reports whether a member is a bot account, and whether the
// member carried enough data to tell.
func memberIsBot(member *discordgo.Member) (bool, bool) {
	if member == nil || member.User == nil {
		return false, false
	}
	return member.User.Bot, true
}
