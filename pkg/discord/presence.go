package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/scpdiscord/scpdiscord/pkg/logger"
)

// SetDisconnectedActivity shows the configured presence used while no
// plugin activity has been received.
func (b *Bot) SetDisconnectedActivity() error {
	return b.SetActivity(b.cfg.PresenceText, b.cfg.PresenceType, b.cfg.StatusType)
}

func (b *Bot) SetActivity(text, activityType, status string) error {
	if !b.IsReady() || b.session == nil {
		return nil
	}
	return b.session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{{Name: text, Type: parseActivityType(activityType)}},
		Status:     string(parseStatus(status)),
	})
}

func parseActivityType(s string) discordgo.ActivityType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playing", "game", "":
		return discordgo.ActivityTypeGame
	case "streaming":
		return discordgo.ActivityTypeStreaming
	case "listening", "listeningto":
		return discordgo.ActivityTypeListening
	case "watching":
		return discordgo.ActivityTypeWatching
	case "custom":
		return discordgo.ActivityTypeCustom
	case "competing":
		return discordgo.ActivityTypeCompeting
	}
	logger.WarnCF("discord", "Invalid activity type, using 'playing' instead", map[string]any{"type": s})
	return discordgo.ActivityTypeGame
}

func parseStatus(s string) discordgo.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online":
		return discordgo.StatusOnline
	case "idle":
		return discordgo.StatusIdle
	case "dnd", "donotdisturb", "":
		return discordgo.StatusDoNotDisturb
	case "invisible", "offline":
		return discordgo.StatusInvisible
	}
	logger.WarnCF("discord", "Invalid status type, using 'dnd' instead", map[string]any{"status": s})
	return discordgo.StatusDoNotDisturb
}
