package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/scpdiscord/scpdiscord/pkg/interactions"
	"github.com/scpdiscord/scpdiscord/pkg/protocol"
)

var ErrNoServerID = errors.New("bot.server_id is not set")

func interactionOf(entry interactions.Entry) (*discordgo.Interaction, error) {
	i, ok := entry.Handle.(*discordgo.Interaction)
	if !ok || i == nil {
		return nil, fmt.Errorf("pending interaction %d has no discord handle", entry.RequestID)
	}
	return i, nil
}

// RespondEmbed replaces the deferred reply of entry with embed.
func (b *Bot) RespondEmbed(ctx context.Context, entry interactions.Entry, embed protocol.Embed) error {
	if !b.IsReady() {
		return ErrNotReady
	}
	i, err := interactionOf(entry)
	if err != nil {
		return err
	}
	return b.withTimeout(ctx, func() error {
		_, err := b.api.InteractionResponseEdit(i, &discordgo.WebhookEdit{
			Embeds: &[]*discordgo.MessageEmbed{toDiscordEmbed(embed)},
		})
		return err
	})
}

// RespondPages puts the first page in the deferred reply and posts the
// rest as follow-ups.
func (b *Bot) RespondPages(ctx context.Context, entry interactions.Entry, pages []protocol.Embed) error {
	if len(pages) == 0 {
		return errors.New("paginated response has no pages")
	}
	if err := b.RespondEmbed(ctx, entry, pages[0]); err != nil {
		return err
	}

	i, _ := interactionOf(entry)
	for n, page := range pages[1:] {
		err := b.withTimeout(ctx, func() error {
			_, err := b.api.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
				Embeds: []*discordgo.MessageEmbed{toDiscordEmbed(page)},
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to send page %d: %w", n+2, err)
		}
	}
	return nil
}

// MemberInfo looks up a member of the configured server for role sync.
// The @everyone role, whose id is the server id, is always included.
func (b *Bot) MemberInfo(ctx context.Context, q protocol.UserQuery) (protocol.UserInfo, error) {
	if b.cfg.ServerID == 0 {
		return protocol.UserInfo{}, ErrNoServerID
	}
	if !b.IsReady() {
		return protocol.UserInfo{}, ErrNotReady
	}

	var member *discordgo.Member
	err := b.withTimeout(ctx, func() error {
		var err error
		member, err = b.api.GuildMember(formatID(b.cfg.ServerID), formatID(q.DiscordUserID))
		return err
	})
	if err != nil {
		return protocol.UserInfo{}, fmt.Errorf("failed to look up member %d: %w", q.DiscordUserID, err)
	}

	info := protocol.UserInfo{
		DiscordUserID: q.DiscordUserID,
		SteamIDOrIP:   q.SteamIDOrIP,
	}
	if member.User != nil {
		u := userOf(member.User, member.Nick)
		info.DiscordUsername = u.username
		info.DiscordDisplayName = u.displayName
	}
	for _, r := range member.Roles {
		id, err := parseID(r)
		if err != nil {
			continue
		}
		info.RoleIDs = append(info.RoleIDs, id)
	}
	info.RoleIDs = append(info.RoleIDs, b.cfg.ServerID)
	return info, nil
}
