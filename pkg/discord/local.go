package discord

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/go-resty/resty/v2"

	"github.com/scpdiscord/scpdiscord/pkg/protocol"
)

var steamID64Pattern = regexp.MustCompile(`<steamID64>(\d+)</steamID64>`)

func newSteamClient() *resty.Client {
	return resty.New().
		SetHeader("Accept", "text/xml").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
}

func (b *Bot) runHelp(i *discordgo.Interaction, _ map[string]string) error {
	names := make([]string, 0, len(b.commands))
	for name := range b.commands {
		names = append(names, name)
	}
	slices.Sort(names)

	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "`/%s` %s\n", name, b.commands[name].description)
	}

	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{{
				Title:       "Commands",
				Description: strings.TrimSuffix(sb.String(), "\n"),
				Color:       protocol.ColourCyan.Value(),
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send help: %w", classify(err))
	}
	return nil
}

// runGetID reads the SteamID64 from the XML form of a Steam profile page.
func (b *Bot) runGetID(i *discordgo.Interaction, args map[string]string) error {
	profile, err := url.Parse(args["url"])
	if err != nil || (profile.Scheme != "http" && profile.Scheme != "https") || profile.Host == "" {
		return b.replyError(i, "That doesn't look like a valid Steam profile URL.")
	}

	err = b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		return fmt.Errorf("failed to defer response: %w", classify(err))
	}

	embed := &discordgo.MessageEmbed{Color: protocol.ColourCyan.Value(), Title: "Steam UserID"}
	id, lookupErr := b.lookupSteamID(profile.String())
	switch {
	case lookupErr == nil:
		embed.Description = "The SteamID64 of this Steam profile is: " + id
	case errors.Is(lookupErr, errNoSteamID):
		embed = errorEmbed("Could not find a SteamID64 for that profile.")
	default:
		embed = errorEmbed("Could not fetch the Steam profile: " + lookupErr.Error())
	}

	if _, err := b.api.InteractionResponseEdit(i, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	}); err != nil {
		return fmt.Errorf("failed to send steam id: %w", classify(err))
	}
	return lookupErr
}

var errNoSteamID = errors.New("no steamID64 in profile")

func (b *Bot) lookupSteamID(profileURL string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SendTimeout)
	defer cancel()

	resp, err := b.steam.R().
		SetContext(ctx).
		SetQueryParam("xml", "1").
		Get(profileURL)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("steam returned %s", resp.Status())
	}

	m := steamID64Pattern.FindStringSubmatch(resp.String())
	if m == nil {
		return "", errNoSteamID
	}
	return m[1], nil
}
