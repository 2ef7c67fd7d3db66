package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/scpdiscord/scpdiscord/pkg/protocol"
	"github.com/scpdiscord/scpdiscord/pkg/utils"
)

// Discord rejects embeds exceeding these.
const (
	maxTitleLen       = 256
	maxDescriptionLen = 4096
	maxFieldNameLen   = 256
	maxFieldValueLen  = 1024
	maxFooterLen      = 2048
	maxFields         = 25
)

func toDiscordEmbed(e protocol.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       utils.Truncate(e.Title, maxTitleLen),
		Description: utils.Truncate(e.Description, maxDescriptionLen),
		URL:         e.URL,
		Color:       e.Colour.Value(),
	}
	if e.Timestamp != 0 {
		out.Timestamp = time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339)
	}
	if e.ImageURL != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if e.Footer != nil {
		out.Footer = &discordgo.MessageEmbedFooter{Text: utils.Truncate(e.Footer.Text, maxFooterLen), IconURL: e.Footer.IconURL}
	}
	if e.Thumbnail != nil {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{
			URL:    e.Thumbnail.URL,
			Width:  e.Thumbnail.Width,
			Height: e.Thumbnail.Height,
		}
	}
	if e.Author != nil {
		out.Author = &discordgo.MessageEmbedAuthor{Name: e.Author.Name, URL: e.Author.URL, IconURL: e.Author.IconURL}
	}
	for n, f := range e.Fields {
		if n == maxFields {
			break
		}
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   utils.Truncate(f.Name, maxFieldNameLen),
			Value:  utils.Truncate(f.Value, maxFieldValueLen),
			Inline: f.Inline,
		})
	}
	return out
}
