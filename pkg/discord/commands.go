package discord

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/scpdiscord/scpdiscord/pkg/interactions"
	"github.com/scpdiscord/scpdiscord/pkg/logger"
	"github.com/scpdiscord/scpdiscord/pkg/protocol"
)

type optionSpec struct {
	name        string
	description string
	required    bool
	steamID     bool // validated and normalized before forwarding
}

type commandSpec struct {
	name        string
	description string
	options     []optionSpec
	// local commands are answered by the bot and never reach the plugin.
	local       func(b *Bot, i *discordgo.Interaction, args map[string]string) error
}

func commandSpecs() map[string]commandSpec {
	steamID := func(desc string) optionSpec {
		return optionSpec{name: "steamid", description: desc, required: true, steamID: true}
	}
	reason := optionSpec{name: "reason", description: "Reason shown to the player."}
	duration := optionSpec{name: "duration", description: "Duration, e.g. 2d is two days.", required: true}

	steamIDOrIP := func(desc string) optionSpec {
		return optionSpec{name: "steamid_or_ip", description: desc, required: true}
	}

	specs := []commandSpec{
		{name: "help", description: "Shows the available commands.", local: (*Bot).runHelp},
		{name: "getid", description: "Looks up the SteamID64 of a Steam profile URL.", options: []optionSpec{{name: "url", description: "Steam profile URL.", required: true}}, local: (*Bot).runGetID},
		{name: "list", description: "Lists online players."},
		{name: "listsynced", description: "Lists online players and their linked Discord accounts."},
		{name: "kickall", description: "Kicks all players on the server.", options: []optionSpec{reason}},
		{name: "kick", description: "Kicks a player from the server.", options: []optionSpec{steamID("Steam ID of the player to kick."), reason}},
		{name: "ban", description: "Bans a player from the server.", options: []optionSpec{steamID("Steam ID of the player to ban."), duration, reason}},
		{name: "unban", description: "Removes a ban.", options: []optionSpec{steamIDOrIP("Steam ID or IP address to unban.")}},
		{name: "mute", description: "Mutes a player on the server.", options: []optionSpec{steamID("Steam ID of the player to mute."), duration, reason}},
		{name: "unmute", description: "Unmutes a player on the server.", options: []optionSpec{steamID("Steam ID of the player to unmute.")}},
		{name: "playerinfo", description: "Shows information about a player.", options: []optionSpec{steamID("Steam ID of the player.")}},
		{name: "server", description: "Runs a server console command.", options: []optionSpec{{name: "command", description: "Console command to run.", required: true}}},
		{name: "ra", description: "Runs a remote admin command.", options: []optionSpec{{name: "command", description: "Remote admin command to run.", required: true}}},
		{name: "syncsteamid", description: "Links your Discord account to a Steam ID.", options: []optionSpec{steamID("Your Steam ID.")}},
		{name: "syncip", description: "Links your Discord account to an IP address.", options: []optionSpec{{name: "ip", description: "Your IP address.", required: true}}},
		{name: "unsync", description: "Removes the link between your Discord account and the game."},
		{name: "unsyncplayer", description: "Removes the link of another player.", options: []optionSpec{steamIDOrIP("Steam ID or IP address of the player.")}},
	}

	out := make(map[string]commandSpec, len(specs))
	for _, s := range specs {
		out[s.name] = s
	}
	return out
}

func (b *Bot) applicationCommands() []*discordgo.ApplicationCommand {
	names := make([]string, 0, len(b.commands))
	for name := range b.commands {
		names = append(names, name)
	}
	slices.Sort(names)

	noDM := false
	cmds := make([]*discordgo.ApplicationCommand, 0, len(names))
	for _, name := range names {
		spec := b.commands[name]
		cmd := &discordgo.ApplicationCommand{
			Name:         spec.name,
			Description:  spec.description,
			DMPermission: &noDM,
		}
		for _, opt := range spec.options {
			cmd.Options = append(cmd.Options, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        opt.name,
				Description: opt.description,
				Required:    opt.required,
			})
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func (b *Bot) onInteraction(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if err := b.runCommand(ic.Interaction); err != nil {
		logger.ErrorCF("discord", "Command failed", map[string]any{
			"command":        ic.ApplicationCommandData().Name,
			"interaction_id": ic.ID,
			"error":          err.Error(),
		})
	}
}

// runCommand defers the reply, registers the pending interaction and only
// then forwards the command, so a fast reply always finds its entry.
func (b *Bot) runCommand(i *discordgo.Interaction) error {
	data := i.ApplicationCommandData()
	spec, ok := b.commands[data.Name]
	if !ok {
		return fmt.Errorf("unknown command %q", data.Name)
	}

	if i.GuildID == "" {
		return b.replyError(i, "This command has to be used in a Discord server!")
	}

	args, problem := spec.parse(data.Options)
	if problem != "" {
		return b.replyError(i, problem)
	}
	if spec.local != nil {
		return spec.local(b, i, args)
	}

	requestID, err := parseID(i.ID)
	if err != nil {
		return err
	}
	channelID, _ := parseID(i.ChannelID)
	user := interactionUser(i)

	err = b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		return fmt.Errorf("failed to defer response: %w", classify(err))
	}

	entry := b.table.Register(interactions.Entry{
		RequestID: requestID,
		ChannelID: channelID,
		UserID:    user.id,
		Command:   spec.name,
		Handle:    i,
	})

	env, err := protocol.NewEnvelope(protocol.TypeCommand, protocol.Command{
		Name:               spec.name,
		Args:               args,
		ChannelID:          channelID,
		InteractionID:      requestID,
		DiscordUserID:      user.id,
		DiscordUsername:    user.username,
		DiscordDisplayName: user.displayName,
	})
	if err == nil {
		err = b.link.Send(env)
	}
	if err == nil {
		return nil
	}

	if _, ok := b.table.Resolve(entry.RequestID); ok {
		msg := "Could not reach the game server, is it running?"
		if !b.link.Connected() {
			msg = "The game server is not connected to the bot."
		}
		if _, editErr := b.api.InteractionResponseEdit(i, &discordgo.WebhookEdit{
			Embeds: &[]*discordgo.MessageEmbed{errorEmbed(msg)},
		}); editErr != nil {
			logger.WarnCF("discord", "Failed to report forwarding error", map[string]any{
				"interaction_id": i.ID,
				"error":          editErr.Error(),
			})
		}
	}
	return fmt.Errorf("failed to forward %s to plugin: %w", spec.name, err)
}

func (s commandSpec) parse(options []*discordgo.ApplicationCommandInteractionDataOption) (map[string]string, string) {
	if len(s.options) == 0 {
		return nil, ""
	}

	given := make(map[string]string, len(options))
	for _, opt := range options {
		given[opt.Name] = strings.TrimSpace(fmt.Sprint(opt.Value))
	}

	args := make(map[string]string, len(s.options))
	for _, opt := range s.options {
		v, ok := given[opt.name]
		if !ok || v == "" {
			if opt.required {
				return nil, fmt.Sprintf("Missing required option '%s'.", opt.name)
			}
			continue
		}
		if opt.steamID {
			id, ok := ParseSteamID(v)
			if !ok {
				return nil, "That SteamID doesn't seem to be valid."
			}
			v = strconv.FormatUint(id, 10)
		}
		args[opt.name] = v
	}
	return args, ""
}

// ParseSteamID accepts a SteamID64, optionally suffixed with "@steam".
func ParseSteamID(s string) (uint64, bool) {
	if len(s) < 17 {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(s, "@steam"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type commandUser struct {
	id          uint64
	username    string
	displayName string
}

func interactionUser(i *discordgo.Interaction) commandUser {
	if i.Member != nil && i.Member.User != nil {
		return userOf(i.Member.User, i.Member.Nick)
	}
	if i.User != nil {
		return userOf(i.User, "")
	}
	return commandUser{}
}

// userOf prefers the server nickname, then the global display name.
func userOf(u *discordgo.User, nick string) commandUser {
	id, _ := parseID(u.ID)
	display := nick
	if display == "" {
		display = u.GlobalName
	}
	if display == "" {
		display = u.Username
	}
	return commandUser{id: id, username: u.Username, displayName: display}
}

func (b *Bot) replyError(i *discordgo.Interaction, description string) error {
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{errorEmbed(description)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send error response: %w", classify(err))
	}
	return nil
}

func errorEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: description,
		Color:       protocol.ColourRed.Value(),
	}
}
