// Package discord is the Discord side of the bridge: it delivers batches,
// answers slash commands, and edits deferred replies when the plugin
// responds.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-resty/resty/v2"

	"github.com/scpdiscord/scpdiscord/pkg/interactions"
	"github.com/scpdiscord/scpdiscord/pkg/logger"
	"github.com/scpdiscord/scpdiscord/pkg/protocol"
)

const defaultSendTimeout = 10 * time.Second

var (
	ErrNotReady     = errors.New("discord bot not connected")
	ErrNoPermission = errors.New("missing discord permissions")
)

// PluginLink forwards commands to the plugin.
type PluginLink interface {
	Connected() bool
	Send(env protocol.Envelope) error
}

// restAPI is the part of *discordgo.Session the bot calls per request.
type restAPI interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

type Config struct {
	Token           string
	ServerID        uint64
	DisableCommands bool
	PresenceText    string
	PresenceType    string
	StatusType      string
	LeaveServers    []uint64
	SendTimeout     time.Duration
}

type Bot struct {
	cfg      Config
	session  *discordgo.Session
	api      restAPI
	table    *interactions.Table
	link     PluginLink
	steam    *resty.Client
	commands map[string]commandSpec
	ready    atomic.Bool
}

func NewBot(cfg Config, table *interactions.Table, link PluginLink) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentsMessageContent

	b := newBot(cfg, session, table, link)
	b.session = session
	return b, nil
}

func newBot(cfg Config, api restAPI, table *interactions.Table, link PluginLink) *Bot {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Bot{
		cfg:      cfg,
		api:      api,
		table:    table,
		link:     link,
		steam:    newSteamClient(),
		commands: commandSpecs(),
	}
}

// Run connects and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return b.Stop()
}

func (b *Bot) Start() error {
	logger.InfoC("discord", "Connecting to Discord")

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onResumed)
	b.session.AddHandler(b.onDisconnect)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onInteraction)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	return nil
}

func (b *Bot) Stop() error {
	logger.InfoC("discord", "Disconnecting from Discord")
	b.ready.Store(false)
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

// IsReady reports whether the gateway session is up.
func (b *Bot) IsReady() bool {
	return b.ready.Load()
}

// SendText posts text to a channel. It gives up when ctx is done.
func (b *Bot) SendText(ctx context.Context, channelID uint64, text string) error {
	if !b.IsReady() {
		return ErrNotReady
	}
	return b.withTimeout(ctx, func() error {
		_, err := b.api.ChannelMessageSend(formatID(channelID), text)
		return err
	})
}

// SendEmbed posts an embed to a channel outside of any interaction.
func (b *Bot) SendEmbed(ctx context.Context, channelID uint64, embed protocol.Embed) error {
	if !b.IsReady() {
		return ErrNotReady
	}
	return b.withTimeout(ctx, func() error {
		_, err := b.api.ChannelMessageSendEmbed(formatID(channelID), toDiscordEmbed(embed))
		return err
	})
}

func (b *Bot) withTimeout(ctx context.Context, call func() error) error {
	sendCtx, cancel := context.WithTimeout(ctx, b.cfg.SendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- call()
	}()

	select {
	case err := <-done:
		return classify(err)
	case <-sendCtx.Done():
		return fmt.Errorf("discord request timeout: %w", sendCtx.Err())
	}
}

// classify marks 403 responses so callers can tell permission problems
// from transport failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %v", ErrNoPermission, err)
	}
	return err
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.ready.Store(true)
	logger.InfoCF("discord", "Connected to Discord", map[string]any{
		"username": r.User.Username,
		"user_id":  r.User.ID,
		"guilds":   len(r.Guilds),
	})

	if err := b.SetDisconnectedActivity(); err != nil {
		logger.WarnCF("discord", "Failed to set presence", map[string]any{"error": err.Error()})
	}

	cmds := b.applicationCommands()
	if b.cfg.DisableCommands {
		cmds = []*discordgo.ApplicationCommand{}
	}
	if _, err := s.ApplicationCommandBulkOverwrite(r.User.ID, "", cmds); err != nil {
		logger.ErrorCF("discord", "Failed to register commands", map[string]any{"error": err.Error()})
		return
	}
	logger.InfoCF("discord", "Registered commands", map[string]any{"count": len(cmds)})
}

func (b *Bot) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	b.ready.Store(true)
	logger.InfoC("discord", "Discord session resumed")
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.ready.Store(false)
	logger.WarnC("discord", "Disconnected from Discord, outbound messages will queue until reconnect")
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	logger.InfoCF("discord", "Found Discord server", map[string]any{
		"guild":    g.Name,
		"guild_id": g.ID,
	})

	id, _ := parseID(g.ID)
	for _, leave := range b.cfg.LeaveServers {
		if leave != id {
			continue
		}
		logger.WarnCF("discord", "Leaving Discord server as requested", map[string]any{
			"guild":    g.Name,
			"guild_id": g.ID,
		})
		if err := s.GuildLeave(g.ID); err != nil {
			logger.ErrorCF("discord", "Failed to leave Discord server", map[string]any{
				"guild_id": g.ID,
				"error":    err.Error(),
			})
		}
		return
	}

	for _, role := range g.Roles {
		logger.DebugCF("discord", "Guild role", map[string]any{
			"role":    role.Name,
			"role_id": role.ID,
		})
	}
}

// SnowflakeTime is the creation time embedded in a Discord id.
func SnowflakeTime(id uint64) (time.Time, bool) {
	if id == 0 {
		return time.Time{}, false
	}
	t, err := discordgo.SnowflakeTimestamp(formatID(id))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid discord id %q: %w", s, err)
	}
	return id, nil
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
