// Package gateway routes plugin events to Discord: replies go to their
// pending interaction when one is still waiting, everything else is queued
// for its channel.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scpdiscord/scpdiscord/pkg/bus"
	"github.com/scpdiscord/scpdiscord/pkg/discord"
	"github.com/scpdiscord/scpdiscord/pkg/interactions"
	"github.com/scpdiscord/scpdiscord/pkg/logger"
	"github.com/scpdiscord/scpdiscord/pkg/protocol"
)

var errNoChannel = errors.New("message has no channel to fall back to")

type Enqueuer interface {
	Enqueue(channelID uint64, fragment string)
}

type Resolver interface {
	Resolve(requestID uint64) (interactions.Entry, bool)
}

// Responder is the Discord side the gateway drives.
type Responder interface {
	IsReady() bool
	RespondEmbed(ctx context.Context, entry interactions.Entry, embed protocol.Embed) error
	RespondPages(ctx context.Context, entry interactions.Entry, pages []protocol.Embed) error
	SetActivity(text, activityType, status string) error
	SetDisconnectedActivity() error
	MemberInfo(ctx context.Context, q protocol.UserQuery) (protocol.UserInfo, error)
}

// replyTypes wait on Discord and run outside the consume loop.
var replyTypes = map[string]bool{
	protocol.TypeEmbedMessage:     true,
	protocol.TypePaginatedMessage: true,
	protocol.TypeUserQuery:        true,
}

type Gateway struct {
	bus       bus.Broker
	queue     Enqueuer
	pending   Resolver
	responder Responder
	inflight  sync.WaitGroup
}

func NewGateway(b bus.Broker, queue Enqueuer, pending Resolver, responder Responder) *Gateway {
	return &Gateway{
		bus:       b,
		queue:     queue,
		pending:   pending,
		responder: responder,
	}
}

// Run dispatches inbound plugin frames until ctx is cancelled or the bus
// is closed. Replies that wait on Discord are handled in their own
// goroutine so chat relays never queue behind a slow request; Run waits
// for them before returning.
func (g *Gateway) Run(ctx context.Context) error {
	g.registerHandlers(ctx)
	defer g.inflight.Wait()

	for {
		msg, ok := g.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}

		handler, ok := g.bus.GetHandler(msg.Envelope.Type)
		if !ok {
			logger.WarnCF("gateway", "Unknown message type from plugin", map[string]any{
				"type":   msg.Envelope.Type,
				"source": msg.Source,
			})
			continue
		}

		if !replyTypes[msg.Envelope.Type] {
			g.invoke(handler, msg)
			continue
		}
		g.inflight.Add(1)
		go func() {
			defer g.inflight.Done()
			g.invoke(handler, msg)
		}()
	}
}

func (g *Gateway) invoke(handler bus.MessageHandler, msg bus.InboundMessage) {
	if err := handler(msg); err != nil {
		logger.ErrorCF("gateway", "Failed to handle plugin message", map[string]any{
			"type":   msg.Envelope.Type,
			"source": msg.Source,
			"error":  err.Error(),
		})
	}
}

func (g *Gateway) registerHandlers(ctx context.Context) {
	g.bus.RegisterHandler(protocol.TypeChatMessage, g.handleChat)
	g.bus.RegisterHandler(protocol.TypeEmbedMessage, func(msg bus.InboundMessage) error {
		return g.handleEmbed(ctx, msg)
	})
	g.bus.RegisterHandler(protocol.TypePaginatedMessage, func(msg bus.InboundMessage) error {
		return g.handlePages(ctx, msg)
	})
	g.bus.RegisterHandler(protocol.TypeBotActivity, g.handleActivity)
	g.bus.RegisterHandler(protocol.TypeUserQuery, func(msg bus.InboundMessage) error {
		return g.handleUserQuery(ctx, msg)
	})
}

// PluginConnectionChanged restores the configured presence once the
// plugin goes away. While connected the plugin sets presence itself.
func (g *Gateway) PluginConnectionChanged(connected bool) {
	if connected {
		return
	}
	if err := g.responder.SetDisconnectedActivity(); err != nil {
		logger.WarnCF("gateway", "Failed to reset presence", map[string]any{"error": err.Error()})
	}
}

func (g *Gateway) handleChat(msg bus.InboundMessage) error {
	var m protocol.ChatMessage
	if err := msg.Envelope.Decode(&m); err != nil {
		return err
	}
	if m.ChannelID == 0 {
		return errNoChannel
	}
	g.queue.Enqueue(m.ChannelID, m.Content)
	return nil
}

func (g *Gateway) handleEmbed(ctx context.Context, msg bus.InboundMessage) error {
	var m protocol.EmbedMessage
	if err := msg.Envelope.Decode(&m); err != nil {
		return err
	}

	if entry, ok := g.resolve(m.InteractionID, m.ChannelID); ok {
		err := g.responder.RespondEmbed(ctx, entry, m.Embed)
		if !errors.Is(err, discord.ErrNotReady) {
			if err != nil {
				return fmt.Errorf("failed to answer interaction %d: %w", entry.RequestID, err)
			}
			return nil
		}
		logger.WarnCF("gateway", "Discord disconnected before reply, sending to channel", map[string]any{
			"interaction_id": entry.RequestID,
			"channel_id":     m.ChannelID,
		})
	}

	if m.ChannelID == 0 {
		return errNoChannel
	}
	g.queue.Enqueue(m.ChannelID, m.Embed.PlainText())
	return nil
}

func (g *Gateway) handlePages(ctx context.Context, msg bus.InboundMessage) error {
	var m protocol.PaginatedMessage
	if err := msg.Envelope.Decode(&m); err != nil {
		return err
	}
	if len(m.Pages) == 0 {
		return errors.New("paginated message has no pages")
	}

	if entry, ok := g.resolve(m.InteractionID, m.ChannelID); ok {
		err := g.responder.RespondPages(ctx, entry, m.Pages)
		if !errors.Is(err, discord.ErrNotReady) {
			if err != nil {
				return fmt.Errorf("failed to answer interaction %d: %w", entry.RequestID, err)
			}
			return nil
		}
		logger.WarnCF("gateway", "Discord disconnected before reply, sending to channel", map[string]any{
			"interaction_id": entry.RequestID,
			"channel_id":     m.ChannelID,
		})
	}

	if m.ChannelID == 0 {
		return errNoChannel
	}
	for _, page := range m.Pages {
		g.queue.Enqueue(m.ChannelID, page.PlainText())
	}
	return nil
}

// resolve looks up a pending interaction. A reply whose interaction has
// expired or never existed is logged and falls back to its channel. While
// Discord is down the entry is left in place and the reply goes to the
// channel queue, which holds it until the connection is back.
func (g *Gateway) resolve(requestID, channelID uint64) (interactions.Entry, bool) {
	if requestID == 0 {
		return interactions.Entry{}, false
	}
	if !g.responder.IsReady() {
		logger.WarnCF("gateway", "Discord not connected, sending reply to channel", map[string]any{
			"interaction_id": requestID,
			"channel_id":     channelID,
		})
		return interactions.Entry{}, false
	}
	entry, ok := g.pending.Resolve(requestID)
	if !ok {
		logger.WarnCF("gateway", "No pending interaction for reply, sending to channel", map[string]any{
			"interaction_id": requestID,
			"channel_id":     channelID,
		})
	}
	return entry, ok
}

func (g *Gateway) handleActivity(msg bus.InboundMessage) error {
	var m protocol.BotActivity
	if err := msg.Envelope.Decode(&m); err != nil {
		return err
	}
	return g.responder.SetActivity(m.ActivityText, m.ActivityType, m.StatusType)
}

func (g *Gateway) handleUserQuery(ctx context.Context, msg bus.InboundMessage) error {
	var q protocol.UserQuery
	if err := msg.Envelope.Decode(&q); err != nil {
		return err
	}

	info, err := g.responder.MemberInfo(ctx, q)
	if err != nil {
		return err
	}
	env, err := protocol.NewEnvelope(protocol.TypeUserInfo, info)
	if err != nil {
		return err
	}
	if !g.bus.PublishOutbound(bus.OutboundMessage{Envelope: env}) {
		return errors.New("bus closed")
	}
	return nil
}
