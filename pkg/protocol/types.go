// Package protocol defines the JSON messages exchanged with the game
// server plugin. Every frame is an Envelope whose Type selects the payload.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Plugin to bot.
const (
	TypeChatMessage      = "chat_message"
	TypeEmbedMessage     = "embed_message"
	TypePaginatedMessage = "paginated_message"
	TypeBotActivity      = "bot_activity"
	TypeUserQuery        = "user_query"
)

// Bot to plugin.
const (
	TypeCommand  = "command"
	TypeUserInfo = "user_info"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload under the given type.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: data}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ChatMessage is unsolicited text for a channel, e.g. a relayed game chat line.
type ChatMessage struct {
	ChannelID uint64 `json:"channel_id,string"`
	Content   string `json:"content"`
}

// EmbedMessage answers a command, or is posted to ChannelID when the
// command is no longer pending.
type EmbedMessage struct {
	ChannelID     uint64 `json:"channel_id,string"`
	InteractionID uint64 `json:"interaction_id,string,omitempty"`
	Embed         Embed  `json:"embed"`
}

type PaginatedMessage struct {
	ChannelID     uint64  `json:"channel_id,string"`
	InteractionID uint64  `json:"interaction_id,string,omitempty"`
	UserID        uint64  `json:"user_id,string,omitempty"`
	Pages         []Embed `json:"pages"`
}

type BotActivity struct {
	ActivityText string `json:"activity_text"`
	ActivityType string `json:"activity_type"`
	StatusType   string `json:"status_type"`
}

// UserQuery asks for a member's roles for role sync.
type UserQuery struct {
	DiscordUserID uint64 `json:"discord_user_id,string"`
	SteamIDOrIP   string `json:"steam_id"`
}

type UserInfo struct {
	DiscordUserID      uint64   `json:"discord_user_id,string"`
	SteamIDOrIP        string   `json:"steam_id"`
	DiscordUsername    string   `json:"discord_username"`
	DiscordDisplayName string   `json:"discord_display_name"`
	RoleIDs            []uint64 `json:"role_ids"`
}

// Command is a chat command forwarded to the plugin. The reply carries
// InteractionID back so it can be matched to the pending request.
type Command struct {
	Name               string            `json:"name"`
	Args               map[string]string `json:"args,omitempty"`
	ChannelID          uint64            `json:"channel_id,string"`
	InteractionID      uint64            `json:"interaction_id,string"`
	DiscordUserID      uint64            `json:"discord_user_id,string"`
	DiscordUsername    string            `json:"discord_username"`
	DiscordDisplayName string            `json:"discord_display_name"`
}
