// SCPDiscord - Discord bridge for SCP: Secret Laboratory servers
// License: MIT

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

const TokenPlaceholder = "add-your-token-here"

type Config struct {
	Bot       BotConfig       `json:"bot"`
	Plugin    PluginConfig    `json:"plugin"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Log       LogConfig       `json:"log"`
}

type BotConfig struct {
	Token           string   `json:"token" env:"SCPDISCORD_BOT_TOKEN"`
	ServerID        uint64   `json:"server_id,string" env:"SCPDISCORD_SERVER_ID"`
	DisableCommands bool     `json:"disable_commands" env:"SCPDISCORD_DISABLE_COMMANDS"`
	PresenceText    string   `json:"presence_text" env:"SCPDISCORD_PRESENCE_TEXT"`
	PresenceType    string   `json:"presence_type" env:"SCPDISCORD_PRESENCE_TYPE"`
	StatusType      string   `json:"status_type" env:"SCPDISCORD_STATUS_TYPE"`
	LeaveServers    []uint64 `json:"leave_servers,omitempty" env:"SCPDISCORD_LEAVE_SERVERS" envSeparator:","`
}

type PluginConfig struct {
	ListenAddr string `json:"listen_addr" env:"SCPDISCORD_PLUGIN_ADDR"`
	Path       string `json:"path" env:"SCPDISCORD_PLUGIN_PATH"`
	Token      string `json:"token" env:"SCPDISCORD_PLUGIN_TOKEN"`
}

type SchedulerConfig struct {
	TickIntervalMS            int `json:"tick_interval_ms" env:"SCPDISCORD_TICK_INTERVAL_MS"`
	InteractionTimeoutSeconds int `json:"interaction_timeout_seconds" env:"SCPDISCORD_INTERACTION_TIMEOUT_SECONDS"`
	MaxMessageLength          int `json:"max_message_length" env:"SCPDISCORD_MAX_MESSAGE_LENGTH"`
	SendTimeoutSeconds        int `json:"send_timeout_seconds" env:"SCPDISCORD_SEND_TIMEOUT_SECONDS"`
}

type LogConfig struct {
	Level string `json:"level" env:"SCPDISCORD_LOG_LEVEL"`
	JSON  bool   `json:"json" env:"SCPDISCORD_LOG_JSON"`
}

func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Token:        TokenPlaceholder,
			PresenceText: "for server connection...",
			PresenceType: "watching",
			StatusType:   "dnd",
		},
		Plugin: PluginConfig{
			ListenAddr: "127.0.0.1:8888",
			Path:       "/plugin",
		},
		Scheduler: SchedulerConfig{
			TickIntervalMS:            1000,
			InteractionTimeoutSeconds: 30,
			MaxMessageLength:          2000,
			SendTimeoutSeconds:        10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path over the defaults, then applies SCPDISCORD_*
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes cfg as indented JSON, creating the parent directory.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	if c.Bot.Token == "" || c.Bot.Token == TokenPlaceholder {
		return errors.New("bot.token is required: set your bot token in the config")
	}
	if c.Plugin.ListenAddr == "" {
		return errors.New("plugin.listen_addr is required")
	}
	if c.Plugin.Path == "" || c.Plugin.Path[0] != '/' {
		return fmt.Errorf("plugin.path %q must start with /", c.Plugin.Path)
	}
	if c.Scheduler.TickIntervalMS <= 0 {
		return errors.New("scheduler.tick_interval_ms must be positive")
	}
	if c.Scheduler.InteractionTimeoutSeconds <= 0 {
		return errors.New("scheduler.interaction_timeout_seconds must be positive")
	}
	if c.Scheduler.SendTimeoutSeconds <= 0 {
		return errors.New("scheduler.send_timeout_seconds must be positive")
	}
	if c.Scheduler.MaxMessageLength < 2 {
		return errors.New("scheduler.max_message_length must be at least 2")
	}
	return nil
}

func (s SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMS) * time.Millisecond
}

func (s SchedulerConfig) InteractionTimeout() time.Duration {
	return time.Duration(s.InteractionTimeoutSeconds) * time.Second
}

func (s SchedulerConfig) SendTimeout() time.Duration {
	return time.Duration(s.SendTimeoutSeconds) * time.Second
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Bot.LeaveServers = append([]uint64(nil), c.Bot.LeaveServers...)
	out.Bot.Token = mask(c.Bot.Token)
	out.Plugin.Token = mask(c.Plugin.Token)
	return &out
}

func mask(secret string) string {
	if secret == "" || secret == TokenPlaceholder {
		return secret
	}
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:4] + "********"
}
