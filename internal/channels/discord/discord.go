// Package discord connects NutriBot to Discord via gateway events.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/nutribot/internal/bus"
	"github.com/nextlevelbuilder/nutribot/internal/channels"
	"github.com/nextlevelbuilder/nutribot/internal/config"
	"github.com/nextlevelbuilder/nutribot/internal/sessions"
)

// Discord rejects messages over 2000 characters.
const maxMessageChars = 2000

// Channel is the Discord adapter.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	cfg       config.DiscordConfig
	botUserID string
}

func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus),
		session:     session,
		cfg:         cfg,
	}, nil
}

// Start opens the gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	isGroup := m.GuildID != ""

	slog.Debug("discord message received",
		"channel_id", m.ChannelID,
		"user_id", m.Author.ID,
		"text_preview", channels.Truncate(m.Content, 60),
	)

	metadata := map[string]string{"message_id": m.ID}
	if m.Author.Username != "" {
		metadata["username"] = m.Author.Username
	}

	c.HandleMessage(m.Author.ID, m.ChannelID, m.Content, metadata, sessions.PeerKindFromGroup(isGroup))
}

// Send delivers a reply, splitting content past the platform limit.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}

	content := msg.Content
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxMessageChars {
			chunk = chunk[:maxMessageChars]
		}
		content = content[len(chunk):]
		if _, err := c.session.ChannelMessageSend(msg.ChatID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}
