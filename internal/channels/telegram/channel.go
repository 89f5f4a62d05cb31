// Package telegram connects NutriBot to the Telegram Bot API using
// long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/nutribot/internal/bus"
	"github.com/nextlevelbuilder/nutribot/internal/channels"
	"github.com/nextlevelbuilder/nutribot/internal/config"
	"github.com/nextlevelbuilder/nutribot/internal/sessions"
)

// Channel is the Telegram adapter.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	cfg        config.TelegramConfig
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus),
		bot:         bot,
		cfg:         cfg,
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the poll goroutine to exit
// so Telegram releases the getUpdates lock before a restart.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) handleMessage(message *telego.Message) {
	user := message.From
	if user == nil || message.Text == "" {
		return
	}

	senderID := fmt.Sprintf("%d", user.ID)
	chatID := fmt.Sprintf("%d", message.Chat.ID)
	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"

	slog.Debug("telegram message received",
		"chat_id", message.Chat.ID,
		"user_id", user.ID,
		"text_preview", channels.Truncate(message.Text, 60),
	)

	metadata := map[string]string{"message_id": fmt.Sprintf("%d", message.MessageID)}
	if user.Username != "" {
		metadata["username"] = user.Username
	}

	c.HandleMessage(senderID, chatID, message.Text, metadata, sessions.PeerKindFromGroup(isGroup))
}

// Send delivers a reply to the chat.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	var id int64
	if _, err := fmt.Sscanf(msg.ChatID, "%d", &id); err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", msg.ChatID, err)
	}
	_, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(id), msg.Content))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
