// Package channels provides the channel abstraction layer connecting
// messaging platforms (WhatsApp, Telegram, Discord) to the bot runtime
// via the message bus.
package channels

import (
	"context"
	"sync/atomic"

	"github.com/nextlevelbuilder/nutribot/internal/bus"
	"github.com/nextlevelbuilder/nutribot/internal/sessions"
)

// Channel is implemented by every platform adapter.
type Channel interface {
	// Name returns the channel identifier (e.g., "whatsapp", "telegram").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is actively processing.
	IsRunning() bool
}

// BaseChannel provides shared functionality for channel implementations.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running atomic.Bool
}

func NewBaseChannel(name string, msgBus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// HandleMessage publishes a received message to the bus. This is the
// standard way for channels to forward inbound traffic; it never blocks,
// so platform callbacks return promptly regardless of consumer state.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, metadata map[string]string, peerKind sessions.PeerKind) {
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		PeerKind: string(peerKind),
		UserID:   senderID,
		Metadata: metadata,
	})
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
