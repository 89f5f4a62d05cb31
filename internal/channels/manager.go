package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/nutribot/internal/bus"
)

// outboundRate paces per-channel sends. Messaging platforms throttle
// aggressively (Twilio WhatsApp allows roughly one message per second),
// so the dispatcher smooths bursts instead of tripping platform limits.
var outboundRate = rate.Limit(1)

const outboundBurst = 3

// Manager owns the registered channels, their lifecycle, and the
// outbound dispatch loop.
type Manager struct {
	channels map[string]Channel
	limiters map[string]*rate.Limiter
	bus      *bus.MessageBus
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.RWMutex
}

// NewManager creates a channel manager. Channels are registered
// externally via RegisterChannel before StartAll.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		limiters: make(map[string]*rate.Limiter),
		bus:      msgBus,
	}
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
	m.limiters[name] = rate.NewLimiter(outboundRate, outboundBurst)
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// StartAll starts all registered channels and the outbound dispatcher.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.dispatchOutbound(dispatchCtx)

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll stops the dispatcher and all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.StopDispatcher(ctx)

	m.mu.RLock()
	channels := make(map[string]Channel, len(m.channels))
	for name, channel := range m.channels {
		channels[name] = channel
	}
	m.mu.RUnlock()

	for name, channel := range channels {
		slog.Info("stopping channel", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	return nil
}

// StopDispatcher cancels the outbound dispatch loop and waits for it to
// exit, bounded by ctx. The wait happens outside the manager lock: the
// dispatcher takes a read lock on every delivery, so waiting while
// holding the write lock would deadlock against an in-flight message.
func (m *Manager) StopDispatcher(ctx context.Context) {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("outbound dispatcher did not stop before deadline")
	}
}

// dispatchOutbound consumes outbound messages from the bus and routes
// them to the owning channel, pacing each channel independently.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	defer close(m.done)
	slog.Info("outbound dispatcher started")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		channel, exists := m.channels[msg.Channel]
		limiter := m.limiters[msg.Channel]
		m.mu.RUnlock()

		if !exists {
			slog.Warn("unknown channel for outbound message", "channel", msg.Channel)
			continue
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		if err := channel.Send(ctx, msg); err != nil {
			slog.Error("error sending message to channel",
				"channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		}
	}
}

// SendToChannel delivers a message directly to a named channel,
// bypassing the bus. Used by scheduled reminders.
func (m *Manager) SendToChannel(ctx context.Context, channelName, chatID, content string) error {
	m.mu.RLock()
	channel, exists := m.channels[channelName]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("channel %s not found", channelName)
	}
	return channel.Send(ctx, bus.OutboundMessage{
		Channel: channelName,
		ChatID:  chatID,
		Content: content,
	})
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool, len(m.channels))
	for name, channel := range m.channels {
		status[name] = channel.IsRunning()
	}
	return status
}
