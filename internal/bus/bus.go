package bus

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const busBuffer = 256

// MessageBus routes inbound messages from channels to the consumer loop
// and outbound messages from the agent back to channels.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	done     chan struct{}
	closed   atomic.Bool
}

// New creates a message bus with buffered inbound/outbound queues.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, busBuffer),
		outbound: make(chan OutboundMessage, busBuffer),
		done:     make(chan struct{}),
	}
}

// PublishInbound enqueues an inbound message. Never blocks the caller:
// if the queue is full the message is dropped with a warning (the sender
// can retry; webhook callers must return fast regardless of consumer state).
func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	if mb.closed.Load() {
		return
	}
	select {
	case mb.inbound <- msg:
	case <-mb.done:
	default:
		slog.Warn("inbound queue full, dropping message",
			"channel", msg.Channel, "sender_id", msg.SenderID)
	}
}

// ConsumeInbound blocks until an inbound message is available.
// Returns false when the bus is closed or ctx is cancelled.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-mb.inbound:
		return msg, true
	case <-mb.done:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues an outbound message for channel dispatch.
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	if mb.closed.Load() {
		return
	}
	select {
	case mb.outbound <- msg:
	case <-mb.done:
	default:
		slog.Warn("outbound queue full, dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// SubscribeOutbound blocks until an outbound message is available.
// Returns false when the bus is closed or ctx is cancelled.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-mb.outbound:
		return msg, true
	case <-mb.done:
		return OutboundMessage{}, false
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// DrainOutbound blocks until the outbound queue is empty, the bus is
// closed, or ctx expires. Called during shutdown so replies flushed by
// the debouncer reach their channel before the dispatcher stops.
func (mb *MessageBus) DrainOutbound(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for len(mb.outbound) > 0 {
		select {
		case <-ticker.C:
		case <-mb.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close shuts down the bus. Pending messages are discarded.
func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
