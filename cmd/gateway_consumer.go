package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nutribot/internal/agent"
	"github.com/nextlevelbuilder/nutribot/internal/bus"
	"github.com/nextlevelbuilder/nutribot/internal/channels"
	"github.com/nextlevelbuilder/nutribot/internal/sessions"
)

// makeProcessFunc builds the handler for a merged inbound message: run
// the agent and publish the reply back to the originating channel. It
// serves as the debouncer's flush callback, or is called directly when
// debouncing is disabled.
func makeProcessFunc(ctx context.Context, orchestrator *agent.Orchestrator, msgBus *bus.MessageBus) bus.FlushFunc {
	return func(msg bus.InboundMessage) {
		peerKind := sessions.PeerKind(msg.PeerKind)
		if peerKind == "" {
			peerKind = sessions.PeerDirect
		}
		sessionKey := sessions.BuildSessionKey(msg.Channel, peerKind, msg.ChatID)
		runID := fmt.Sprintf("inbound-%s-%s", msg.Channel, uuid.NewString()[:8])

		slog.Info("processing message",
			"run", runID,
			"channel", msg.Channel,
			"sender", msg.SenderID,
			"session", sessionKey,
			"preview", channels.Truncate(msg.Content, 60),
		)

		start := time.Now()
		reply := orchestrator.HandleMessage(ctx, msg.SenderID, sessionKey, msg.Content)
		slog.Info("agent replied",
			"run", runID,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"reply_chars", len(reply),
		)

		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: reply,
		})
	}
}

// consumeInboundMessages reads messages from the bus, drops duplicate
// webhook deliveries, and feeds the debouncer (or the processor
// directly when debouncing is disabled).
func consumeInboundMessages(ctx context.Context, msgBus *bus.MessageBus, debouncer *bus.InboundDebouncer, process bus.FlushFunc) {
	slog.Info("inbound message consumer started")

	// Webhook retries and double-taps must not duplicate agent runs.
	dedupe := bus.NewDedupeCache(20*time.Minute, 5000)

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}

		msgID := msg.Metadata["message_sid"]
		if msgID == "" {
			msgID = msg.Metadata["message_id"]
		}
		if msgID != "" {
			dedupeKey := fmt.Sprintf("%s|%s|%s", msg.Channel, msg.SenderID, msgID)
			if dedupe.IsDuplicate(dedupeKey) {
				slog.Debug("dedup: skipping duplicate message", "key", dedupeKey)
				continue
			}
		}

		if debouncer != nil {
			debouncer.Push(msg)
		} else {
			process(msg)
		}
	}
}
