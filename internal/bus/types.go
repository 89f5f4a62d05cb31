package bus

// InboundMessage represents a message received from a channel (WhatsApp, Telegram, etc.)
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	PeerKind string            `json:"peer_kind,omitempty"` // "direct" or "group"
	UserID   string            `json:"user_id,omitempty"`   // external user ID for profile scoping
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// ConversationKey builds the debounce/dedupe partition key for a message.
// One key per (channel, chat, sender) triple so rapid messages from the same
// person in the same conversation coalesce, while group members stay isolated.
func (m InboundMessage) ConversationKey() string {
	return m.Channel + "|" + m.ChatID + "|" + m.SenderID
}

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error
