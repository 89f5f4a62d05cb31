// Package sessions manages conversation history keyed by channel peer.
//
// Session keys follow the canonical format:
//
//	{channel}:{peerKind}:{chatId}
//
// Examples:
//
//	whatsapp:direct:+5215512345678
//	telegram:direct:386246614
//	discord:group:112233445566
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildSessionKey builds the canonical session key for a channel conversation.
func BuildSessionKey(channel string, kind PeerKind, chatID string) string {
	return fmt.Sprintf("%s:%s:%s", channel, kind, chatID)
}

// ParseSessionKey extracts channel, peer kind, and chat ID from a key.
// Returns ok=false if the key is not in the expected format.
func ParseSessionKey(key string) (channel string, kind PeerKind, chatID string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return "", "", "", false
	}
	return parts[0], PeerKind(parts[1]), parts[2], true
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
