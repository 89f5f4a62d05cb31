package whatsapp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/nutribot/internal/sessions"
)

// Incoming is a parsed Twilio webhook message.
type Incoming struct {
	From        string // e.g. "whatsapp:+5215512345678"
	To          string
	Body        string
	MessageSID  string
	ProfileName string
	NumMedia    int
}

// ParseIncoming extracts message fields from a Twilio webhook form.
func ParseIncoming(form url.Values) (Incoming, error) {
	from := strings.TrimSpace(form.Get("From"))
	if from == "" {
		return Incoming{}, fmt.Errorf("whatsapp: webhook missing From")
	}

	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	return Incoming{
		From:        from,
		To:          strings.TrimSpace(form.Get("To")),
		Body:        strings.TrimSpace(form.Get("Body")),
		MessageSID:  form.Get("MessageSid"),
		ProfileName: form.Get("ProfileName"),
		NumMedia:    numMedia,
	}, nil
}

// Receive publishes a webhook message to the bus. Empty bodies (media
// only, delivery receipts) are dropped.
func (c *Channel) Receive(in Incoming) {
	if in.Body == "" {
		return
	}

	metadata := map[string]string{}
	if in.MessageSID != "" {
		metadata["message_sid"] = in.MessageSID
	}
	if in.ProfileName != "" {
		metadata["profile_name"] = in.ProfileName
	}

	c.HandleMessage(in.From, in.From, in.Body, metadata, sessions.PeerDirect)
}
