// Package whatsapp implements the WhatsApp channel over the Twilio
// Messaging API. Inbound traffic arrives via the gateway webhook;
// outbound replies are sent through the Twilio REST API.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/nutribot/internal/bus"
	"github.com/nextlevelbuilder/nutribot/internal/channels"
	"github.com/nextlevelbuilder/nutribot/internal/config"
)

const (
	defaultAPIBase = "https://api.twilio.com"

	// Twilio rejects message bodies over 1600 characters.
	maxSegmentChars = 1600
)

// Channel is the Twilio-backed WhatsApp adapter.
type Channel struct {
	*channels.BaseChannel
	cfg    config.WhatsAppConfig
	client *http.Client
}

// New creates the WhatsApp channel. Credentials are required; the
// webhook is mounted by the gateway HTTP server.
func New(cfg config.WhatsAppConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("whatsapp: missing Twilio credentials (set NUTRIBOT_TWILIO_ACCOUNT_SID and NUTRIBOT_TWILIO_AUTH_TOKEN)")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("whatsapp: from_number not configured")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", msgBus),
		cfg:         cfg,
		client:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Start marks the channel running. Ingress is webhook-driven, so there
// is no polling loop to launch.
func (c *Channel) Start(ctx context.Context) error {
	c.SetRunning(true)
	slog.Info("whatsapp channel started", "from", c.cfg.FromNumber)
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	slog.Info("whatsapp channel stopped")
	return nil
}

// Send delivers msg.Content to msg.ChatID via the Twilio REST API,
// splitting bodies that exceed the platform segment limit.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	to := msg.ChatID
	if !strings.HasPrefix(to, "whatsapp:") {
		to = "whatsapp:" + to
	}

	for _, segment := range splitMessage(msg.Content, maxSegmentChars) {
		if err := c.sendSegment(ctx, to, segment); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendSegment(ctx context.Context, to, body string) error {
	apiBase := c.cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", apiBase, c.cfg.AccountSID)

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp: twilio returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.SID != "" {
		slog.Info("whatsapp message sent", "to", to, "sid", created.SID)
	}
	return nil
}

// splitMessage breaks text into segments of at most limit runes,
// preferring newline then space boundaries.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var segments []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			if seg := strings.TrimSpace(string(runes)); seg != "" {
				segments = append(segments, seg)
			}
			break
		}
		cut := lastRuneBefore(runes[:limit], '\n', limit/2)
		if cut < 0 {
			cut = lastRuneBefore(runes[:limit], ' ', limit/2)
		}
		if cut < 0 {
			cut = limit
		}
		if seg := strings.TrimSpace(string(runes[:cut])); seg != "" {
			segments = append(segments, seg)
		}
		runes = runes[cut:]
	}
	return segments
}

// lastRuneBefore returns the highest index of r in runes that is still
// past min, or -1. Indexing stays in runes so multibyte text cannot
// shift the break point.
func lastRuneBefore(runes []rune, r rune, min int) int {
	for i := len(runes) - 1; i > min; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
