// Package reminders sends scheduled check-in messages to patients with
// completed profiles, on a cron schedule.
package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nutribot/internal/bus"
	"github.com/nextlevelbuilder/nutribot/internal/config"
	"github.com/nextlevelbuilder/nutribot/internal/sessions"
	"github.com/nextlevelbuilder/nutribot/internal/store"
)

// staleAfter bounds how old a conversation may be before check-ins stop.
const staleAfter = 30 * 24 * time.Hour

// Service fires the reminder schedule against known conversations.
type Service struct {
	cfg      config.RemindersConfig
	sessions *sessions.Manager
	profiles store.ProfileStore
	bus      *bus.MessageBus
	cron     *gronx.Gronx
}

func NewService(cfg config.RemindersConfig, sessionMgr *sessions.Manager, profiles store.ProfileStore, msgBus *bus.MessageBus) (*Service, error) {
	g := gronx.New()
	if !g.IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("reminders: invalid cron schedule %q", cfg.Schedule)
	}
	if cfg.Message == "" {
		return nil, fmt.Errorf("reminders: message not configured")
	}
	return &Service{
		cfg:      cfg,
		sessions: sessionMgr,
		profiles: profiles,
		bus:      msgBus,
		cron:     g,
	}, nil
}

// Run ticks once per minute and fires when the schedule is due.
// It blocks until ctx is cancelled; run it in a goroutine.
func (s *Service) Run(ctx context.Context) {
	slog.Info("reminders service started", "schedule", s.cfg.Schedule)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reminders service stopped")
			return
		case now := <-ticker.C:
			due, err := s.cron.IsDue(s.cfg.Schedule, now)
			if err != nil {
				slog.Error("reminders: schedule check failed", "error", err)
				continue
			}
			if due {
				s.fire(now)
			}
		}
	}
}

// fire sends the reminder to every active conversation whose patient
// has a complete profile.
func (s *Service) fire(now time.Time) {
	runID := uuid.NewString()[:8]
	sent := 0

	for _, info := range s.sessions.List() {
		if now.Sub(info.Updated) > staleAfter {
			continue
		}
		channel, kind, chatID, ok := sessions.ParseSessionKey(info.Key)
		if !ok || kind != sessions.PeerDirect {
			continue
		}

		profile, err := s.profiles.Get(chatID)
		if err != nil || profile.Status != store.StatusComplete {
			continue
		}

		s.bus.PublishOutbound(bus.OutboundMessage{
			Channel:  channel,
			ChatID:   chatID,
			Content:  s.cfg.Message,
			Metadata: map[string]string{"reminder_run": runID},
		})
		sent++
	}

	slog.Info("reminders fired", "run", runID, "sent", sent)
}
