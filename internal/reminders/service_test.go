package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nutribot/internal/bus"
	"github.com/nextlevelbuilder/nutribot/internal/config"
	"github.com/nextlevelbuilder/nutribot/internal/providers"
	"github.com/nextlevelbuilder/nutribot/internal/sessions"
	"github.com/nextlevelbuilder/nutribot/internal/store"
	"github.com/nextlevelbuilder/nutribot/internal/store/sqlite"
)

func TestNewServiceValidatesConfig(t *testing.T) {
	mgr := sessions.NewManager("", 0)
	mb := bus.New()

	tests := []struct {
		name string
		cfg  config.RemindersConfig
	}{
		{"bad schedule", config.RemindersConfig{Schedule: "not a cron", Message: "hi"}},
		{"empty message", config.RemindersConfig{Schedule: "0 9 * * *"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(tt.cfg, mgr, nil, mb); err == nil {
				t.Error("expected error")
			}
		})
	}

	valid := config.RemindersConfig{Enabled: true, Schedule: "0 9 * * *", Message: "How are your meals going?"}
	if _, err := NewService(valid, mgr, nil, mb); err != nil {
		t.Errorf("got %v", err)
	}
}

func TestFireSendsToCompleteProfilesOnly(t *testing.T) {
	profiles, err := sqlite.NewProfileStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer profiles.Close()

	complete := &store.Profile{
		ID: "whatsapp:+111", Name: "Ana", MedicalConditions: "None",
		CurrentMedications: "None", FoodAllergies: "None", Status: store.StatusComplete,
	}
	if err := profiles.Save(complete); err != nil {
		t.Fatal(err)
	}
	if err := profiles.Save(&store.Profile{ID: "whatsapp:+222", Status: store.StatusInProgress}); err != nil {
		t.Fatal(err)
	}

	mgr := sessions.NewManager("", 0)
	mgr.AddMessage("whatsapp:direct:whatsapp:+111", providers.Message{Role: "user", Content: "hola"})
	mgr.AddMessage("whatsapp:direct:whatsapp:+222", providers.Message{Role: "user", Content: "hola"})
	mgr.AddMessage("telegram:group:12345", providers.Message{Role: "user", Content: "hola"})

	mb := bus.New()
	svc, err := NewService(config.RemindersConfig{
		Enabled: true, Schedule: "0 9 * * *", Message: "Check-in time!",
	}, mgr, profiles, mb)
	if err != nil {
		t.Fatal(err)
	}

	svc.fire(time.Now())

	msg, ok := mb.SubscribeOutbound(context.Background())
	if !ok {
		t.Fatal("no outbound message")
	}
	if msg.Channel != "whatsapp" || msg.ChatID != "whatsapp:+111" || msg.Content != "Check-in time!" {
		t.Errorf("got %+v", msg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if extra, ok := mb.SubscribeOutbound(ctx); ok {
		t.Errorf("unexpected extra message %+v", extra)
	}
}

func TestFireSkipsStaleSessions(t *testing.T) {
	profiles, err := sqlite.NewProfileStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer profiles.Close()

	if err := profiles.Save(&store.Profile{
		ID: "whatsapp:+111", Name: "Ana", MedicalConditions: "None",
		CurrentMedications: "None", FoodAllergies: "None", Status: store.StatusComplete,
	}); err != nil {
		t.Fatal(err)
	}

	mgr := sessions.NewManager("", 0)
	mgr.AddMessage("whatsapp:direct:whatsapp:+111", providers.Message{Role: "user", Content: "hola"})

	mb := bus.New()
	svc, err := NewService(config.RemindersConfig{
		Enabled: true, Schedule: "0 9 * * *", Message: "Check-in time!",
	}, mgr, profiles, mb)
	if err != nil {
		t.Fatal(err)
	}

	// Fire "now" far in the future so the session looks abandoned.
	svc.fire(time.Now().Add(60 * 24 * time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if msg, ok := mb.SubscribeOutbound(ctx); ok {
		t.Errorf("unexpected message %+v", msg)
	}
}
