// Package agent implements the conversational brain: an intake nurse that
// interviews new patients, and a clinical dietitian that answers nutrition
// questions grounded in retrieved literature.
package agent

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/nutribot/internal/config"
	"github.com/nextlevelbuilder/nutribot/internal/providers"
	"github.com/nextlevelbuilder/nutribot/internal/sessions"
	"github.com/nextlevelbuilder/nutribot/internal/store"
)

// Retriever finds knowledge-base passages relevant to a question,
// biased by the patient's health context.
type Retriever interface {
	Search(ctx context.Context, query, patientContext string, topK int) ([]string, error)
}

// Orchestrator routes each merged message to the nurse or the dietitian
// based on the patient's profiling status.
type Orchestrator struct {
	provider  providers.Provider
	profiles  store.ProfileStore
	sessions  *sessions.Manager
	retriever Retriever
	cfg       config.AgentConfig
	topK      int
	tracer    trace.Tracer
}

func NewOrchestrator(
	provider providers.Provider,
	profiles store.ProfileStore,
	sessionMgr *sessions.Manager,
	retriever Retriever,
	cfg *config.Config,
) *Orchestrator {
	topK := cfg.Retriever.TopK
	if topK <= 0 {
		topK = 4
	}
	return &Orchestrator{
		provider:  provider,
		profiles:  profiles,
		sessions:  sessionMgr,
		retriever: retriever,
		cfg:       cfg.Agent,
		topK:      topK,
		tracer:    otel.Tracer("nutribot/agent"),
	}
}

// HandleMessage processes one merged user message and returns the reply.
// It never returns an empty reply: internal failures produce a canned
// apology so the channel always has something to send.
func (o *Orchestrator) HandleMessage(ctx context.Context, senderID, sessionKey, text string) string {
	ctx, span := o.tracer.Start(ctx, "agent.handle_message",
		trace.WithAttributes(
			attribute.String("sender.id", senderID),
			attribute.Int("message.chars", len(text)),
		))
	defer span.End()

	profile, err := o.getOrCreateProfile(senderID)
	if err != nil {
		slog.Error("agent: load profile failed", "sender", senderID, "error", err)
		span.SetStatus(codes.Error, err.Error())
		return msgGeneralError
	}

	o.sessions.AddMessage(sessionKey, providers.Message{Role: "user", Content: text})

	var reply string
	if profile.Status == store.StatusComplete {
		span.SetAttributes(attribute.String("agent.mode", "dietitian"))
		reply = o.dietitianReply(ctx, profile, sessionKey, text)
	} else {
		span.SetAttributes(attribute.String("agent.mode", "nurse"))
		reply = o.nurseReply(ctx, profile, text)
	}

	o.sessions.AddMessage(sessionKey, providers.Message{Role: "assistant", Content: reply})
	if err := o.sessions.Save(sessionKey); err != nil {
		slog.Warn("agent: session save failed", "key", sessionKey, "error", err)
	}
	return reply
}

func (o *Orchestrator) getOrCreateProfile(senderID string) (*store.Profile, error) {
	profile, err := o.profiles.Get(senderID)
	if errors.Is(err, store.ErrNotFound) {
		profile = &store.Profile{ID: senderID, Status: store.StatusNotStarted}
		if err := o.profiles.Save(profile); err != nil {
			return nil, err
		}
		return profile, nil
	}
	return profile, err
}

// chatOptions returns the provider options for a completion call.
func (o *Orchestrator) chatOptions() map[string]interface{} {
	opts := map[string]interface{}{}
	if o.cfg.MaxTokens > 0 {
		opts[providers.OptMaxTokens] = o.cfg.MaxTokens
	}
	if o.cfg.Temperature > 0 {
		opts[providers.OptTemperature] = o.cfg.Temperature
	}
	return opts
}
