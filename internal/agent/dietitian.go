package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/nutribot/internal/providers"
	"github.com/nextlevelbuilder/nutribot/internal/store"
)

// dietitianReply answers a nutrition question using retrieved knowledge
// filtered through the patient's health profile.
func (o *Orchestrator) dietitianReply(ctx context.Context, profile *store.Profile, sessionKey, question string) string {
	ctx, span := o.tracer.Start(ctx, "agent.dietitian")
	defer span.End()

	if !profile.IsComplete() {
		// Routing safety check; the nurse owns incomplete profiles.
		slog.Warn("agent: incomplete profile reached dietitian", "sender", profile.ID)
		profile.Status = store.StatusInProgress
		if err := o.profiles.Save(profile); err != nil {
			slog.Warn("agent: status downgrade failed", "sender", profile.ID, "error", err)
		}
		missing := profile.MissingFields()
		return msgProfileIncomplete + " " + nextQuestion(missing[0], profile)
	}

	patientContext := profile.ContextString()

	retrievedText := "No relevant knowledge base passages were found."
	if o.retriever != nil {
		docs, err := o.retriever.Search(ctx, question, patientContext, o.topK)
		if err != nil {
			slog.Error("agent: retrieval failed", "error", err)
			retrievedText = "Error accessing knowledge base."
		} else if len(docs) > 0 {
			var b strings.Builder
			for i, doc := range docs {
				fmt.Fprintf(&b, "[Source %d]: %s\n\n", i+1, doc)
			}
			retrievedText = strings.TrimSpace(b.String())
		}
		span.SetAttributes(attribute.Int("retriever.results", len(docs)))
	}

	system := fmt.Sprintf("%s\n\n**Patient Profile:**\n%s\n\n**Retrieved Medical Knowledge:**\n%s",
		dietitianPrompt, patientContext, retrievedText)

	msgs := []providers.Message{{Role: "system", Content: system}}
	msgs = append(msgs, recentHistory(o.sessions.GetHistory(sessionKey), 10)...)

	model := o.cfg.DietitianModel
	resp, err := o.provider.Chat(ctx, providers.ChatRequest{
		Messages: msgs,
		Model:    model,
		Options:  o.chatOptions(),
	})
	if err != nil {
		slog.Error("agent: dietitian completion failed", "sender", profile.ID, "error", err)
		return msgGeneralError
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return msgGeneralError
	}
	return reply
}

// recentHistory returns the last n user/assistant turns, dropping any
// system messages the history may contain.
func recentHistory(history []providers.Message, n int) []providers.Message {
	var turns []providers.Message
	for _, m := range history {
		if m.Role == "user" || m.Role == "assistant" {
			turns = append(turns, m)
		}
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}
