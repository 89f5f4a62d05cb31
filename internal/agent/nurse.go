package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/nutribot/internal/providers"
	"github.com/nextlevelbuilder/nutribot/internal/store"
)

// greetings that carry no profile information and skip extraction.
var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "start": true, "hola": true,
}

// nurseReply advances the intake interview by one turn: extract whatever
// the patient just told us, store it, and ask the next missing question.
func (o *Orchestrator) nurseReply(ctx context.Context, profile *store.Profile, text string) string {
	ctx, span := o.tracer.Start(ctx, "agent.nurse")
	defer span.End()

	missing := profile.MissingFields()
	if len(missing) == 0 {
		return o.completeProfile(profile)
	}

	if profile.Status == store.StatusNotStarted {
		profile.Status = store.StatusInProgress
		if err := o.profiles.Save(profile); err != nil {
			slog.Warn("agent: status update failed", "sender", profile.ID, "error", err)
		}
	}

	if !greetingWords[strings.ToLower(strings.TrimSpace(text))] {
		extracted := o.extractPatientInfo(ctx, text, profile.LastQuestionAsked, missing[0])
		if len(extracted) > 0 {
			applyExtracted(profile, extracted)
			if err := o.profiles.Save(profile); err != nil {
				slog.Error("agent: profile save failed", "sender", profile.ID, "error", err)
				return msgGeneralError
			}
			slog.Info("agent: profile updated", "sender", profile.ID, "fields", len(extracted))
			missing = profile.MissingFields()
		}
	}

	if len(missing) == 0 {
		return o.completeProfile(profile)
	}

	question := nextQuestion(missing[0], profile)
	span.SetAttributes(attribute.String("nurse.next_field", missing[0]))

	profile.LastQuestionAsked = missing[0]
	if err := o.profiles.Save(profile); err != nil {
		slog.Warn("agent: save last question failed", "sender", profile.ID, "error", err)
	}
	return question
}

func (o *Orchestrator) completeProfile(profile *store.Profile) string {
	now := time.Now()
	profile.Status = store.StatusComplete
	profile.CompletedAt = &now
	if err := o.profiles.Save(profile); err != nil {
		slog.Error("agent: completion save failed", "sender", profile.ID, "error", err)
		return msgGeneralError
	}
	slog.Info("agent: profiling complete", "sender", profile.ID)
	return profilingCompleteMessage
}

const extractionPromptFmt = `You are extracting patient health information from a conversational response.

Last Question Asked: %q
Expected Field: %s
User Response: %q

Extract and return ONLY the relevant information as a JSON object with any of these keys that apply:

{"name": "...", "medical_conditions": "comma-separated", "current_medications": "comma-separated", "dietary_restrictions": "...", "food_allergies": "..."}

If the user says "none" or "no" for medications/allergies/restrictions, use "None".
Return ONLY valid JSON, nothing else.`

// extractPatientInfo asks the LLM to pull structured fields from the
// patient's free-text answer, falling back to rule-based mapping when
// the model is unavailable or returns garbage.
func (o *Orchestrator) extractPatientInfo(ctx context.Context, text, lastQuestion, expectedField string) map[string]string {
	ctx, span := o.tracer.Start(ctx, "agent.extract_info")
	defer span.End()

	prompt := fmt.Sprintf(extractionPromptFmt, lastQuestion, expectedField, text)
	resp, err := o.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: intakeNursePrompt},
			{Role: "user", Content: prompt},
		},
		Options: o.chatOptions(),
	})
	if err != nil {
		slog.Warn("agent: extraction call failed, using fallback", "error", err)
		return fallbackExtraction(text, expectedField)
	}

	extracted := map[string]string{}
	raw := strings.TrimSpace(resp.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "` \n")
	if err := json.Unmarshal([]byte(raw), &extracted); err != nil {
		slog.Warn("agent: extraction parse failed, using fallback", "error", err)
		return fallbackExtraction(text, expectedField)
	}
	return extracted
}

// fallbackExtraction maps the raw answer onto the expected field.
func fallbackExtraction(text, expectedField string) map[string]string {
	value := strings.TrimSpace(text)
	lower := strings.ToLower(value)
	if lower == "none" || lower == "no" || strings.HasPrefix(lower, "no ") {
		value = "None"
	}

	switch expectedField {
	case store.FieldName:
		return map[string]string{"name": value}
	case store.FieldMedicalConditions:
		return map[string]string{"medical_conditions": value}
	case store.FieldCurrentMedications:
		return map[string]string{"current_medications": value}
	case store.FieldRestrictionsOrAllerg:
		return map[string]string{"dietary_restrictions": value}
	}
	return nil
}

func applyExtracted(profile *store.Profile, extracted map[string]string) {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&profile.Name, extracted["name"])
	set(&profile.MedicalConditions, extracted["medical_conditions"])
	set(&profile.CurrentMedications, extracted["current_medications"])
	set(&profile.DietaryRestrictions, extracted["dietary_restrictions"])
	set(&profile.FoodAllergies, extracted["food_allergies"])
}

// nextQuestion renders the interview question for the next missing field.
func nextQuestion(field string, profile *store.Profile) string {
	q := profilingQuestions[field]
	if q == "" {
		q = profilingQuestions[store.FieldName]
	}
	name := profile.Name
	if name == "" {
		name = "there"
	}
	return strings.ReplaceAll(q, "{name}", name)
}
