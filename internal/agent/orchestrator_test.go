package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/nutribot/internal/config"
	"github.com/nextlevelbuilder/nutribot/internal/providers"
	"github.com/nextlevelbuilder/nutribot/internal/sessions"
	"github.com/nextlevelbuilder/nutribot/internal/store"
	"github.com/nextlevelbuilder/nutribot/internal/store/sqlite"
)

// fakeProvider returns scripted responses and records requests.
type fakeProvider struct {
	responses []string
	calls     int
	requests  []providers.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.requests = append(f.requests, req)
	resp := "ok"
	if f.calls < len(f.responses) {
		resp = f.responses[f.calls]
	}
	f.calls++
	return &providers.ChatResponse{Content: resp, FinishReason: "stop"}, nil
}

func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) DefaultModel() string { return "fake-model" }

type fakeRetriever struct {
	docs    []string
	lastCtx string
}

func (f *fakeRetriever) Search(_ context.Context, _, patientContext string, _ int) ([]string, error) {
	f.lastCtx = patientContext
	return f.docs, nil
}

func newTestOrchestrator(t *testing.T, fp *fakeProvider, fr Retriever) (*Orchestrator, store.ProfileStore) {
	t.Helper()
	profiles, err := sqlite.NewProfileStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { profiles.Close() })

	cfg := config.Default()
	return NewOrchestrator(fp, profiles, sessions.NewManager("", 0), fr, cfg), profiles
}

func TestNurseAsksForNameFirst(t *testing.T) {
	fp := &fakeProvider{}
	o, _ := newTestOrchestrator(t, fp, nil)

	reply := o.HandleMessage(context.Background(), "user1", "whatsapp:direct:user1", "hi")
	if !strings.Contains(reply, "What's your name?") {
		t.Errorf("got %q", reply)
	}
	// A greeting must not trigger an extraction call.
	if fp.calls != 0 {
		t.Errorf("greeting triggered %d LLM calls", fp.calls)
	}
}

func TestNurseStoresExtractedAnswer(t *testing.T) {
	fp := &fakeProvider{responses: []string{`{"name": "John"}`}}
	o, profiles := newTestOrchestrator(t, fp, nil)

	o.HandleMessage(context.Background(), "user1", "k", "hello")
	reply := o.HandleMessage(context.Background(), "user1", "k", "My name is John")

	p, err := profiles.Get("user1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "John" {
		t.Errorf("got name %q", p.Name)
	}
	if p.Status != store.StatusInProgress {
		t.Errorf("got status %q", p.Status)
	}
	// Next question is personalized with the extracted name.
	if !strings.Contains(reply, "Thank you, John!") {
		t.Errorf("got %q", reply)
	}

	// The extraction call carries the intake nurse persona as its
	// system message.
	if len(fp.requests) == 0 {
		t.Fatal("no extraction request recorded")
	}
	msgs := fp.requests[0].Messages
	if len(msgs) < 2 || msgs[0].Role != "system" {
		t.Fatalf("extraction request missing system message: %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "Intake Nurse") {
		t.Errorf("system message is not the nurse persona: %q", msgs[0].Content)
	}
}

func TestNurseFallsBackWhenExtractionUnparseable(t *testing.T) {
	fp := &fakeProvider{responses: []string{"sorry, I can't do that"}}
	o, profiles := newTestOrchestrator(t, fp, nil)

	o.HandleMessage(context.Background(), "user1", "k", "hello")
	o.HandleMessage(context.Background(), "user1", "k", "Maria")

	p, err := profiles.Get("user1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Maria" {
		t.Errorf("fallback extraction failed, got name %q", p.Name)
	}
}

func TestProfilingCompletionTransitionsToDietitian(t *testing.T) {
	fp := &fakeProvider{responses: []string{
		`{"name": "John"}`,
		`{"medical_conditions": "Diabetes Type 2"}`,
		`{"current_medications": "Metformin"}`,
		`{"food_allergies": "None"}`,
		"Focus on low glycemic index foods.",
	}}
	fr := &fakeRetriever{docs: []string{"Diabetes patients should focus on low glycemic index foods."}}
	o, profiles := newTestOrchestrator(t, fp, fr)

	ctx := context.Background()
	o.HandleMessage(ctx, "user1", "k", "hi")
	o.HandleMessage(ctx, "user1", "k", "John")
	o.HandleMessage(ctx, "user1", "k", "I have type 2 diabetes")
	o.HandleMessage(ctx, "user1", "k", "Metformin")
	reply := o.HandleMessage(ctx, "user1", "k", "no allergies or restrictions")

	if !strings.Contains(reply, "Your profile is complete") {
		t.Fatalf("got %q", reply)
	}
	p, err := profiles.Get("user1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != store.StatusComplete {
		t.Errorf("got status %q", p.Status)
	}
	if p.CompletedAt == nil {
		t.Error("completed_at not set")
	}

	// Next message routes to the dietitian and passes patient context
	// to the retriever.
	answer := o.HandleMessage(ctx, "user1", "k", "Can I eat bananas?")
	if answer != "Focus on low glycemic index foods." {
		t.Errorf("got %q", answer)
	}
	if !strings.Contains(fr.lastCtx, "Diabetes Type 2") {
		t.Errorf("retriever context %q missing conditions", fr.lastCtx)
	}

	// The dietitian system prompt carries the retrieved passages.
	last := fp.requests[len(fp.requests)-1]
	if len(last.Messages) == 0 || last.Messages[0].Role != "system" {
		t.Fatal("expected system message first")
	}
	if !strings.Contains(last.Messages[0].Content, "[Source 1]") {
		t.Error("retrieved passages not in system prompt")
	}
}

func TestDietitianGuardsIncompleteProfile(t *testing.T) {
	fp := &fakeProvider{}
	o, profiles := newTestOrchestrator(t, fp, nil)

	// Force a bad state: marked complete but missing fields.
	if err := profiles.Save(&store.Profile{ID: "user1", Status: store.StatusComplete}); err != nil {
		t.Fatal(err)
	}

	reply := o.HandleMessage(context.Background(), "user1", "k", "Can I eat bananas?")
	if !strings.Contains(reply, "complete your health profile") {
		t.Errorf("got %q", reply)
	}
	p, _ := profiles.Get("user1")
	if p.Status != store.StatusInProgress {
		t.Errorf("status not downgraded, got %q", p.Status)
	}
}

func TestHandleMessageRecordsHistory(t *testing.T) {
	fp := &fakeProvider{}
	o, _ := newTestOrchestrator(t, fp, nil)

	o.HandleMessage(context.Background(), "user1", "whatsapp:direct:user1", "hi")
	hist := o.sessions.GetHistory("whatsapp:direct:user1")
	if len(hist) != 2 {
		t.Fatalf("got %d history entries, want 2", len(hist))
	}
	if hist[0].Role != "user" || hist[1].Role != "assistant" {
		t.Errorf("got roles %q, %q", hist[0].Role, hist[1].Role)
	}
}
