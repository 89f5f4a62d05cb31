package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/nutribot/internal/bus"
	"github.com/nextlevelbuilder/nutribot/internal/config"
)

func testConfig(apiBase string) config.WhatsAppConfig {
	return config.WhatsAppConfig{
		Enabled:    true,
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "whatsapp:+14155238886",
		APIBase:    apiBase,
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(config.WhatsAppConfig{FromNumber: "whatsapp:+1"}, bus.New())
	if err == nil {
		t.Error("expected error for missing credentials")
	}
	_, err = New(config.WhatsAppConfig{AccountSID: "AC", AuthToken: "x"}, bus.New())
	if err == nil {
		t.Error("expected error for missing from_number")
	}
}

func TestParseIncoming(t *testing.T) {
	form := url.Values{}
	form.Set("From", "whatsapp:+5215512345678")
	form.Set("To", "whatsapp:+14155238886")
	form.Set("Body", "  Hola  ")
	form.Set("MessageSid", "SM123")
	form.Set("ProfileName", "Maria")
	form.Set("NumMedia", "1")

	in, err := ParseIncoming(form)
	if err != nil {
		t.Fatal(err)
	}
	if in.From != "whatsapp:+5215512345678" {
		t.Errorf("got From %q", in.From)
	}
	if in.Body != "Hola" {
		t.Errorf("got Body %q", in.Body)
	}
	if in.MessageSID != "SM123" || in.ProfileName != "Maria" || in.NumMedia != 1 {
		t.Errorf("got %+v", in)
	}
}

func TestParseIncomingMissingFrom(t *testing.T) {
	if _, err := ParseIncoming(url.Values{"Body": {"hi"}}); err == nil {
		t.Error("expected error")
	}
}

func TestReceivePublishesToBus(t *testing.T) {
	mb := bus.New()
	c, err := New(testConfig(""), mb)
	if err != nil {
		t.Fatal(err)
	}

	c.Receive(Incoming{From: "whatsapp:+521555", Body: "Hola", MessageSID: "SM1"})

	msg, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("no message on bus")
	}
	if msg.Channel != "whatsapp" || msg.SenderID != "whatsapp:+521555" || msg.Content != "Hola" {
		t.Errorf("got %+v", msg)
	}
	if msg.Metadata["message_sid"] != "SM1" {
		t.Errorf("got metadata %v", msg.Metadata)
	}
}

func TestReceiveDropsEmptyBody(t *testing.T) {
	mb := bus.New()
	c, err := New(testConfig(""), mb)
	if err != nil {
		t.Fatal(err)
	}

	c.Receive(Incoming{From: "whatsapp:+521555", NumMedia: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if msg, ok := mb.ConsumeInbound(ctx); ok {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestSendPostsTwilioForm(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotBody string
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		r.ParseForm()
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotBody = r.PostFormValue("Body")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "SM999"}`))
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL), bus.New())
	if err != nil {
		t.Fatal(err)
	}

	err = c.Send(context.Background(), bus.OutboundMessage{
		Channel: "whatsapp",
		ChatID:  "+5215512345678",
		Content: "Your profile is complete.",
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Errorf("got path %q", gotPath)
	}
	if gotUser != "AC123" || gotPass != "secret" {
		t.Errorf("got auth %q:%q", gotUser, gotPass)
	}
	if gotTo != "whatsapp:+5215512345678" {
		t.Errorf("got To %q, want whatsapp: prefix added", gotTo)
	}
	if gotFrom != "whatsapp:+14155238886" {
		t.Errorf("got From %q", gotFrom)
	}
	if gotBody != "Your profile is complete." {
		t.Errorf("got Body %q", gotBody)
	}
}

func TestSendReturnsTwilioError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code": 21211}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL), bus.New())
	if err != nil {
		t.Fatal(err)
	}

	err = c.Send(context.Background(), bus.OutboundMessage{ChatID: "whatsapp:+1", Content: "hi"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("got err %v", err)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 1600); len(got) != 1 || got[0] != "short" {
		t.Errorf("got %v", got)
	}

	long := strings.Repeat("palabra ", 300) // 2400 chars
	segments := splitMessage(long, 1600)
	if len(segments) != 2 {
		t.Fatalf("got %d segments", len(segments))
	}
	for i, s := range segments {
		if len([]rune(s)) > 1600 {
			t.Errorf("segment %d is %d runes", i, len([]rune(s)))
		}
	}
}

func TestSplitMessageSegmentsAreTrimmed(t *testing.T) {
	long := strings.Repeat("word ", 50) // 250 chars
	for _, s := range splitMessage(long, 100) {
		if s != strings.TrimSpace(s) {
			t.Errorf("segment carries delimiter whitespace: %q", s)
		}
		if s == "" {
			t.Error("empty segment emitted")
		}
	}

	multiline := strings.Repeat("line one\nline two\n", 20)
	for _, s := range splitMessage(multiline, 50) {
		if strings.HasPrefix(s, "\n") || strings.HasPrefix(s, " ") {
			t.Errorf("segment starts with delimiter: %q", s)
		}
	}
}

func TestSplitMessageMultibyte(t *testing.T) {
	// Byte length exceeds rune length here; breaking must stay in runes.
	long := strings.Repeat("niño añade ", 30)
	for i, s := range splitMessage(long, 40) {
		if n := len([]rune(s)); n > 40 {
			t.Errorf("segment %d is %d runes", i, n)
		}
		if s != strings.TrimSpace(s) {
			t.Errorf("segment %d carries whitespace: %q", i, s)
		}
	}
}
