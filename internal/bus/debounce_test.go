package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// flushRecorder collects flushed messages for assertions.
type flushRecorder struct {
	mu     sync.Mutex
	msgs   []InboundMessage
	signal chan InboundMessage
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{signal: make(chan InboundMessage, 64)}
}

func (r *flushRecorder) flush(msg InboundMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.signal <- msg
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *flushRecorder) wait(t *testing.T, timeout time.Duration) InboundMessage {
	t.Helper()
	select {
	case msg := <-r.signal:
		return msg
	case <-time.After(timeout):
		t.Fatalf("no flush within %v", timeout)
		return InboundMessage{}
	}
}

func inbound(sender, content string) InboundMessage {
	return InboundMessage{
		Channel:  "whatsapp",
		SenderID: sender,
		ChatID:   sender,
		Content:  content,
	}
}

func TestNewInboundDebouncerValidation(t *testing.T) {
	tests := []struct {
		name    string
		window  time.Duration
		flush   FlushFunc
		wantErr bool
	}{
		{"valid", 100 * time.Millisecond, func(InboundMessage) {}, false},
		{"zero window", 0, func(InboundMessage) {}, true},
		{"negative window", -time.Second, func(InboundMessage) {}, true},
		{"nil flush", time.Second, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewInboundDebouncer(tt.window, tt.flush)
			if (err != nil) != tt.wantErr {
				t.Errorf("got err %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				d.Stop()
			}
		})
	}
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	rec := newFlushRecorder()
	d, err := NewInboundDebouncer(80*time.Millisecond, rec.flush)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	d.Push(inbound("alice", "hello"))
	d.Push(inbound("alice", "I have"))
	d.Push(inbound("alice", "a question"))

	msg := rec.wait(t, time.Second)
	if msg.Content != "hello I have a question" {
		t.Errorf("got content %q, want %q", msg.Content, "hello I have a question")
	}
	if msg.SenderID != "alice" {
		t.Errorf("got sender %q, want alice", msg.SenderID)
	}

	time.Sleep(150 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("got %d flushes, want 1", got)
	}
}

func TestDebouncerWindowReset(t *testing.T) {
	rec := newFlushRecorder()
	d, err := NewInboundDebouncer(120*time.Millisecond, rec.flush)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	// Keep pushing just inside the window; nothing may flush until the
	// sender finally goes quiet.
	for i := 0; i < 4; i++ {
		d.Push(inbound("bob", fmt.Sprintf("part%d", i)))
		time.Sleep(60 * time.Millisecond)
	}
	if got := rec.count(); got != 0 {
		t.Fatalf("flushed %d times before sender went quiet", got)
	}

	msg := rec.wait(t, time.Second)
	if msg.Content != "part0 part1 part2 part3" {
		t.Errorf("got content %q, want all four parts", msg.Content)
	}
	if got := rec.count(); got != 1 {
		t.Errorf("got %d flushes, want 1", got)
	}
}

func TestDebouncerPerSenderIsolation(t *testing.T) {
	rec := newFlushRecorder()
	d, err := NewInboundDebouncer(80*time.Millisecond, rec.flush)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	d.Push(inbound("alice", "from alice"))
	d.Push(inbound("bob", "from bob"))

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		msg := rec.wait(t, time.Second)
		got[msg.SenderID] = msg.Content
	}
	if got["alice"] != "from alice" {
		t.Errorf("alice got %q", got["alice"])
	}
	if got["bob"] != "from bob" {
		t.Errorf("bob got %q", got["bob"])
	}
}

func TestDebouncerSlowFlushDoesNotDelayOtherSenders(t *testing.T) {
	release := make(chan struct{})
	var fast atomic.Bool
	flush := func(msg InboundMessage) {
		if msg.SenderID == "slow" {
			<-release
			return
		}
		fast.Store(true)
	}
	d, err := NewInboundDebouncer(50*time.Millisecond, flush)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()
	defer close(release)

	d.Push(inbound("slow", "blocks"))
	time.Sleep(100 * time.Millisecond) // slow flush is now parked
	d.Push(inbound("quick", "goes through"))

	deadline := time.Now().Add(time.Second)
	for !fast.Load() {
		if time.Now().After(deadline) {
			t.Fatal("fast sender flush blocked behind slow sender")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDebouncerContinuesAfterFlush(t *testing.T) {
	rec := newFlushRecorder()
	d, err := NewInboundDebouncer(60*time.Millisecond, rec.flush)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	d.Push(inbound("carol", "first burst"))
	first := rec.wait(t, time.Second)
	if first.Content != "first burst" {
		t.Errorf("got %q, want %q", first.Content, "first burst")
	}

	d.Push(inbound("carol", "second"))
	d.Push(inbound("carol", "burst"))
	second := rec.wait(t, time.Second)
	if second.Content != "second burst" {
		t.Errorf("got %q, want %q", second.Content, "second burst")
	}
}

func TestDebouncerPushDoesNotBlock(t *testing.T) {
	d, err := NewInboundDebouncer(time.Hour, func(InboundMessage) {})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		d.Push(inbound(fmt.Sprintf("sender-%d", i%10), "msg"))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("1000 pushes took %v, expected well under the window", elapsed)
	}
}

func TestDebouncerStatus(t *testing.T) {
	rec := newFlushRecorder()
	d, err := NewInboundDebouncer(time.Hour, rec.flush)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	if _, ok := d.Status("whatsapp|dave|dave"); ok {
		t.Error("expected no status before any push")
	}

	d.Push(inbound("dave", "one"))
	d.Push(inbound("dave", "two"))

	st, ok := d.Status("whatsapp|dave|dave")
	if !ok {
		t.Fatal("expected status after push")
	}
	if st.FragmentCount != 2 {
		t.Errorf("got %d fragments, want 2", st.FragmentCount)
	}
	if !st.TimerActive {
		t.Error("expected timer active")
	}
	if st.Fragments[0] != "one" || st.Fragments[1] != "two" {
		t.Errorf("got fragments %v", st.Fragments)
	}
	if st.UpdatedAt.Before(st.CreatedAt) {
		t.Error("updated_at before created_at")
	}
}

func TestDebouncerClearCancelsPendingFlush(t *testing.T) {
	rec := newFlushRecorder()
	d, err := NewInboundDebouncer(80*time.Millisecond, rec.flush)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	d.Push(inbound("erin", "never delivered"))
	d.Clear("whatsapp|erin|erin")

	time.Sleep(200 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Errorf("got %d flushes after clear, want 0", got)
	}
	if _, ok := d.Status("whatsapp|erin|erin"); ok {
		t.Error("buffer still tracked after clear")
	}

	// Clearing an unknown key is a no-op.
	d.Clear("whatsapp|nobody|nobody")

	// The sender can start a fresh burst afterwards.
	d.Push(inbound("erin", "fresh start"))
	msg := rec.wait(t, time.Second)
	if msg.Content != "fresh start" {
		t.Errorf("got %q after clear, want %q", msg.Content, "fresh start")
	}
}

func TestDebouncerStopFlushesPending(t *testing.T) {
	rec := newFlushRecorder()
	d, err := NewInboundDebouncer(time.Hour, rec.flush)
	if err != nil {
		t.Fatal(err)
	}

	d.Push(inbound("frank", "almost"))
	d.Push(inbound("frank", "lost"))
	d.Stop()

	if got := rec.count(); got != 1 {
		t.Fatalf("got %d flushes on stop, want 1", got)
	}
	msg := rec.wait(t, time.Second)
	if msg.Content != "almost lost" {
		t.Errorf("got %q, want %q", msg.Content, "almost lost")
	}

	// Stop is idempotent and later pushes still reach the callback.
	d.Stop()
	d.Push(inbound("frank", "late"))
	late := rec.wait(t, time.Second)
	if late.Content != "late" {
		t.Errorf("got %q after stop, want %q", late.Content, "late")
	}
}

func TestDebouncerRecoversFromPanickingFlush(t *testing.T) {
	var calls atomic.Int32
	flush := func(msg InboundMessage) {
		calls.Add(1)
		if msg.Content == "boom" {
			panic("handler exploded")
		}
	}
	d, err := NewInboundDebouncer(50*time.Millisecond, flush)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	d.Push(inbound("gina", "boom"))
	time.Sleep(200 * time.Millisecond)

	// The debouncer must survive and keep flushing for this sender.
	d.Push(inbound("gina", "still alive"))
	deadline := time.Now().Add(time.Second)
	for calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("got %d flushes, want 2", calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDebouncerConcurrentPush(t *testing.T) {
	rec := newFlushRecorder()
	d, err := NewInboundDebouncer(100*time.Millisecond, rec.flush)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	const senders = 8
	const perSender = 20
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			sender := fmt.Sprintf("sender-%d", s)
			for i := 0; i < perSender; i++ {
				d.Push(inbound(sender, fmt.Sprintf("m%d", i)))
			}
		}(s)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < senders; i++ {
		msg := rec.wait(t, 2*time.Second)
		if seen[msg.SenderID] {
			t.Errorf("sender %s flushed twice", msg.SenderID)
		}
		seen[msg.SenderID] = true
	}
	time.Sleep(200 * time.Millisecond)
	if got := rec.count(); got != senders {
		t.Errorf("got %d flushes, want %d", got, senders)
	}
}

// Mirrors the canonical burst scenario: three fragments inside the window
// produce one merged reply-sized message after the final quiet period.
func TestDebouncerBurstScenario(t *testing.T) {
	rec := newFlushRecorder()
	window := 90 * time.Millisecond
	d, err := NewInboundDebouncer(window, rec.flush)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	d.Push(inbound("user123", "Hola"))
	time.Sleep(30 * time.Millisecond)
	d.Push(inbound("user123", "tengo una duda"))
	time.Sleep(30 * time.Millisecond)
	d.Push(inbound("user123", "sobre mi dieta"))

	if got := rec.count(); got != 0 {
		t.Fatalf("flushed %d times mid-burst", got)
	}

	msg := rec.wait(t, time.Second)
	want := "Hola tengo una duda sobre mi dieta"
	if msg.Content != want {
		t.Errorf("got %q, want %q", msg.Content, want)
	}
}
