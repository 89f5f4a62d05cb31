package bus

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// FlushFunc receives the merged inbound message once a sender's burst has
// gone quiet for the debounce window.
type FlushFunc func(msg InboundMessage)

// senderBuffer accumulates fragments for one conversation key.
// gen is bumped every time the armed timer is replaced or cancelled;
// an expiring timer re-checks it before touching the buffer, which makes
// cancellation race-safe even when time.Timer.Stop loses the race.
type senderBuffer struct {
	mu        sync.Mutex
	key       string
	fragments []string
	last      InboundMessage // latest message; template for the merged flush
	createdAt time.Time
	updatedAt time.Time
	timer     *time.Timer
	gen       uint64
}

// BufferStatus is a read-only snapshot of a sender's pending buffer.
type BufferStatus struct {
	Key           string    `json:"key"`
	FragmentCount int       `json:"fragment_count"`
	Fragments     []string  `json:"fragments"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"last_updated_at"`
	TimerActive   bool      `json:"timer_active"`
}

// InboundDebouncer merges rapid messages from the same sender before
// processing. Each Push resets that sender's timer; once the window elapses
// with no new message, the buffered fragments are joined with single spaces
// and handed to the flush callback exactly once.
//
// Push never blocks on the window and is safe to call from any goroutine
// (webhook handlers, channel pollers). Flushes for different senders run
// independently: a slow callback for one sender never delays another.
type InboundDebouncer struct {
	window time.Duration
	flush  FlushFunc

	mu      sync.RWMutex
	buffers map[string]*senderBuffer
	stopped bool
}

// NewInboundDebouncer creates a debouncer with the given idle window.
// The window must be strictly positive; callers that want debouncing
// disabled should invoke their flush function directly instead.
func NewInboundDebouncer(window time.Duration, flush FlushFunc) (*InboundDebouncer, error) {
	if window <= 0 {
		return nil, fmt.Errorf("debounce window must be positive, got %v", window)
	}
	if flush == nil {
		return nil, fmt.Errorf("debounce flush callback is required")
	}
	return &InboundDebouncer{
		window:  window,
		flush:   flush,
		buffers: make(map[string]*senderBuffer),
	}, nil
}

// Push buffers a message and (re)arms the sender's flush timer.
// Empty content is buffered like any other fragment; an empty conversation
// key is permitted and treated as an ordinary key.
func (d *InboundDebouncer) Push(msg InboundMessage) {
	key := msg.ConversationKey()

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		// After Stop we no longer arm timers; deliver directly so the
		// message is not silently lost during shutdown ordering.
		d.deliver(msg)
		return
	}
	buf, ok := d.buffers[key]
	if !ok {
		buf = &senderBuffer{key: key, createdAt: time.Now()}
		d.buffers[key] = buf
	}
	d.mu.Unlock()

	buf.mu.Lock()
	if len(buf.fragments) == 0 && buf.timer == nil {
		// Recycled buffer starting a fresh idle period.
		buf.createdAt = time.Now()
	}
	buf.fragments = append(buf.fragments, msg.Content)
	buf.last = msg
	buf.updatedAt = time.Now()

	// Cancel the previous timer and invalidate its generation so a fire
	// that already slipped past Stop has no effect.
	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.gen++
	gen := buf.gen
	buf.timer = time.AfterFunc(d.window, func() {
		d.expire(buf, gen)
	})
	count := len(buf.fragments)
	buf.mu.Unlock()

	slog.Debug("debounce: buffered message", "key", key, "fragments", count)
}

// expire runs on the timer goroutine when a sender's window elapses.
// The buffer is snapshotted and cleared before the callback is invoked,
// so a message arriving while the callback runs starts a new idle period.
func (d *InboundDebouncer) expire(buf *senderBuffer, gen uint64) {
	d.mu.RLock()
	cur, ok := d.buffers[buf.key]
	d.mu.RUnlock()
	if !ok || cur != buf {
		// Cleared concurrently; nothing to flush.
		slog.Warn("debounce: timer fired for untracked buffer", "key", buf.key)
		return
	}

	buf.mu.Lock()
	if buf.gen != gen {
		// Superseded by a newer Push or cancelled; this timer is dead.
		buf.mu.Unlock()
		return
	}
	buf.timer = nil
	if len(buf.fragments) == 0 {
		buf.mu.Unlock()
		slog.Warn("debounce: timer fired with empty buffer", "key", buf.key)
		return
	}
	msg := buf.last
	msg.Content = strings.Join(buf.fragments, " ")
	count := len(buf.fragments)
	buf.fragments = nil
	buf.mu.Unlock()

	slog.Debug("debounce: flushing", "key", buf.key, "fragments", count)
	d.deliver(msg)
}

// deliver invokes the flush callback, containing any panic so a bad
// downstream handler cannot kill the timer goroutine or the process.
func (d *InboundDebouncer) deliver(msg InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("debounce: flush callback panicked",
				"key", msg.ConversationKey(), "panic", r)
		}
	}()
	d.flush(msg)
}

// Status returns a snapshot of a sender's buffer, or false if untracked.
func (d *InboundDebouncer) Status(key string) (BufferStatus, bool) {
	d.mu.RLock()
	buf, ok := d.buffers[key]
	d.mu.RUnlock()
	if !ok {
		return BufferStatus{}, false
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	fragments := make([]string, len(buf.fragments))
	copy(fragments, buf.fragments)
	return BufferStatus{
		Key:           key,
		FragmentCount: len(fragments),
		Fragments:     fragments,
		CreatedAt:     buf.createdAt,
		UpdatedAt:     buf.updatedAt,
		TimerActive:   buf.timer != nil,
	}, true
}

// Clear cancels any pending timer for the key and discards its buffer.
// No-op if the key is untracked.
func (d *InboundDebouncer) Clear(key string) {
	d.mu.Lock()
	buf, ok := d.buffers[key]
	if ok {
		delete(d.buffers, key)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	buf.mu.Lock()
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}
	buf.gen++
	buf.fragments = nil
	buf.mu.Unlock()

	slog.Info("debounce: cleared buffer", "key", key)
}

// Stop cancels all timers and synchronously flushes any still-buffered
// fragments so a graceful shutdown does not drop user text.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	buffers := d.buffers
	d.buffers = make(map[string]*senderBuffer)
	d.mu.Unlock()

	for _, buf := range buffers {
		buf.mu.Lock()
		if buf.timer != nil {
			buf.timer.Stop()
			buf.timer = nil
		}
		buf.gen++
		if len(buf.fragments) == 0 {
			buf.mu.Unlock()
			continue
		}
		msg := buf.last
		msg.Content = strings.Join(buf.fragments, " ")
		buf.fragments = nil
		buf.mu.Unlock()

		d.deliver(msg)
	}
}
