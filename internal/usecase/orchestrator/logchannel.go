package orchestrator

import (
	"bufio"
	"io"
	"sync"
	"time"

	"cartpilot/internal/domain"
)

// DefaultDrainLimit is the default number of records returned by Drain when
// no limit is specified.
const DefaultDrainLimit = 100

// subscriberBuffer sizes the per-subscriber channel. A stream consumer that
// falls this far behind loses records rather than stalling the reader.
const subscriberBuffer = 64

// LogHub buffers worker output per session and fans new records out to
// subscribers. Each session keeps a bounded window of the most recent
// records; older records are dropped when the window is full.
type LogHub struct {
	mu       sync.Mutex
	capacity int
	channels map[string]*logChannel
}

type logChannel struct {
	records []domain.LogRecord
	subs    map[uint64]chan domain.LogRecord
	nextSub uint64
}

// NewLogHub creates a hub keeping up to capacity records per session.
func NewLogHub(capacity int) *LogHub {
	if capacity <= 0 {
		capacity = 200
	}
	return &LogHub{
		capacity: capacity,
		channels: make(map[string]*logChannel),
	}
}

func (h *LogHub) channel(sessionID string) *logChannel {
	ch, ok := h.channels[sessionID]
	if !ok {
		ch = &logChannel{subs: make(map[uint64]chan domain.LogRecord)}
		h.channels[sessionID] = ch
	}
	return ch
}

// Append records one line of worker output. The oldest record is dropped
// once the window is full. Slow subscribers miss records instead of
// blocking the caller.
func (h *LogHub) Append(sessionID, message string) {
	rec := domain.LogRecord{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Message:   message,
	}

	h.mu.Lock()
	ch := h.channel(sessionID)
	ch.records = append(ch.records, rec)
	if len(ch.records) > h.capacity {
		ch.records = ch.records[len(ch.records)-h.capacity:]
	}
	subs := make([]chan domain.LogRecord, 0, len(ch.subs))
	for _, sub := range ch.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- rec:
		default:
		}
	}
}

// Drain returns up to max of the most recent records, oldest first. It does
// not consume: repeated calls see the same window.
func (h *LogHub) Drain(sessionID string, max int) []domain.LogRecord {
	if max <= 0 {
		max = DefaultDrainLimit
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[sessionID]
	if !ok || len(ch.records) == 0 {
		return nil
	}
	records := ch.records
	if len(records) > max {
		records = records[len(records)-max:]
	}
	out := make([]domain.LogRecord, len(records))
	copy(out, records)
	return out
}

// Subscribe returns a channel carrying records appended after this call,
// plus an unsubscribe function. Buffered history is not replayed.
func (h *LogHub) Subscribe(sessionID string) (<-chan domain.LogRecord, func()) {
	sub := make(chan domain.LogRecord, subscriberBuffer)

	h.mu.Lock()
	ch := h.channel(sessionID)
	id := ch.nextSub
	ch.nextSub++
	ch.subs[id] = sub
	h.mu.Unlock()

	return sub, func() {
		h.mu.Lock()
		delete(ch.subs, id)
		h.mu.Unlock()
	}
}

// Reset discards the buffered window for a session. Subscribers stay
// attached; a fresh run starts with an empty buffer.
func (h *LogHub) Reset(sessionID string) {
	h.mu.Lock()
	if ch, ok := h.channels[sessionID]; ok {
		ch.records = nil
	}
	h.mu.Unlock()
}

// Capture reads newline-delimited output until EOF, appending each line to
// the session's buffer. The returned channel yields the reader error (nil on
// clean EOF) exactly once when the stream ends.
func (h *LogHub) Capture(sessionID string, r io.Reader) <-chan error {
	done := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			h.Append(sessionID, scanner.Text())
		}
		err := scanner.Err()
		if err != nil {
			h.Append(sessionID, "log reader fault: "+err.Error())
		}
		done <- err
	}()
	return done
}
