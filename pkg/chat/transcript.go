package chat

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrStreamActive is returned when a second generation is started while
	// one message is still pending or streaming.
	ErrStreamActive = errors.New("a message is already streaming")

	// ErrUnknownMessage is returned for operations on a message id the
	// transcript does not hold.
	ErrUnknownMessage = errors.New("unknown message id")

	// ErrTerminal is returned when mutating a message that already reached
	// a terminal status.
	ErrTerminal = errors.New("message is terminal")
)

// Transcript is the authoritative ordered message history shown to the
// user. Insertion order is display order and never changes. At most one
// message is non-terminal (pending or streaming) at any time.
type Transcript struct {
	mu        sync.RWMutex
	messages  []Message
	index     map[string]int
	retention int
	activeID  string
	scanner   *SegmentScanner
}

// NewTranscript creates a transcript retaining at most retention messages.
// A retention of zero or less means unbounded.
func NewTranscript(retention int) *Transcript {
	return &Transcript{
		index:     make(map[string]int),
		retention: retention,
	}
}

// Append adds a message that is already terminal (user input, system
// prompts, restored history).
func (t *Transcript) Append(msg Message) error {
	if !msg.Status.Terminal() {
		return fmt.Errorf("append requires a terminal status, got %q", msg.Status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(msg)
	return nil
}

// BeginStreaming inserts a pending assistant message for a new generation
// request. Fails if another message is still pending or streaming.
func (t *Transcript) BeginStreaming() (Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.activeID != "" {
		return Message{}, ErrStreamActive
	}

	msg := NewPendingAssistantMessage()
	t.add(msg)
	t.activeID = msg.ID
	t.scanner = NewSegmentScanner()
	return msg, nil
}

// AppendChunk appends streamed content to the active message, moving it
// from pending to streaming on the first chunk. Returns any code segments
// whose closing fence completed inside the chunk.
func (t *Transcript) AppendChunk(id string, chunk string) ([]Segment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.index[id]
	if !ok {
		return nil, ErrUnknownMessage
	}
	msg := &t.messages[idx]
	if msg.Status.Terminal() {
		return nil, ErrTerminal
	}

	msg.Status = StatusStreaming
	msg.Content += chunk
	return t.scanner.Append(chunk), nil
}

// Finish moves the active message into a terminal status. Content streamed
// so far is kept exactly as-is, including for failed and cancelled ends.
func (t *Transcript) Finish(id string, status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.index[id]
	if !ok {
		return ErrUnknownMessage
	}
	msg := &t.messages[idx]
	if msg.Status.Terminal() {
		return ErrTerminal
	}

	msg.Status = status
	if t.activeID == id {
		t.activeID = ""
		t.scanner = nil
	}
	return nil
}

// Evict enforces the retention bound, dropping oldest messages first and
// returning the evicted ids. The active streaming message is never evicted.
func (t *Transcript) Evict() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.retention <= 0 || len(t.messages) <= t.retention {
		return nil
	}

	var evicted []string
	for len(t.messages) > t.retention {
		oldest := t.messages[0]
		if oldest.ID == t.activeID {
			break
		}
		evicted = append(evicted, oldest.ID)
		t.messages = t.messages[1:]
	}

	t.reindex()
	return evicted
}

// Messages returns a snapshot of the transcript in display order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Get returns the message with the given id.
func (t *Transcript) Get(id string) (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.index[id]
	if !ok {
		return Message{}, false
	}
	return t.messages[idx], true
}

// Len returns the number of messages held.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// StreamingID returns the id of the active non-terminal message, if any.
func (t *Transcript) StreamingID() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeID, t.activeID != ""
}

// Segments returns the segmentation of a message's content. For the active
// streaming message this reuses the incremental scanner state; terminal
// messages are segmented on demand.
func (t *Transcript) Segments(id string) []Segment {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.index[id]
	if !ok {
		return nil
	}
	if id == t.activeID && t.scanner != nil {
		return t.scanner.Segments()
	}
	return ScanSegments(t.messages[idx].Content)
}

// add inserts without locking; callers hold t.mu.
func (t *Transcript) add(msg Message) {
	t.index[msg.ID] = len(t.messages)
	t.messages = append(t.messages, msg)
}

// reindex rebuilds the id index after eviction; callers hold t.mu.
func (t *Transcript) reindex() {
	t.index = make(map[string]int, len(t.messages))
	for i, msg := range t.messages {
		t.index[msg.ID] = i
	}
}
