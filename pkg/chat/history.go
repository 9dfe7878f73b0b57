package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// History persists completed transcript messages to disk as JSON.
type History struct {
	Messages []Message `json:"messages"`
	mu       sync.RWMutex
	filePath string
}

// NewHistory creates a new chat history manager, loading any existing file.
func NewHistory(filePath string) (*History, error) {
	h := &History{
		Messages: make([]Message, 0),
		filePath: filePath,
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	if _, err := os.Stat(filePath); err == nil {
		if err := h.Load(); err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
	}

	return h, nil
}

// Add appends a message and saves. Only terminal messages belong in
// history; a still-streaming message is rejected.
func (h *History) Add(msg Message) error {
	if !msg.Status.Terminal() {
		return fmt.Errorf("cannot persist non-terminal message %s", msg.ID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.Messages = append(h.Messages, msg)
	return h.save()
}

// GetMessages returns all messages in the history.
func (h *History) GetMessages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msgs := make([]Message, len(h.Messages))
	copy(msgs, h.Messages)
	return msgs
}

// Clear clears the history.
func (h *History) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Messages = make([]Message, 0)
	return h.save()
}

// Restore replays history into a transcript, oldest first.
func (h *History) Restore(t *Transcript) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, msg := range h.Messages {
		if err := t.Append(msg); err != nil {
			return fmt.Errorf("failed to restore message %s: %w", msg.ID, err)
		}
	}
	return nil
}

// Save saves the history to disk.
func (h *History) Save() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.save()
}

func (h *History) save() error {
	data, err := json.MarshalIndent(struct {
		Messages []Message `json:"messages"`
	}{h.Messages}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.WriteFile(h.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return nil
}

// Load loads the history from disk.
func (h *History) Load() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.filePath)
	if err != nil {
		return fmt.Errorf("failed to read history file: %w", err)
	}

	var loaded struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse history file: %w", err)
	}

	h.Messages = loaded.Messages
	if h.Messages == nil {
		h.Messages = make([]Message, 0)
	}
	return nil
}
