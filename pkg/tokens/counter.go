package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/quilllabs/quill/pkg/chat"
)

// Counter estimates token counts for prompt budgeting. Estimates only need
// to be conservative enough that a request passed by the budget check is
// very unlikely to bounce off the backend's context limit.
type Counter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.RWMutex
}

// NewCounter creates a counter for the given model name. When no encoding
// is available the counter falls back to a character/word heuristic.
func NewCounter(modelName string) *Counter {
	encodingName := encodingForModel(modelName)

	encoder, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		encoder, _ = tiktoken.GetEncoding("cl100k_base")
	}

	return &Counter{encoder: encoder}
}

// Count counts the tokens in the given text.
func (c *Counter) Count(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.encoder == nil {
		return estimate(text)
	}
	return len(c.encoder.Encode(text, nil, nil))
}

// CountMessages counts tokens for a message window including the per-message
// boundary overhead most chat models add.
func (c *Counter) CountMessages(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += c.Count(msg.Role)
		total += c.Count(msg.Content)
		total += 4 // role/content boundary markers
	}
	total += 3 // reply is primed with assistant
	return total
}

// encodingForModel maps a model name to a tiktoken encoding.
func encodingForModel(modelName string) string {
	modelLower := strings.ToLower(modelName)

	if strings.Contains(modelLower, "gpt-4") || strings.Contains(modelLower, "gpt-3.5") {
		return "cl100k_base"
	}
	if strings.Contains(modelLower, "davinci") || strings.Contains(modelLower, "code") {
		return "p50k_base"
	}

	// Works reasonably well for most modern models including local ones
	return "cl100k_base"
}

// estimate is a rough heuristic used when no encoder is available: one
// token per word or per four characters, whichever is higher. Skewing high
// keeps the budget check conservative.
func estimate(text string) int {
	wordEstimate := len(strings.Fields(text))
	charEstimate := len(text) / 4

	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}
