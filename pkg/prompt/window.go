package prompt

import (
	"errors"
	"fmt"

	"github.com/quilllabs/quill/pkg/chat"
	"github.com/quilllabs/quill/pkg/logger"
	"github.com/quilllabs/quill/pkg/tokens"
)

// ErrContextTooLarge is returned when even the minimum required window
// (system messages plus the latest user turn) exceeds the token budget.
// Failing here avoids sending a request the backend is guaranteed to
// reject.
var ErrContextTooLarge = errors.New("context exceeds token budget")

// WindowManager selects the bounded context window sent with each
// generation request. The full transcript stays in the Transcript; only
// the most recent messages that fit the budget go to the backend.
type WindowManager struct {
	counter      *tokens.Counter
	baseTokens   int
	budgetTokens int
	snippets     []Snippet
}

// Snippet is injected file or selection context, carried as system
// content ahead of the conversation.
type Snippet struct {
	Label   string
	Content string
}

// NewWindowManager creates a window manager with the given token budget.
func NewWindowManager(counter *tokens.Counter, budgetTokens int) *WindowManager {
	return &WindowManager{
		counter:      counter,
		baseTokens:   budgetTokens,
		budgetTokens: budgetTokens,
	}
}

// SetSnippets replaces the injected context snippets (editor file or
// selection content).
func (wm *WindowManager) SetSnippets(snippets []Snippet) {
	wm.snippets = snippets
}

// Build selects the context window from the transcript: system messages
// and the most recent user turn always survive, then older turns are
// added newest-first until the budget is reached. Only terminal messages
// are eligible; a still-streaming message never enters a window.
func (wm *WindowManager) Build(transcript *chat.Transcript) ([]chat.Message, error) {
	history := transcript.Messages()

	var system []chat.Message
	var turns []chat.Message
	for _, msg := range history {
		if !msg.Status.Terminal() {
			continue
		}
		// Failed and cancelled turns are left out: their content was
		// never a full exchange
		if msg.Status != chat.StatusComplete {
			continue
		}
		if msg.IsSystem() {
			system = append(system, msg)
		} else {
			turns = append(turns, msg)
		}
	}

	snippets := wm.snippetMessages()
	required := make([]chat.Message, 0, len(snippets)+len(system)+1)
	required = append(required, snippets...)
	required = append(required, system...)

	var lastUser *chat.Message
	if n := len(turns); n > 0 && turns[n-1].IsUser() {
		lastUser = &turns[n-1]
		turns = turns[:n-1]
	}
	if lastUser != nil {
		required = append(required, *lastUser)
	}

	minCost := wm.counter.CountMessages(required)
	if minCost > wm.budgetTokens {
		logger.Warn("minimum context of %d tokens exceeds budget of %d", minCost, wm.budgetTokens)
		return nil, fmt.Errorf("%w: need %d tokens, budget %d", ErrContextTooLarge, minCost, wm.budgetTokens)
	}

	// Fill the remaining budget with prior turns, newest first, dropping
	// oldest non-system messages when they no longer fit
	budget := wm.budgetTokens - minCost
	var kept []chat.Message
	for i := len(turns) - 1; i >= 0; i-- {
		cost := wm.counter.CountMessages([]chat.Message{turns[i]})
		if cost > budget {
			break
		}
		budget -= cost
		kept = append([]chat.Message{turns[i]}, kept...)
	}

	window := make([]chat.Message, 0, len(required)+len(kept))
	window = append(window, snippets...)
	window = append(window, system...)
	window = append(window, kept...)
	if lastUser != nil {
		window = append(window, *lastUser)
	}

	logger.Debug("built context window: %d of %d messages, ~%d tokens budget left",
		len(window), len(history), budget)
	return window, nil
}

// Shrink halves the token budget for a single retry after the backend
// reported the prompt was too large. Returns false once the budget cannot
// shrink further. The caller restores the budget with Reset once the
// request finishes so one oversized prompt does not degrade later turns.
func (wm *WindowManager) Shrink() bool {
	if wm.budgetTokens <= 256 {
		return false
	}
	wm.budgetTokens /= 2
	logger.Info("context budget shrunk to %d tokens", wm.budgetTokens)
	return true
}

// Reset restores the configured token budget after any Shrink calls.
func (wm *WindowManager) Reset() {
	if wm.budgetTokens == wm.baseTokens {
		return
	}
	wm.budgetTokens = wm.baseTokens
	logger.Debug("context budget restored to %d tokens", wm.budgetTokens)
}

// Budget returns the current token budget.
func (wm *WindowManager) Budget() int {
	return wm.budgetTokens
}

func (wm *WindowManager) snippetMessages() []chat.Message {
	if len(wm.snippets) == 0 {
		return nil
	}
	msgs := make([]chat.Message, 0, len(wm.snippets))
	for _, s := range wm.snippets {
		msgs = append(msgs, chat.NewSystemMessage(fmt.Sprintf("Context from %s:\n%s", s.Label, s.Content)))
	}
	return msgs
}
