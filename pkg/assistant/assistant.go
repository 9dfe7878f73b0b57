// Package assistant wires the pieces of one conversation together: a
// transcript, a context window manager, a provider, a renderer and a
// sink. It drives full exchanges and dispatches interactive actions
// coming back from the view.
package assistant

import (
	"context"
	"fmt"
	"sync"

	"github.com/quilllabs/quill/pkg/chat"
	"github.com/quilllabs/quill/pkg/config"
	"github.com/quilllabs/quill/pkg/logger"
	"github.com/quilllabs/quill/pkg/prompt"
	"github.com/quilllabs/quill/pkg/provider"
	"github.com/quilllabs/quill/pkg/render"
	"github.com/quilllabs/quill/pkg/session"
	"github.com/quilllabs/quill/pkg/tokens"
)

// Actions receive the body of a code block when the user triggers a
// control on it. The embedding surface supplies these; nil entries
// disable the action.
type Actions struct {
	Copy   func(code string) error
	Insert func(code string) error
}

// Assistant owns one conversation end to end.
type Assistant struct {
	provider   provider.Provider
	transcript *chat.Transcript
	window     *prompt.WindowManager
	renderer   *render.Renderer
	history    *chat.History
	cfg        *config.Config
	actions    Actions

	mu      sync.Mutex
	current *session.Session
}

// New builds an assistant from configuration. The sink receives all
// view patches; pass Actions to enable copy/insert controls.
func New(cfg *config.Config, p provider.Provider, sink render.Sink, actions Actions) (*Assistant, error) {
	transcript := chat.NewTranscript(cfg.Context.RetentionCount)

	system := prompt.SystemPrompt(cfg.Prompt.SkillLevel, cfg.Prompt.Language)
	if err := transcript.Append(chat.NewSystemMessage(system)); err != nil {
		return nil, err
	}

	a := &Assistant{
		provider:   p,
		transcript: transcript,
		window:     prompt.NewWindowManager(tokens.NewCounter(p.Model()), cfg.Context.BudgetTokens),
		renderer:   render.New(sink),
		cfg:        cfg,
		actions:    actions,
	}

	if cfg.Prompt.HistoryFile != "" {
		history, err := chat.NewHistory(cfg.Prompt.HistoryFile)
		if err != nil {
			return nil, fmt.Errorf("opening history: %w", err)
		}
		if err := history.Restore(transcript); err != nil {
			logger.Warn("could not restore history: %v", err)
		}
		a.history = history
	}

	if err := a.renderer.Sync(transcript); err != nil {
		return nil, err
	}
	return a, nil
}

// SetSnippets injects editor context (open file, selection) sent ahead
// of the conversation on the next exchange.
func (a *Assistant) SetSnippets(snippets []prompt.Snippet) {
	a.window.SetSnippets(snippets)
}

// Transcript exposes the conversation for inspection.
func (a *Assistant) Transcript() *chat.Transcript {
	return a.transcript
}

// Send runs one full exchange: the user message enters the transcript,
// a generation session streams the reply, and every drain tick flows
// through the renderer to the sink. The assistant message is returned
// in its terminal state.
func (a *Assistant) Send(ctx context.Context, text string) (chat.Message, error) {
	user := chat.NewUserMessage(text)
	if user.Content == "" {
		return chat.Message{}, fmt.Errorf("empty message")
	}
	if err := a.transcript.Append(user); err != nil {
		return chat.Message{}, err
	}
	a.evictAndSync()
	a.persist(user)

	sess := session.New(a.provider, a.transcript, a.window, session.Options{
		MaxTokens:      a.cfg.Remote.MaxTokens,
		DrainInterval:  a.cfg.DrainInterval(),
		HardTimeout:    a.cfg.HardTimeout(),
		RetryTransient: a.cfg.Stream.RetryTransient,
		OnUpdate: func(messageID string, closed []chat.Segment) {
			if err := a.renderer.Sync(a.transcript); err != nil {
				logger.Error("render sync failed: %v", err)
			}
		},
	})

	a.mu.Lock()
	a.current = sess
	a.mu.Unlock()

	runErr := sess.Run(ctx)

	a.mu.Lock()
	a.current = nil
	a.mu.Unlock()

	a.evictAndSync()

	reply, ok := a.transcript.Get(sess.MessageID())
	if ok {
		a.persist(reply)
	}
	if runErr != nil {
		return reply, runErr
	}
	return reply, nil
}

// Cancel stops the in-flight exchange, if any. Content streamed so far
// stays in the transcript.
func (a *Assistant) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		a.current.Cancel()
	}
}

// HandleAction resolves an interactive control event against the
// transcript and dispatches the code block body to the configured
// action. Safe to call while another message is streaming.
func (a *Assistant) HandleAction(messageID string, action render.ActionKind, segment int) error {
	msg, ok := a.transcript.Get(messageID)
	if !ok {
		return fmt.Errorf("unknown message %s", messageID)
	}

	var blocks []chat.Segment
	for _, seg := range chat.ScanSegments(msg.Content) {
		if seg.Kind == chat.SegmentCode && seg.Closed {
			blocks = append(blocks, seg)
		}
	}
	if segment < 0 || segment >= len(blocks) {
		return fmt.Errorf("message %s has no code block %d", messageID, segment)
	}
	body := blocks[segment].Body(msg.Content)

	switch action {
	case render.ActionCopy:
		if a.actions.Copy == nil {
			return fmt.Errorf("copy action not available")
		}
		return a.actions.Copy(body)
	case render.ActionInsert:
		if a.actions.Insert == nil {
			return fmt.Errorf("insert action not available")
		}
		return a.actions.Insert(body)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// Clear resets the conversation, keeping the system prompt.
func (a *Assistant) Clear() error {
	a.mu.Lock()
	if a.current != nil {
		a.mu.Unlock()
		return fmt.Errorf("cannot clear while streaming")
	}
	a.mu.Unlock()

	transcript := chat.NewTranscript(a.cfg.Context.RetentionCount)
	system := prompt.SystemPrompt(a.cfg.Prompt.SkillLevel, a.cfg.Prompt.Language)
	if err := transcript.Append(chat.NewSystemMessage(system)); err != nil {
		return err
	}
	a.transcript = transcript

	if a.history != nil {
		if err := a.history.Clear(); err != nil {
			return err
		}
	}
	return a.renderer.Sync(transcript)
}

func (a *Assistant) evictAndSync() {
	if evicted := a.transcript.Evict(); len(evicted) > 0 {
		logger.Debug("evicted %d messages beyond retention", len(evicted))
	}
	if err := a.renderer.Sync(a.transcript); err != nil {
		logger.Error("render sync failed: %v", err)
	}
}

func (a *Assistant) persist(msg chat.Message) {
	if a.history == nil {
		return
	}
	if err := a.history.Add(msg); err != nil {
		logger.Warn("could not persist message: %v", err)
	}
}
