// Package session orchestrates one streaming request/response exchange:
// provider preparation, background stream consumption, batched transcript
// mutation at a fixed drain cadence, cancellation, and bounded retries.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/quilllabs/quill/pkg/chat"
	"github.com/quilllabs/quill/pkg/logger"
	"github.com/quilllabs/quill/pkg/prompt"
	"github.com/quilllabs/quill/pkg/provider"
)

// UpdateFunc is invoked after each batched transcript mutation, carrying
// the mutated message id and any code segments closed by the batch.
type UpdateFunc func(messageID string, closed []chat.Segment)

// Options tune one session.
type Options struct {
	Temperature    float64
	MaxTokens      int
	DrainInterval  time.Duration
	HardTimeout    time.Duration
	RetryTransient bool

	// OnUpdate runs on the session's drain goroutine after each flush
	OnUpdate UpdateFunc
}

func (o *Options) fill() {
	if o.DrainInterval <= 0 {
		o.DrainInterval = 100 * time.Millisecond
	}
	if o.HardTimeout <= 0 {
		o.HardTimeout = 10 * time.Minute
	}
}

// Session drives a single generation exchange. The provider's blocking
// I/O runs on its own goroutine; the session's drain loop batches arrived
// increments into one transcript mutation per tick so downstream diffing
// cost stays bounded by the drain cadence, not the token rate.
type Session struct {
	provider   provider.Provider
	transcript *chat.Transcript
	window     *prompt.WindowManager
	opts       Options

	mu        sync.Mutex
	state     State
	messageID string
	cancel    context.CancelFunc
	cancelled bool
}

// New creates an idle session.
func New(p provider.Provider, t *chat.Transcript, wm *prompt.WindowManager, opts Options) *Session {
	opts.fill()
	return &Session{
		provider:   p,
		transcript: t,
		window:     wm,
		opts:       opts,
		state:      StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MessageID returns the id of the transcript message this session streams
// into, once created.
func (s *Session) MessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageID
}

// Cancel requests a cooperative stop. Content streamed so far stays in
// the transcript. A Cancel that arrives before the run installs its
// cancel func is latched and honored at install time.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run executes the full exchange and blocks until a terminal state. The
// transcript message always reaches a terminal status, error or not.
// Cancellation is not an error; Run returns nil for it.
func (s *Session) Run(ctx context.Context) error {
	s.setState(StateRequested)

	msg, err := s.transcript.BeginStreaming()
	if err != nil {
		s.setState(StateFailed)
		return err
	}

	s.mu.Lock()
	s.messageID = msg.ID
	s.mu.Unlock()

	runErr := s.run(ctx, msg.ID)

	switch {
	case runErr == nil:
		s.finish(msg.ID, chat.StatusComplete, StateCompleted)
		return nil
	case provider.KindOf(runErr) == provider.KindCancelled:
		s.finish(msg.ID, chat.StatusCancelled, StateCancelled)
		return nil
	default:
		s.finish(msg.ID, chat.StatusFailed, StateFailed)
		return runErr
	}
}

func (s *Session) finish(msgID string, status chat.Status, state State) {
	if err := s.transcript.Finish(msgID, status); err != nil && !errors.Is(err, chat.ErrTerminal) {
		logger.Error("failed to finish message %s: %v", msgID, err)
	}
	s.setState(state)
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(msgID, nil)
	}
}

// run performs the prepare/generate/drain cycle with the retry policy:
// one automatic trim-and-retry for an oversized context, one backoff
// retry for transient failures when opted in. Retries only happen while
// nothing has been streamed yet; once partial content exists a retry
// would duplicate it.
func (s *Session) run(ctx context.Context, msgID string) error {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	early := s.cancelled
	s.mu.Unlock()
	if early {
		cancel()
	}

	if err := s.provider.Prepare(gctx); err != nil {
		if gctx.Err() != nil {
			return provider.NewError(provider.KindCancelled, gctx.Err())
		}
		return err
	}

	window, err := s.buildWindow()
	if err != nil {
		return err
	}

	// A trimmed budget applies to this exchange only
	defer s.window.Reset()

	trimmed := false
	transientRetried := false

	for {
		streamed, err := s.stream(gctx, msgID, window)
		if err == nil {
			return nil
		}
		if streamed > 0 {
			return err
		}

		switch kind := provider.KindOf(err); {
		case kind == provider.KindContextTooLarge && !trimmed:
			trimmed = true
			if !s.window.Shrink() {
				return err
			}
			window, err = s.buildWindow()
			if err != nil {
				return err
			}
			logger.Info("retrying with trimmed context window")

		case provider.Transient(err) && s.opts.RetryTransient && !transientRetried:
			transientRetried = true
			wait := provider.RetryAfterOf(err)
			if wait <= 0 {
				wait = time.Second
			}
			logger.Info("transient failure (%s), retrying in %s", kind, wait)
			select {
			case <-time.After(wait):
			case <-gctx.Done():
				return provider.NewError(provider.KindCancelled, gctx.Err())
			}

		default:
			return err
		}
	}
}

// buildWindow maps a pre-flight budget failure into the provider taxonomy
// so the retry policy treats it like a backend rejection.
func (s *Session) buildWindow() ([]chat.Message, error) {
	window, err := s.window.Build(s.transcript)
	if err != nil {
		if errors.Is(err, prompt.ErrContextTooLarge) {
			return nil, provider.NewError(provider.KindContextTooLarge, err)
		}
		return nil, err
	}
	return window, nil
}

// stream consumes one generation attempt, flushing batched content into
// the transcript on each drain tick. Returns the number of bytes applied.
func (s *Session) stream(ctx context.Context, msgID string, window []chat.Message) (int, error) {
	chunks, err := s.provider.Generate(ctx, provider.Request{
		Messages:    window,
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	})
	if err != nil {
		return 0, err
	}

	ticker := time.NewTicker(s.opts.DrainInterval)
	defer ticker.Stop()

	hardTimer := time.NewTimer(s.opts.HardTimeout)
	defer hardTimer.Stop()

	var pending strings.Builder
	streamed := 0

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		batch := pending.String()
		pending.Reset()

		closed, err := s.transcript.AppendChunk(msgID, batch)
		if err != nil {
			logger.Error("failed to append chunk to %s: %v", msgID, err)
			return
		}
		streamed += len(batch)
		if s.opts.OnUpdate != nil {
			s.opts.OnUpdate(msgID, closed)
		}
	}

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// Producer closed without a terminal chunk; treat as done
				flush()
				return streamed, nil
			}
			if chunk.Content != "" {
				if streamed == 0 && pending.Len() == 0 {
					s.setState(StateStreaming)
				}
				pending.WriteString(chunk.Content)
			}
			if chunk.Done {
				if chunk.Err != nil {
					// Failed attempts keep what already reached the
					// transcript, but an unstarted attempt stays clean
					// so a retry can run
					if streamed > 0 {
						flush()
					}
					return streamed, chunk.Err
				}
				flush()
				return streamed, nil
			}

		case <-ticker.C:
			flush()

		case <-ctx.Done():
			// Keep whatever arrived before the stop
			flush()
			return streamed, provider.NewError(provider.KindCancelled, ctx.Err())

		case <-hardTimer.C:
			flush()
			return streamed, provider.Errorf(provider.KindUnknown,
				"generation exceeded hard timeout of %s", s.opts.HardTimeout)
		}
	}
}
