// Package view provides the reference terminal sink. It renders the
// renderer's patch stream into a styled text transcript on an io.Writer:
// prose is written as it streams, open code fences are held back and
// printed once as a highlighted block when their closing fence arrives.
package view

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/quilllabs/quill/pkg/chat"
	"github.com/quilllabs/quill/pkg/render"
)

// block tracks how much of one message has been written out.
type block struct {
	role    string
	status  chat.Status
	content string
	printed int
	opened  bool // role header written
	closed  []chat.Segment
}

// StreamSink writes the transcript to a sequential writer. It cannot
// unprint, so PatchRemove only drops its bookkeeping; surfaces that can
// redraw should implement render.Sink against their own display model.
type StreamSink struct {
	mu        sync.Mutex
	out       io.Writer
	styles    Styles
	hl        *highlighter
	blocks    map[string]*block
	onAction  render.ActionFunc
	lastOpen  string // id of the message currently being written
	showHints bool
}

func NewStreamSink(out io.Writer, styles Styles) *StreamSink {
	return &StreamSink{
		out:       out,
		styles:    styles,
		hl:        newHighlighter(),
		blocks:    make(map[string]*block),
		showHints: true,
	}
}

// OnAction registers the callback invoked by TriggerAction.
func (s *StreamSink) OnAction(fn render.ActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAction = fn
}

// TriggerAction forwards a user-invoked control to the registered
// callback. Controls stay live for any message with closed code blocks,
// streaming elsewhere or not.
func (s *StreamSink) TriggerAction(messageID string, action render.ActionKind, segment int) error {
	s.mu.Lock()
	blk, ok := s.blocks[messageID]
	fn := s.onAction
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("no such message %s", messageID)
	}
	if segment < 0 || segment >= len(blk.closed) {
		return fmt.Errorf("message %s has no code block %d", messageID, segment)
	}
	if fn == nil {
		return fmt.Errorf("no action handler registered")
	}
	fn(messageID, action, segment)
	return nil
}

// CodeBlock returns the body of the nth closed code block of a message.
func (s *StreamSink) CodeBlock(messageID string, segment int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blk, ok := s.blocks[messageID]
	if !ok || segment < 0 || segment >= len(blk.closed) {
		return "", false
	}
	return blk.closed[segment].Body(blk.content), true
}

func (s *StreamSink) ApplyPatch(patch render.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch patch.Kind {
	case render.PatchInsertAfter:
		if _, exists := s.blocks[patch.ID]; exists {
			return fmt.Errorf("duplicate insert for %s", patch.ID)
		}
		blk := &block{
			role:    patch.Message.Role,
			status:  patch.Message.Status,
			content: patch.Message.Content,
		}
		// Restored messages arrive whole; register their code blocks
		// so controls work on them too
		for _, seg := range chat.ScanSegments(blk.content) {
			if seg.Kind == chat.SegmentCode && seg.Closed {
				blk.closed = append(blk.closed, seg)
			}
		}
		s.blocks[patch.ID] = blk
		// System messages shape generation, not the visible transcript
		if blk.role == chat.RoleSystem {
			return nil
		}
		if blk.content != "" || blk.status.Terminal() {
			s.open(patch.ID, blk)
			s.drain(blk, blk.status.Terminal())
		}
		// Terminal on arrival means no status patch will follow
		if blk.status.Terminal() && blk.role == chat.RoleAssistant {
			s.footer(blk)
		}
		return nil

	case render.PatchUpdateContent:
		blk, ok := s.blocks[patch.ID]
		if !ok {
			return fmt.Errorf("update for unknown message %s", patch.ID)
		}
		blk.content += patch.Suffix
		blk.closed = append(blk.closed, patch.Closed...)
		s.open(patch.ID, blk)
		s.drain(blk, false)
		return nil

	case render.PatchUpdateStatus:
		blk, ok := s.blocks[patch.ID]
		if !ok {
			return fmt.Errorf("status for unknown message %s", patch.ID)
		}
		blk.status = patch.Status
		if patch.Status.Terminal() {
			s.open(patch.ID, blk)
			s.drain(blk, true)
			s.footer(blk)
		}
		return nil

	case render.PatchRemove:
		delete(s.blocks, patch.ID)
		return nil

	default:
		return fmt.Errorf("unknown patch kind %s", patch.Kind)
	}
}

// open writes the role header once, when a message first produces
// visible output.
func (s *StreamSink) open(id string, blk *block) {
	if blk.opened {
		return
	}
	blk.opened = true
	if s.lastOpen != "" {
		fmt.Fprintln(s.out)
	}
	s.lastOpen = id
	fmt.Fprintln(s.out, s.styles.header(blk.role).Render(roleLabel(blk.role)))
}

// drain writes everything that is safe to show: prose up to the last
// complete line, and each code block once its closing fence has
// arrived. When final is set the remaining tail is flushed too, open
// fence or not.
func (s *StreamSink) drain(blk *block, final bool) {
	segments := chat.ScanSegments(blk.content)

	for _, seg := range segments {
		if seg.Start >= len(blk.content) || blk.printed >= seg.End {
			continue
		}
		switch {
		case seg.Kind == chat.SegmentCode && seg.Closed:
			s.writeProse(blk, seg.Start)
			s.writeCode(seg, blk.content)
			blk.printed = seg.End

		case seg.Kind == chat.SegmentCode:
			// Held back until the fence closes, unless this is the end
			if final {
				s.writeProse(blk, seg.Start)
				s.writeCode(seg, blk.content)
				blk.printed = len(blk.content)
			}
			return

		default:
			boundary := seg.End
			if !final && boundary == len(blk.content) {
				// Keep the trailing incomplete line; it may still
				// become a fence opener
				if nl := strings.LastIndexByte(blk.content, '\n'); nl >= blk.printed {
					boundary = nl + 1
				} else {
					boundary = blk.printed
				}
			}
			s.writeProse(blk, boundary)
		}
	}

	if final && blk.printed < len(blk.content) {
		s.writeProse(blk, len(blk.content))
	}
}

func (s *StreamSink) writeProse(blk *block, until int) {
	if until <= blk.printed {
		return
	}
	fmt.Fprint(s.out, s.styles.Prose.Render(blk.content[blk.printed:until]))
	blk.printed = until
}

func (s *StreamSink) writeCode(seg chat.Segment, content string) {
	body := strings.TrimRight(seg.Body(content), "\n")
	rendered := s.hl.Highlight(body, seg.Lang)

	if seg.Lang != "" {
		fmt.Fprintln(s.out, s.styles.LangTag.Render(seg.Lang))
	}
	fmt.Fprintln(s.out, s.styles.CodeBlock.Render(rendered))
}

// footer reports terminal state and, for completed messages with code,
// the available controls.
func (s *StreamSink) footer(blk *block) {
	switch blk.status {
	case chat.StatusFailed:
		fmt.Fprintln(s.out, s.styles.Failed.Render("[generation failed]"))
	case chat.StatusCancelled:
		fmt.Fprintln(s.out, s.styles.Cancelled.Render("[cancelled]"))
	case chat.StatusComplete:
		if s.showHints && len(blk.closed) > 0 {
			hint := fmt.Sprintf("%d code block(s): copy <n> / insert <n>", len(blk.closed))
			fmt.Fprintln(s.out, s.styles.ActionHint.Render(hint))
		}
	}
}

func roleLabel(role string) string {
	switch role {
	case chat.RoleUser:
		return "you"
	case chat.RoleSystem:
		return "system"
	default:
		return "assistant"
	}
}
