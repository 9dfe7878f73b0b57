package render

import (
	"fmt"
	"strings"

	"github.com/quilllabs/quill/pkg/chat"
	"github.com/quilllabs/quill/pkg/logger"
)

// Renderer converts transcript state into the minimal ordered patch
// list that brings the sink's view up to date. It keeps a shadow tree
// of what the sink currently shows and mutates it only by applying the
// same patches it emits, so the shadow and the real view stay in
// lockstep by construction.
type Renderer struct {
	tree *Tree
	sink Sink
}

func New(sink Sink) *Renderer {
	return &Renderer{tree: NewTree(), sink: sink}
}

// Tree exposes the shadow tree for inspection.
func (r *Renderer) Tree() *Tree {
	return r.tree
}

// Sync diffs the transcript against the shadow tree and delivers the
// resulting patches to the sink. One call per drain tick produces at
// most one content update per streaming message, however many token
// increments arrived in between.
func (r *Renderer) Sync(t *chat.Transcript) error {
	patches := r.Diff(t.Messages())
	for _, patch := range patches {
		if err := r.tree.Apply(patch); err != nil {
			return fmt.Errorf("applying %s to shadow tree: %w", patch, err)
		}
		if err := r.sink.ApplyPatch(patch); err != nil {
			// The shadow already advanced; surface the divergence
			// rather than guessing at the sink's state.
			return fmt.Errorf("sink rejected %s: %w", patch, err)
		}
	}
	if len(patches) > 0 {
		logger.Debug("renderer sync emitted %d patches", len(patches))
	}
	return nil
}

// Diff computes the patch list without applying it. Order matters:
// removals first so stale nodes never anchor an insert, then inserts
// and updates in transcript order.
func (r *Renderer) Diff(messages []chat.Message) []Patch {
	var patches []Patch

	live := make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		live[msg.ID] = struct{}{}
	}
	for _, node := range r.tree.Nodes() {
		if _, ok := live[node.ID]; !ok {
			patches = append(patches, Patch{Kind: PatchRemove, ID: node.ID})
		}
	}

	prevID := ""
	for _, msg := range messages {
		node, exists := r.tree.Get(msg.ID)
		if !exists {
			patches = append(patches, Patch{
				Kind:    PatchInsertAfter,
				ID:      msg.ID,
				AfterID: prevID,
				Message: msg,
			})
			prevID = msg.ID
			continue
		}

		if msg.Content != node.Content {
			if strings.HasPrefix(msg.Content, node.Content) {
				patches = append(patches, contentPatch(node, msg))
			} else {
				// Streaming content only ever grows by appended
				// text; a rewrite means the shadow diverged, so
				// rebuild the node instead of guessing a suffix.
				logger.Warn("content for %s rewrote; rebuilding node", msg.ID)
				patches = append(patches,
					Patch{Kind: PatchRemove, ID: msg.ID},
					Patch{Kind: PatchInsertAfter, ID: msg.ID, AfterID: prevID, Message: msg},
				)
				prevID = msg.ID
				continue
			}
		}
		if msg.Status != node.Status {
			patches = append(patches, Patch{
				Kind:   PatchUpdateStatus,
				ID:     msg.ID,
				Status: msg.Status,
			})
		}
		prevID = msg.ID
	}

	return patches
}

// contentPatch turns grown content into a suffix append, carrying the
// code segments that became fully fenced since the sink last saw this
// message.
func contentPatch(node RenderNode, msg chat.Message) Patch {
	already := len(closedCode(chat.ScanSegments(node.Content)))
	closedNow := closedCode(chat.ScanSegments(msg.Content))
	var closed []chat.Segment
	if len(closedNow) > already {
		closed = closedNow[already:]
	}

	return Patch{
		Kind:   PatchUpdateContent,
		ID:     msg.ID,
		Suffix: msg.Content[len(node.Content):],
		Closed: closed,
	}
}
