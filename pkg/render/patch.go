package render

import (
	"fmt"

	"github.com/quilllabs/quill/pkg/chat"
)

// PatchKind identifies the view operation a Patch carries.
type PatchKind int

const (
	// PatchInsertAfter creates a node for a new message, anchored after
	// the node named by AfterID (empty AfterID means insert at the head).
	PatchInsertAfter PatchKind = iota
	// PatchUpdateContent appends Suffix to a node's content. Closed
	// carries any code segments that completed inside this update so
	// the sink can re-render them once as structured blocks.
	PatchUpdateContent
	// PatchUpdateStatus transitions a node to a new message status.
	PatchUpdateStatus
	// PatchRemove destroys a node after transcript eviction.
	PatchRemove
)

func (k PatchKind) String() string {
	switch k {
	case PatchInsertAfter:
		return "insert_after"
	case PatchUpdateContent:
		return "update_content"
	case PatchUpdateStatus:
		return "update_status"
	case PatchRemove:
		return "remove"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Patch is a single message-scoped view operation. Applying the emitted
// patch list to any tree that matched the previous transcript state
// brings it into agreement with the current one; no patch ever forces a
// reflow of unrelated messages.
type Patch struct {
	Kind PatchKind
	ID   string

	// InsertAfter only
	AfterID string
	Message chat.Message

	// UpdateContent only
	Suffix string
	Closed []chat.Segment

	// UpdateStatus only
	Status chat.Status
}

func (p Patch) String() string {
	switch p.Kind {
	case PatchInsertAfter:
		return fmt.Sprintf("insert_after(%s after %q)", p.ID, p.AfterID)
	case PatchUpdateContent:
		return fmt.Sprintf("update_content(%s, +%d bytes, %d closed)", p.ID, len(p.Suffix), len(p.Closed))
	case PatchUpdateStatus:
		return fmt.Sprintf("update_status(%s, %s)", p.ID, p.Status)
	case PatchRemove:
		return fmt.Sprintf("remove(%s)", p.ID)
	default:
		return p.Kind.String()
	}
}
