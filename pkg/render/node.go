package render

import (
	"fmt"

	"github.com/quilllabs/quill/pkg/chat"
)

// RenderNode is the shadow copy of one displayed message. Content and
// status track exactly what has been emitted to the sink, which may lag
// the transcript between drain ticks.
type RenderNode struct {
	ID      string
	Role    string
	Status  chat.Status
	Content string
}

// ClosedSegments returns the code segments of the node's content that
// have a closing fence, in document order.
func (n *RenderNode) ClosedSegments() []chat.Segment {
	return closedCode(chat.ScanSegments(n.Content))
}

// Tree is the ordered shadow of the displayed transcript. It is mutated
// only through Apply, with the same patches sent to the sink, so the
// two views cannot drift apart.
type Tree struct {
	nodes []*RenderNode
	index map[string]int
}

func NewTree() *Tree {
	return &Tree{index: make(map[string]int)}
}

// NewTreeFromMessages builds a tree directly from a full transcript
// snapshot. This is the from-scratch reference the incremental path is
// checked against.
func NewTreeFromMessages(messages []chat.Message) *Tree {
	t := NewTree()
	for _, msg := range messages {
		t.add(len(t.nodes), &RenderNode{
			ID:      msg.ID,
			Role:    msg.Role,
			Status:  msg.Status,
			Content: msg.Content,
		})
	}
	return t
}

// Apply mutates the tree with one patch.
func (t *Tree) Apply(patch Patch) error {
	switch patch.Kind {
	case PatchInsertAfter:
		if _, exists := t.index[patch.ID]; exists {
			return fmt.Errorf("node %s already exists", patch.ID)
		}
		pos := 0
		if patch.AfterID != "" {
			anchor, ok := t.index[patch.AfterID]
			if !ok {
				return fmt.Errorf("insert anchor %s not found", patch.AfterID)
			}
			pos = anchor + 1
		}
		t.add(pos, &RenderNode{
			ID:      patch.ID,
			Role:    patch.Message.Role,
			Status:  patch.Message.Status,
			Content: patch.Message.Content,
		})
		return nil

	case PatchUpdateContent:
		node, err := t.node(patch.ID)
		if err != nil {
			return err
		}
		node.Content += patch.Suffix
		return nil

	case PatchUpdateStatus:
		node, err := t.node(patch.ID)
		if err != nil {
			return err
		}
		node.Status = patch.Status
		return nil

	case PatchRemove:
		pos, ok := t.index[patch.ID]
		if !ok {
			return fmt.Errorf("node %s not found", patch.ID)
		}
		t.nodes = append(t.nodes[:pos], t.nodes[pos+1:]...)
		t.reindex()
		return nil

	default:
		return fmt.Errorf("unknown patch kind %s", patch.Kind)
	}
}

// Nodes returns snapshots of all nodes in display order.
func (t *Tree) Nodes() []RenderNode {
	out := make([]RenderNode, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = *n
	}
	return out
}

// Get returns a snapshot of one node.
func (t *Tree) Get(id string) (RenderNode, bool) {
	pos, ok := t.index[id]
	if !ok {
		return RenderNode{}, false
	}
	return *t.nodes[pos], true
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

// Equal reports whether two trees agree per node id, order, status and
// content.
func (t *Tree) Equal(other *Tree) bool {
	if len(t.nodes) != len(other.nodes) {
		return false
	}
	for i, n := range t.nodes {
		o := other.nodes[i]
		if n.ID != o.ID || n.Role != o.Role || n.Status != o.Status || n.Content != o.Content {
			return false
		}
	}
	return true
}

func (t *Tree) node(id string) (*RenderNode, error) {
	pos, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found", id)
	}
	return t.nodes[pos], nil
}

func (t *Tree) add(pos int, node *RenderNode) {
	t.nodes = append(t.nodes, nil)
	copy(t.nodes[pos+1:], t.nodes[pos:])
	t.nodes[pos] = node
	t.reindex()
}

func (t *Tree) reindex() {
	t.index = make(map[string]int, len(t.nodes))
	for i, n := range t.nodes {
		t.index[n.ID] = i
	}
}

func closedCode(segments []chat.Segment) []chat.Segment {
	var out []chat.Segment
	for _, seg := range segments {
		if seg.Kind == chat.SegmentCode && seg.Closed {
			out = append(out, seg)
		}
	}
	return out
}
