package render

// ActionKind names a user-triggered control on a rendered code block.
type ActionKind string

const (
	// ActionCopy copies a code block to the clipboard.
	ActionCopy ActionKind = "copy"
	// ActionInsert inserts a code block at the editor cursor.
	ActionInsert ActionKind = "insert"
)

// Sink is the display surface boundary. The renderer emits patches to
// it and never touches the screen itself; the sink reports user
// interaction back through the ActionFunc it was constructed with.
type Sink interface {
	ApplyPatch(patch Patch) error
}

// ActionFunc receives interactive control events from a sink. Controls
// on a completed code block stay live even while another message is
// still streaming, so implementations must tolerate concurrent streams.
type ActionFunc func(messageID string, action ActionKind, segment int)
