package view

import (
	"bytes"
	"strings"
	"testing"

	"github.com/quilllabs/quill/pkg/chat"
	"github.com/quilllabs/quill/pkg/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink() (*StreamSink, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewStreamSink(&buf, DefaultStyles()), &buf
}

func TestSystemMessagesStayHidden(t *testing.T) {
	sink, buf := newTestSink()
	r := render.New(sink)
	transcript := chat.NewTranscript(0)

	require.NoError(t, transcript.Append(chat.NewSystemMessage("You are a helpful assistant.")))
	require.NoError(t, transcript.Append(chat.NewUserMessage("hi")))
	require.NoError(t, r.Sync(transcript))

	assert.NotContains(t, buf.String(), "helpful assistant")
	assert.Contains(t, buf.String(), "hi")
}

func TestStreamingProseReachesOutput(t *testing.T) {
	sink, buf := newTestSink()
	r := render.New(sink)
	transcript := chat.NewTranscript(0)

	require.NoError(t, transcript.Append(chat.NewUserMessage("hello there")))
	msg, err := transcript.BeginStreaming()
	require.NoError(t, err)
	require.NoError(t, r.Sync(transcript))

	_, err = transcript.AppendChunk(msg.ID, "General Kenobi.\n")
	require.NoError(t, err)
	require.NoError(t, r.Sync(transcript))

	out := buf.String()
	assert.Contains(t, out, "you")
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, "assistant")
	assert.Contains(t, out, "General Kenobi.")
}

func TestOpenFenceHeldBackUntilClosed(t *testing.T) {
	sink, buf := newTestSink()
	r := render.New(sink)
	transcript := chat.NewTranscript(0)

	msg, err := transcript.BeginStreaming()
	require.NoError(t, err)
	require.NoError(t, r.Sync(transcript))

	_, err = transcript.AppendChunk(msg.ID, "Try this:\n```python\nsecret_body = 1\n")
	require.NoError(t, err)
	require.NoError(t, r.Sync(transcript))

	assert.Contains(t, buf.String(), "Try this:")
	assert.NotContains(t, buf.String(), "secret_body", "open fence stays hidden")

	_, err = transcript.AppendChunk(msg.ID, "```\n")
	require.NoError(t, err)
	require.NoError(t, r.Sync(transcript))

	assert.Contains(t, buf.String(), "secret_body")
	assert.Contains(t, buf.String(), "python", "language tag shown")
}

func TestTrailingPartialLineHeldBack(t *testing.T) {
	sink, buf := newTestSink()
	r := render.New(sink)
	transcript := chat.NewTranscript(0)

	msg, err := transcript.BeginStreaming()
	require.NoError(t, err)
	require.NoError(t, r.Sync(transcript))

	// "``" could still grow into a fence opener
	_, err = transcript.AppendChunk(msg.ID, "done\n``")
	require.NoError(t, err)
	require.NoError(t, r.Sync(transcript))
	assert.NotContains(t, buf.String(), "``")

	require.NoError(t, transcript.Finish(msg.ID, chat.StatusComplete))
	require.NoError(t, r.Sync(transcript))
	assert.Contains(t, buf.String(), "``", "terminal flush writes the tail")
}

func TestUnclosedFenceFlushedOnTerminal(t *testing.T) {
	sink, buf := newTestSink()
	r := render.New(sink)
	transcript := chat.NewTranscript(0)

	msg, err := transcript.BeginStreaming()
	require.NoError(t, err)
	_, err = transcript.AppendChunk(msg.ID, "```go\nfmt.Println(42)\n")
	require.NoError(t, err)
	require.NoError(t, r.Sync(transcript))

	require.NoError(t, transcript.Finish(msg.ID, chat.StatusCancelled))
	require.NoError(t, r.Sync(transcript))

	out := buf.String()
	assert.Contains(t, out, "Println", "cancelled stream still shows what arrived")
	assert.Contains(t, out, "[cancelled]")
}

func TestFailedFooter(t *testing.T) {
	sink, buf := newTestSink()
	r := render.New(sink)
	transcript := chat.NewTranscript(0)

	msg, err := transcript.BeginStreaming()
	require.NoError(t, err)
	_, err = transcript.AppendChunk(msg.ID, "partial")
	require.NoError(t, err)
	require.NoError(t, transcript.Finish(msg.ID, chat.StatusFailed))
	require.NoError(t, r.Sync(transcript))

	assert.Contains(t, buf.String(), "[generation failed]")
}

func TestActionHintAndCodeBlockRetrieval(t *testing.T) {
	sink, buf := newTestSink()
	r := render.New(sink)
	transcript := chat.NewTranscript(0)

	msg, err := transcript.BeginStreaming()
	require.NoError(t, err)
	_, err = transcript.AppendChunk(msg.ID, "Here:\n```python\nx = 41 + 1\n```\n")
	require.NoError(t, err)
	require.NoError(t, transcript.Finish(msg.ID, chat.StatusComplete))
	require.NoError(t, r.Sync(transcript))

	assert.Contains(t, buf.String(), "1 code block(s)")

	body, ok := sink.CodeBlock(msg.ID, 0)
	require.True(t, ok)
	assert.Equal(t, "x = 41 + 1\n", body)

	_, ok = sink.CodeBlock(msg.ID, 1)
	assert.False(t, ok)
}

func TestTriggerActionForwarding(t *testing.T) {
	sink, _ := newTestSink()
	r := render.New(sink)
	transcript := chat.NewTranscript(0)

	done := chat.NewAssistantMessage("```sh\nls\n```\n")
	require.NoError(t, transcript.Append(done))
	require.NoError(t, r.Sync(transcript))

	var gotID string
	var gotAction render.ActionKind
	sink.OnAction(func(messageID string, action render.ActionKind, segment int) {
		gotID = messageID
		gotAction = action
	})

	require.NoError(t, sink.TriggerAction(done.ID, render.ActionCopy, 0))
	assert.Equal(t, done.ID, gotID)
	assert.Equal(t, render.ActionCopy, gotAction)

	assert.Error(t, sink.TriggerAction("missing", render.ActionCopy, 0))
	assert.Error(t, sink.TriggerAction(done.ID, render.ActionInsert, 3))
}

func TestRemoveDropsBookkeepingOnly(t *testing.T) {
	sink, buf := newTestSink()
	r := render.New(sink)
	transcript := chat.NewTranscript(1)

	a := chat.NewUserMessage("old question")
	require.NoError(t, transcript.Append(a))
	require.NoError(t, r.Sync(transcript))

	require.NoError(t, transcript.Append(chat.NewAssistantMessage("newer")))
	transcript.Evict()
	require.NoError(t, r.Sync(transcript))

	// Printed text stays on screen, but the handle is gone
	assert.Contains(t, buf.String(), "old question")
	_, ok := sink.CodeBlock(a.ID, 0)
	assert.False(t, ok)
	assert.True(t, strings.Contains(buf.String(), "newer"))
}
