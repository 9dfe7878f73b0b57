package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/quilllabs/quill/pkg/chat"
	"github.com/quilllabs/quill/pkg/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTranscript(t *testing.T, msgs ...chat.Message) *chat.Transcript {
	t.Helper()
	tr := chat.NewTranscript(0)
	for _, m := range msgs {
		require.NoError(t, tr.Append(m))
	}
	return tr
}

func TestBuildKeepsEverythingUnderBudget(t *testing.T) {
	tr := newTranscript(t,
		chat.NewSystemMessage("be helpful"),
		chat.NewUserMessage("what is a slice?"),
		chat.NewAssistantMessage("a slice is a view over an array"),
		chat.NewUserMessage("and a map?"),
	)

	wm := NewWindowManager(tokens.NewCounter("gpt-4"), 4096)
	window, err := wm.Build(tr)
	require.NoError(t, err)

	require.Len(t, window, 4)
	assert.Equal(t, chat.RoleSystem, window[0].Role)
	assert.Equal(t, "and a map?", window[len(window)-1].Content)
}

func TestBuildDropsOldestNonSystemFirst(t *testing.T) {
	old := chat.NewUserMessage(strings.Repeat("ancient history ", 100))
	tr := newTranscript(t,
		chat.NewSystemMessage("be helpful"),
		old,
		chat.NewAssistantMessage(strings.Repeat("long reply ", 100)),
		chat.NewUserMessage("short recent question"),
	)

	// Budget fits system + last user turn but not the older turns
	wm := NewWindowManager(tokens.NewCounter("gpt-4"), 80)
	window, err := wm.Build(tr)
	require.NoError(t, err)

	for _, msg := range window {
		assert.NotEqual(t, old.ID, msg.ID, "oldest turn should be dropped")
	}
	assert.Equal(t, "short recent question", window[len(window)-1].Content)
	assert.Equal(t, chat.RoleSystem, window[0].Role, "system message never dropped")
}

func TestBuildFailsFastWhenMinimumExceedsBudget(t *testing.T) {
	tr := newTranscript(t,
		chat.NewSystemMessage(strings.Repeat("very long instructions ", 200)),
		chat.NewUserMessage("hi"),
	)

	wm := NewWindowManager(tokens.NewCounter("gpt-4"), 50)
	_, err := wm.Build(tr)
	assert.True(t, errors.Is(err, ErrContextTooLarge))
}

func TestBuildSkipsNonCompleteMessages(t *testing.T) {
	tr := newTranscript(t, chat.NewUserMessage("first question"))

	msg, err := tr.BeginStreaming()
	require.NoError(t, err)
	_, err = tr.AppendChunk(msg.ID, "partial...")
	require.NoError(t, err)
	require.NoError(t, tr.Finish(msg.ID, chat.StatusCancelled))
	require.NoError(t, tr.Append(chat.NewUserMessage("second question")))

	wm := NewWindowManager(tokens.NewCounter("gpt-4"), 4096)
	window, err := wm.Build(tr)
	require.NoError(t, err)

	for _, m := range window {
		assert.NotEqual(t, msg.ID, m.ID, "cancelled message should not enter the window")
	}
}

func TestBuildInjectsSnippets(t *testing.T) {
	tr := newTranscript(t, chat.NewUserMessage("explain this file"))

	wm := NewWindowManager(tokens.NewCounter("gpt-4"), 4096)
	wm.SetSnippets([]Snippet{{Label: "main.go", Content: "package main"}})

	window, err := wm.Build(tr)
	require.NoError(t, err)

	require.NotEmpty(t, window)
	assert.Equal(t, chat.RoleSystem, window[0].Role)
	assert.Contains(t, window[0].Content, "main.go")
	assert.Contains(t, window[0].Content, "package main")
}

func TestShrinkIsBounded(t *testing.T) {
	wm := NewWindowManager(tokens.NewCounter("gpt-4"), 1024)

	assert.True(t, wm.Shrink())
	assert.Equal(t, 512, wm.Budget())
	assert.True(t, wm.Shrink())
	assert.Equal(t, 256, wm.Budget())
	assert.False(t, wm.Shrink(), "budget must not shrink below the floor")
}

func TestResetRestoresBudgetAfterShrink(t *testing.T) {
	wm := NewWindowManager(tokens.NewCounter("gpt-4"), 1024)

	require.True(t, wm.Shrink())
	require.True(t, wm.Shrink())
	require.Equal(t, 256, wm.Budget())

	wm.Reset()
	assert.Equal(t, 1024, wm.Budget())

	// Reset without a preceding Shrink is a no-op
	wm.Reset()
	assert.Equal(t, 1024, wm.Budget())
}

func TestSystemPrompt(t *testing.T) {
	plain := SystemPrompt("", "")
	assert.Equal(t, DefaultSystemPrompt, plain)

	full := SystemPrompt("beginner", "Python")
	assert.Contains(t, full, "Skill Level: beginner")
	assert.Contains(t, full, "Preferred Language: Python")
}
