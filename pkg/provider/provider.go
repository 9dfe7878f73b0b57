// Package provider normalizes heterogeneous generation backends, from a
// local weights file served by a llama.cpp style runtime to remote
// OpenAI-compatible chat endpoints, behind one loading, streaming, and
// cancellation contract.
package provider

import (
	"context"

	"github.com/quilllabs/quill/pkg/chat"
)

// Chunk is one increment of a streamed response. The terminal chunk has
// Done set; a failed stream carries its classified error there, never on
// intermediate increments.
type Chunk struct {
	Content string
	Done    bool
	Err     error
}

// Request describes one generation exchange. Messages are the bounded
// context window selected by the caller, oldest first.
type Request struct {
	Messages    []chat.Message
	Temperature float64
	MaxTokens   int
}

// Provider is the unified contract over generation backends.
//
// Prepare makes the backend ready without generating: a local backend
// lazily loads model weights (idempotent, single-flight), a remote one
// validates its configuration without a network round trip.
//
// Generate begins a finite, non-restartable stream of content increments.
// Implementations observe ctx between increments and terminate promptly
// when it is cancelled, closing the channel without leaking the
// underlying resource.
type Provider interface {
	Prepare(ctx context.Context) error
	Generate(ctx context.Context, req Request) (<-chan Chunk, error)
	Name() string
	Model() string
}

// ModelLister is implemented by backends that can enumerate available
// models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// chunkBuffer is the channel capacity between the producing reader and
// the consuming session.
const chunkBuffer = 100

// fail delivers a single terminal error chunk on a fresh channel. Used
// when a stream fails before producing anything.
func fail(err error) <-chan Chunk {
	ch := make(chan Chunk, 1)
	ch <- Chunk{Done: true, Err: err}
	close(ch)
	return ch
}
