package session

import (
	"context"
	"sync/atomic"

	"github.com/quilllabs/quill/pkg/provider"
)

// fakeProvider scripts provider behavior per attempt.
type fakeProvider struct {
	prepareErr    error
	prepareCalls  atomic.Int32
	generateCalls atomic.Int32

	// attempts holds one chunk script per Generate call; the last script
	// repeats if more calls arrive
	attempts [][]provider.Chunk

	// generateFn overrides scripted behavior entirely when set
	generateFn func(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error)
}

func (f *fakeProvider) Prepare(ctx context.Context) error {
	f.prepareCalls.Add(1)
	return f.prepareErr
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) Generate(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	call := int(f.generateCalls.Add(1)) - 1
	if f.generateFn != nil {
		return f.generateFn(ctx, req)
	}

	script := f.attempts[len(f.attempts)-1]
	if call < len(f.attempts) {
		script = f.attempts[call]
	}

	ch := make(chan provider.Chunk, len(script))
	for _, chunk := range script {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

// textChunks builds a successful script from content pieces.
func textChunks(pieces ...string) []provider.Chunk {
	out := make([]provider.Chunk, 0, len(pieces)+1)
	for _, p := range pieces {
		out = append(out, provider.Chunk{Content: p})
	}
	return append(out, provider.Chunk{Done: true})
}

// failingChunks builds a script that fails immediately with err.
func failingChunks(err error) []provider.Chunk {
	return []provider.Chunk{{Done: true, Err: err}}
}
