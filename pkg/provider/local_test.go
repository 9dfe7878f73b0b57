package provider

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/quilllabs/quill/pkg/gguf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeModelFile writes a minimal valid GGUF file for load tests.
func writeModelFile(t *testing.T) string {
	t.Helper()

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(gguf.Magic))
	binary.Write(&buf, binary.LittleEndian, uint32(3)) // version
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // tensor count
	binary.Write(&buf, binary.LittleEndian, uint64(2)) // kv count

	writeKVString(&buf, "general.architecture", "llama")
	writeKVString(&buf, "general.name", "test-model")

	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func writeKVString(buf *bytes.Buffer, key, value string) {
	binary.Write(buf, binary.LittleEndian, uint64(len(key)))
	buf.WriteString(key)
	binary.Write(buf, binary.LittleEndian, uint32(8)) // string type
	binary.Write(buf, binary.LittleEndian, uint64(len(value)))
	buf.WriteString(value)
}

// stubStarter replaces the runtime boot with a counter.
func stubStarter(p *LocalProvider, calls *atomic.Int32, err error) {
	p.start = func(ctx context.Context) error {
		calls.Add(1)
		return err
	}
}

func TestPrepareLoadsLazily(t *testing.T) {
	path := writeModelFile(t)
	p := NewLocalProvider(LocalConfig{ModelPath: path})

	var calls atomic.Int32
	stubStarter(p, &calls, nil)

	// Nothing loaded at construction
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, "model.gguf", p.Model())

	require.NoError(t, p.Prepare(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "test-model", p.Model())
}

func TestPrepareIsIdempotent(t *testing.T) {
	path := writeModelFile(t)
	p := NewLocalProvider(LocalConfig{ModelPath: path})

	var calls atomic.Int32
	stubStarter(p, &calls, nil)

	require.NoError(t, p.Prepare(context.Background()))
	require.NoError(t, p.Prepare(context.Background()))
	require.NoError(t, p.Prepare(context.Background()))

	assert.Equal(t, int32(1), calls.Load(), "repeated Prepare must not reload")
}

func TestConcurrentPrepareSingleLoad(t *testing.T) {
	path := writeModelFile(t)
	p := NewLocalProvider(LocalConfig{ModelPath: path})

	var calls atomic.Int32
	gate := make(chan struct{})
	p.start = func(ctx context.Context) error {
		calls.Add(1)
		<-gate // hold the load in flight
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Prepare(context.Background())
		}(i)
	}

	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent callers must join one load")
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestPrepareLoadFailureNotCached(t *testing.T) {
	path := writeModelFile(t)
	p := NewLocalProvider(LocalConfig{ModelPath: path})

	var calls atomic.Int32
	stubStarter(p, &calls, errors.New("port in use"))

	err := p.Prepare(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindLoadFailure, KindOf(err))

	// A later Prepare tries the load again
	stubStarter(p, &calls, nil)
	assert.NoError(t, p.Prepare(context.Background()))
}

func TestPrepareRejectsNonGGUF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.bin")
	require.NoError(t, os.WriteFile(path, []byte("definitely not gguf"), 0644))

	p := NewLocalProvider(LocalConfig{ModelPath: path})
	var calls atomic.Int32
	stubStarter(p, &calls, nil)

	err := p.Prepare(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindLoadFailure, KindOf(err))
	assert.Equal(t, int32(0), calls.Load(), "runtime must not boot for an unparseable file")
}

func TestPrepareMissingFile(t *testing.T) {
	p := NewLocalProvider(LocalConfig{ModelPath: filepath.Join(t.TempDir(), "absent.gguf")})

	err := p.Prepare(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindNotLoaded, KindOf(err))
}

func TestPrepareNoPathConfigured(t *testing.T) {
	p := NewLocalProvider(LocalConfig{})

	err := p.Prepare(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindNotLoaded, KindOf(err))
}

func TestLocalName(t *testing.T) {
	p := NewLocalProvider(LocalConfig{ModelPath: "m.gguf"})
	assert.Equal(t, "local", p.Name())
}
