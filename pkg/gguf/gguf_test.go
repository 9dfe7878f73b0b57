package gguf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFile writes a minimal valid GGUF header with the given metadata.
func buildFile(t *testing.T, version uint32, kvs []kv) []byte {
	t.Helper()

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(Magic))
	binary.Write(&buf, binary.LittleEndian, version)
	binary.Write(&buf, binary.LittleEndian, uint64(2)) // tensor count
	binary.Write(&buf, binary.LittleEndian, uint64(len(kvs)))

	for _, pair := range kvs {
		writeString(&buf, pair.key)
		binary.Write(&buf, binary.LittleEndian, pair.vtype)
		switch pair.vtype {
		case typeString:
			writeString(&buf, pair.value.(string))
		case typeUint32:
			binary.Write(&buf, binary.LittleEndian, pair.value.(uint32))
		case typeBool:
			b := uint8(0)
			if pair.value.(bool) {
				b = 1
			}
			binary.Write(&buf, binary.LittleEndian, b)
		default:
			t.Fatalf("unsupported test value type %d", pair.vtype)
		}
	}
	return buf.Bytes()
}

type kv struct {
	key   string
	vtype uint32
	value any
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint64(len(s)))
	buf.WriteString(s)
}

func TestParseValidHeader(t *testing.T) {
	data := buildFile(t, 3, []kv{
		{"general.architecture", typeString, "llama"},
		{"general.name", typeString, "tinyllama"},
		{"llama.context_length", typeUint32, uint32(2048)},
		{"llama.rope.scaling", typeBool, false},
	})

	info, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, uint32(3), info.Version)
	assert.Equal(t, uint64(2), info.TensorCount)
	assert.Equal(t, "llama", info.Architecture)
	assert.Equal(t, "tinyllama", info.Name)
	assert.Equal(t, 2048, info.ContextLength)
	assert.Equal(t, false, info.Metadata["llama.rope.scaling"])
}

func TestParseBadMagic(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte("GGMLel weights")))
	assert.True(t, errors.Is(err, ErrBadMagic))
}

func TestParseUnsupportedVersion(t *testing.T) {
	data := buildFile(t, 1, nil)
	_, err := Parse(bytes.NewReader(data))
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestParseTruncatedFile(t *testing.T) {
	data := buildFile(t, 3, []kv{
		{"general.architecture", typeString, "llama"},
	})

	_, err := Parse(bytes.NewReader(data[:len(data)-4]))
	assert.Error(t, err)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gguf")
	data := buildFile(t, 2, []kv{
		{"general.architecture", typeString, "qwen2"},
		{"qwen2.context_length", typeUint32, uint32(32768)},
	})
	require.NoError(t, os.WriteFile(path, data, 0644))

	info, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, 32768, info.ContextLength)
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.gguf"))
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	info := &Info{Name: "tinyllama", Architecture: "llama", ContextLength: 2048}
	assert.Equal(t, "tinyllama, llama, ctx 2048", info.Describe())

	assert.Equal(t, "unknown model", new(Info).Describe())
}
