// Package gguf reads the header and metadata of GGUF model files, the
// single-file quantized-weights format used by llama.cpp style runtimes.
// Only metadata is parsed; tensor data is never loaded.
package gguf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Magic is the little-endian file magic "GGUF".
const Magic = 0x46554747

var (
	ErrBadMagic           = errors.New("not a GGUF file")
	ErrUnsupportedVersion = errors.New("unsupported GGUF version")
)

// metadata value types from the GGUF spec
const (
	typeUint8   = 0
	typeInt8    = 1
	typeUint16  = 2
	typeInt16   = 3
	typeUint32  = 4
	typeInt32   = 5
	typeFloat32 = 6
	typeBool    = 7
	typeString  = 8
	typeArray   = 9
	typeUint64  = 10
	typeInt64   = 11
	typeFloat64 = 12
)

// limits guarding against corrupt headers
const (
	maxStringLen = 1 << 20
	maxArrayLen  = 1 << 20
	maxKVCount   = 1 << 16
)

// Info describes a parsed model file.
type Info struct {
	Version       uint32
	TensorCount   uint64
	Architecture  string
	Name          string
	ContextLength int
	Metadata      map[string]any
}

// ParseFile reads the GGUF header and metadata from a model file.
func ParseFile(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()

	info, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return info, nil
}

// Parse reads the GGUF header and metadata from a reader.
func Parse(r io.Reader) (*Info, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	if version < 2 || version > 3 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var tensorCount, kvCount uint64
	if err := binary.Read(r, binary.LittleEndian, &tensorCount); err != nil {
		return nil, fmt.Errorf("failed to read tensor count: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &kvCount); err != nil {
		return nil, fmt.Errorf("failed to read metadata count: %w", err)
	}
	if kvCount > maxKVCount {
		return nil, fmt.Errorf("implausible metadata count %d", kvCount)
	}

	meta := make(map[string]any, kvCount)
	for i := uint64(0); i < kvCount; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata key %d: %w", i, err)
		}

		var vtype uint32
		if err := binary.Read(r, binary.LittleEndian, &vtype); err != nil {
			return nil, fmt.Errorf("failed to read type of %q: %w", key, err)
		}

		value, err := readValue(r, vtype)
		if err != nil {
			return nil, fmt.Errorf("failed to read value of %q: %w", key, err)
		}
		meta[key] = value
	}

	info := &Info{
		Version:     version,
		TensorCount: tensorCount,
		Metadata:    meta,
	}

	if arch, ok := meta["general.architecture"].(string); ok {
		info.Architecture = arch
		info.ContextLength = intValue(meta[arch+".context_length"])
	}
	if name, ok := meta["general.name"].(string); ok {
		info.Name = name
	}

	return info, nil
}

func readString(r io.Reader) (string, error) {
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	if length > maxStringLen {
		return "", fmt.Errorf("implausible string length %d", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readValue(r io.Reader, vtype uint32) (any, error) {
	switch vtype {
	case typeUint8:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeInt8:
		var v int8
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeUint16:
		var v uint16
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeInt16:
		var v int16
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeUint32:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeInt32:
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeFloat32:
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		return math.Float32frombits(v), nil
	case typeBool:
		var v uint8
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		return v != 0, nil
	case typeString:
		return readString(r)
	case typeArray:
		return readArray(r)
	case typeUint64:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeInt64:
		var v int64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeFloat64:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil
	default:
		return nil, fmt.Errorf("unknown metadata value type %d", vtype)
	}
}

func readArray(r io.Reader) (any, error) {
	var elemType uint32
	if err := binary.Read(r, binary.LittleEndian, &elemType); err != nil {
		return nil, err
	}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if count > maxArrayLen {
		return nil, fmt.Errorf("implausible array length %d", count)
	}

	values := make([]any, 0, count)
	for i := uint64(0); i < count; i++ {
		v, err := readValue(r, elemType)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// intValue coerces any of the GGUF integer representations to int.
func intValue(v any) int {
	switch n := v.(type) {
	case uint8:
		return int(n)
	case int8:
		return int(n)
	case uint16:
		return int(n)
	case int16:
		return int(n)
	case uint32:
		return int(n)
	case int32:
		return int(n)
	case uint64:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// Describe returns a short human readable summary of the model.
func (i *Info) Describe() string {
	parts := []string{}
	if i.Name != "" {
		parts = append(parts, i.Name)
	}
	if i.Architecture != "" {
		parts = append(parts, i.Architecture)
	}
	if i.ContextLength > 0 {
		parts = append(parts, fmt.Sprintf("ctx %d", i.ContextLength))
	}
	if len(parts) == 0 {
		return "unknown model"
	}
	return strings.Join(parts, ", ")
}
