package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/spring/spring-sub006/internal/capability"
)

// maxSyncData bounds a decompressed sync data payload.
const maxSyncData = 64 << 20

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSyncData))
)

// compressBlob compresses a sync data payload for storage.
func compressBlob(data []byte) []byte {
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// decompressBlob reverses compressBlob.
func decompressBlob(blob []byte) ([]byte, error) {
	data, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress sync data: %w", err)
	}
	return data, nil
}

// digest returns the lowercase hex sha256 of data.
func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// marshalCapability converts a capability context to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so the column is stable.
func marshalCapability(c capability.Context) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return "", fmt.Errorf("marshal capability: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// unmarshalCapability parses JSON TEXT into a capability context.
// Empty input yields capability.None().
func unmarshalCapability(data string) (capability.Context, error) {
	c := capability.None()
	if data == "" || data == "{}" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return capability.Context{}, fmt.Errorf("unmarshal capability: %w", err)
	}
	return c, nil
}
