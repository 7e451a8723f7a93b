package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Cached states and snapshots carry every transaction an actor has made,
// so they are stored as zstd-compressed JSON.
var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil)
)

// EncodeBlob marshals v to JSON and compresses it.
func EncodeBlob(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode blob: %w", err)
	}
	return blobEncoder.EncodeAll(raw, nil), nil
}

// DecodeBlob is the inverse of EncodeBlob.
func DecodeBlob(data []byte, v any) error {
	raw, err := blobDecoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress blob: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode blob: %w", err)
	}
	return nil
}
