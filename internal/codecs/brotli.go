package codecs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// DecompressImage decompresses a brotli-compressed IMAGE_FRAME payload,
// matching the external image-decompression contract
// (compressed[], expected_size) -> (raw[], error).
func DecompressImage(compressed []byte, expectedSize int) ([]byte, error) {
	reader := brotli.NewReader(bytes.NewReader(compressed))

	out := make([]byte, expectedSize)
	n, err := io.ReadFull(reader, out)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("codecs: brotli decompress: %w", err)
	}
	if n != expectedSize {
		return nil, fmt.Errorf("codecs: brotli decompressed %d bytes, expected %d", n, expectedSize)
	}
	return out, nil
}
