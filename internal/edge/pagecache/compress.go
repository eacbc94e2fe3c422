package pagecache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/adminx/perfgate/pkg/types"
)

// ErrDecompression is returned when a stored page cannot be decoded
var ErrDecompression = errors.New("decompression failed")

// compress encodes body with algorithm and returns the file suffix to append.
// Bodies below CompressionMinSize are stored as is.
func compress(body []byte, algorithm string) ([]byte, string, error) {
	if len(body) < types.CompressionMinSize {
		return body, "", nil
	}

	switch algorithm {
	case types.CompressionSnappy:
		return snappy.Encode(nil, body), types.ExtSnappy, nil

	case types.CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			w.Close()
			return nil, "", fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), types.ExtLZ4, nil

	default:
		return body, "", nil
	}
}

// decompress decodes content according to the suffix of path
func decompress(content []byte, path string) ([]byte, error) {
	switch {
	case strings.HasSuffix(path, types.ExtSnappy):
		out, err := snappy.Decode(nil, content)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecompression, err)
		}
		return out, nil

	case strings.HasSuffix(path, types.ExtLZ4):
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(content)))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
		}
		return out, nil

	default:
		return content, nil
	}
}

// suffixesFor lists the file suffixes a lookup tries, the configured one first
func suffixesFor(algorithm string) []string {
	switch algorithm {
	case types.CompressionSnappy:
		return []string{types.ExtSnappy, "", types.ExtLZ4}
	case types.CompressionLZ4:
		return []string{types.ExtLZ4, "", types.ExtSnappy}
	default:
		return []string{"", types.ExtSnappy, types.ExtLZ4}
	}
}
