package speech

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

func compress(data []byte, method Compression) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("gzip write: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %d", method)
	}
}

func decompress(data []byte, method Compression) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		if len(data) == 0 {
			return nil, nil
		}
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip read: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %d", method)
	}
}

// framePayload returns the decompressed payload of f.
func framePayload(f *Frame) ([]byte, error) {
	return decompress(f.Payload, f.Header.Compression)
}
