package grpc

import (
	"bytes"
	"testing"
)

func TestCompressorsRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("tick-state "), 32)
	for _, name := range []string{"snappy", "zstd"} {
		compressor, err := NewCompressor(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if compressor.Name() != name {
			t.Fatalf("unexpected name %q", compressor.Name())
		}
		compressed, err := compressor.Compress(payload)
		if err != nil {
			t.Fatalf("%s compress: %v", name, err)
		}
		if len(compressed) == 0 || len(compressed) >= len(payload) {
			t.Fatalf("%s: expected a smaller payload, got %d bytes", name, len(compressed))
		}
		decompressed, err := compressor.Decompress(compressed)
		if err != nil {
			t.Fatalf("%s decompress: %v", name, err)
		}
		if !bytes.Equal(decompressed, payload) {
			t.Fatalf("%s round trip mismatch", name)
		}
	}
}

func TestCompressorsRejectEmptyPayload(t *testing.T) {
	for _, name := range []string{"snappy", "zstd"} {
		compressor, _ := NewCompressor(name)
		if _, err := compressor.Decompress(nil); err == nil {
			t.Fatalf("%s: expected error for empty payload", name)
		}
	}
	if _, err := NewCompressor("gzip"); err == nil {
		t.Fatalf("expected unsupported compression error")
	}
}
