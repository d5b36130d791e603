package replay

import (
	"path/filepath"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "header.json")
	header := Header{SchemaVersion: HeaderSchemaVersion, MatchID: "m-1", MaxPlayers: 4, StartThreshold: 2, FilePointer: "manifest.json"}
	if err := WriteHeader(path, header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	loaded, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if loaded != header {
		t.Fatalf("unexpected header %+v", loaded)
	}
}

func TestHeaderValidation(t *testing.T) {
	if err := (Header{SchemaVersion: 1, MatchID: "m", FilePointer: " "}).Validate(); err == nil {
		t.Fatalf("expected missing file pointer error")
	}
	if err := (Header{SchemaVersion: 1, FilePointer: "manifest.json"}).Validate(); err == nil {
		t.Fatalf("expected missing match id error")
	}
	if err := (Header{MatchID: "m", FilePointer: "manifest.json"}).Validate(); err == nil {
		t.Fatalf("expected schema version error")
	}
}
