package identity

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	second, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate (second): %v", err)
	}

	if first.UUID() != second.UUID() {
		t.Fatalf("expected stable UUID across loads, got %s then %s", first.UUID(), second.UUID())
	}
	if first.Name() != second.Name() {
		t.Fatalf("expected stable name, got %q then %q", first.Name(), second.Name())
	}
}

func TestLoadOrCreateCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "config")

	id, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if id.UUID().String() == "" {
		t.Fatal("expected a generated UUID")
	}
}

func TestDeriveNameFormat(t *testing.T) {
	dir := t.TempDir()
	id, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	hex := id.Name()[len(id.Hostname())+1:]
	if len(hex) != 8 {
		t.Fatalf("expected 8 hex chars in name suffix, got %q", hex)
	}
}
