// Package identity owns this process's stable node UUID and the
// per-process instance lock that keeps two processes from sharing it.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const nodeIDFile = "node-id"

// Identity is a stable, host-persisted node UUID plus a derived display
// name. Immutable for the process lifetime once loaded.
type Identity struct {
	id       uuid.UUID
	name     string
	hostname string
}

// UUID returns the node's persistent identifier.
func (n Identity) UUID() uuid.UUID { return n.id }

// Name returns the derived display name, "<hostname-short>-<8 hex>".
func (n Identity) Name() string { return n.name }

// Hostname returns the short hostname used to derive Name.
func (n Identity) Hostname() string { return n.hostname }

// LoadOrCreate reads the node UUID from <configDir>/node-id, creating both
// the directory and a fresh v4 UUID if absent. Idempotent: repeated calls
// against the same configDir return the same UUID.
func LoadOrCreate(configDir string) (Identity, error) {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return Identity{}, fmt.Errorf("identity: create config dir: %w", err)
	}

	path := filepath.Join(configDir, nodeIDFile)
	id, err := readNodeID(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Identity{}, fmt.Errorf("identity: read %s: %w", path, err)
		}
		id = uuid.New()
		if err := writeNodeIDAtomic(path, id); err != nil {
			return Identity{}, fmt.Errorf("identity: persist %s: %w", path, err)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	hostname = shortHostname(hostname)

	return Identity{
		id:       id,
		name:     deriveName(hostname, id),
		hostname: hostname,
	}, nil
}

func readNodeID(path string) (uuid.UUID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return uuid.Nil, err
	}
	s := strings.TrimSpace(string(data))
	// Stored as 32 hex chars with no dashes; tolerate the canonical dashed
	// form too since both round-trip through uuid.Parse.
	if len(s) == 32 {
		s = fmt.Sprintf("%s-%s-%s-%s-%s", s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("identity: malformed node-id file: %w", err)
	}
	return id, nil
}

// writeNodeIDAtomic writes the 32-hex-char, no-dash UUID via a temp-file
// + rename so a crash mid-write never leaves a half-written node-id.
func writeNodeIDAtomic(path string, id uuid.UUID) error {
	tmp := path + ".tmp"
	hex := strings.ReplaceAll(id.String(), "-", "")
	if err := os.WriteFile(tmp, []byte(hex), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func shortHostname(h string) string {
	if i := strings.IndexByte(h, '.'); i >= 0 {
		return h[:i]
	}
	return h
}

func deriveName(hostname string, id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	if len(hex) > 8 {
		hex = hex[:8]
	}
	return hostname + "-" + hex
}

// DefaultConfigDir returns the well-known per-user config directory for
// midimesh, creating no side effects itself.
func DefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("identity: resolve user config dir: %w", err)
	}
	return filepath.Join(base, "midimesh"), nil
}
