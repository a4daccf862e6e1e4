//go:build !unix

package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrInstanceAlreadyRunning is returned by Acquire when a live lock for the
// given node already exists.
var ErrInstanceAlreadyRunning = errors.New("identity: instance already running")

// Guard represents a held instance lock. Release must be called exactly
// once to release the lock and clean up the scratch directory.
//
// This build has no OS-advisory file lock available (golang.org/x/sys/unix
// is Unix-only), so it falls back to exclusive file creation plus a pid
// liveness check recorded in the file. This is best-effort: it closes the
// same race window an advisory flock would, but not atomically.
type Guard struct {
	lockPath   string
	scratchDir string
}

// Acquire takes the single-instance lock for nodeID under the OS temp
// directory.
func Acquire(nodeID uuid.UUID) (*Guard, error) {
	scratchDir := filepath.Join(os.TempDir(), "midi-mesh")
	if err := os.MkdirAll(scratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("identity: create scratch dir: %w", err)
	}

	lockPath := filepath.Join(scratchDir, nodeID.String()+".lock")

	if data, err := os.ReadFile(lockPath); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pidAlive(pid) {
			return nil, ErrInstanceAlreadyRunning
		}
		os.Remove(lockPath)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrInstanceAlreadyRunning
		}
		return nil, fmt.Errorf("identity: create lock file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return nil, fmt.Errorf("identity: write pid: %w", err)
	}

	return &Guard{lockPath: lockPath, scratchDir: scratchDir}, nil
}

func pidAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

// Release removes the lock file and, best-effort, the scratch directory.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	if err := os.Remove(g.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("identity: remove lock file: %w", err)
	}
	os.Remove(g.scratchDir)
	return nil
}
