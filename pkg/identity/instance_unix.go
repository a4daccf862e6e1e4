//go:build unix

package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrInstanceAlreadyRunning is returned by Acquire when a live lock for the
// given node already exists.
var ErrInstanceAlreadyRunning = errors.New("identity: instance already running")

// Guard represents a held instance lock. Release must be called exactly
// once, typically via defer, to release the lock and clean up the scratch
// directory.
type Guard struct {
	file      *os.File
	lockPath  string
	scratchDir string
}

// Acquire takes the single-instance lock for nodeID under the OS temp
// directory. If a lock file exists but its recorded pid is no longer
// alive, the stale lock is removed and re-acquired.
func Acquire(nodeID uuid.UUID) (*Guard, error) {
	scratchDir := filepath.Join(os.TempDir(), "midi-mesh")
	if err := os.MkdirAll(scratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("identity: create scratch dir: %w", err)
	}

	lockPath := filepath.Join(scratchDir, nodeID.String()+".lock")

	f, err := tryLock(lockPath)
	if err != nil {
		if !errors.Is(err, ErrInstanceAlreadyRunning) {
			return nil, err
		}
		if removeIfStale(lockPath) {
			f, err = tryLock(lockPath)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("identity: truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("identity: write pid: %w", err)
	}

	return &Guard{file: f, lockPath: lockPath, scratchDir: scratchDir}, nil
}

func tryLock(lockPath string) (*os.File, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("identity: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrInstanceAlreadyRunning
		}
		return nil, fmt.Errorf("identity: flock: %w", err)
	}
	return f, nil
}

// removeIfStale checks whether the pid recorded in lockPath is alive; if
// not, it removes the file so a subsequent tryLock can succeed.
func removeIfStale(lockPath string) bool {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	if pidAlive(pid) {
		return false
	}
	return os.Remove(lockPath) == nil
}

func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without affecting the target process.
	return proc.Signal(syscall.Signal(0)) == nil
}

// Release unlocks the instance lock, removes the lock file, and removes the
// scratch directory if it is now empty.
func (g *Guard) Release() error {
	if g == nil || g.file == nil {
		return nil
	}
	unix.Flock(int(g.file.Fd()), unix.LOCK_UN)
	path := g.lockPath
	g.file.Close()
	g.file = nil
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("identity: remove lock file: %w", err)
	}
	os.Remove(g.scratchDir) // best effort; fails silently if not empty
	return nil
}
