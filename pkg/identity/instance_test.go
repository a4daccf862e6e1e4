package identity

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestAcquireRejectsSecondHolder(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	id := uuid.New()

	guard, err := Acquire(id)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer guard.Release()

	_, err = Acquire(id)
	if !errors.Is(err, ErrInstanceAlreadyRunning) {
		t.Fatalf("expected ErrInstanceAlreadyRunning, got %v", err)
	}
}

func TestAcquireReleaseThenReacquire(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	id := uuid.New()

	guard, err := Acquire(id)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	guard2, err := Acquire(id)
	if err != nil {
		t.Fatalf("re-Acquire after release: %v", err)
	}
	guard2.Release()
}

func TestAcquireDistinctNodesDoNotConflict(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	g1, err := Acquire(uuid.New())
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	defer g1.Release()

	g2, err := Acquire(uuid.New())
	if err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
	defer g2.Release()
}
