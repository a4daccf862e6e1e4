package transport

import (
	"testing"
)

func TestMessageBufferInOrderDelivery(t *testing.T) {
	buf := NewMessageBuffer()
	var got []uint16
	for _, s := range []uint16{0, 1, 2, 3} {
		s := s
		buf.Feed(s, func() { got = append(got, s) })
	}
	assertSeq(t, got, []uint16{0, 1, 2, 3})
}

// Feed [1,2,4,3,3,5], expect delivery
// exactly [1,2,3,4,5] with duplicate 3 suppressed.
func TestMessageBufferReorderAndDedup(t *testing.T) {
	buf := NewMessageBuffer()
	var got []uint16
	feed := func(s uint16) {
		buf.Feed(s, func() { got = append(got, s) })
	}
	feed(1)
	feed(2)
	feed(4)
	feed(3)
	feed(3) // duplicate, should not be delivered again
	feed(5)

	assertSeq(t, got, []uint16{1, 2, 3, 4, 5})
}

func TestMessageBufferDuplicateWithinWindowDropped(t *testing.T) {
	buf := NewMessageBuffer()
	var count int
	buf.Feed(10, func() { count++ })
	buf.Feed(10, func() { count++ })
	buf.Feed(10, func() { count++ })
	if count != 1 {
		t.Fatalf("duplicate sequence delivered %d times, want 1", count)
	}
}

func TestMessageBufferGapTriggersSenderRestart(t *testing.T) {
	buf := NewMessageBuffer()
	var got []uint16
	buf.Feed(0, func() { got = append(got, 0) })
	// Jump far beyond gapThreshold: treated as a sender restart.
	buf.Feed(1000, func() { got = append(got, 1000) })

	assertSeq(t, got, []uint16{0, 1000})
	if buf.nextExpected != 1001 {
		t.Fatalf("nextExpected = %d, want 1001 after restart", buf.nextExpected)
	}
}

func TestMessageBufferSequenceWraparound(t *testing.T) {
	buf := NewMessageBuffer()
	var got []uint16
	feed := func(s uint16) {
		buf.Feed(s, func() { got = append(got, s) })
	}
	feed(0xFFFE)
	feed(0xFFFF)
	feed(0x0000)
	feed(0x0001)

	assertSeq(t, got, []uint16{0xFFFE, 0xFFFF, 0x0000, 0x0001})
}

func assertSeq(t *testing.T, got, want []uint16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
