package filereader

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

func openMemory(t *testing.T, data []byte, bufSize int) *Reader {
	t.Helper()

	opener := MemoryOpener{Files: map[string][]byte{"f": data}}
	r, err := OpenDoubleBuffer(opener, "f", bufSize)
	if err != nil {
		t.Fatalf("OpenDoubleBuffer: %v", err)
	}
	return r
}

func TestAcquireNextFIFOOrder(t *testing.T) {
	// property 5: successive AcquireNext calls deliver the file's bytes in
	// order with no gap or overlap.
	unit := RoundBufferSize(1) / 2
	data := bytes.Repeat([]byte{0}, unit*3+7)
	for i := range data {
		data[i] = byte(i)
	}

	r := openMemory(t, data, unit*2)
	defer r.Close()

	var got []byte
	for {
		buf, err := r.AcquireNext()
		if errors.Is(err, ErrNoData) {
			break
		}
		if errors.Is(err, ErrNoBuffer) {
			r.Release()
			continue
		}
		if err != nil {
			t.Fatalf("AcquireNext: %v", err)
		}
		got = append(got, buf...)
		r.Release()
	}

	if !bytes.Equal(got, data) {
		t.Fatalf("delivered bytes do not match source: got %d bytes, want %d", len(got), len(data))
	}
}

func TestAcquireNextTwoBufferLimit(t *testing.T) {
	// property 6: a third concurrent acquire without an intervening
	// release fails with ErrNoBuffer.
	unit := RoundBufferSize(1) / 2
	data := bytes.Repeat([]byte{'x'}, unit*4)

	r := openMemory(t, data, unit*2)
	defer r.Close()

	if _, err := r.AcquireNext(); err != nil {
		t.Fatalf("first AcquireNext: %v", err)
	}
	if _, err := r.AcquireNext(); err != nil {
		t.Fatalf("second AcquireNext: %v", err)
	}
	if _, err := r.AcquireNext(); !errors.Is(err, ErrNoBuffer) {
		t.Fatalf("third AcquireNext: want ErrNoBuffer, got %v", err)
	}

	r.Release()
	if _, err := r.AcquireNext(); err != nil {
		t.Fatalf("AcquireNext after release: %v", err)
	}
}

func TestUnreadIsIdempotent(t *testing.T) {
	// property 7: a second Unread without an intervening AcquireNext is a
	// no-op.
	unit := RoundBufferSize(1) / 2
	data := bytes.Repeat([]byte{'y'}, unit*3)

	r := openMemory(t, data, unit*2)
	defer r.Close()

	first, err := r.AcquireNext()
	if err != nil {
		t.Fatalf("AcquireNext: %v", err)
	}
	firstCopy := append([]byte(nil), first...)

	r.Unread()
	r.Unread() // must not double-restore unreadSize

	again, err := r.AcquireNext()
	if err != nil {
		t.Fatalf("AcquireNext after Unread: %v", err)
	}
	if !bytes.Equal(again, firstCopy) {
		t.Fatalf("Unread did not replay the same buffer: got %v, want %v", again, firstCopy)
	}
}

func TestIOErrorIsSticky(t *testing.T) {
	unit := RoundBufferSize(1) / 2
	data := bytes.Repeat([]byte{'z'}, unit*2)
	r := openMemory(t, data, unit*2)
	defer r.Close()

	sentinel := errors.New("boom")
	r.SetIOError(sentinel)

	if _, err := r.AcquireNext(); !errors.Is(err, sentinel) {
		t.Fatalf("want sticky sentinel error, got %v", err)
	}
	if _, err := r.AcquireNext(); !errors.Is(err, sentinel) {
		t.Fatalf("sticky error did not persist across calls, got %v", err)
	}
}

func TestOpenSingleBufferWholeFile(t *testing.T) {
	data := []byte("a small file that fits in one buffer")
	opener := MemoryOpener{Files: map[string][]byte{"f": data}}

	r, err := OpenSingleBuffer(opener, "f")
	if err != nil {
		t.Fatalf("OpenSingleBuffer: %v", err)
	}
	defer r.Close()

	buf, err := r.AcquireNext()
	if err != nil {
		t.Fatalf("AcquireNext: %v", err)
	}
	if !bytes.Equal(buf, data) {
		t.Fatalf("got %q, want %q", buf, data)
	}

	if _, err := r.AcquireNext(); !errors.Is(err, ErrNoData) {
		t.Fatalf("second AcquireNext on single-buffer reader: want ErrNoData, got %v", err)
	}
}

func TestRoundBufferSize(t *testing.T) {
	if got := RoundBufferSize(1); got < 1 {
		t.Fatalf("RoundBufferSize(1) = %d, want >= 1", got)
	}
	rounded := RoundBufferSize(100)
	if RoundBufferSize(rounded) != rounded {
		t.Fatalf("RoundBufferSize is not idempotent on an already-rounded value: %d -> %d", rounded, RoundBufferSize(rounded))
	}
}
