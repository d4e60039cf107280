// Package filereader implements the double-buffered file reader from
// spec.md section 4.2: it owns an open file, two page-aligned buffers,
// and produces successive buffer slices in file order while hiding the
// file-size and partial-read bookkeeping from callers.
//
// A Reader is not safe for concurrent use.
package filereader

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// ErrNoData signals end of stream. It is not a sticky error and is
	// never logged; spec.md section 7 treats it as the normal
	// end-of-stream signal.
	ErrNoData = errors.New("filereader: no data")
	// ErrNoBuffer is returned when AcquireNext is called while both
	// buffers are already held -- the caller must Release first.
	ErrNoBuffer = errors.New("filereader: no buffer available")
)

const defaultBufferSize = 16 * 1024

// RoundBufferSize rounds n up to a multiple of twice the host page size,
// the alignment spec.md section 6 requires of the reader's total buffer
// size configuration surface. A non-positive n is replaced with the
// 16 KiB default from the source before rounding.
func RoundBufferSize(n int) int {
	if n <= 0 {
		n = defaultBufferSize
	}

	unit := 2 * unix.Getpagesize()
	if rem := n % unit; rem != 0 {
		n += unit - rem
	}

	return n
}

// Reader is the double-buffered file reader. The zero value is not
// usable; construct one with OpenDoubleBuffer or OpenSingleBuffer.
type Reader struct {
	file FileHandle

	ioError    error
	unreadSize int
	nextIndex  int // 0 or 1: buffer handed out by the next AcquireNext
	freeCount  int // 0, 1 or 2: buffers not currently held by the caller

	fileOffset int64
	fileSize   int64

	buffers [2][]byte
	bufCap  [2]int

	// unread() bookkeeping: the buffer and length handed out by the most
	// recent successful AcquireNext, and whether it has already been
	// rolled back once.
	lastIndex   int
	lastLen     int
	haveLast    bool
	lastWasUndo bool
}

// OpenDoubleBuffer opens path (resolved by opener, typically relative to
// a Dir) for reading into two buffers, each holding half of
// RoundBufferSize(totalBufferSize) bytes. Both buffers are pre-populated
// with the file's first bytes, truncated if the file is shorter than the
// combined capacity, per spec.md section 4.2.
func OpenDoubleBuffer(opener Opener, path string, totalBufferSize int) (*Reader, error) {
	total := RoundBufferSize(totalBufferSize)
	return open(opener, path, total/2, total/2)
}

// OpenSingleBuffer opens path into a single buffer sized exactly to the
// file, for files that fit fully in memory. Buffer 1 stays empty.
func OpenSingleBuffer(opener Opener, path string) (*Reader, error) {
	handle, err := opener.Open(path)
	if err != nil {
		return nil, err
	}

	size, err := handle.Size()
	if err != nil {
		_ = handle.Close()
		return nil, err
	}

	return openWithHandle(handle, int(size), 0)
}

func open(opener Opener, path string, cap0, cap1 int) (*Reader, error) {
	handle, err := opener.Open(path)
	if err != nil {
		return nil, err
	}
	return openWithHandle(handle, cap0, cap1)
}

func openWithHandle(handle FileHandle, cap0, cap1 int) (*Reader, error) {
	size, err := handle.Size()
	if err != nil {
		_ = handle.Close()
		return nil, err
	}

	r := &Reader{
		file:     handle,
		fileSize: size,
	}
	r.bufCap[0] = cap0
	r.bufCap[1] = cap1
	r.buffers[0] = make([]byte, cap0)
	r.buffers[1] = make([]byte, cap1)
	r.freeCount = 2
	r.nextIndex = 0

	if err := r.fillBuffer(0); err != nil && !errors.Is(err, ErrNoData) {
		_ = handle.Close()
		return nil, err
	}
	if err := r.fillBuffer(1); err != nil && !errors.Is(err, ErrNoData) {
		_ = handle.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}

// IsEOF reports whether every byte of the file has been delivered.
func (r *Reader) IsEOF() bool {
	return r.unreadSize == 0 && r.fileOffset == r.fileSize
}

// HasNext reports whether there is buffered data ready for AcquireNext.
func (r *Reader) HasNext() bool {
	return r.unreadSize > 0
}

// IOError returns the sticky I/O error, or nil if the reader is healthy.
func (r *Reader) IOError() error {
	return r.ioError
}

// SetIOError is a test hook: once set, the reader behaves as if an I/O
// failure had occurred, and every future refill is skipped.
func (r *Reader) SetIOError(err error) {
	r.ioError = err
}

// fillBuffer reads the next unread portion of the file into buffer idx,
// advancing fileOffset and unreadSize. Reaching EOF with nothing left to
// read returns ErrNoData, which is not latched as a sticky error. Once a
// sticky I/O error is set, it reads nothing and returns that error.
func (r *Reader) fillBuffer(idx int) error {
	if r.ioError != nil {
		return r.ioError
	}
	if r.fileOffset == r.fileSize {
		return ErrNoData
	}

	want := r.fileSize - r.fileOffset
	if want > int64(r.bufCap[idx]) {
		want = int64(r.bufCap[idx])
	}

	n, err := readFull(r.file, r.buffers[idx][:want], r.fileOffset)
	if err != nil {
		r.ioError = err
		return err
	}

	r.unreadSize += n
	r.fileOffset += int64(n)
	return nil
}

// readFull loops ReadAt until buf is full or the file handle reports no
// further progress, matching spec.md section 6's "caller loops until the
// requested count is satisfied or EOF" contract for read_at.
func readFull(h FileHandle, buf []byte, offset int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := h.ReadAt(buf[total:], offset+int64(total))
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// AcquireNext returns the next unread slice of the current buffer,
// clamped to the bytes actually buffered. It fails with the reader's
// sticky I/O error if one is set, ErrNoData at end of file, or
// ErrNoBuffer if both buffers are already held.
func (r *Reader) AcquireNext() ([]byte, error) {
	if r.ioError != nil {
		return nil, r.ioError
	}

	if r.unreadSize == 0 {
		if r.IsEOF() {
			return nil, ErrNoData
		}
		return nil, ErrNoBuffer
	}

	idx := r.nextIndex
	n := r.unreadSize
	if n > r.bufCap[idx] {
		n = r.bufCap[idx]
	}

	slice := r.buffers[idx][:n]

	r.unreadSize -= n
	r.freeCount--
	r.nextIndex = 1 - r.nextIndex

	r.lastIndex = idx
	r.lastLen = n
	r.haveLast = true
	r.lastWasUndo = false

	return slice, nil
}

// Release releases the oldest still-held buffer. If that frees a buffer
// and there is still unread file data, Release synchronously refills it
// before returning, so callers never observe a buffer that is freed but
// not yet refilled. A Release when both buffers are already free is a
// no-op. Any I/O error from the refill is latched sticky and surfaces
// through the next AcquireNext, not through Release itself.
func (r *Reader) Release() {
	if r.freeCount >= 2 {
		return
	}

	idx := r.nextIndex
	if r.freeCount != 0 {
		idx = 1 - r.nextIndex
	}

	_ = r.fillBuffer(idx)
	r.freeCount++
}

// Unread marks the most recently acquired buffer as unread again, so the
// next AcquireNext returns the same slice. A second Unread without an
// intervening AcquireNext is a no-op, as is calling Unread before any
// buffer has ever been acquired.
func (r *Reader) Unread() {
	if !r.haveLast || r.lastWasUndo {
		return
	}

	r.unreadSize += r.lastLen
	r.nextIndex = r.lastIndex
	r.freeCount++
	r.lastWasUndo = true
}
