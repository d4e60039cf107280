// Package scanner implements the UTF-8 scanner from spec.md section 4.4:
// it drives a filereader.Reader and the codec package together, tracking
// a single in-progress token as a splitstring.Token that may span at
// most two reader buffers.
package scanner

import (
	"bytes"

	"github.com/pkg/errors"

	"utf8scan/codec"
	"utf8scan/filereader"
	"utf8scan/splitstring"
)

var (
	// ErrNoData is returned once the underlying reader is exhausted.
	ErrNoData = filereader.ErrNoData
	// ErrNoBuffer is returned by ReadBuffer when the in-progress token
	// already spans two buffers and a third would be required.
	ErrNoBuffer = filereader.ErrNoBuffer
	// ErrIllegalSequence is returned by NextChar when the bytes at the
	// read position do not form a valid UTF-8 character. The offending
	// byte is skipped so the scanner does not get stuck there.
	ErrIllegalSequence = codec.ErrIllegalSequence
	// ErrUnreadTooFar is returned by Unread when the current token does
	// not contain as many characters as requested.
	ErrUnreadTooFar = errors.New("scanner: unread past start of token")
)

// Scanner is the zero-value-usable UTF-8 scanner. The zero value has no
// buffer acquired and an empty token. A Scanner is not safe for
// concurrent use.
type Scanner struct {
	next []byte // unread remainder of the current buffer

	token splitstring.Token
}

// HasNext reports whether the current buffer still has unread bytes. If
// it returns false, callers must go through ReadBuffer (directly, or via
// NextChar/SkipUntilAfter) before touching NextByte/PeekByte/SkipBytes.
func (s *Scanner) HasNext() bool {
	return len(s.next) > 0
}

// syncCurrentPart records how much of the current (last) token part has
// been consumed, so its Bytes() reflects the live read position.
func (s *Scanner) syncCurrentPart() {
	count := s.token.PartsCount()
	if count == 0 {
		return
	}
	idx := count - 1
	base := s.token.Part(idx).Base()
	s.token.SetPartLength(idx, len(base)-len(s.next))
}

// CurrentToken returns the token scanned so far, with its last part's
// length brought up to date with the current read position. The
// returned pointer aliases the scanner's own state and is only valid
// until the next call that mutates the token.
func (s *Scanner) CurrentToken() *splitstring.Token {
	s.syncCurrentPart()
	return &s.token
}

// Close releases every buffer still held by the scanner's in-progress
// token: one Release for a one-part token, two for a two-part token,
// none when the token has no parts. It then resets the scanner to its
// zero value, so a second Close releases nothing.
func (s *Scanner) Close(r *filereader.Reader) {
	if s.token.PartsCount() > 0 {
		if s.token.PartsCount() == 2 {
			r.Release()
		}
		r.Release()
	}
	s.next = nil
	s.token = splitstring.Token{}
}

// ReadBuffer acquires the next reader buffer if the scanner's current
// buffer is exhausted. It is a no-op if bytes remain. Acquiring a new
// buffer while the in-progress token already spans two buffers fails
// with ErrNoBuffer; reaching end of file fails with ErrNoData; a sticky
// reader I/O error is returned unwrapped.
func (s *Scanner) ReadBuffer(r *filereader.Reader) error {
	if s.HasNext() {
		return nil
	}
	if r.IsEOF() {
		return ErrNoData
	}
	if err := r.IOError(); err != nil {
		return err
	}
	if s.token.PartsCount() == 2 {
		return ErrNoBuffer
	}

	s.syncCurrentPart()

	buf, err := r.AcquireNext()
	if err != nil {
		return err
	}

	idx := s.token.PartsCount()
	s.token.SetPart(idx, buf, 0)
	s.token.SetPartsCount(idx + 1)
	s.next = buf

	return nil
}

// NextByte returns the next unread byte and advances the read position.
// The caller must have already confirmed HasNext.
func (s *Scanner) NextByte() byte {
	b := s.next[0]
	s.next = s.next[1:]
	return b
}

// PeekByte returns the byte offset bytes ahead of the read position
// without consuming it. offset must be less than the number of unread
// bytes in the current buffer.
func (s *Scanner) PeekByte(offset int) byte {
	return s.next[offset]
}

// SkipBytes advances the read position by n bytes without decoding them.
// The caller is responsible for skipping only whole, validly-encoded
// characters; see spec.md section 4.4 for the precondition this trusts.
func (s *Scanner) SkipBytes(n int) {
	s.next = s.next[n:]
}

// NextChar decodes and consumes the next UTF-8 character, transparently
// refilling across a buffer boundary if the character straddles two
// buffers. It fails with ErrIllegalSequence if the bytes do not decode.
func (s *Scanner) NextChar(r *filereader.Reader) (rune, error) {
	if !s.HasNext() {
		if err := s.ReadBuffer(r); err != nil {
			return 0, err
		}
	}

	size := len(s.next)
	need := codec.SequenceLength(s.next[0])

	if size >= codec.MaxSequenceLength || need == 0 || size >= need {
		cp, n, err := codec.Decode(s.next)
		if err != nil {
			// Should never occur in well-formed input; skip the
			// offending byte so the scanner keeps making progress.
			s.next = s.next[1:]
			return 0, ErrIllegalSequence
		}
		s.next = s.next[n:]
		return cp, nil
	}

	// The character is split across the remainder of this buffer and
	// the start of the next one: stage what we have, force a refill,
	// then splice.
	var staged [codec.MaxSequenceLength]byte
	copy(staged[:], s.next)
	s.next = s.next[len(s.next):]

	if err := s.ReadBuffer(r); err != nil {
		if errors.Is(err, ErrNoData) {
			return 0, ErrIllegalSequence
		}
		return 0, err
	}

	missing := need - size
	if len(s.next) < missing {
		s.next = s.next[len(s.next):]
		return 0, ErrIllegalSequence
	}

	copy(staged[size:], s.next[:missing])
	s.next = s.next[missing:]

	cp, _, err := codec.Decode(staged[:])
	if err != nil {
		return 0, ErrIllegalSequence
	}
	return cp, nil
}

// SkipUntilAfter advances the read position past the first occurrence of
// target, refilling buffers as needed. It returns ErrNoData if target is
// never found before end of file, and propagates a sticky reader error.
// Matching is byte-level only: bytes scanned while searching are never
// checked for valid UTF-8 encoding. On a failed candidate match the
// search resumes past the whole candidate, not one byte later, so an
// occurrence of target that overlaps a rejected candidate can be missed
// -- this mirrors the byte-pattern search it is grounded on.
func (s *Scanner) SkipUntilAfter(r *filereader.Reader, target rune) error {
	var pattern [codec.MaxSequenceLength]byte
	n, err := codec.Encode(target, pattern[:])
	if err != nil {
		return err
	}
	patternBytes := pattern[:n]

	var pending int // bytes of a partial match carried from the previous buffer

	for {
		if !s.HasNext() {
			if err := s.ReadBuffer(r); err != nil {
				return err
			}
		}

		if pending > 0 {
			if len(s.next) < pending {
				s.next = s.next[len(s.next):]
				pending = 0
				continue
			}
			if bytes.Equal(s.next[:pending], patternBytes[n-pending:]) {
				s.next = s.next[pending:]
				return nil
			}
			s.next = s.next[pending:]
			pending = 0
		}

		idx := bytes.IndexByte(s.next, patternBytes[0])
		if idx < 0 {
			s.next = s.next[len(s.next):]
			continue
		}

		avail := len(s.next) - idx
		if avail < n {
			if bytes.Equal(s.next[idx+1:], patternBytes[1:avail]) {
				pending = n - avail
			}
			s.next = s.next[len(s.next):]
			continue
		}

		if bytes.Equal(s.next[idx+1:idx+n], patternBytes[1:]) {
			s.next = s.next[idx+n:]
			return nil
		}
		s.next = s.next[idx+n:]
	}
}

// ClearToken discards the current token, releasing any buffer it no
// longer references and marking the scanner's read position as the
// start of the next token.
func (s *Scanner) ClearToken(r *filereader.Reader) {
	if s.token.PartsCount() == 2 {
		r.Release()
	}

	if !s.HasNext() {
		if s.token.PartsCount() > 0 {
			r.Release()
			s.token.SetPartsCount(0)
		}
		return
	}

	s.token.SetPartsCount(1)
	s.token.SetPart(0, s.next, 0)
}

// Unread rolls the read position back by n characters, shrinking the
// current token. It returns ErrUnreadTooFar if the token does not
// contain n characters. The underlying reader's Unread is invoked at
// most once, even when the rollback crosses a buffer boundary, since at
// most one buffer acquisition needs undoing for a two-part token.
func (s *Scanner) Unread(r *filereader.Reader, n int) error {
	if n == 0 {
		return nil
	}

	count := s.token.PartsCount()
	if count == 0 {
		return ErrUnreadTooFar
	}
	idx := count - 1

	s.syncCurrentPart()

	released := false
	size := len(s.token.Part(idx).Bytes())

	for remaining := n; remaining > 0; remaining-- {
		for {
			if size == 0 {
				if idx == 0 {
					return ErrUnreadTooFar
				}
				released = true
				idx--
				size = len(s.token.Part(idx).Bytes())
			}
			size--
			if codec.IsValidFirstByte(s.token.Part(idx).Base()[size]) {
				break
			}
		}
	}

	if released {
		r.Unread()
	}

	part := s.token.Part(idx)
	s.next = part.Base()[size:]
	s.token.SetPartLength(idx, size)
	s.token.SetPartsCount(idx + 1)

	return nil
}
