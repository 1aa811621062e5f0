package refdata

// streaming.go provides a memory-efficient reader for large reference files.
// The postal CSV can reach millions of rows, so the file is never held in
// memory: sanitizeReader wraps the raw file handle, fixes the two issues
// carrier exports routinely have (a UTF-8 BOM and stray invalid bytes), and
// counts bytes for progress logging.

import (
	"io"
	"unicode/utf8"
)

// sanitizeReader strips a leading UTF-8 BOM, replaces invalid UTF-8 bytes
// with '?', and tracks bytes consumed from the underlying reader.
type sanitizeReader struct {
	r          io.Reader
	bomChecked bool
	pending    []byte // carry-over for a possibly incomplete multi-byte rune
	bytesRead  int64
}

func newSanitizeReader(r io.Reader) *sanitizeReader {
	return &sanitizeReader{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

// BytesRead reports how many sanitized bytes have been handed out.
func (s *sanitizeReader) BytesRead() int64 { return s.bytesRead }

func (s *sanitizeReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	atEOF := err == io.EOF

	if !s.bomChecked {
		// Only strip a BOM once we are sure the first three bytes are in hand.
		if n < 3 && !atEOF {
			s.pending = append(s.pending, p[:n]...)
			return s.Read(p)
		}
		s.bomChecked = true
		if n >= 3 && p[0] == 0xEF && p[1] == 0xBB && p[2] == 0xBF {
			copy(p, p[3:n])
			n -= 3
			if n == 0 {
				return 0, err
			}
		}
	}

	n = s.sanitize(p[:n], atEOF)
	s.bytesRead += int64(n)
	return n, err
}

// sanitize rewrites data in place, replacing each invalid byte with '?'.
// An incomplete trailing rune is held back for the next Read unless atEOF.
// The single-byte replacement keeps the buffer from growing mid-stream.
func (s *sanitizeReader) sanitize(data []byte, atEOF bool) int {
	if !atEOF {
		if trail := incompleteTail(data); trail > 0 {
			s.pending = append(s.pending, data[len(data)-trail:]...)
			data = data[:len(data)-trail]
		}
	}
	if utf8.Valid(data) {
		return len(data)
	}

	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// incompleteTail returns how many trailing bytes could be the start of a
// multi-byte rune that has not fully arrived yet.
func incompleteTail(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b&0xC0 == 0x80 {
			continue // continuation byte, keep looking for the lead byte
		}
		if b >= 0xC0 && expectedRuneLen(b) > i {
			return i
		}
		return 0
	}
	return 0
}

func expectedRuneLen(lead byte) int {
	switch {
	case lead < 0x80:
		return 1
	case lead < 0xC0:
		return 0
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	default:
		return 4
	}
}
