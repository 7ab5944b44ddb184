package sim900

import (
	"bytes"
	"io"
)

// responseBuffer is a fixed-capacity, zero-terminated byte buffer. At most
// len(buf)-1 content bytes are ever stored and buf[pos] is always 0.
type responseBuffer struct {
	buf []byte
	pos int
}

func newResponseBuffer(capacity int) *responseBuffer {
	return &responseBuffer{buf: make([]byte, capacity)}
}

// reset empties the buffer.
func (b *responseBuffer) reset() {
	b.pos = 0
	b.buf[0] = 0
}

// free returns how many more content bytes fit.
func (b *responseBuffer) free() int {
	return len(b.buf) - 1 - b.pos
}

// fill reads up to n bytes from r at the cursor. When n does not fit the copy
// is clamped to the free space and truncated is reported.
func (b *responseBuffer) fill(r io.Reader, n int) (read int, truncated bool, err error) {
	if b.pos+n >= len(b.buf) {
		n = b.free()
		truncated = true
	}
	if n <= 0 {
		return 0, truncated, nil
	}
	read, err = r.Read(b.buf[b.pos : b.pos+n])
	if read < 0 {
		read = 0
	}
	b.pos += read
	b.buf[b.pos] = 0
	return read, truncated, err
}

// bytes returns the content without the terminator. The slice aliases the
// buffer and is only valid until the next capture.
func (b *responseBuffer) bytes() []byte {
	return b.buf[:b.pos]
}

func (b *responseBuffer) index(needle []byte) int {
	return bytes.Index(b.buf[:b.pos], needle)
}
