package ipfrag

import (
	"io"
)

// buffer is a helper struct for stitching and chunking payloads as the caller
// does not need to externally manage where in the buffer they are currently reading or writing to.
type buffer struct {
	buf []byte
	pos int
}

func newBuffer(size int) *buffer {
	b := &buffer{}
	b.buf = make([]byte, size)
	return b
}

func newBufferFromRef(buf []byte) *buffer {
	b := &buffer{}
	b.buf = buf
	b.pos = 0
	return b
}

func (b *buffer) bytes() []byte {
	return b.buf[:b.pos]
}

func (b *buffer) remaining() int {
	return len(b.buf) - b.pos
}

func (b *buffer) getBytes(length int) ([]byte, error) {
	if length < 0 || b.pos+length > len(b.buf) {
		return nil, io.EOF
	}
	value := b.buf[b.pos : b.pos+length]
	b.pos += length
	return value, nil
}

// writeBytes grows the buffer when src does not fit.
func (b *buffer) writeBytes(src []byte) {
	if b.pos+len(src) > len(b.buf) {
		grown := make([]byte, b.pos+len(src))
		copy(grown, b.buf[:b.pos])
		b.buf = grown
	}
	b.pos += copy(b.buf[b.pos:], src)
}
