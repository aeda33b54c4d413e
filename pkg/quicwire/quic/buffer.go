package quic

import (
	"encoding/binary"
	"errors"
)

// Cursor-based octet buffer used for packet and frame serialization.
// A Buffer is either created empty with a fixed capacity (for writing)
// or over an existing byte slice (for reading). The cursor can be moved
// backwards with Seek, which is how the long-header length field is
// patched in place once the payload size is known.

var (
	ErrBufferReadPastEnd  = errors.New("quic: read past end of buffer")
	ErrBufferWritePastEnd = errors.New("quic: write past end of buffer")
	ErrBufferBadSeek      = errors.New("quic: seek position out of range")
)

// Buffer is a fixed-capacity byte region with a read/write cursor.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer creates an empty buffer with the given capacity for writing.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// NewBufferFrom creates a buffer over data for reading, cursor at 0.
func NewBufferFrom(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Tell returns the current cursor position.
func (b *Buffer) Tell() int { return b.pos }

// Capacity returns the size of the underlying byte region.
func (b *Buffer) Capacity() int { return len(b.data) }

// Eof reports whether the cursor is at the end of the byte region.
func (b *Buffer) Eof() bool { return b.pos == len(b.data) }

// Data returns the bytes from offset 0 up to the current cursor.
func (b *Buffer) Data() []byte { return b.data[:b.pos] }

// Seek moves the cursor to an absolute offset.
func (b *Buffer) Seek(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return ErrBufferBadSeek
	}
	b.pos = pos
	return nil
}

// PullBytes reads n bytes from the cursor and returns a copy.
func (b *Buffer) PullBytes(n int) ([]byte, error) {
	if n < 0 || b.pos+n > len(b.data) {
		return nil, ErrBufferReadPastEnd
	}
	out := make([]byte, n)
	copy(out, b.data[b.pos:b.pos+n])
	b.pos += n
	return out, nil
}

// PushBytes writes v at the cursor.
func (b *Buffer) PushBytes(v []byte) error {
	if b.pos+len(v) > len(b.data) {
		return ErrBufferWritePastEnd
	}
	copy(b.data[b.pos:], v)
	b.pos += len(v)
	return nil
}

func (b *Buffer) PullUint8() (uint8, error) {
	if b.pos+1 > len(b.data) {
		return 0, ErrBufferReadPastEnd
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *Buffer) PushUint8(v uint8) error {
	if b.pos+1 > len(b.data) {
		return ErrBufferWritePastEnd
	}
	b.data[b.pos] = v
	b.pos++
	return nil
}

func (b *Buffer) PullUint16() (uint16, error) {
	if b.pos+2 > len(b.data) {
		return 0, ErrBufferReadPastEnd
	}
	v := binary.BigEndian.Uint16(b.data[b.pos:])
	b.pos += 2
	return v, nil
}

func (b *Buffer) PushUint16(v uint16) error {
	if b.pos+2 > len(b.data) {
		return ErrBufferWritePastEnd
	}
	binary.BigEndian.PutUint16(b.data[b.pos:], v)
	b.pos += 2
	return nil
}

func (b *Buffer) PullUint32() (uint32, error) {
	if b.pos+4 > len(b.data) {
		return 0, ErrBufferReadPastEnd
	}
	v := binary.BigEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v, nil
}

func (b *Buffer) PushUint32(v uint32) error {
	if b.pos+4 > len(b.data) {
		return ErrBufferWritePastEnd
	}
	binary.BigEndian.PutUint32(b.data[b.pos:], v)
	b.pos += 4
	return nil
}

func (b *Buffer) PullUint64() (uint64, error) {
	if b.pos+8 > len(b.data) {
		return 0, ErrBufferReadPastEnd
	}
	v := binary.BigEndian.Uint64(b.data[b.pos:])
	b.pos += 8
	return v, nil
}

func (b *Buffer) PushUint64(v uint64) error {
	if b.pos+8 > len(b.data) {
		return ErrBufferWritePastEnd
	}
	binary.BigEndian.PutUint64(b.data[b.pos:], v)
	b.pos += 8
	return nil
}

// LengthPrefix is a pending two-byte varint length field. The field is
// reserved by BeginLengthPrefixed and patched in place by End once the
// enclosed bytes have been written.
type LengthPrefix struct {
	buf *Buffer
	off int
}

// BeginLengthPrefixed reserves a two-byte length field at the cursor.
func (b *Buffer) BeginLengthPrefixed() (LengthPrefix, error) {
	off := b.pos
	if err := b.PushUint16(0); err != nil {
		return LengthPrefix{}, err
	}
	return LengthPrefix{buf: b, off: off}, nil
}

// End patches the reserved field with the number of bytes written since
// BeginLengthPrefixed, encoded in the two-byte varint class.
func (p LengthPrefix) End() error {
	end := p.buf.pos
	length := end - p.off - 2
	if length < 0 || uint64(length) > MaxVarint2 {
		return ErrVarintTooLarge
	}
	if err := p.buf.Seek(p.off); err != nil {
		return err
	}
	if err := p.buf.PushUint16(uint16(length) | 0x4000); err != nil {
		return err
	}
	return p.buf.Seek(end)
}
