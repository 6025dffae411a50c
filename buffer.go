package procio

// Buffer is the direct, reusable byte region handed to ProcessHandler
// callbacks. It follows the same position/limit contract as a flipped NIO
// ByteBuffer: after a read, position is 0 and limit marks the end of the
// fresh bytes; the handler advances position as it consumes bytes, and
// anything left unconsumed survives into the next callback once the
// processor compacts the buffer.
//
// A Buffer is only valid for the duration of the callback it was passed
// to — the processor reuses the same backing array for every callback on
// a given stream.
type Buffer struct {
	data []byte
	pos  int
	lim  int
}

func newBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Bytes returns the full backing array. Use Position/Limit to find the
// window of valid, unconsumed data.
func (b *Buffer) Bytes() []byte { return b.data }

// Position returns the index of the next byte to consume.
func (b *Buffer) Position() int { return b.pos }

// SetPosition advances (or rewinds) the consumer's cursor. Panics if n is
// outside [0, Limit()], mirroring ByteBuffer's bounds checking.
func (b *Buffer) SetPosition(n int) {
	if n < 0 || n > b.lim {
		panic("procio: buffer position out of range")
	}
	b.pos = n
}

// Limit returns the index one past the last valid byte.
func (b *Buffer) Limit() int { return b.lim }

// Remaining returns the number of unconsumed bytes between Position and
// Limit.
func (b *Buffer) Remaining() int { return b.lim - b.pos }

// Unread returns the slice of unconsumed bytes. Consuming means copying
// out of (or processing) this slice and calling SetPosition to advance
// past it.
func (b *Buffer) Unread() []byte { return b.data[b.pos:b.lim] }

// Capacity returns the fixed size of the backing array, constant for the
// buffer's lifetime.
func (b *Buffer) Capacity() int { return len(b.data) }

// clear empties the buffer for filling: position moves to the start and
// limit opens up to the full capacity, so a handler writing into
// OnStdinReady's buffer can advance Position anywhere up to Capacity().
func (b *Buffer) clear() {
	b.pos = 0
	b.lim = len(b.data)
}

// fillSlice returns the unused tail of the backing array a read should
// land in: whatever wasn't consumed (and survived compact) stays at
// [0, lim), so fresh bytes belong at [lim, cap).
func (b *Buffer) fillSlice() []byte { return b.data[b.lim:] }

// growLimit records that n freshly read bytes landed in fillSlice,
// exposing [0, lim) to the next callback with the cursor rewound to 0.
func (b *Buffer) growLimit(n int) {
	b.pos = 0
	b.lim += n
}

// compact moves any unconsumed bytes to the front of the backing array so
// the next read lands after them, returning the new write offset.
func (b *Buffer) compact() int {
	if b.pos == 0 {
		return b.lim
	}
	n := copy(b.data, b.data[b.pos:b.lim])
	b.pos = 0
	b.lim = n
	return n
}

// full reports whether the handler left the buffer with no room for the
// next read — the handler-did-not-consume condition.
func (b *Buffer) full() bool {
	return b.lim == len(b.data) && b.pos == 0
}
