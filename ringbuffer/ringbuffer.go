// Package ringbuffer holds raw I/Q bytes between the radio callback and the
// acquisition worker.
package ringbuffer

import "sync/atomic"

// RingBuffer is a single-producer/single-consumer byte ring. The producer is
// the SDR callback and must never block, so a write that does not fit is
// refused and counted instead of waiting for the reader.
//
// One slot is always left empty so that readIndex == writeIndex means empty.
type RingBuffer struct {
	buf  []byte
	size int

	writeIndex atomic.Int64
	readIndex  atomic.Int64

	droppedFrames atomic.Uint64
	droppedBytes  atomic.Uint64
}

// New creates a RingBuffer able to hold size-1 bytes.
func New(size int) *RingBuffer {
	if size < 2 {
		panic("ringbuffer: size must be at least 2")
	}
	return &RingBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Cap returns the number of bytes the buffer was allocated with.
func (rb *RingBuffer) Cap() int { return rb.size }

// Available returns the number of bytes ready to be read.
func (rb *RingBuffer) Available() int {
	return rb.availableRead(int(rb.readIndex.Load()), int(rb.writeIndex.Load()))
}

// Free returns the number of bytes that can be written without a drop.
func (rb *RingBuffer) Free() int {
	return rb.availableWrite(int(rb.writeIndex.Load()), int(rb.readIndex.Load()))
}

func (rb *RingBuffer) availableRead(read, write int) int {
	if write >= read {
		return write - read
	}
	return rb.size - read + write
}

func (rb *RingBuffer) availableWrite(write, read int) int {
	if read > write {
		return read - write - 1
	}
	return rb.size - (write - read) - 1
}

// Write copies all of data into the buffer or none of it. When there is not
// enough free space the chunk is lost: the drop counters are bumped and false
// is returned. Callers must not retry; the next hardware chunk is already on
// its way.
func (rb *RingBuffer) Write(data []byte) bool {
	write := int(rb.writeIndex.Load())
	read := int(rb.readIndex.Load())

	n := len(data)
	if n > rb.availableWrite(write, read) {
		rb.droppedFrames.Add(1)
		rb.droppedBytes.Add(uint64(n))
		return false
	}
	if n == 0 {
		return true
	}

	first := copy(rb.buf[write:], data)
	if first < n {
		copy(rb.buf, data[first:])
	}

	// Publishing the cursor after the copy is what lets the reader trust
	// every byte up to it.
	rb.writeIndex.Store(int64((write + n) % rb.size))
	return true
}

// Read copies up to len(dst) available bytes into dst and returns how many
// were copied. Zero means nothing is ready yet.
func (rb *RingBuffer) Read(dst []byte) int {
	read := int(rb.readIndex.Load())
	write := int(rb.writeIndex.Load())

	n := rb.availableRead(read, write)
	if len(dst) < n {
		n = len(dst)
	}
	if n == 0 {
		return 0
	}

	if read+n <= rb.size {
		copy(dst, rb.buf[read:read+n])
	} else {
		part1 := rb.size - read
		copy(dst, rb.buf[read:])
		copy(dst[part1:n], rb.buf[:n-part1])
	}

	rb.readIndex.Store(int64((read + n) % rb.size))
	return n
}

// Clear discards all buffered data. It is only safe while neither the
// producer nor the consumer is running.
func (rb *RingBuffer) Clear() {
	rb.readIndex.Store(0)
	rb.writeIndex.Store(0)
}

// DroppedFrames returns how many writes have been refused.
func (rb *RingBuffer) DroppedFrames() uint64 { return rb.droppedFrames.Load() }

// DroppedBytes returns the total size of all refused writes.
func (rb *RingBuffer) DroppedBytes() uint64 { return rb.droppedBytes.Load() }
