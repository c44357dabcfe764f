// Package sdr connects radio front ends to the sample ring. Every receiver
// delivers interleaved signed 8-bit I/Q from its driver's callback.
package sdr

// Sink accepts raw I/Q bytes from a driver callback. Write must not block;
// a false return means the chunk was dropped.
type Sink interface {
	Write(iq []byte) bool
}

// Receiver is a running sample source.
type Receiver interface {
	// Start begins streaming into sink and returns once streaming is
	// underway.
	Start(sink Sink) error
	// Stop halts streaming. The receiver may be started again.
	Stop() error
	// Close releases the device.
	Close() error
}

// ConvertUnsigned writes the signed equivalent of offset-binary samples in
// src to dst. dst must be at least as long as src.
func ConvertUnsigned(dst, src []byte) {
	for i, b := range src {
		dst[i] = b ^ 0x80
	}
}
