package source

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// File replays a raw recording of interleaved signed 8-bit I/Q, the format
// hackrf_transfer writes.
type File struct {
	*stream
	f *os.File
}

// OpenFile opens a raw I/Q recording captured at rate samples per second.
func OpenFile(path string, rate float64, opts ...Option) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: %w", err)
	}
	if info.Size() < 2 {
		f.Close()
		return nil, fmt.Errorf("source: %s holds no I/Q samples", path)
	}

	src := &File{f: f}
	src.stream = newStream("file", rate, buildOptions(opts), src.read)
	return src, nil
}

func (s *File) read(buf []byte) (int, error) {
	for {
		n, err := io.ReadFull(s.f, buf)
		n &^= 1
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		if err == nil || !errors.Is(err, io.EOF) || !s.opts.loop {
			return n, err
		}
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

// Close stops streaming and closes the file.
func (s *File) Close() error {
	s.Stop()
	return s.f.Close()
}
