package video

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"palrx/decoder"
)

// Snapshot writes every Nth frame to a PNG file in a directory.
type Snapshot struct {
	dir   string
	every uint64
}

// NewSnapshot creates dir if needed. every below 1 is treated as 1.
func NewSnapshot(dir string, every int) (*Snapshot, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot dir: %w", err)
	}
	if every < 1 {
		every = 1
	}
	return &Snapshot{dir: dir, every: uint64(every)}, nil
}

// Path returns the file a frame with sequence number seq is written to.
func (s *Snapshot) Path(seq uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("frame-%06d.png", seq))
}

// Name implements Sink.
func (s *Snapshot) Name() string { return "snapshot" }

// WriteFrame implements Sink. Frames whose sequence number is not a
// multiple of the interval are skipped.
func (s *Snapshot) WriteFrame(f *decoder.Frame) error {
	if f.Seq%s.every != 0 {
		return nil
	}

	path := s.Path(f.Seq)
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := png.Encode(out, f.Gray()); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Close implements Sink.
func (s *Snapshot) Close() error { return nil }
