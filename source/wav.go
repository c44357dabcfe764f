package source

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV replays a two-channel WAV recording with I on the left channel and Q
// on the right, as written by SDR# and similar tools. Samples are reduced to
// signed 8 bits.
type WAV struct {
	*stream
	f   *os.File
	dec *wav.Decoder
	pcm *audio.IntBuffer

	unsigned bool
	shift    uint
}

// OpenWAV opens an I/Q recording. The stream is paced at the rate in the
// file's header.
func OpenWAV(path string, opts ...Option) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("source: %s is not a valid WAV file", path)
	}
	if dec.NumChans != 2 {
		f.Close()
		return nil, fmt.Errorf("source: %s has %d channels, I/Q needs 2", path, dec.NumChans)
	}

	src := &WAV{f: f, dec: dec}
	switch dec.BitDepth {
	case 8:
		src.unsigned = true
	case 16, 24, 32:
		src.shift = uint(dec.BitDepth) - 8
	default:
		f.Close()
		return nil, fmt.Errorf("source: unsupported WAV bit depth %d", dec.BitDepth)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("source: seeking to PCM data: %w", err)
	}

	o := buildOptions(opts)
	src.pcm = &audio.IntBuffer{Format: dec.Format(), Data: make([]int, o.chunk)}
	src.stream = newStream("wav", float64(dec.SampleRate), o, src.read)

	o.logger.Info("opened WAV recording", "path", path,
		"rate", dec.SampleRate, "bits", dec.BitDepth, "channels", dec.NumChans)
	return src, nil
}

// SampleRate returns the rate recorded in the file header.
func (s *WAV) SampleRate() float64 { return float64(s.dec.SampleRate) }

func (s *WAV) read(buf []byte) (int, error) {
	s.pcm.Data = s.pcm.Data[:len(buf)]
	n, err := s.dec.PCMBuffer(s.pcm)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if !s.opts.loop {
			return 0, io.EOF
		}
		if err := s.dec.Rewind(); err != nil {
			return 0, err
		}
		if n, err = s.dec.PCMBuffer(s.pcm); err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
	}

	n &^= 1
	for i, v := range s.pcm.Data[:n] {
		if s.unsigned {
			v -= 128
		} else {
			v >>= s.shift
		}
		buf[i] = byte(int8(v))
	}
	return n, nil
}

// Close stops streaming and closes the file.
func (s *WAV) Close() error {
	s.Stop()
	return s.f.Close()
}
