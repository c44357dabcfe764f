package source

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"palrx/video"
)

// TestCard transmits a synthetic luminance-only PAL signal so the receive
// chain can run without a radio. The carrier is positive modulated, putting
// sync pulses at the bottom of the envelope.
type TestCard struct {
	*stream
	pal *video.PAL
	pos int
}

// NewTestCard renders the gray bars test card at rate samples per second.
func NewTestCard(rate float64, opts ...Option) *TestCard {
	pal := video.NewPAL(rate, video.PositiveModulation)
	pal.FillTestPattern()
	pal.GenerateFullFrame()

	src := &TestCard{pal: pal}
	src.stream = newStream("testcard", rate, buildOptions(opts), src.read)
	return src
}

// LoadPicture replaces the test card with the image in path.
func (s *TestCard) LoadPicture(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("source: decoding %s: %w", path, err)
	}
	s.pal.SetPicture(img)
	s.pal.GenerateFullFrame()
	s.opts.logger.Info("test card picture loaded", "path", path, "format", format,
		"size", fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy()))
	return nil
}

// Generator returns the underlying PAL generator.
func (s *TestCard) Generator() *video.PAL { return s.pal }

func (s *TestCard) read(buf []byte) (int, error) {
	n := len(buf) &^ 1
	s.pos = s.pal.ModulateIQ(buf[:n], s.pos)
	return n, nil
}

// Close stops streaming.
func (s *TestCard) Close() error { return s.Stop() }
