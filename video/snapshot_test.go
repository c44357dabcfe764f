package video

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_WritesEveryNthFrame(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	s, err := NewSnapshot(dir, 2)
	require.NoError(t, err)

	for seq := uint64(1); seq <= 4; seq++ {
		f := testFrame(seq)
		f.Pix[0] = byte(seq * 10)
		require.NoError(t, s.WriteFrame(f))
	}
	require.NoError(t, s.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"frame-000002.png", "frame-000004.png"}, names)

	in, err := os.Open(s.Path(4))
	require.NoError(t, err)
	defer in.Close()
	img, err := png.Decode(in)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(40), r>>8)
}

func TestSnapshot_IntervalFloor(t *testing.T) {
	s, err := NewSnapshot(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, s.WriteFrame(testFrame(7)))
	assert.FileExists(t, s.Path(7))
	assert.Equal(t, "snapshot", s.Name())
}

func TestSnapshot_FailsOnMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	s, err := NewSnapshot(dir, 1)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	assert.Error(t, s.WriteFrame(testFrame(1)))
}

func TestFFplayArgs(t *testing.T) {
	args := ffplayArgs(128, 576)
	assert.Contains(t, args, "128x576")
	assert.Contains(t, args, "gray")
	assert.Contains(t, args, "scale=768:576")
}

var _ Sink = (*Snapshot)(nil)
var _ Sink = (*FFplay)(nil)
