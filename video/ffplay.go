package video

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/charmbracelet/log"

	"palrx/decoder"
)

// FFplay shows frames in an ffplay window fed through its stdin.
type FFplay struct {
	Pipe io.WriteCloser
	Cmd  *exec.Cmd

	width, height int
}

// StartFFplay launches ffplay configured for width x height 8-bit gray
// frames at 25 frames per second.
func StartFFplay(width, height int, logger *log.Logger) (*FFplay, error) {
	ffplayPath, err := exec.LookPath("ffplay")
	if err != nil {
		return nil, fmt.Errorf("ffplay not found in your PATH")
	}

	cmd := exec.Command(ffplayPath, ffplayArgs(width, height)...)
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	logger.Info("ffplay started", "size", fmt.Sprintf("%dx%d", width, height))
	return &FFplay{Pipe: stdinPipe, Cmd: cmd, width: width, height: height}, nil
}

func ffplayArgs(width, height int) []string {
	return []string{
		"-f", "rawvideo",
		"-pixel_format", "gray",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", "25",
		"-i", "-",
		"-window_title", "PAL-B/G Receiver",
		// Square up the narrow decoded raster to 4:3.
		"-vf", fmt.Sprintf("scale=%d:%d", height*4/3, height),
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-loglevel", "error",
	}
}

// Name implements Sink.
func (f *FFplay) Name() string { return "ffplay" }

// WriteFrame implements Sink.
func (f *FFplay) WriteFrame(fr *decoder.Frame) error {
	if fr.Width != f.width || fr.Height != f.height {
		return fmt.Errorf("frame is %dx%d, ffplay expects %dx%d", fr.Width, fr.Height, f.width, f.height)
	}
	_, err := f.Pipe.Write(fr.Pix)
	return err
}

// Close terminates the ffplay process.
func (f *FFplay) Close() error {
	f.Pipe.Close()
	if err := f.Cmd.Process.Kill(); err != nil {
		return err
	}
	_ = f.Cmd.Wait()
	return nil
}
