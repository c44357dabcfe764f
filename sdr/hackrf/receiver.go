// Package hackrf receives through a HackRF One.
package hackrf

import (
	"fmt"

	"github.com/charmbracelet/log"
	driver "github.com/samuel/go-hackrf/hackrf"

	"palrx/config"
	"palrx/sdr"
)

// Receiver streams from a HackRF. The driver already delivers signed 8-bit
// I/Q, so callback buffers go to the sink untouched.
type Receiver struct {
	dev    *driver.Device
	logger *log.Logger
}

var _ sdr.Receiver = (*Receiver)(nil)

// Open initializes libhackrf, opens the first device and applies cfg. On
// error everything opened so far is released.
func Open(cfg config.SDR, logger *log.Logger) (*Receiver, error) {
	freq, err := sdr.TuneFrequency(cfg)
	if err != nil {
		return nil, err
	}

	if err := driver.Init(); err != nil {
		return nil, fmt.Errorf("hackrf.Init failed: %w", err)
	}
	dev, err := driver.Open()
	if err != nil {
		driver.Exit()
		return nil, fmt.Errorf("hackrf.Open failed: %w", err)
	}
	r := &Receiver{dev: dev, logger: logger}

	if err := dev.SetFreq(freq); err != nil {
		r.Close()
		return nil, fmt.Errorf("SetFreq failed: %w", err)
	}
	logger.Info("tuned", "freq_mhz", float64(freq)/1e6, "channel", sdr.DescribeFrequency(freq))

	if err := dev.SetSampleRate(cfg.SampleRateHz()); err != nil {
		r.Close()
		return nil, fmt.Errorf("SetSampleRate failed: %w", err)
	}
	if err := dev.SetLNAGain(cfg.LNAGain); err != nil {
		r.Close()
		return nil, fmt.Errorf("SetLNAGain failed: %w", err)
	}
	if err := dev.SetVGAGain(cfg.VGAGain); err != nil {
		r.Close()
		return nil, fmt.Errorf("SetVGAGain failed: %w", err)
	}
	if err := dev.SetAmpEnable(cfg.Amp); err != nil {
		r.Close()
		return nil, fmt.Errorf("SetAmpEnable failed: %w", err)
	}
	logger.Info("hackrf configured",
		"rate_msps", cfg.SampleRateMHz,
		"lna_db", cfg.LNAGain,
		"vga_db", cfg.VGAGain,
		"amp", cfg.Amp)

	return r, nil
}

// Start streams received samples into sink. Dropped chunks are counted by
// the sink and never reported to the driver as errors.
func (r *Receiver) Start(sink sdr.Sink) error {
	err := r.dev.StartRX(func(buf []byte) error {
		sink.Write(buf)
		return nil
	})
	if err != nil {
		return fmt.Errorf("StartRX failed: %w", err)
	}
	r.logger.Info("hackrf streaming")
	return nil
}

// Stop halts streaming.
func (r *Receiver) Stop() error {
	if err := r.dev.StopRX(); err != nil {
		return fmt.Errorf("StopRX failed: %w", err)
	}
	return nil
}

// Close closes the device and shuts libhackrf down.
func (r *Receiver) Close() error {
	err := r.dev.Close()
	driver.Exit()
	return err
}
