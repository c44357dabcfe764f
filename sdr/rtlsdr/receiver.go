// Package rtlsdr receives through an RTL2832U dongle.
package rtlsdr

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	rtl "github.com/jpoirier/gortlsdr"

	"palrx/config"
	"palrx/sdr"
)

// asyncBuffers is the number of USB transfers librtlsdr keeps in flight.
const asyncBuffers = 15

// Receiver streams from an RTL-SDR. Its samples are unsigned offset-binary
// and are converted to signed before reaching the sink.
type Receiver struct {
	dongle *rtl.Context
	logger *log.Logger

	mu      sync.Mutex
	done    chan error
	scratch []byte
}

var _ sdr.Receiver = (*Receiver)(nil)

// Open opens device cfg.DeviceIndex and applies cfg.
func Open(cfg config.SDR, logger *log.Logger) (*Receiver, error) {
	freq, err := sdr.TuneFrequency(cfg)
	if err != nil {
		return nil, err
	}

	devCount := rtl.GetDeviceCount()
	if devCount == 0 {
		return nil, errors.New("no RTL-SDR devices found")
	}
	logger.Info("rtl-sdr devices found", "count", devCount, "using", cfg.DeviceIndex)

	dongle, err := rtl.Open(cfg.DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("error opening RTL-SDR device: %w", err)
	}

	if err := dongle.SetCenterFreq(int(freq)); err != nil {
		dongle.Close()
		return nil, fmt.Errorf("SetCenterFreq failed: %w", err)
	}
	logger.Info("tuned", "freq_mhz", float64(freq)/1e6, "channel", sdr.DescribeFrequency(freq))

	if err := dongle.SetSampleRate(int(cfg.SampleRateHz())); err != nil {
		dongle.Close()
		return nil, fmt.Errorf("SetSampleRate failed: %w", err)
	}
	if err := dongle.SetTunerGainMode(true); err != nil {
		dongle.Close()
		return nil, fmt.Errorf("SetTunerGainMode failed: %w", err)
	}
	if err := dongle.SetTunerGain(cfg.RTLGain); err != nil {
		dongle.Close()
		return nil, fmt.Errorf("SetTunerGain failed: %w", err)
	}
	logger.Info("tuner gain set", "db", float64(cfg.RTLGain)/10)

	if err := dongle.ResetBuffer(); err != nil {
		dongle.Close()
		return nil, fmt.Errorf("ResetBuffer failed: %w", err)
	}

	return &Receiver{dongle: dongle, logger: logger}, nil
}

// Start runs the driver's async read loop on its own goroutine.
func (r *Receiver) Start(sink sdr.Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errors.New("rtl-sdr already streaming")
	}

	done := make(chan error, 1)
	r.done = done
	go func() {
		done <- r.dongle.ReadAsync(func(buf []byte) {
			sink.Write(r.toSigned(buf))
		}, nil, asyncBuffers, rtl.DefaultBufLength)
	}()
	r.logger.Info("rtl-sdr streaming")
	return nil
}

// toSigned converts into a reused scratch buffer. The driver calls back
// from a single thread.
func (r *Receiver) toSigned(buf []byte) []byte {
	if cap(r.scratch) < len(buf) {
		r.scratch = make([]byte, len(buf))
	}
	out := r.scratch[:len(buf)]
	sdr.ConvertUnsigned(out, buf)
	return out
}

// Stop cancels the async read and waits for it to return.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return nil
	}
	if err := r.dongle.CancelAsync(); err != nil {
		return fmt.Errorf("CancelAsync failed: %w", err)
	}
	err := <-r.done
	r.done = nil
	return err
}

// Close releases the dongle.
func (r *Receiver) Close() error {
	return r.dongle.Close()
}
