// Package config holds the receiver's settings: defaults, an optional YAML
// file and command-line flags, applied in that order.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"palrx/decoder"
	"palrx/dsp"
)

// Source names accepted by SDR.Source.
const (
	SourceHackRF   = "hackrf"
	SourceRTLSDR   = "rtlsdr"
	SourceFile     = "file"
	SourceWAV      = "wav"
	SourceTestCard = "testcard"
)

// Highest I/Q rates the radios deliver without dropping samples.
const (
	MaxHackRFRateMHz = 20.0
	MaxRTLSDRRateMHz = 3.2
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// SDR selects and configures the sample source.
type SDR struct {
	Source        string  `yaml:"source"`
	Input         string  `yaml:"input"` // recording for file and wav, optional picture for testcard
	Loop          bool    `yaml:"loop"`
	FrequencyMHz  float64 `yaml:"frequency_mhz"`
	Channel       int     `yaml:"channel"` // UHF channel, overrides FrequencyMHz when set
	SampleRateMHz float64 `yaml:"sample_rate_mhz"`
	LNAGain       int     `yaml:"lna_gain"`
	VGAGain       int     `yaml:"vga_gain"`
	Amp           bool    `yaml:"amp"`
	RTLGain       int     `yaml:"rtl_gain"` // tenths of a dB
	DeviceIndex   int     `yaml:"device_index"`
}

// SampleRateHz returns the configured I/Q rate in Hz.
func (s SDR) SampleRateHz() float64 { return s.SampleRateMHz * 1e6 }

// Decoder configures the demodulator chain and its initial tunables.
type Decoder struct {
	Decimation     int     `yaml:"decimation"`
	VideoCutoffMHz float64 `yaml:"video_cutoff_mhz"`
	VideoTaps      int     `yaml:"video_taps"`
	LumaCutoffMHz  float64 `yaml:"luma_cutoff_mhz"`
	LumaTaps       int     `yaml:"luma_taps"`
	DCBlockAlpha   float64 `yaml:"dc_block_alpha"`
	AGCAttack      float64 `yaml:"agc_attack"`
	AGCDecay       float64 `yaml:"agc_decay"`

	Gain          float64 `yaml:"gain"`
	Offset        float64 `yaml:"offset"`
	SyncThreshold float64 `yaml:"sync_threshold"`
	Invert        bool    `yaml:"invert"`
}

// Buffer sizes the sample ring and the worker's reads.
type Buffer struct {
	Capacity  int `yaml:"capacity"`
	ChunkSize int `yaml:"chunk_size"`
}

// Display selects the frame sinks.
type Display struct {
	FFplay        bool   `yaml:"ffplay"`
	TUI           bool   `yaml:"tui"`
	SnapshotDir   string `yaml:"snapshot_dir"`
	SnapshotEvery int    `yaml:"snapshot_every"`
}

// Metrics configures the Prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `yaml:"listen"`
}

// Log configures the root logger.
type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Config is the complete receiver configuration.
type Config struct {
	SDR     SDR     `yaml:"sdr"`
	Decoder Decoder `yaml:"decoder"`
	Buffer  Buffer  `yaml:"buffer"`
	Display Display `yaml:"display"`
	Metrics Metrics `yaml:"metrics"`
	Log     Log     `yaml:"log"`
}

// Default returns the settings for a HackRF at 18 MHz tuned to 478 MHz.
func Default() *Config {
	dc := dsp.DefaultConditionerConfig()
	return &Config{
		SDR: SDR{
			Source:        SourceHackRF,
			FrequencyMHz:  478,
			SampleRateMHz: dc.SampleRate / 1e6,
			LNAGain:       40,
			VGAGain:       20,
			RTLGain:       496,
		},
		Decoder: Decoder{
			Decimation:     dc.Decimation,
			VideoCutoffMHz: dc.VideoCutoff / 1e6,
			VideoTaps:      dc.VideoTaps,
			LumaCutoffMHz:  dc.LumaCutoff / 1e6,
			LumaTaps:       dc.LumaTaps,
			DCBlockAlpha:   dc.DCBlockAlpha,
			AGCAttack:      dc.AGCAttack,
			AGCDecay:       dc.AGCDecay,
			Gain:           decoder.DefaultVideoGain,
			Offset:         decoder.DefaultVideoOffset,
			SyncThreshold:  decoder.DefaultSyncThreshold,
		},
		Buffer: Buffer{
			Capacity:  64 << 20,
			ChunkSize: 262144,
		},
		Display: Display{
			SnapshotEvery: 25,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Conditioner returns the filter chain settings for the configured source.
func (c *Config) Conditioner() dsp.ConditionerConfig {
	return dsp.ConditionerConfig{
		SampleRate:   c.SDR.SampleRateHz(),
		Decimation:   c.Decoder.Decimation,
		VideoCutoff:  c.Decoder.VideoCutoffMHz * 1e6,
		VideoTaps:    c.Decoder.VideoTaps,
		LumaCutoff:   c.Decoder.LumaCutoffMHz * 1e6,
		LumaTaps:     c.Decoder.LumaTaps,
		DCBlockAlpha: c.Decoder.DCBlockAlpha,
		AGCAttack:    c.Decoder.AGCAttack,
		AGCDecay:     c.Decoder.AGCDecay,
	}
}

// Tuning returns a decoder.Tuning holding the configured initial values.
func (c *Config) Tuning() *decoder.Tuning {
	t := decoder.NewTuning()
	t.SetGain(c.Decoder.Gain)
	t.SetOffset(c.Decoder.Offset)
	t.SetSyncThreshold(c.Decoder.SyncThreshold)
	t.SetInvert(c.Decoder.Invert)
	return t
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers a flag for every setting, using the current values of
// cfg as defaults.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.SDR.Source, "source", "s", cfg.SDR.Source, "Sample source: hackrf, rtlsdr, file, wav or testcard")
	fs.StringVarP(&cfg.SDR.Input, "input", "i", cfg.SDR.Input, "Recording for the file and wav sources, or a picture for the testcard source")
	fs.BoolVar(&cfg.SDR.Loop, "loop", cfg.SDR.Loop, "Restart the recording when it ends")
	fs.Float64VarP(&cfg.SDR.FrequencyMHz, "freq", "f", cfg.SDR.FrequencyMHz, "Receive frequency in MHz")
	fs.IntVar(&cfg.SDR.Channel, "channel", cfg.SDR.Channel, "UHF channel (21-69), overrides --freq")
	fs.Float64VarP(&cfg.SDR.SampleRateMHz, "rate", "r", cfg.SDR.SampleRateMHz, "I/Q sample rate in MHz")
	fs.IntVar(&cfg.SDR.LNAGain, "lna", cfg.SDR.LNAGain, "HackRF LNA gain (0-40, steps of 8)")
	fs.IntVar(&cfg.SDR.VGAGain, "vga", cfg.SDR.VGAGain, "HackRF VGA gain (0-62, steps of 2)")
	fs.BoolVar(&cfg.SDR.Amp, "amp", cfg.SDR.Amp, "Enable the HackRF RF amplifier")
	fs.IntVar(&cfg.SDR.RTLGain, "rtl-gain", cfg.SDR.RTLGain, "RTL-SDR tuner gain in tenths of a dB")
	fs.IntVar(&cfg.SDR.DeviceIndex, "device", cfg.SDR.DeviceIndex, "RTL-SDR device index")

	fs.IntVar(&cfg.Decoder.Decimation, "decimation", cfg.Decoder.Decimation, "Decimation from the I/Q rate to the line rate")
	fs.Float64Var(&cfg.Decoder.VideoCutoffMHz, "video-cutoff", cfg.Decoder.VideoCutoffMHz, "Video filter cutoff in MHz")
	fs.IntVar(&cfg.Decoder.VideoTaps, "video-taps", cfg.Decoder.VideoTaps, "Video filter length (odd)")
	fs.Float64Var(&cfg.Decoder.LumaCutoffMHz, "luma-cutoff", cfg.Decoder.LumaCutoffMHz, "Luma filter cutoff in MHz")
	fs.IntVar(&cfg.Decoder.LumaTaps, "luma-taps", cfg.Decoder.LumaTaps, "Luma filter length (odd)")
	fs.Float64Var(&cfg.Decoder.Gain, "gain", cfg.Decoder.Gain, "Video gain")
	fs.Float64Var(&cfg.Decoder.Offset, "offset", cfg.Decoder.Offset, "Video offset")
	fs.Float64Var(&cfg.Decoder.SyncThreshold, "sync-threshold", cfg.Decoder.SyncThreshold, "Normalized sync detection level")
	fs.BoolVar(&cfg.Decoder.Invert, "invert", cfg.Decoder.Invert, "Invert the picture")

	fs.IntVar(&cfg.Buffer.Capacity, "buffer", cfg.Buffer.Capacity, "Sample ring capacity in bytes")
	fs.IntVar(&cfg.Buffer.ChunkSize, "chunk", cfg.Buffer.ChunkSize, "Largest read handed to the decoder in bytes")

	fs.BoolVar(&cfg.Display.FFplay, "ffplay", cfg.Display.FFplay, "Show frames in an ffplay window")
	fs.BoolVar(&cfg.Display.TUI, "tui", cfg.Display.TUI, "Show the status screen")
	fs.StringVar(&cfg.Display.SnapshotDir, "snapshot-dir", cfg.Display.SnapshotDir, "Write PNG snapshots to this directory")
	fs.IntVar(&cfg.Display.SnapshotEvery, "snapshot-every", cfg.Display.SnapshotEvery, "Write one snapshot every N frames")

	fs.StringVar(&cfg.Metrics.Listen, "metrics", cfg.Metrics.Listen, "Serve Prometheus metrics on this address, e.g. :9110")

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.Log.File, "log-file", cfg.Log.File, "Write logs to this file instead of stderr")
}

// Parse builds a Config from args. A --config file, when given, replaces
// the defaults and flags override both.
func Parse(name string, args []string) (*Config, error) {
	var path string

	pre := pflag.NewFlagSet(name, pflag.ContinueOnError)
	pre.StringVarP(&path, "config", "c", "", "YAML configuration file")
	BindFlags(pre, Default())
	if err := pre.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&path, "config", "c", path, "YAML configuration file")
	BindFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.SDR.Source {
	case SourceHackRF, SourceRTLSDR, SourceTestCard:
	case SourceFile, SourceWAV:
		if c.SDR.Input == "" {
			return fmt.Errorf("%w: source %q needs an input file", ErrInvalid, c.SDR.Source)
		}
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalid, c.SDR.Source)
	}
	if c.SDR.Channel != 0 && (c.SDR.Channel < 21 || c.SDR.Channel > 69) {
		return fmt.Errorf("%w: UHF channel %d outside 21-69", ErrInvalid, c.SDR.Channel)
	}
	if c.SDR.FrequencyMHz <= 0 {
		return fmt.Errorf("%w: frequency must be positive", ErrInvalid)
	}
	if c.SDR.SampleRateMHz <= 0 {
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalid)
	}
	switch {
	case c.SDR.Source == SourceRTLSDR && c.SDR.SampleRateMHz > MaxRTLSDRRateMHz:
		return fmt.Errorf("%w: RTL-SDR sample rate %.3g MHz above %.1f MHz", ErrInvalid, c.SDR.SampleRateMHz, MaxRTLSDRRateMHz)
	case c.SDR.Source == SourceHackRF && c.SDR.SampleRateMHz > MaxHackRFRateMHz:
		return fmt.Errorf("%w: HackRF sample rate %.3g MHz above %.0f MHz", ErrInvalid, c.SDR.SampleRateMHz, MaxHackRFRateMHz)
	}
	if c.SDR.LNAGain < 0 || c.SDR.LNAGain > 40 {
		return fmt.Errorf("%w: LNA gain %d outside 0-40", ErrInvalid, c.SDR.LNAGain)
	}
	if c.SDR.VGAGain < 0 || c.SDR.VGAGain > 62 {
		return fmt.Errorf("%w: VGA gain %d outside 0-62", ErrInvalid, c.SDR.VGAGain)
	}
	if c.Buffer.Capacity < 2*c.Buffer.ChunkSize {
		return fmt.Errorf("%w: buffer of %d bytes cannot hold two chunks of %d", ErrInvalid, c.Buffer.Capacity, c.Buffer.ChunkSize)
	}
	if c.Buffer.ChunkSize < 2 {
		return fmt.Errorf("%w: chunk size must be at least one I/Q pair", ErrInvalid)
	}
	if c.Display.SnapshotDir != "" && c.Display.SnapshotEvery < 1 {
		return fmt.Errorf("%w: snapshot interval must be at least 1", ErrInvalid)
	}

	// The filter chain and line geometry validate themselves.
	if _, err := dsp.NewConditioner(c.Conditioner()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := decoder.NewGeometry(c.Conditioner().OutputRate()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
