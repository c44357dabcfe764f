package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palrx/decoder"
	"palrx/dsp"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "palrx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, SourceHackRF, cfg.SDR.Source)
	assert.Equal(t, 478.0, cfg.SDR.FrequencyMHz)
	assert.Equal(t, 40, cfg.SDR.LNAGain)
	assert.Equal(t, 20, cfg.SDR.VGAGain)
	assert.Equal(t, 64<<20, cfg.Buffer.Capacity)
	assert.Equal(t, 262144, cfg.Buffer.ChunkSize)
	assert.Equal(t, dsp.DefaultConditionerConfig(), cfg.Conditioner())
}

func TestConfig_Tuning(t *testing.T) {
	cfg := Default()
	cfg.Decoder.Gain = 2
	cfg.Decoder.Offset = 0.1
	cfg.Decoder.SyncThreshold = -0.3
	cfg.Decoder.Invert = true

	tuning := cfg.Tuning()
	assert.Equal(t, 2.0, tuning.Gain())
	assert.Equal(t, 0.1, tuning.Offset())
	assert.Equal(t, -0.3, tuning.SyncThreshold())
	assert.True(t, tuning.Invert())

	assert.Equal(t, decoder.DefaultVideoGain, Default().Tuning().Gain())
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
sdr:
  source: rtlsdr
  sample_rate_mhz: 2.4
decoder:
  decimation: 1
  gain: 1.2
buffer:
  capacity: 1048576
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, SourceRTLSDR, cfg.SDR.Source)
	assert.Equal(t, 2.4, cfg.SDR.SampleRateMHz)
	assert.Equal(t, 1, cfg.Decoder.Decimation)
	assert.Equal(t, 1.2, cfg.Decoder.Gain)
	assert.Equal(t, 1048576, cfg.Buffer.Capacity)
	// Untouched settings keep their defaults.
	assert.Equal(t, 478.0, cfg.SDR.FrequencyMHz)
	assert.Equal(t, 65, cfg.Decoder.LumaTaps)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "sdr: [not, a, map]"))
	assert.Error(t, err)
}

func TestBindFlags(t *testing.T) {
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, cfg)

	require.NoError(t, fs.Parse([]string{"--freq", "615.25", "-s", "testcard", "--invert", "--metrics", ":9110"}))
	assert.Equal(t, 615.25, cfg.SDR.FrequencyMHz)
	assert.Equal(t, SourceTestCard, cfg.SDR.Source)
	assert.True(t, cfg.Decoder.Invert)
	assert.Equal(t, ":9110", cfg.Metrics.Listen)
}

func TestParse_FlagsOverrideFile(t *testing.T) {
	path := writeFile(t, `
sdr:
  frequency_mhz: 600
  lna_gain: 16
`)
	cfg, err := Parse("palrx", []string{"-c", path, "--lna", "24"})
	require.NoError(t, err)

	assert.Equal(t, 600.0, cfg.SDR.FrequencyMHz, "file value")
	assert.Equal(t, 24, cfg.SDR.LNAGain, "flag beats file")
	assert.Equal(t, 20, cfg.SDR.VGAGain, "default")
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("palrx", []string{"--no-such-flag"})
	assert.Error(t, err)

	_, err = Parse("palrx", []string{"--source", "file"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Parse("palrx", []string{"--source", "rtlsdr"})
	assert.ErrorIs(t, err, ErrInvalid, "default rate is beyond the RTL-SDR")

	_, err = Parse("palrx", []string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source", func(c *Config) { c.SDR.Source = "airspy" }},
		{"wav without input", func(c *Config) { c.SDR.Source = SourceWAV }},
		{"channel too low", func(c *Config) { c.SDR.Channel = 20 }},
		{"channel too high", func(c *Config) { c.SDR.Channel = 70 }},
		{"zero frequency", func(c *Config) { c.SDR.FrequencyMHz = 0 }},
		{"zero rate", func(c *Config) { c.SDR.SampleRateMHz = 0 }},
		{"rtlsdr rate", func(c *Config) { c.SDR.Source = SourceRTLSDR }},
		{"hackrf rate", func(c *Config) { c.SDR.SampleRateMHz = 24 }},
		{"lna gain", func(c *Config) { c.SDR.LNAGain = 48 }},
		{"vga gain", func(c *Config) { c.SDR.VGAGain = -2 }},
		{"small buffer", func(c *Config) { c.Buffer.Capacity = c.Buffer.ChunkSize }},
		{"tiny chunk", func(c *Config) { c.Buffer.ChunkSize = 1 }},
		{"snapshot interval", func(c *Config) { c.Display.SnapshotDir = "/tmp"; c.Display.SnapshotEvery = 0 }},
		{"even taps", func(c *Config) { c.Decoder.VideoTaps = 64 }},
		{"cutoff above nyquist", func(c *Config) { c.Decoder.LumaCutoffMHz = 4 }},
		{"zero decimation", func(c *Config) { c.Decoder.Decimation = 0 }},
		{"rate too low for sync", func(c *Config) {
			c.SDR.SampleRateMHz = 0.3
			c.Decoder.Decimation = 1
			c.Decoder.VideoCutoffMHz = 0.1
			c.Decoder.LumaCutoffMHz = 0.05
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	cfg := Default()
	cfg.Decoder.VideoTaps = 64
	assert.ErrorIs(t, cfg.Validate(), dsp.ErrInvalidTaps)

	cfg = Default()
	cfg.SDR.Channel = 21
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.SDR.Source = SourceRTLSDR
	cfg.SDR.SampleRateMHz = 2.4
	cfg.Decoder.Decimation = 1
	cfg.Decoder.VideoCutoffMHz = 1.1
	cfg.Decoder.LumaCutoffMHz = 1.0
	assert.NoError(t, cfg.Validate(), "RTL-SDR at 2.4 MS/s")
}
