package sdr

import (
	"fmt"

	"palrx/config"
)

// European UHF band IV/V, 8 MHz channels.
const (
	FirstUHFChannel = 21
	LastUHFChannel  = 69

	uhfBaseMHz     = 306
	uhfSpacingMHz  = 8
	uhfLowMHz      = 470
	uhfHighMHz     = 862
	visionOffsetHz = 2_750_000 // vision carrier below channel centre
)

// ChannelCentre returns the centre frequency of UHF channel ch in Hz.
func ChannelCentre(ch int) (uint64, error) {
	if ch < FirstUHFChannel || ch > LastUHFChannel {
		return 0, fmt.Errorf("UHF channel %d outside %d-%d", ch, FirstUHFChannel, LastUHFChannel)
	}
	return uint64(uhfBaseMHz+uhfSpacingMHz*ch) * 1_000_000, nil
}

// VisionCarrier returns the vision carrier frequency of UHF channel ch in Hz.
func VisionCarrier(ch int) (uint64, error) {
	centre, err := ChannelCentre(ch)
	if err != nil {
		return 0, err
	}
	return centre - visionOffsetHz, nil
}

// ChannelForFrequency returns the UHF channel containing freqHz.
func ChannelForFrequency(freqHz uint64) (int, bool) {
	mhz := int(freqHz / 1_000_000)
	if mhz < uhfLowMHz || mhz > uhfHighMHz {
		return 0, false
	}
	ch := (mhz - uhfBaseMHz) / uhfSpacingMHz
	if ch < FirstUHFChannel || ch > LastUHFChannel {
		return 0, false
	}
	return ch, true
}

// DescribeFrequency names freqHz for status displays.
func DescribeFrequency(freqHz uint64) string {
	if ch, ok := ChannelForFrequency(freqHz); ok {
		return fmt.Sprintf("UHF %d", ch)
	}
	return "custom"
}

// TuneFrequency returns the frequency to tune to: the centre of cfg.Channel
// when one is set, otherwise cfg.FrequencyMHz.
func TuneFrequency(cfg config.SDR) (uint64, error) {
	if cfg.Channel != 0 {
		return ChannelCentre(cfg.Channel)
	}
	if cfg.FrequencyMHz <= 0 {
		return 0, fmt.Errorf("invalid frequency %.3f MHz", cfg.FrequencyMHz)
	}
	return uint64(cfg.FrequencyMHz*1e6 + 0.5), nil
}
