// palrx receives PAL-B/G television and shows the luminance picture.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"palrx/config"
	"palrx/decoder"
	"palrx/metrics"
	"palrx/ringbuffer"
	"palrx/sdr"
	"palrx/sdr/hackrf"
	"palrx/sdr/rtlsdr"
	"palrx/source"
	"palrx/tui"
	"palrx/video"
	"palrx/worker"
)

const (
	reportEvery = time.Second
	logEvery    = 5 * time.Second
	tuiLogFile  = "palrx.log"
)

func main() {
	cfg, err := config.Parse("palrx", os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, closeLog, err := newLogger(cfg.Log, cfg.Display.TUI)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Error("receiver stopped", "err", err)
		closeLog()
		os.Exit(1)
	}
}

// newLogger builds the root logger. With the status screen up, logs go to
// a file so they don't tear the display.
func newLogger(lc config.Log, tuiActive bool) (*log.Logger, func() error, error) {
	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	var out io.Writer = os.Stderr
	closer := func() error { return nil }
	path := lc.File
	if path == "" && tuiActive {
		path = tuiLogFile
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		out = f
		closer = f.Close
	}

	logger := log.NewWithOptions(out, log.Options{
		Prefix:          "palrx",
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	log.SetDefault(logger)
	return logger, closer, nil
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rx, err := openReceiver(cfg, logger)
	if err != nil {
		return err
	}
	defer rx.Close()

	tuning := cfg.Tuning()
	dec, err := decoder.New(cfg.Conditioner(), decoder.WithLogger(logger), decoder.WithTuning(tuning))
	if err != nil {
		return err
	}

	sinks, err := openSinks(cfg.Display, dec.Geometry().SamplesPerLine, logger)
	if err != nil {
		return err
	}
	disp := video.NewDispatcher(logger, 2, sinks...)
	defer disp.Close()
	dec.OnFrame(disp.Publish)

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("metrics endpoint failed", "err", err)
			}
		}()
	}

	ring := ringbuffer.New(cfg.Buffer.Capacity)
	var lastDropped uint64
	w := worker.New(ring, dec,
		worker.WithChunkSize(cfg.Buffer.ChunkSize),
		worker.WithLogger(logger),
		worker.WithStatsObserver(worker.DefaultStatsEvery, func(st worker.BufferStats) {
			if m != nil {
				m.ObserveBuffer(st)
			}
			if st.DroppedFrames > lastDropped {
				logger.Warn("sample ring overflowed", "dropped_chunks", st.DroppedFrames-lastDropped,
					"fill", fmt.Sprintf("%.0f%%", 100*st.Fill()))
				lastDropped = st.DroppedFrames
			}
		}))
	w.Start()
	defer w.Stop()

	if err := rx.Start(ring); err != nil {
		return fmt.Errorf("starting %s: %w", cfg.SDR.Source, err)
	}
	defer rx.Stop()
	logger.Info("receiving", "source", cfg.SDR.Source, "rate_msps", cfg.SDR.SampleRateMHz,
		"ring_mib", cfg.Buffer.Capacity>>20)

	var finished <-chan struct{}
	if f, ok := rx.(interface{ Done() <-chan struct{} }); ok {
		finished = f.Done()
	}

	go report(ctx, dec, disp, m, logger, !cfg.Display.TUI)

	if cfg.Display.TUI {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		if finished != nil {
			go func() {
				select {
				case <-finished:
					drain(ctx, ring)
					cancel()
				case <-ctx.Done():
				}
			}()
		}
		title := fmt.Sprintf("PAL-B/G receiver  %s", describeSource(cfg.SDR))
		model := tui.New(title, tuning, func() tui.Snapshot {
			return tui.Snapshot{Decoder: dec.Stats(), Buffer: w.Stats(), Sinks: disp.Stats()}
		}, reportEvery)
		return tui.Run(ctx, model)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-finished:
		drain(ctx, ring)
		logger.Info("input finished", "frames", dec.Stats().Frames)
	}
	return nil
}

func openReceiver(cfg *config.Config, logger *log.Logger) (sdr.Receiver, error) {
	rate := cfg.SDR.SampleRateHz()
	opts := []source.Option{source.WithLogger(logger), source.WithLoop(cfg.SDR.Loop)}

	switch cfg.SDR.Source {
	case config.SourceHackRF:
		r, err := hackrf.Open(cfg.SDR, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.SourceRTLSDR:
		r, err := rtlsdr.Open(cfg.SDR, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.SourceFile:
		f, err := source.OpenFile(cfg.SDR.Input, rate, opts...)
		if err != nil {
			return nil, err
		}
		return f, nil
	case config.SourceWAV:
		f, err := source.OpenWAV(cfg.SDR.Input, opts...)
		if err != nil {
			return nil, err
		}
		if f.SampleRate() != rate {
			logger.Warn("using the sample rate recorded in the WAV file",
				"file_msps", f.SampleRate()/1e6, "configured_msps", cfg.SDR.SampleRateMHz)
			cfg.SDR.SampleRateMHz = f.SampleRate() / 1e6
		}
		return f, nil
	case config.SourceTestCard:
		tc := source.NewTestCard(rate, opts...)
		if cfg.SDR.Input != "" {
			if err := tc.LoadPicture(cfg.SDR.Input); err != nil {
				tc.Close()
				return nil, err
			}
		}
		return tc, nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.SDR.Source)
}

func openSinks(dc config.Display, width int, logger *log.Logger) ([]video.Sink, error) {
	var sinks []video.Sink
	fail := func(err error) ([]video.Sink, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}

	if dc.FFplay {
		ff, err := video.StartFFplay(width, decoder.VisibleLines, logger)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, ff)
	}
	if dc.SnapshotDir != "" {
		s, err := video.NewSnapshot(dc.SnapshotDir, dc.SnapshotEvery)
		if err != nil {
			return fail(err)
		}
		logger.Info("writing snapshots", "dir", dc.SnapshotDir, "every", dc.SnapshotEvery)
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		logger.Warn("no display selected; frames are decoded but not shown")
	}
	return sinks, nil
}

func describeSource(s config.SDR) string {
	switch s.Source {
	case config.SourceFile, config.SourceWAV:
		return s.Input
	case config.SourceTestCard:
		return "test card"
	}
	freq, err := sdr.TuneFrequency(s)
	if err != nil {
		return s.Source
	}
	return fmt.Sprintf("%s %.3f MHz (%s)", s.Source, float64(freq)/1e6, sdr.DescribeFrequency(freq))
}

// report feeds the metrics and, without the status screen, logs a summary.
func report(ctx context.Context, dec *decoder.Decoder, disp *video.Dispatcher, m *metrics.Metrics, logger *log.Logger, logStats bool) {
	ticker := time.NewTicker(reportEvery)
	defer ticker.Stop()
	var lastLog time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			st := dec.Stats()
			if m != nil {
				m.ObserveDecoder(st)
				m.ObserveSinks(disp.Stats())
			}
			if logStats && now.Sub(lastLog) >= logEvery {
				lastLog = now
				logger.Info("status",
					"frames", st.Frames,
					"sync_rate", fmt.Sprintf("%.1f%%", st.SyncRate),
					"line_period", fmt.Sprintf("%.2f", st.LinePeriod),
					"confidence", fmt.Sprintf("%.2f", st.Confidence),
					"agc", fmt.Sprintf("%.3f/%.3f", st.AGCPeak, st.AGCTrough))
			}
		}
	}
}

// drain waits for the worker to empty the ring after the source has ended.
func drain(ctx context.Context, ring *ringbuffer.RingBuffer) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for ring.Available() >= 2 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
