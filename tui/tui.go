// Package tui is a terminal status screen for the receiver. It shows the
// decoder and ring buffer health and edits the live picture tunables.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"palrx/decoder"
	"palrx/video"
	"palrx/worker"
)

// Snapshot is everything the screen shows besides the tunables.
type Snapshot struct {
	Decoder decoder.Stats
	Buffer  worker.BufferStats
	Sinks   map[string]video.SinkStats
}

// Step sizes and limits for the keyboard controls.
const (
	gainStep      = 0.1
	offsetStep    = 0.05
	thresholdStep = 0.05

	minGain      = 0.1
	maxGain      = 5.0
	maxOffset    = 1.0
	minThreshold = -1.0
	maxThreshold = 0.5
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	goodStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	fairStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	poorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	lostStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type tickMsg time.Time

// Model is the bubbletea model of the status screen.
type Model struct {
	title    string
	tuning   *decoder.Tuning
	stats    func() Snapshot
	interval time.Duration

	snap Snapshot
}

// New creates a screen titled title that polls stats every interval and
// edits tuning.
func New(title string, tuning *decoder.Tuning, stats func() Snapshot, interval time.Duration) Model {
	return Model{title: title, tuning: tuning, stats: stats, interval: interval}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd { return m.tick() }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.snap = m.stats()
		return m, m.tick()
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	t := m.tuning
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return m, tea.Quit
	case "+", "=":
		t.SetGain(clamp(t.Gain()+gainStep, minGain, maxGain))
	case "-", "_":
		t.SetGain(clamp(t.Gain()-gainStep, minGain, maxGain))
	case "up", "k":
		t.SetOffset(clamp(t.Offset()+offsetStep, -maxOffset, maxOffset))
	case "down", "j":
		t.SetOffset(clamp(t.Offset()-offsetStep, -maxOffset, maxOffset))
	case "]":
		t.SetSyncThreshold(clamp(t.SyncThreshold()+thresholdStep, minThreshold, maxThreshold))
	case "[":
		t.SetSyncThreshold(clamp(t.SyncThreshold()-thresholdStep, minThreshold, maxThreshold))
	case "i":
		t.SetInvert(!t.Invert())
	case "r":
		t.SetGain(decoder.DefaultVideoGain)
		t.SetOffset(decoder.DefaultVideoOffset)
		t.SetSyncThreshold(decoder.DefaultSyncThreshold)
		t.SetInvert(false)
	}
	return m, nil
}

// clamp also rounds away the drift of repeated float steps.
func clamp(v, lo, hi float64) float64 {
	v = math.Round(v*1000) / 1000
	return math.Min(math.Max(v, lo), hi)
}

// syncStyle colours a sync rate: locked, usable, struggling or lost.
func syncStyle(rate float64) lipgloss.Style {
	switch {
	case rate >= 95:
		return goodStyle
	case rate >= 85:
		return fairStyle
	case rate >= 70:
		return poorStyle
	default:
		return lostStyle
	}
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

// View implements tea.Model.
func (m Model) View() string {
	d := m.snap.Decoder
	b := m.snap.Buffer
	t := m.tuning

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n\n")

	signal := []string{
		labelStyle.Render("Sync rate") + syncStyle(d.SyncRate).Render(fmt.Sprintf("%.1f%%", d.SyncRate)),
		row("Confidence", fmt.Sprintf("%.2f", d.Confidence)),
		row("Line period", fmt.Sprintf("%.2f samples", d.LinePeriod)),
		row("AGC", fmt.Sprintf("peak %.3f  trough %.3f", d.AGCPeak, d.AGCTrough)),
		row("Frames", fmt.Sprintf("%d", d.Frames)),
		row("Lines", fmt.Sprintf("%d (%d synced)", d.Lines, d.Syncs)),
		row("Samples", fmt.Sprintf("%d", d.Samples)),
	}
	sb.WriteString(boxStyle.Render(strings.Join(signal, "\n")))
	sb.WriteString("\n")

	buffer := []string{
		row("Ring fill", fmt.Sprintf("%5.1f%% of %d MiB", 100*b.Fill(), b.Capacity>>20)),
		row("Dropped", fmt.Sprintf("%d chunks, %d bytes", b.DroppedFrames, b.DroppedBytes)),
		row("Processed", fmt.Sprintf("%d samples", b.Processed)),
	}
	names := make([]string, 0, len(m.snap.Sinks))
	for name := range m.snap.Sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := m.snap.Sinks[name]
		buffer = append(buffer, row(name, fmt.Sprintf("%d shown, %d skipped, %d failed", s.Sent, s.Dropped, s.Errors)))
	}
	sb.WriteString(boxStyle.Render(strings.Join(buffer, "\n")))
	sb.WriteString("\n")

	invert := "off"
	if t.Invert() {
		invert = "on"
	}
	picture := []string{
		row("Gain", fmt.Sprintf("%.2f", t.Gain())),
		row("Offset", fmt.Sprintf("%+.2f", t.Offset())),
		row("Sync threshold", fmt.Sprintf("%+.2f", t.SyncThreshold())),
		row("Invert", invert),
	}
	sb.WriteString(boxStyle.Render(strings.Join(picture, "\n")))
	sb.WriteString("\n")

	sb.WriteString(helpStyle.Render("+/- gain  up/down offset  [/] threshold  i invert  r reset  q quit"))
	sb.WriteString("\n")
	return sb.String()
}

// Run shows the screen until the user quits or ctx is cancelled.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(m, opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
