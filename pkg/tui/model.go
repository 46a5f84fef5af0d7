// Package tui renders the live reconstructed snapshot in a terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"blackbox/pkg/blackbox"
	"blackbox/pkg/engine"
	"blackbox/pkg/snapshot"
)

// RecordMsg carries a newly decoded record into the model.
type RecordMsg engine.Record

// SourceClosedMsg is delivered when the record channel is closed.
type SourceClosedMsg struct{}

// TickMsg triggers a refresh of the decode counters.
type TickMsg time.Time

// Model is the bubbletea model behind bbtool watch.
type Model struct {
	title   string
	records <-chan engine.Record
	stats   func() blackbox.ReaderStats
	refresh time.Duration

	latest engine.Record
	have   bool
	seen   uint64
	counts blackbox.ReaderStats
	closed bool
	width  int
}

type Option func(*Model)

func WithTitle(title string) Option {
	return func(m *Model) {
		m.title = title
	}
}

// WithStats sets the function polled for decode counters.
func WithStats(fn func() blackbox.ReaderStats) Option {
	return func(m *Model) {
		m.stats = fn
	}
}

func WithRefresh(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.refresh = d
		}
	}
}

func New(records <-chan engine.Record, opts ...Option) Model {
	m := Model{
		title:   "blackbox",
		records: records,
		refresh: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForRecord(m.records), tick(m.refresh))
}

func waitForRecord(ch <-chan engine.Record) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		rec, ok := <-ch
		if !ok {
			return SourceClosedMsg{}
		}
		return RecordMsg(rec)
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case RecordMsg:
		m.latest = engine.Record(msg)
		m.have = true
		m.seen++
		return m, waitForRecord(m.records)
	case SourceClosedMsg:
		m.closed = true
	case TickMsg:
		if m.stats != nil {
			m.counts = m.stats()
		}
		return m, tick(m.refresh)
	}
	return m, nil
}

// Latest returns the most recent record and whether one has arrived.
func (m Model) Latest() (engine.Record, bool) {
	return m.latest, m.have
}

func (m Model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  records=%d decoded=%d corrupt=%d", m.title, m.seen, m.counts.FramesDecoded, m.counts.CorruptFrames)
	if m.closed {
		b.WriteString("  [source closed]")
	}
	if m.have && m.latest.Degraded {
		b.WriteString("  [degraded: frames lost]")
	}
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", ruleWidth(m.width)))
	b.WriteString("\n")

	if !m.have {
		b.WriteString("waiting for frames...\n")
		b.WriteString("\nq to quit\n")
		return b.String()
	}

	s := m.latest.Snapshot
	fmt.Fprintf(&b, "seq %-8d t=%dus\n", m.latest.Seq, s.Time)
	fmt.Fprintf(&b, "attitude  roll %7.1f  pitch %7.1f  yaw %7.1f  deg\n",
		float64(s.Attitude[0])/10, float64(s.Attitude[1])/10, float64(s.Attitude[2])/10)
	writeTriple(&b, "gyro", s.Gyro)
	writeTriple(&b, "acc", s.Acc)
	writeTriple(&b, "mag", s.Mag)
	writeRow(&b, "motor", s.Motor[:])
	writeRow(&b, "servo", s.Servo[:])
	writeRow(&b, "rc", s.RC[:])
	fmt.Fprintf(&b, "battery   %.2fV  %.2fA  rssi %d\n", float64(s.VBat)/100, float64(s.Amperage)/100, s.RSSI)
	fmt.Fprintf(&b, "altitude  %dcm  sonar %dcm\n", s.Altitude, s.SonarAlt)
	fmt.Fprintf(&b, "delta     %d bytes of %d\n", len(m.latest.Delta), snapshot.Size)
	b.WriteString("\nq to quit\n")
	return b.String()
}

func writeTriple(b *strings.Builder, label string, v [3]int16) {
	fmt.Fprintf(b, "%-9s %6d %6d %6d\n", label, v[0], v[1], v[2])
}

func writeRow(b *strings.Builder, label string, values []int16) {
	fmt.Fprintf(b, "%-9s", label)
	for _, v := range values {
		fmt.Fprintf(b, " %5d", v)
	}
	b.WriteString("\n")
}

func ruleWidth(w int) int {
	if w <= 0 || w > 80 {
		return 60
	}
	return w
}
