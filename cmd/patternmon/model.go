package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

const barWidth = 40

type Model struct {
	feed    *feed
	maxCues int

	up     bool
	linkEr string
	status *Snapshot
	cues   []cueMsg

	quitting bool
}

func NewModel(f *feed, maxCues int) Model {
	if maxCues <= 0 {
		maxCues = 8
	}
	return Model{feed: f, maxCues: maxCues}
}

// listen waits for the next message from the feed.
func listen(f *feed) tea.Cmd {
	return func() tea.Msg {
		select {
		case m := <-f.msgs:
			return m
		case <-f.done:
			return nil
		}
	}
}

func (m Model) Init() tea.Cmd {
	return listen(m.feed)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "c":
			m.cues = nil
		}
		return m, nil

	case statusMsg:
		s := Snapshot(msg)
		m.status = &s
		return m, listen(m.feed)

	case cueMsg:
		m.cues = append(m.cues, msg)
		if over := len(m.cues) - m.maxCues; over > 0 {
			m.cues = m.cues[over:]
		}
		return m, listen(m.feed)

	case linkMsg:
		m.up = msg.Up
		m.linkEr = ""
		if msg.Err != nil {
			m.linkEr = msg.Err.Error()
		}
		return m, listen(m.feed)
	}
	return m, nil
}

// positionBar draws pos (0..100) inside the allowed device range.
func positionBar(pos float64, lo, hi int) string {
	if hi <= lo {
		lo, hi = 0, 100
	}
	cell := func(p float64) int {
		i := int(p / 100 * float64(barWidth-1))
		return max(0, min(barWidth-1, i))
	}
	head := cell(pos)
	from, to := cell(float64(lo)), cell(float64(hi))

	var b strings.Builder
	for i := 0; i < barWidth; i++ {
		switch {
		case i == head:
			b.WriteString(okStyle.Render("█"))
		case i < from || i > to:
			b.WriteString(dimStyle.Render("·"))
		default:
			b.WriteString("─")
		}
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return okStyle.Render("on")
	}
	return dimStyle.Render("off")
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	link := errStyle.Render("disconnected")
	if m.up {
		link = okStyle.Render("connected")
	}

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(headerStyle.Render("patternmon") + "  " + link + "  " + dimStyle.Render(m.feed.url))
	out.WriteString("\n\n")

	if m.status == nil {
		msg := "waiting for state..."
		if m.linkEr != "" {
			msg = m.linkEr
		}
		out.WriteString(dimStyle.Render(msg))
		out.WriteString("\n\n")
		out.WriteString(dimStyle.Render("q:quit"))
		return out.String()
	}

	s := m.status
	var body strings.Builder
	mode := s.Mode
	if s.Running {
		mode = okStyle.Render(mode)
	}
	body.WriteString(row("mode", mode))
	body.WriteString(row("position", fmt.Sprintf("%s %5.1f", positionBar(s.Position, s.RangeMin, s.RangeMax), s.Position)))
	body.WriteString(row("range", fmt.Sprintf("%d..%d", s.RangeMin, s.RangeMax)))
	body.WriteString(row("speed", fmt.Sprintf("%.2f  (base %.2f, joystick x%.2f)", s.CurrentSpeed, s.ManualSpeed, s.JoystickMultiplier)))

	buildup := onOff(s.BuildupActive)
	if s.BuildupActive && s.BuildupSession != "" {
		buildup += dimStyle.Render("  " + shortID(s.BuildupSession))
	}
	body.WriteString(row("build-up", buildup))
	body.WriteString(row("chaos", onOff(s.ChaosActive)))
	body.WriteString(row("manual", onOff(s.ManualActive)))
	body.WriteString(row("category", s.Category))
	body.WriteString(row("pattern", s.PatternID))

	device := errStyle.Render("offline")
	switch {
	case s.Connected && s.DeviceFound:
		device = okStyle.Render("ready")
	case s.Connected:
		device = warnStyle.Render("no device")
	}
	body.WriteString(row("device", device))
	if s.LastError != "" {
		body.WriteString(row("error", errStyle.Render(s.LastError)))
	}
	out.WriteString(boxStyle.Render(strings.TrimRight(body.String(), "\n")))
	out.WriteString("\n\n")

	out.WriteString(headerStyle.Render("cues"))
	out.WriteString("\n")
	if len(m.cues) == 0 {
		out.WriteString(dimStyle.Render("  none yet"))
		out.WriteString("\n")
	}
	for i := len(m.cues) - 1; i >= 0; i-- {
		c := m.cues[i]
		out.WriteString(fmt.Sprintf("  %s  %s\n", dimStyle.Render(c.At.Format("15:04:05")), c.Trigger))
	}

	out.WriteString("\n")
	out.WriteString(dimStyle.Render("c:clear cues  q:quit"))
	return out.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
