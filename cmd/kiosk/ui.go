package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-kiosk/core"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
	"github.com/koscakluka/ema-kiosk/core/voicesocket"
	"github.com/muesli/reflow/wordwrap"
)

var (
	Green  = lipgloss.Color("64")
	Brown  = lipgloss.Color("94")
	Gold   = lipgloss.Color("220")
	Red    = lipgloss.Color("196")
	Tan    = lipgloss.Color("180")
	Yellow = lipgloss.Color("226")
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(Gold).Bold(true)
	statusStyle  = lipgloss.NewStyle().Foreground(Tan)
	visitorStyle = lipgloss.NewStyle().Foreground(Yellow).Bold(true)
	aiStyle      = lipgloss.NewStyle().Foreground(Green).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(Red).Bold(true)
	helpStyle    = lipgloss.NewStyle().Foreground(Brown).Italic(true)
	levelStyle   = lipgloss.NewStyle().Foreground(Green)
)

// kiosk is the part of the orchestrator the terminal drives.
type kiosk interface {
	Start(ctx context.Context) error
	Retry(ctx context.Context) error
	End()
	StartRecording() error
	StopRecording() error
	SubmitText(text string) error
	ReplayLast() error
	ResetError(kind voiceerrors.Kind)
	Snapshot() orchestration.Snapshot
	Updates() <-chan orchestration.Snapshot
}

type keyMap struct {
	Start  key.Binding
	Talk   key.Binding
	Type   key.Binding
	Replay key.Binding
	End    key.Binding
	Clear  key.Binding
	Quit   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Start:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start/retry")),
		Talk:   key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "talk")),
		Type:   key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "type")),
		Replay: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "replay")),
		End:    key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "end")),
		Clear:  key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear errors")),
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type snapshotMsg orchestration.Snapshot

type actionMsg struct {
	action string
	err    error
}

type model struct {
	ctx     context.Context
	kiosk   kiosk
	keys    keyMap
	snap    orchestration.Snapshot
	spinner spinner.Model
	input   textinput.Model
	notice  string
	width   int
}

func newModel(ctx context.Context, k kiosk) model {
	input := textinput.New()
	input.Placeholder = "Type a message for reception..."
	input.CharLimit = 500
	input.Width = 60

	return model{
		ctx:     ctx,
		kiosk:   k,
		keys:    defaultKeyMap(),
		snap:    k.Snapshot(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		input:   input,
		width:   80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.kiosk.Updates()))
}

func waitForSnapshot(updates <-chan orchestration.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (m model) do(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: action, err: fn()}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case snapshotMsg:
		m.snap = orchestration.Snapshot(msg)
		return m, waitForSnapshot(m.kiosk.Updates())

	case actionMsg:
		if msg.err != nil {
			reason := msg.err.Error()
			if verr, ok := voiceerrors.As(msg.err); ok && verr.Message != "" {
				reason = verr.Message
			}
			m.notice = fmt.Sprintf("%s: %s", msg.action, reason)
		} else {
			m.notice = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.input.Focused() {
			return m.updateInput(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		text := m.input.Value()
		m.input.Reset()
		m.input.Blur()
		return m, m.do("send", func() error { return m.kiosk.SubmitText(text) })
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.kiosk.End()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Start):
		switch m.snap.State.(type) {
		case orchestration.IdleState:
			return m, m.do("start", func() error { return m.kiosk.Start(m.ctx) })
		case orchestration.FailedState:
			return m, m.do("retry", func() error { return m.kiosk.Retry(m.ctx) })
		}

	case key.Matches(msg, m.keys.Talk):
		if m.snap.State != nil && m.snap.State.Recording() == orchestration.RecordingActive {
			return m, m.do("stop", m.kiosk.StopRecording)
		}
		return m, m.do("talk", m.kiosk.StartRecording)

	case key.Matches(msg, m.keys.Type):
		cmd := m.input.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.Replay):
		return m, m.do("replay", m.kiosk.ReplayLast)

	case key.Matches(msg, m.keys.End):
		m.kiosk.End()
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		for _, kind := range voiceerrors.Kinds {
			m.kiosk.ResetError(kind)
		}
		m.notice = ""
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Reception"))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(m.statusLine()))
	b.WriteString("\n")
	b.WriteString(levelStyle.Render(levelBar(m.snap.Level.Volume, 20)))
	b.WriteString("\n\n")

	b.WriteString(renderTranscript(m.snap.Messages, m.width))

	for _, kind := range voiceerrors.Kinds {
		if err := m.snap.Err(kind); err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("%s: %s", kind, err.Message)))
			b.WriteString("\n")
		}
	}
	if m.notice != "" {
		b.WriteString(errorStyle.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help()))
	return b.String()
}

func (m model) statusLine() string {
	state := m.snap.State
	if state == nil {
		return "idle"
	}

	parts := []string{state.Phase().String()}
	switch s := state.(type) {
	case orchestration.ConnectingState:
		parts = append(parts, m.spinner.View()+" connecting")
	case orchestration.ActiveState:
		parts = append(parts, s.Mode.String(), s.Turn.String())
		if s.Turn == orchestration.TurnProcessing {
			parts[len(parts)-1] = m.spinner.View() + " " + s.Turn.String()
		}
	case orchestration.CompletedState:
		if !m.snap.ResetAt.IsZero() {
			parts = append(parts, fmt.Sprintf("reset in %s", time.Until(m.snap.ResetAt).Round(time.Second)))
		}
	case orchestration.FailedState:
		parts = append(parts, "failed")
	}

	if conn := state.Connection(); conn != voicesocket.StateConnected {
		parts = append(parts, conn.String())
	}
	if m.snap.Step != "" {
		parts = append(parts, "step "+m.snap.Step)
	}
	return strings.Join(parts, " · ")
}

func (m model) help() string {
	bindings := []key.Binding{m.keys.Start, m.keys.Talk, m.keys.Type, m.keys.Replay, m.keys.End, m.keys.Clear, m.keys.Quit}
	if m.input.Focused() {
		return "enter send · esc cancel"
	}
	parts := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		h := binding.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " · ")
}

func renderTranscript(messages []orchestration.Message, width int) string {
	if len(messages) == 0 {
		return ""
	}
	wrap := max(width-2, 20)

	var b strings.Builder
	for _, msg := range messages {
		label, style := "Visitor", visitorStyle
		if msg.Speaker == orchestration.SpeakerAI {
			label, style = "Reception", aiStyle
		}
		b.WriteString(style.Render(label + ":"))
		b.WriteString("\n")
		b.WriteString(wordwrap.String(msg.Content, wrap))
		b.WriteString("\n\n")
	}
	return b.String()
}

// levelBar draws volume, in [0, 1], as a bar of width cells.
func levelBar(volume float64, width int) string {
	filled := int(volume*float64(width) + 0.5)
	filled = min(max(filled, 0), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat(" ", width-filled) + "]"
}
