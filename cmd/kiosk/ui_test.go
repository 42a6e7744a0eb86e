package main

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-kiosk/core"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
	"github.com/koscakluka/ema-kiosk/core/voicesocket"
)

func TestStartKeyStartsIdleKiosk(t *testing.T) {
	k := newStubKiosk(orchestration.IdleState{})
	m := newModel(context.Background(), k)

	_, cmd := m.Update(runeKey('s'))
	runCmd(t, cmd)

	if got := k.callsTo("start"); got != 1 {
		t.Fatalf("expected one start call, got %d", got)
	}
}

func TestStartKeyRetriesFailedKiosk(t *testing.T) {
	k := newStubKiosk(orchestration.FailedState{Previous: orchestration.PhaseGreeting})
	m := newModel(context.Background(), k)

	_, cmd := m.Update(runeKey('s'))
	runCmd(t, cmd)

	if got := k.callsTo("retry"); got != 1 {
		t.Fatalf("expected one retry call, got %d", got)
	}
	if got := k.callsTo("start"); got != 0 {
		t.Fatalf("expected no start call, got %d", got)
	}
}

func TestSpaceTogglesRecording(t *testing.T) {
	k := newStubKiosk(orchestration.ActiveState{Mode: orchestration.InputVoice, Conn: voicesocket.StateConnected})
	m := newModel(context.Background(), k)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeySpace})
	runCmd(t, cmd)
	if got := k.callsTo("start_recording"); got != 1 {
		t.Fatalf("expected recording to start, got %d calls", got)
	}

	recording := orchestration.Snapshot{State: orchestration.ActiveState{
		Mode: orchestration.InputVoice,
		Turn: orchestration.TurnRecording,
		Conn: voicesocket.StateConnected,
	}}
	updated, _ := m.Update(snapshotMsg(recording))
	_, cmd = updated.Update(tea.KeyMsg{Type: tea.KeySpace})
	runCmd(t, cmd)
	if got := k.callsTo("stop_recording"); got != 1 {
		t.Fatalf("expected recording to stop, got %d calls", got)
	}
}

func TestTypedTextIsSubmitted(t *testing.T) {
	k := newStubKiosk(orchestration.ActiveState{Mode: orchestration.InputVoice, Conn: voicesocket.StateConnected})
	var m tea.Model = newModel(context.Background(), k)

	m, _ = m.Update(runeKey('t'))
	for _, r := range "hello" {
		m, _ = m.Update(runeKey(r))
	}
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	msg := runCmd(t, cmd)

	if got := k.lastText(); got != "hello" {
		t.Fatalf("expected submitted text %q, got %q", "hello", got)
	}
	if action, ok := msg.(actionMsg); !ok || action.action != "send" {
		t.Fatalf("expected a send action result, got %#v", msg)
	}
	if m.(model).input.Focused() {
		t.Fatalf("expected the input to lose focus after sending")
	}
}

func TestRejectedActionShowsNotice(t *testing.T) {
	k := newStubKiosk(orchestration.ActiveState{Conn: voicesocket.StateConnected})
	m := newModel(context.Background(), k)

	updated, _ := m.Update(actionMsg{action: "replay", err: voiceerrors.New(voiceerrors.KindValidation, "nothing_to_replay", "nothing to replay")})
	if !strings.Contains(updated.View(), "replay: nothing to replay") {
		t.Fatalf("expected the rejection to be shown, got:\n%s", updated.View())
	}
}

func TestViewRendersTranscriptAndErrors(t *testing.T) {
	k := newStubKiosk(orchestration.IdleState{})
	m := newModel(context.Background(), k)

	snap := orchestration.Snapshot{
		State: orchestration.ActiveState{Mode: orchestration.InputVoice, Conn: voicesocket.StateConnecting},
		Messages: []orchestration.Message{
			{Speaker: orchestration.SpeakerVisitor, Content: "I have a meeting with Dana"},
			{Speaker: orchestration.SpeakerAI, Content: "Let me check the calendar"},
		},
		Errors: map[voiceerrors.Kind]*voiceerrors.Error{
			voiceerrors.KindProcessing: voiceerrors.New(voiceerrors.KindProcessing, "send_failed", "could not send your message"),
		},
	}
	updated, _ := m.Update(snapshotMsg(snap))
	view := updated.View()

	for _, want := range []string{"I have a meeting with Dana", "Let me check the calendar", "could not send your message", "connecting"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected view to contain %q, got:\n%s", want, view)
		}
	}
}

func TestQuitEndsConversation(t *testing.T) {
	k := newStubKiosk(orchestration.ActiveState{Conn: voicesocket.StateConnected})
	m := newModel(context.Background(), k)

	_, cmd := m.Update(runeKey('q'))
	if cmd == nil {
		t.Fatalf("expected a quit command")
	}
	if got := k.callsTo("end"); got != 1 {
		t.Fatalf("expected the conversation to end, got %d calls", got)
	}
}

func TestLevelBar(t *testing.T) {
	if got := levelBar(0, 4); got != "[    ]" {
		t.Fatalf("expected empty bar, got %q", got)
	}
	if got := levelBar(0.5, 4); got != "[██  ]" {
		t.Fatalf("expected half bar, got %q", got)
	}
	if got := levelBar(3, 4); got != "[████]" {
		t.Fatalf("expected clamped bar, got %q", got)
	}
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func runCmd(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	return cmd()
}

type stubKiosk struct {
	mu      sync.Mutex
	calls   map[string]int
	text    string
	state   orchestration.State
	updates chan orchestration.Snapshot
}

func newStubKiosk(state orchestration.State) *stubKiosk {
	return &stubKiosk{
		calls:   map[string]int{},
		state:   state,
		updates: make(chan orchestration.Snapshot, 1),
	}
}

func (k *stubKiosk) record(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls[name]++
}

func (k *stubKiosk) callsTo(name string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls[name]
}

func (k *stubKiosk) lastText() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.text
}

func (k *stubKiosk) Start(context.Context) error { k.record("start"); return nil }
func (k *stubKiosk) Retry(context.Context) error { k.record("retry"); return nil }
func (k *stubKiosk) End()                        { k.record("end") }
func (k *stubKiosk) StartRecording() error       { k.record("start_recording"); return nil }
func (k *stubKiosk) StopRecording() error        { k.record("stop_recording"); return nil }
func (k *stubKiosk) ReplayLast() error           { k.record("replay"); return nil }
func (k *stubKiosk) ResetError(voiceerrors.Kind) { k.record("reset_error") }

func (k *stubKiosk) SubmitText(text string) error {
	k.record("submit_text")
	k.mu.Lock()
	k.text = text
	k.mu.Unlock()
	return nil
}

func (k *stubKiosk) Snapshot() orchestration.Snapshot {
	return orchestration.Snapshot{State: k.state}
}

func (k *stubKiosk) Updates() <-chan orchestration.Snapshot { return k.updates }
