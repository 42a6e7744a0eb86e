package orchestration

import (
	"github.com/koscakluka/ema-kiosk/core/playback"
	"github.com/koscakluka/ema-kiosk/core/vad"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
	"github.com/koscakluka/ema-kiosk/core/voicesocket"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGreeting
	PhaseActive
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseGreeting:
		return "greeting"
	case PhaseActive:
		return "active"
	case PhaseCompleted:
		return "completed"
	default:
		return "idle"
	}
}

type InputMode int

const (
	InputNone InputMode = iota
	InputVoice
	InputText
)

func (m InputMode) String() string {
	switch m {
	case InputVoice:
		return "voice"
	case InputText:
		return "text"
	default:
		return "none"
	}
}

type RecordingState int

const (
	RecordingIdle RecordingState = iota
	RecordingActive
	RecordingProcessing
)

func (s RecordingState) String() string {
	switch s {
	case RecordingActive:
		return "recording"
	case RecordingProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// Turn is whose move it is while the conversation is active.
type Turn int

const (
	// TurnListening waits for the visitor; voice activity may open a
	// recording.
	TurnListening Turn = iota
	TurnRecording
	TurnProcessing
	TurnPlaying
)

func (t Turn) String() string {
	switch t {
	case TurnRecording:
		return "recording"
	case TurnProcessing:
		return "processing"
	case TurnPlaying:
		return "playing"
	default:
		return "listening"
	}
}

// State is the conversation as one value. Only legal combinations of phase,
// connection, recording, playback and voice activity can be built from the
// concrete state types.
type State interface {
	Phase() Phase
	Connection() voicesocket.ConnectionState
	Recording() RecordingState
	Playback() playback.State
	VAD() vad.State
	InputMode() InputMode

	isState()
}

type IdleState struct{}

func (IdleState) Phase() Phase                            { return PhaseIdle }
func (IdleState) Connection() voicesocket.ConnectionState { return voicesocket.StateDisconnected }
func (IdleState) Recording() RecordingState               { return RecordingIdle }
func (IdleState) Playback() playback.State                { return playback.StateIdle }
func (IdleState) VAD() vad.State                          { return vad.StateInactive }
func (IdleState) InputMode() InputMode                    { return InputNone }
func (IdleState) isState()                                {}

// ConnectingState covers session issuance and the initial connection.
type ConnectingState struct {
	SessionID string
}

func (ConnectingState) Phase() Phase                            { return PhaseIdle }
func (ConnectingState) Connection() voicesocket.ConnectionState { return voicesocket.StateConnecting }
func (ConnectingState) Recording() RecordingState               { return RecordingIdle }
func (ConnectingState) Playback() playback.State                { return playback.StateIdle }
func (ConnectingState) VAD() vad.State                          { return vad.StateInactive }
func (ConnectingState) InputMode() InputMode                    { return InputNone }
func (ConnectingState) isState()                                {}

// GreetingState lasts until the greeting audio has finished.
type GreetingState struct {
	Conn    voicesocket.ConnectionState
	Playing bool
	// Final is set when the greeting is also the end of the conversation.
	Final bool
}

func (GreetingState) Phase() Phase                              { return PhaseGreeting }
func (s GreetingState) Connection() voicesocket.ConnectionState { return s.Conn }
func (GreetingState) Recording() RecordingState                 { return RecordingIdle }
func (s GreetingState) Playback() playback.State {
	if s.Playing {
		return playback.StatePlaying
	}
	return playback.StateIdle
}
func (GreetingState) VAD() vad.State       { return vad.StateInactive }
func (GreetingState) InputMode() InputMode { return InputNone }
func (GreetingState) isState()             {}

// ActiveState is the turn-taking phase. Listening reports whether voice
// activity detection is armed.
type ActiveState struct {
	Mode           InputMode
	Turn           Turn
	Conn           voicesocket.ConnectionState
	Listening      bool
	SpeechDetected bool
	// Finishing is set once the backend has declared the conversation
	// complete; the phase ends when the final audio has played.
	Finishing bool
}

func (ActiveState) Phase() Phase                              { return PhaseActive }
func (s ActiveState) Connection() voicesocket.ConnectionState { return s.Conn }

func (s ActiveState) Recording() RecordingState {
	switch s.Turn {
	case TurnRecording:
		return RecordingActive
	case TurnProcessing:
		return RecordingProcessing
	default:
		return RecordingIdle
	}
}

func (s ActiveState) Playback() playback.State {
	if s.Turn == TurnPlaying {
		return playback.StatePlaying
	}
	return playback.StateIdle
}

func (s ActiveState) VAD() vad.State {
	switch {
	case !s.Listening:
		return vad.StateInactive
	case s.SpeechDetected:
		return vad.StateSpeechDetected
	default:
		return vad.StateListening
	}
}

func (s ActiveState) InputMode() InputMode {
	if s.Mode == InputNone {
		return InputVoice
	}
	return s.Mode
}

func (ActiveState) isState() {}

type CompletedState struct {
	Conn voicesocket.ConnectionState
}

func (CompletedState) Phase() Phase                              { return PhaseCompleted }
func (s CompletedState) Connection() voicesocket.ConnectionState { return s.Conn }
func (CompletedState) Recording() RecordingState                 { return RecordingIdle }
func (CompletedState) Playback() playback.State                  { return playback.StateIdle }
func (CompletedState) VAD() vad.State                            { return vad.StateInactive }
func (CompletedState) InputMode() InputMode                      { return InputNone }
func (CompletedState) isState()                                  {}

// FailedState is the error-visible state. Capture and playback are stopped;
// only Retry or End leave it.
type FailedState struct {
	Previous Phase
	Mode     InputMode
	Conn     voicesocket.ConnectionState
	Err      *voiceerrors.Error
}

func (s FailedState) Phase() Phase                            { return s.Previous }
func (s FailedState) Connection() voicesocket.ConnectionState { return s.Conn }
func (FailedState) Recording() RecordingState                 { return RecordingIdle }
func (FailedState) Playback() playback.State                  { return playback.StateIdle }
func (FailedState) VAD() vad.State                            { return vad.StateInactive }

func (s FailedState) InputMode() InputMode {
	if s.Previous != PhaseActive {
		return InputNone
	}
	if s.Mode == InputNone {
		return InputVoice
	}
	return s.Mode
}

func (FailedState) isState() {}

// withConnection returns s observing a new connection state. States that
// have no live connection are returned unchanged.
func withConnection(s State, conn voicesocket.ConnectionState) State {
	switch state := s.(type) {
	case GreetingState:
		state.Conn = conn
		return state
	case ActiveState:
		state.Conn = conn
		return state
	case CompletedState:
		state.Conn = conn
		return state
	case FailedState:
		state.Conn = conn
		return state
	default:
		return s
	}
}
