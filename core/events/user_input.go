package events

import "time"

const (
	KindVADLevel          Kind = "user_input.vad_level"
	KindUserSpeechStarted Kind = "user_input.speech_started"
	KindUserSpeechEnded   Kind = "user_input.speech_ended"
	KindRecordingStarted  Kind = "user_input.recording_started"
	KindRecordingStopped  Kind = "user_input.recording_stopped"
	KindUserTextSubmitted Kind = "user_input.text_submitted"
	KindUserTranscript    Kind = "user_input.transcript"
)

type VADLevel struct {
	Base
	Active     bool
	Energy     float64
	Volume     float64
	Confidence float64
}

func NewVADLevel(active bool, energy, volume, confidence float64) VADLevel {
	return VADLevel{
		Base:       NewBase(KindVADLevel),
		Active:     active,
		Energy:     energy,
		Volume:     volume,
		Confidence: confidence,
	}
}

type UserSpeechStarted struct{ Base }

func NewUserSpeechStarted() UserSpeechStarted {
	return UserSpeechStarted{Base: NewBase(KindUserSpeechStarted)}
}

type UserSpeechEnded struct{ Base }

func NewUserSpeechEnded() UserSpeechEnded {
	return UserSpeechEnded{Base: NewBase(KindUserSpeechEnded)}
}

type RecordingStarted struct{ Base }

func NewRecordingStarted() RecordingStarted {
	return RecordingStarted{Base: NewBase(KindRecordingStarted)}
}

// RecordingStopped reports the closed utterance. Bytes is zero when nothing
// was captured and nothing was sent.
type RecordingStopped struct {
	Base
	Bytes    int
	Duration time.Duration
}

func NewRecordingStopped(bytes int, duration time.Duration) RecordingStopped {
	return RecordingStopped{Base: NewBase(KindRecordingStopped), Bytes: bytes, Duration: duration}
}

type UserTextSubmitted struct {
	Base
	Text string
}

func NewUserTextSubmitted(text string) UserTextSubmitted {
	return UserTextSubmitted{Base: NewBase(KindUserTextSubmitted), Text: text}
}

type UserTranscript struct {
	Base
	Text string
}

func NewUserTranscript(text string) UserTranscript {
	return UserTranscript{Base: NewBase(KindUserTranscript), Text: text}
}
