package events

import (
	"errors"
	"testing"
	"time"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "session started", event: NewSessionStarted("s1"), expected: KindSessionStarted},
		{name: "phase changed", event: NewPhaseChanged("idle", "connecting"), expected: KindPhaseChanged},
		{name: "session ended", event: NewSessionEnded("s1", nil), expected: KindSessionEnded},
		{name: "connection changed", event: NewConnectionChanged("connected", 0), expected: KindConnectionChanged},
		{name: "vad level", event: NewVADLevel(true, 40, 0.2, 0.6), expected: KindVADLevel},
		{name: "user speech started", event: NewUserSpeechStarted(), expected: KindUserSpeechStarted},
		{name: "user speech ended", event: NewUserSpeechEnded(), expected: KindUserSpeechEnded},
		{name: "recording started", event: NewRecordingStarted(), expected: KindRecordingStarted},
		{name: "recording stopped", event: NewRecordingStopped(3200, 100*time.Millisecond), expected: KindRecordingStopped},
		{name: "user text submitted", event: NewUserTextSubmitted("hi"), expected: KindUserTextSubmitted},
		{name: "user transcript", event: NewUserTranscript("hi"), expected: KindUserTranscript},
		{name: "assistant response", event: NewAssistantResponse("hello", "greeting", false, true), expected: KindAssistantResponse},
		{name: "playback started", event: NewPlaybackStarted(false), expected: KindPlaybackStarted},
		{name: "playback ended", event: NewPlaybackEnded(errors.New("interrupted")), expected: KindPlaybackEnded},
		{name: "message appended", event: NewMessageAppended("m1", "ai", "hello", time.Now(), false), expected: KindMessageAppended},
		{name: "error raised", event: NewErrorRaised("audio", "decode_failed", "bad audio"), expected: KindErrorRaised},
		{name: "error cleared", event: NewErrorCleared("audio"), expected: KindErrorCleared},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatal("expected event timestamp to be set")
			}
		})
	}
}

func TestUserSpeechStartedAndEndedKindsAreDistinct(t *testing.T) {
	started := NewUserSpeechStarted()
	ended := NewUserSpeechEnded()

	if started.Kind() == ended.Kind() {
		t.Fatalf("expected speech started and speech ended kinds to differ, both were %q", started.Kind())
	}
}
