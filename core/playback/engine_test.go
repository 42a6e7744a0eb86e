package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
)

func TestPlayResolvesWhenClipFinishes(t *testing.T) {
	sink := newFakeSink()
	engine := New(sink)

	done := make(chan error, 1)
	go func() {
		done <- engine.Play(context.Background(), Payload{Data: make([]byte, 320), MimeType: "audio/l16"})
	}()

	waitForCondition(t, time.Second, "clip to be marked", func() bool { return sink.pendingMarks() == 1 })
	if engine.State() != StatePlaying {
		t.Fatalf("expected playing, got %v", engine.State())
	}
	select {
	case err := <-done:
		t.Fatalf("expected play to block until completion, returned %v", err)
	default:
	}

	sink.completeAll()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected play error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for play to return")
	}
	if engine.State() != StateIdle {
		t.Fatalf("expected idle after completion, got %v", engine.State())
	}
}

func TestNewerPlayInterruptsCurrentClip(t *testing.T) {
	sink := newFakeSink()
	engine := New(sink)

	first := make(chan error, 1)
	go func() {
		first <- engine.Play(context.Background(), Payload{Data: make([]byte, 320), MimeType: "audio/l16"})
	}()
	waitForCondition(t, time.Second, "first clip to start", func() bool { return sink.pendingMarks() == 1 })

	second := make(chan error, 1)
	go func() {
		second <- engine.Play(context.Background(), Payload{Data: make([]byte, 640), MimeType: "audio/l16"})
	}()

	select {
	case err := <-first:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("expected first clip to be interrupted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first clip to be interrupted")
	}
	if sink.clears() == 0 {
		t.Fatal("expected sink buffer to be cleared")
	}

	waitForCondition(t, time.Second, "second clip to be marked", func() bool { return sink.pendingMarks() == 1 })
	sink.completeAll()
	if err := <-second; err != nil {
		t.Fatalf("unexpected second play error: %v", err)
	}
}

func TestReplayLastWithoutHistoryIsValidationError(t *testing.T) {
	engine := New(newFakeSink())

	err := engine.ReplayLast(context.Background())
	if !voiceerrors.IsKind(err, voiceerrors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !errors.Is(err, ErrNothingToReplay) {
		t.Fatalf("expected ErrNothingToReplay, got %v", err)
	}
}

func TestReplayLastPlaysPreviousPayload(t *testing.T) {
	sink := newFakeSink()
	sink.autoComplete = true
	engine := New(sink)

	payload := Payload{Data: []byte{1, 0, 2, 0}, MimeType: "audio/l16"}
	if err := engine.Play(context.Background(), payload); err != nil {
		t.Fatalf("unexpected play error: %v", err)
	}
	if err := engine.ReplayLast(context.Background()); err != nil {
		t.Fatalf("unexpected replay error: %v", err)
	}

	sent := sink.sentClips()
	if len(sent) != 2 || string(sent[0]) != string(sent[1]) {
		t.Fatalf("expected the same clip twice, got %v", sent)
	}
}

func TestDecodeFailureIsAudioError(t *testing.T) {
	engine := New(newFakeSink())

	err := engine.Play(context.Background(), Payload{Data: []byte("not audio"), MimeType: "video/mp4"})
	if !voiceerrors.IsKind(err, voiceerrors.KindAudio) {
		t.Fatalf("expected audio error, got %v", err)
	}
	if engine.State() != StateIdle {
		t.Fatalf("expected idle, got %v", engine.State())
	}
	if _, ok := engine.Last(); ok {
		t.Fatal("expected undecodable payload not to become replayable")
	}
}

func TestSinkFailureIsAudioError(t *testing.T) {
	sink := newFakeSink()
	sink.sendErr = errors.New("device unplugged")
	engine := New(sink)

	err := engine.Play(context.Background(), Payload{Data: make([]byte, 4), MimeType: "audio/l16"})
	if !voiceerrors.IsKind(err, voiceerrors.KindAudio) {
		t.Fatalf("expected audio error, got %v", err)
	}
}

func TestStopInterruptsAndIsSafeWhenIdle(t *testing.T) {
	sink := newFakeSink()
	engine := New(sink)
	engine.Stop()

	done := make(chan error, 1)
	go func() {
		done <- engine.Play(context.Background(), Payload{Data: make([]byte, 320), MimeType: "audio/l16"})
	}()
	waitForCondition(t, time.Second, "clip to start", func() bool { return sink.pendingMarks() == 1 })

	engine.Stop()
	if err := <-done; !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if engine.State() != StateIdle {
		t.Fatalf("expected idle, got %v", engine.State())
	}
}

func TestDecodeResamplesWAV(t *testing.T) {
	wav := audio.EncodeWAV(make([]byte, 1600), 8000)

	out, err := Decode(Payload{Data: wav}, audio.GetDefaultEncodingInfo())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3200 {
		t.Fatalf("expected 8kHz audio to double in length at 16kHz, got %d bytes", len(out))
	}
}

func TestDecodeMulawAndRateParameter(t *testing.T) {
	target := audio.GetDefaultEncodingInfo()

	mulaw, err := Decode(Payload{Data: make([]byte, 80), MimeType: "audio/basic"}, target)
	if err != nil {
		t.Fatalf("unexpected mulaw error: %v", err)
	}
	if len(mulaw) != 320 {
		t.Fatalf("expected 160 samples at 16kHz, got %d bytes", len(mulaw))
	}

	raw, err := Decode(Payload{Data: make([]byte, 160), MimeType: "audio/L16; rate=8000"}, target)
	if err != nil {
		t.Fatalf("unexpected l16 error: %v", err)
	}
	if len(raw) != 320 {
		t.Fatalf("expected rate parameter to be honoured, got %d bytes", len(raw))
	}
}

type fakeSink struct {
	sendErr      error
	autoComplete bool

	mu        sync.Mutex
	sent      [][]byte
	marks     []fakeMark
	clearings int
}

type fakeMark struct {
	name     string
	callback func(string)
}

func newFakeSink() *fakeSink { return &fakeSink{} }

func (s *fakeSink) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (s *fakeSink) SendAudio(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *fakeSink) ClearBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearings++
	s.marks = nil
}

func (s *fakeSink) Mark(name string, callback func(string)) error {
	s.mu.Lock()
	if s.autoComplete {
		s.mu.Unlock()
		go callback(name)
		return nil
	}
	defer s.mu.Unlock()
	s.marks = append(s.marks, fakeMark{name: name, callback: callback})
	return nil
}

func (s *fakeSink) completeAll() {
	s.mu.Lock()
	marks := s.marks
	s.marks = nil
	s.mu.Unlock()
	for _, mark := range marks {
		mark.callback(mark.name)
	}
}

func (s *fakeSink) pendingMarks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marks)
}

func (s *fakeSink) clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearings
}

func (s *fakeSink) sentClips() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}
