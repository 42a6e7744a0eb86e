// Package playback plays one response clip at a time.
//
// Play blocks until the clip has been heard in full; the sink reports that
// through a mark placed after the audio. A newer Play, or Stop, interrupts
// the clip in progress, whose Play then returns [ErrInterrupted].
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInterrupted     = errors.New("playback interrupted")
	ErrNothingToReplay = errors.New("nothing has been played yet")
)

// Sink is an audio output that can signal when buffered audio has been
// played up to a mark.
type Sink interface {
	EncodingInfo() audio.EncodingInfo
	SendAudio(audio []byte) error
	ClearBuffer()
	Mark(name string, callback func(string)) error
}

type State int

const (
	StateIdle State = iota
	StatePlaying
)

func (s State) String() string {
	if s == StatePlaying {
		return "playing"
	}
	return "idle"
}

type clip struct {
	id   int
	done chan error
}

type Engine struct {
	sink Sink

	mu      sync.Mutex
	current *clip
	nextID  int
	last    *Payload
}

func New(sink Sink) *Engine {
	return &Engine{sink: sink}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		return StatePlaying
	}
	return StateIdle
}

// Last returns the most recently played payload.
func (e *Engine) Last() (Payload, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Payload{}, false
	}
	return *e.last, true
}

// Play decodes and plays payload, returning once it has finished playing.
// A clip that is already playing is stopped first.
func (e *Engine) Play(ctx context.Context, payload Payload) (err error) {
	ctx, span := tracer.Start(ctx, "play audio", trace.WithAttributes(
		attribute.String("playback.mime_type", payload.MimeType),
		attribute.Int("playback.bytes", len(payload.Data)),
	))
	defer span.End()
	defer func() {
		if err != nil && !errors.Is(err, ErrInterrupted) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "playback failed")
		}
	}()

	decoded, err := Decode(payload, e.sink.EncodingInfo())
	if err != nil {
		return voiceerrors.Wrap(err, voiceerrors.KindAudio, "decode_failed", "could not decode the response audio")
	}

	c := e.begin(payload)

	if err := e.sink.SendAudio(decoded); err != nil {
		e.finish(c, voiceerrors.Wrap(fmt.Errorf("failed to send audio to sink: %w", err),
			voiceerrors.KindAudio, "playback_failed", "could not play the response audio"))
	} else if err := e.sink.Mark(fmt.Sprintf("clip-%d", c.id), func(string) { e.finish(c, nil) }); err != nil {
		e.finish(c, voiceerrors.Wrap(fmt.Errorf("failed to mark end of clip: %w", err),
			voiceerrors.KindAudio, "playback_failed", "could not play the response audio"))
	}

	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		e.interrupt(c)
		return ctx.Err()
	}
}

// ReplayLast plays the most recently played payload again.
func (e *Engine) ReplayLast(ctx context.Context) error {
	payload, ok := e.Last()
	if !ok {
		return voiceerrors.Wrap(ErrNothingToReplay, voiceerrors.KindValidation, "nothing_to_replay", "there is no response to replay yet")
	}
	return e.Play(ctx, payload)
}

// Stop halts playback immediately. It is safe to call while idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	c := e.current
	e.mu.Unlock()

	if c != nil {
		e.interrupt(c)
	}
}

func (e *Engine) begin(payload Payload) *clip {
	e.mu.Lock()
	previous := e.current
	e.nextID++
	c := &clip{id: e.nextID, done: make(chan error, 1)}
	e.current = c
	e.last = &payload
	e.mu.Unlock()

	if previous != nil {
		logger.Debug("interrupting playback for newer clip", "previous", previous.id, "next", c.id)
		e.sink.ClearBuffer()
		previous.done <- ErrInterrupted
	}
	return c
}

func (e *Engine) interrupt(c *clip) {
	e.mu.Lock()
	if e.current != c {
		e.mu.Unlock()
		return
	}
	e.current = nil
	e.mu.Unlock()

	e.sink.ClearBuffer()
	c.done <- ErrInterrupted
}

func (e *Engine) finish(c *clip, err error) {
	e.mu.Lock()
	if e.current != c {
		e.mu.Unlock()
		return
	}
	e.current = nil
	e.mu.Unlock()

	c.done <- err
}
