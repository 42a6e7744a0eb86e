package orchestration

import (
	"context"

	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var errorsRaised, _ = meter.Int64Counter("orchestration.errors")

// raise stores err as the latest error of its class. Connection errors and
// repeated audio errors also fail the conversation.
func (o *Orchestrator) raise(err error) *voiceerrors.Error {
	verr, ok := voiceerrors.As(err)
	if !ok {
		verr = &voiceerrors.Error{Kind: voiceerrors.KindAudio, Code: "unexpected", Message: err.Error(), Err: err}
	}

	o.errs[verr.Kind] = verr
	logger.Warn("voice error", "kind", verr.Kind, "code", verr.Code, "error", err)
	errorsRaised.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(verr.Kind))))
	o.emit(events.NewErrorRaised(string(verr.Kind), verr.Code, verr.Error()))

	switch verr.Kind {
	case voiceerrors.KindConnection:
		o.fail(verr)
	case voiceerrors.KindAudio:
		o.audioFailures++
		if o.audioFailures >= o.maxAudioFailures {
			o.fail(verr)
		}
	}
	return verr
}

// reject surfaces a refused request. The state is left untouched.
func (o *Orchestrator) reject(code, message string) error {
	return o.raise(voiceerrors.New(voiceerrors.KindValidation, code, message))
}

func (o *Orchestrator) clearError(kind voiceerrors.Kind) {
	if kind == voiceerrors.KindAudio {
		o.audioFailures = 0
	}
	if _, ok := o.errs[kind]; !ok {
		return
	}
	delete(o.errs, kind)
	o.emit(events.NewErrorCleared(string(kind)))
}

// fail stops capture and playback and moves to the error-visible state.
func (o *Orchestrator) fail(verr *voiceerrors.Error) {
	if _, ok := o.state.(FailedState); ok {
		return
	}

	prev := o.state
	o.discardRecording()
	o.disarm()
	o.stopPlayback()
	o.pending = nil

	o.setState(FailedState{
		Previous: prev.Phase(),
		Mode:     prev.InputMode(),
		Conn:     o.connection(),
		Err:      verr,
	})
}
