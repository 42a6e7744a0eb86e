package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-kiosk/core/capture"
	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/playback"
	"github.com/koscakluka/ema-kiosk/core/protocol"
	"github.com/koscakluka/ema-kiosk/core/sessions"
	"github.com/koscakluka/ema-kiosk/core/vad"
	"github.com/koscakluka/ema-kiosk/core/voicesocket"
)

const (
	DefaultCompletionResetDelay = 10 * time.Second
	DefaultMaxAudioFailures     = 3
)

type OrchestratorOption func(*Orchestrator)

// Socket is the session's link to the conversation backend.
// *voicesocket.Client implements it.
type Socket interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() voicesocket.ConnectionState
	HandleAny(handler voicesocket.Handler)
	SendCommand(cmd protocol.Command) error
	SendUtterance(audio []byte, mimeType string) error
}

// SocketFactory builds the socket for a freshly issued session. onState must
// receive every connection state change.
type SocketFactory func(sessionID string, onState func(voicesocket.StateChange)) Socket

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

// EventHandler observes orchestrator events. It runs on the orchestrator's
// runtime goroutine and must not call back into blocking orchestrator
// methods.
type EventHandler func(events.Event)

func WithSocketConfig(cfg voicesocket.Config) OrchestratorOption {
	return func(o *Orchestrator) {
		o.socketConfig = cfg
	}
}

func WithSocketFactory(factory SocketFactory) OrchestratorOption {
	return func(o *Orchestrator) {
		o.newSocket = factory
	}
}

func WithSessionIssuer(issuer sessions.Issuer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.issuer = issuer
	}
}

// WithCaptureDevice enables voice input. Without a device the kiosk only
// accepts text.
func WithCaptureDevice(device capture.Device) OrchestratorOption {
	return func(o *Orchestrator) {
		o.captureDevice = device
	}
}

// WithPlaybackSink enables spoken responses. Without a sink responses are
// shown as text only.
func WithPlaybackSink(sink playback.Sink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

func WithVADConfig(cfg vad.Config) OrchestratorOption {
	return func(o *Orchestrator) {
		o.vadConfig = cfg
	}
}

func WithMaxUtterance(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.maxUtterance = d
		}
	}
}

// WithCompletionResetDelay sets how long a completed conversation stays on
// screen before the kiosk resets for the next visitor.
func WithCompletionResetDelay(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.completionResetDelay = d
		}
	}
}

func WithAfterFunc(after AfterFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		if after != nil {
			o.afterFunc = after
		}
	}
}

// WithMaxAudioFailures sets how many consecutive audio failures are tolerated
// before the conversation is moved to the failed state.
func WithMaxAudioFailures(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAudioFailures = n
		}
	}
}

func WithEventHandler(handler EventHandler) OrchestratorOption {
	return func(o *Orchestrator) {
		o.eventHandler = handler
	}
}

func defaultSocketFactory(cfg voicesocket.Config) SocketFactory {
	return func(sessionID string, onState func(voicesocket.StateChange)) Socket {
		cfg := cfg
		cfg.SessionID = sessionID
		return voicesocket.New(cfg, voicesocket.WithStateHandler(onState))
	}
}
