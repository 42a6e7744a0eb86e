// Package orchestration runs a kiosk voice conversation: it connects a
// session to the conversation backend, takes turns between the visitor's
// microphone and the assistant's speaker, and publishes one consistent view
// of the conversation for the screen.
//
// All state transitions happen on a single runtime goroutine. Device
// callbacks, socket messages and API calls are queued to it, so the
// conversation state can never be observed half-updated.
package orchestration

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-kiosk/core/capture"
	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/playback"
	"github.com/koscakluka/ema-kiosk/core/protocol"
	"github.com/koscakluka/ema-kiosk/core/sessions"
	"github.com/koscakluka/ema-kiosk/core/vad"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
	"github.com/koscakluka/ema-kiosk/core/voicesocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Orchestrator struct {
	socketConfig         voicesocket.Config
	newSocket            SocketFactory
	issuer               sessions.Issuer
	captureDevice        capture.Device
	sink                 playback.Sink
	vadConfig            vad.Config
	maxUtterance         time.Duration
	completionResetDelay time.Duration
	afterFunc            AfterFunc
	maxAudioFailures     int
	eventHandler         EventHandler

	// Owned by the runtime goroutine.
	state          State
	session        *session
	log            *conversationLog
	messages       []Message
	errs           map[voiceerrors.Kind]*voiceerrors.Error
	level          vad.Reading
	serverVAD      ServerVAD
	step           string
	visitorInfo    map[string]any
	calendarResult map[string]any
	pending        *response
	playSeq        int
	audioFailures  int
	resetAt        time.Time
	stopReset      func() bool

	snapshotMu sync.RWMutex
	snapshot   Snapshot
	updates    chan Snapshot

	queue     chan queueItem
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewOrchestrator creates an idle orchestrator. Close must be called to
// release it.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		socketConfig:         voicesocket.DefaultConfig(),
		issuer:               sessions.LocalIssuer{},
		vadConfig:            vad.DefaultConfig(),
		maxUtterance:         capture.DefaultMaxUtterance,
		completionResetDelay: DefaultCompletionResetDelay,
		afterFunc:            defaultAfterFunc,
		maxAudioFailures:     DefaultMaxAudioFailures,

		state: IdleState{},
		log:   newConversationLog(),
		errs:  map[voiceerrors.Kind]*voiceerrors.Error{},

		updates: make(chan Snapshot, 1),
		queue:   make(chan queueItem, runtimeQueueCapacity),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}
	if o.newSocket == nil {
		o.newSocket = defaultSocketFactory(o.socketConfig)
	}

	o.snapshot = o.buildSnapshot()
	go o.run()
	return o
}

// Start issues a session and connects it. It returns once the connection
// attempt has finished; the greeting follows asynchronously.
func (o *Orchestrator) Start(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "start conversation")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to start conversation")
		}
	}()

	if err := o.call(o.beginConnecting); err != nil {
		return err
	}

	sessionID, err := o.issuer.Issue(ctx)
	if err != nil {
		o.abortConnecting(err)
		return err
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	sess, err := o.newSession(sessionID)
	if err != nil {
		o.abortConnecting(err)
		return err
	}
	if err := o.call(func() error { return o.install(sess) }); err != nil {
		if teardownErr := sess.teardown(); teardownErr != nil {
			logger.Warn("failed to release abandoned session", "error", teardownErr)
		}
		return err
	}

	if err := sess.socket.Connect(ctx); err != nil {
		_ = o.call(func() error {
			if o.session == sess {
				if _, connecting := o.state.(ConnectingState); connecting {
					verr := o.raise(voiceerrors.Wrap(err, voiceerrors.KindConnection, "connect_failed", "could not reach the assistant"))
					o.fail(verr)
				}
			}
			return nil
		})
		return err
	}
	return nil
}

func (o *Orchestrator) beginConnecting() error {
	if _, ok := o.state.(IdleState); !ok {
		return o.reject("already_started", "a conversation is already in progress")
	}

	o.resetConversation()
	o.setState(ConnectingState{})
	return nil
}

func (o *Orchestrator) abortConnecting(err error) {
	_ = o.call(func() error {
		if _, ok := o.state.(ConnectingState); !ok || o.session != nil {
			return nil
		}
		verr := o.raise(err)
		o.fail(verr)
		return nil
	})
}

func (o *Orchestrator) install(sess *session) error {
	if _, ok := o.state.(ConnectingState); !ok || o.session != nil {
		return voiceerrors.New(voiceerrors.KindValidation, "start_cancelled", "the conversation was ended while starting")
	}

	o.session = sess
	o.setState(ConnectingState{SessionID: sess.id})
	logger.Info("conversation session started", "session", sess.id)
	o.emit(events.NewSessionStarted(sess.id))
	return nil
}

// StartRecording opens the microphone for the visitor's turn. It is refused
// while the assistant is speaking or a reply is awaited.
func (o *Orchestrator) StartRecording() error {
	return o.call(func() error {
		if st, ok := o.state.(ActiveState); ok && st.Turn == TurnRecording {
			return nil
		}
		if code, message, ok := o.recordingAllowed(); !ok {
			return o.reject(code, message)
		}
		return o.startRecording()
	})
}

// StopRecording ends the visitor's turn and sends what was recorded.
func (o *Orchestrator) StopRecording() error {
	return o.call(o.finishRecording)
}

// SubmitText sends typed input. A recording in progress is discarded and
// speech in progress is interrupted.
func (o *Orchestrator) SubmitText(text string) error {
	text = strings.TrimSpace(text)

	return o.call(func() error {
		if text == "" {
			return o.reject("empty_text", "type a message first")
		}
		st, ok := o.state.(ActiveState)
		switch {
		case !ok:
			return o.reject("not_active", "the conversation is not accepting input")
		case st.Conn != voicesocket.StateConnected:
			return o.reject("not_connected", "waiting for the connection to come back")
		case st.Finishing:
			return o.reject("conversation_finishing", "the conversation is ending")
		}

		o.discardRecording()
		o.stopPlayback()
		o.pending = nil

		if err := o.session.socket.SendCommand(protocol.TextInput{Text: text}); err != nil {
			return o.raise(sendFailed(err))
		}

		o.appendMessage(SpeakerVisitor, text, time.Now(), nil)
		st = o.state.(ActiveState)
		st.Mode = InputText
		st.Turn = TurnProcessing
		o.setState(st)
		o.emit(events.NewUserTextSubmitted(text))
		return nil
	})
}

// ReplayLast plays the most recent assistant audio again.
func (o *Orchestrator) ReplayLast() error {
	return o.call(func() error {
		st, ok := o.state.(ActiveState)
		switch {
		case !ok:
			return o.reject("not_active", "there is nothing to replay right now")
		case o.session.player == nil:
			return o.reject("no_speaker", "this kiosk has no speaker")
		case st.Turn == TurnRecording:
			return o.reject("recording", "finish speaking before replaying")
		case st.Turn == TurnProcessing:
			return o.reject("awaiting_response", "waiting for the assistant to respond")
		}

		payload, ok := o.session.player.Last()
		if !ok {
			return o.raise(voiceerrors.Wrap(playback.ErrNothingToReplay, voiceerrors.KindValidation, "nothing_to_replay", "nothing has been said yet"))
		}
		o.play(payload, true)
		return nil
	})
}

// ResetError clears the stored error of kind.
func (o *Orchestrator) ResetError(kind voiceerrors.Kind) {
	_ = o.call(func() error {
		o.clearError(kind)
		return nil
	})
}

// Retry abandons a failed conversation and starts a new one.
func (o *Orchestrator) Retry(ctx context.Context) error {
	err := o.call(func() error {
		switch o.state.(type) {
		case FailedState, IdleState:
			o.endSession()
			return nil
		default:
			return o.reject("nothing_to_retry", "the conversation has not failed")
		}
	})
	if err != nil {
		return err
	}
	return o.Start(ctx)
}

// End tears the current session down and returns to idle.
func (o *Orchestrator) End() {
	_ = o.call(func() error {
		o.endSession()
		return nil
	})
}

// Close ends the conversation and stops the orchestrator.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.End()
		close(o.closeCh)
		<-o.done
	})
}

// Snapshot returns the latest published view of the conversation.
func (o *Orchestrator) Snapshot() Snapshot {
	o.snapshotMu.RLock()
	snap := o.snapshot
	o.snapshotMu.RUnlock()

	snap.Messages = copyMessages(snap.Messages)
	return snap
}

// Updates delivers views as they change. Views nobody read in time are
// replaced by newer ones. Their Messages must be treated as read-only.
func (o *Orchestrator) Updates() <-chan Snapshot {
	return o.updates
}

// endSession tears down the current session and clears the conversation.
func (o *Orchestrator) endSession() {
	if o.stopReset != nil {
		o.stopReset()
		o.stopReset = nil
	}

	sess := o.session
	if sess != nil {
		// The session's devices are released below; nothing may use them
		// through the state afterwards.
		o.discardRecording()
		o.disarm()
		o.stopPlayback()
	}
	o.session = nil
	o.pending = nil
	o.playSeq++

	if sess != nil {
		err := sess.teardown()
		if err != nil {
			logger.Warn("session teardown finished with errors", "session", sess.id, "error", err)
		}
		logger.Info("conversation session ended", "session", sess.id)
		o.emit(events.NewSessionEnded(sess.id, err))
	}

	o.resetConversation()
	o.setState(IdleState{})
}

func (o *Orchestrator) resetConversation() {
	o.log.Reset()
	o.messages = nil
	o.errs = map[voiceerrors.Kind]*voiceerrors.Error{}
	o.level = vad.Reading{}
	o.serverVAD = ServerVAD{}
	o.step = ""
	o.visitorInfo = nil
	o.calendarResult = nil
	o.audioFailures = 0
	o.resetAt = time.Time{}
}
