package orchestration

import (
	"context"
	"errors"
	"time"

	"github.com/koscakluka/ema-kiosk/core/capture"
	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/playback"
	"github.com/koscakluka/ema-kiosk/core/protocol"
	"github.com/koscakluka/ema-kiosk/core/vad"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
	"github.com/koscakluka/ema-kiosk/core/voicesocket"
)

var turnsCompleted, _ = meter.Int64Counter("orchestration.turns")

// response is an assistant reply waiting to be presented.
type response struct {
	audio     *playback.Payload
	completed bool
}

func (o *Orchestrator) connection() voicesocket.ConnectionState {
	if o.session == nil {
		return voicesocket.StateDisconnected
	}
	return o.session.socket.State()
}

// recordingAllowed is the single turn-taking guard for opening the
// microphone.
func (o *Orchestrator) recordingAllowed() (code, message string, ok bool) {
	st, active := o.state.(ActiveState)
	switch {
	case !active:
		return "not_active", "the conversation is not accepting voice input", false
	case !o.session.voiceCapable():
		return "no_microphone", "this kiosk has no microphone", false
	case st.Conn != voicesocket.StateConnected:
		return "not_connected", "waiting for the connection to come back", false
	case st.Finishing:
		return "conversation_finishing", "the conversation is ending", false
	case st.Turn == TurnPlaying:
		return "assistant_speaking", "wait for the assistant to finish speaking", false
	case st.Turn == TurnProcessing:
		return "awaiting_response", "waiting for the assistant to respond", false
	}
	return "", "", true
}

func (o *Orchestrator) startRecording() error {
	sess := o.session
	if err := sess.capture.Start(sess.ctx); err != nil {
		return o.raise(err)
	}
	o.audioFailures = 0

	st := o.state.(ActiveState)
	st.Turn = TurnRecording
	st.Mode = InputVoice
	o.setState(st)
	o.emit(events.NewRecordingStarted())
	return nil
}

// finishRecording ends the visitor's turn and sends the utterance.
func (o *Orchestrator) finishRecording() error {
	st, ok := o.state.(ActiveState)
	if !ok || st.Turn != TurnRecording {
		return nil
	}
	sess := o.session

	rec, err := sess.capture.Stop(sess.ctx)
	if err != nil {
		o.backToListening()
		return o.raise(err)
	}
	if rec == nil {
		o.emit(events.NewRecordingStopped(0, 0))
		err := sess.socket.SendCommand(protocol.EndSpeech{})
		o.backToListening()
		if err != nil {
			return o.raise(sendFailed(err))
		}
		return nil
	}
	o.emit(events.NewRecordingStopped(len(rec.Data), rec.Duration))

	wav, err := rec.WAV()
	if err != nil {
		o.backToListening()
		return o.raise(voiceerrors.Wrap(err, voiceerrors.KindAudio, "encode_failed", "could not prepare the recording"))
	}
	if err := sess.socket.SendUtterance(wav, capture.WAVMimeType); err != nil {
		o.backToListening()
		return o.raise(sendFailed(err))
	}

	st = o.state.(ActiveState)
	st.Turn = TurnProcessing
	o.setState(st)
	turnsCompleted.Add(sess.ctx, 1)
	o.presentPending()
	return nil
}

// discardRecording drops an in-progress recording without sending it.
func (o *Orchestrator) discardRecording() {
	st, ok := o.state.(ActiveState)
	if !ok || st.Turn != TurnRecording {
		return
	}

	if _, err := o.session.capture.Stop(o.session.ctx); err != nil {
		logger.Warn("failed to stop discarded recording", "error", err)
	}
	o.emit(events.NewRecordingStopped(0, 0))
	st.Turn = TurnListening
	o.setState(st)
}

// backToListening returns the turn to the visitor and presents any reply
// held back while they were speaking.
func (o *Orchestrator) backToListening() {
	if st, ok := o.state.(ActiveState); ok {
		st.Turn = TurnListening
		o.setState(st)
	}
	o.presentPending()
}

func (o *Orchestrator) presentPending() {
	if o.pending == nil {
		return
	}
	pending := *o.pending
	o.pending = nil
	o.present(pending)
}

func sendFailed(err error) *voiceerrors.Error {
	return &voiceerrors.Error{
		Kind:    voiceerrors.KindProcessing,
		Code:    "send_failed",
		Message: "could not reach the assistant, please try again",
		Err:     err,
	}
}

// arm starts voice activity detection on the monitored microphone.
func (o *Orchestrator) arm() {
	sess := o.session
	if !sess.voiceCapable() || sess.armed {
		return
	}

	if err := sess.capture.Monitor(sess.ctx); err != nil {
		o.raise(err)
		return
	}
	sess.beginArm()
	if err := sess.detector.Start(); err != nil {
		sess.endArm()
		_ = sess.capture.Unmonitor()
		o.raise(err)
		return
	}
	sess.armed = true

	if st, ok := o.state.(ActiveState); ok {
		st.Listening = true
		o.setState(st)
	}
}

func (o *Orchestrator) disarm() {
	sess := o.session
	if sess == nil || !sess.armed {
		return
	}

	sess.endArm()
	sess.detector.Stop()
	if err := sess.capture.Unmonitor(); err != nil {
		logger.Warn("failed to release monitored microphone", "error", err)
	}
	sess.armed = false
	o.level = vad.Reading{}

	if st, ok := o.state.(ActiveState); ok {
		st.Listening = false
		st.SpeechDetected = false
		o.setState(st)
	}
}

func (o *Orchestrator) onReading(reading vad.Reading) {
	prev := o.level
	o.level = reading
	o.emit(events.NewVADLevel(reading.IsActive, reading.Energy, reading.Volume, reading.Confidence))

	st, ok := o.state.(ActiveState)
	if !ok || !st.Listening {
		return
	}

	switch vad.Edge(prev, reading) {
	case vad.TransitionSpeechStart:
		o.emit(events.NewUserSpeechStarted())
		st.SpeechDetected = true
		o.setState(st)
		if _, _, allowed := o.recordingAllowed(); allowed {
			_ = o.startRecording()
		}
	case vad.TransitionSpeechEnd:
		o.emit(events.NewUserSpeechEnded())
		st.SpeechDetected = false
		o.setState(st)
		_ = o.finishRecording()
	}
}

func (o *Orchestrator) onUtteranceLimit() {
	logger.Info("utterance reached its maximum length")
	_ = o.finishRecording()
}

func (o *Orchestrator) onConnectionChanged(change voicesocket.StateChange) {
	o.emit(events.NewConnectionChanged(change.State.String(), change.Attempt))

	switch change.State {
	case voicesocket.StateConnected:
		switch st := o.state.(type) {
		case ConnectingState:
			o.setState(GreetingState{Conn: voicesocket.StateConnected})
		default:
			o.setState(withConnection(st, voicesocket.StateConnected))
		}

	case voicesocket.StateConnecting:
		// Nothing recorded or awaited survives a dropped connection.
		o.discardRecording()
		if st, ok := o.state.(ActiveState); ok && st.Turn == TurnProcessing {
			st.Turn = TurnListening
			o.setState(st)
		}
		o.setState(withConnection(o.state, voicesocket.StateConnecting))

	case voicesocket.StateError:
		if _, ok := o.state.(CompletedState); ok {
			o.setState(withConnection(o.state, voicesocket.StateError))
			return
		}
		err := change.Err
		if err == nil {
			err = errors.New("connection failed")
		}
		o.raise(voiceerrors.Wrap(err, voiceerrors.KindConnection, "connection_failed", "could not reach the assistant"))

	case voicesocket.StateDisconnected:
		switch o.state.(type) {
		case IdleState, CompletedState, FailedState:
			o.setState(withConnection(o.state, voicesocket.StateDisconnected))
		default:
			o.raise(voiceerrors.New(voiceerrors.KindConnection, "connection_closed", "the assistant ended the connection"))
		}
	}
}

func (o *Orchestrator) onInbound(msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.VoiceResponse:
		o.onVoiceResponse(m)

	case protocol.Transcription:
		if _, added := o.appendMessage(SpeakerVisitor, m.Text, timeOf(m.Timestamp), nil); added {
			o.emit(events.NewUserTranscript(m.Text))
		}

	case protocol.VADStatus:
		o.serverVAD = ServerVAD{IsSpeech: m.IsSpeech, EnergyLevel: m.EnergyLevel, Confidence: m.Confidence}

	case protocol.Processing:
		if st, ok := o.state.(ActiveState); ok && st.Turn == TurnListening {
			st.Turn = TurnProcessing
			o.setState(st)
		}

	case protocol.Ready:
		if st, ok := o.state.(ActiveState); ok && st.Turn == TurnProcessing {
			o.backToListening()
		}

	case protocol.ErrorMessage:
		code := m.Code
		if code == "" {
			code = "backend_error"
		}
		o.raise(voiceerrors.New(voiceerrors.KindProcessing, code, m.Text()))
		if st, ok := o.state.(ActiveState); ok && st.Turn == TurnProcessing {
			o.backToListening()
		}

	case protocol.ConversationCompleted:
		o.onConversationCompleted()
	}
}

func (o *Orchestrator) onVoiceResponse(resp protocol.VoiceResponse) {
	var audio *playback.Payload
	if resp.HasAudio() {
		data, mimeType, err := resp.DecodeAudio()
		if err != nil {
			o.raise(voiceerrors.Wrap(err, voiceerrors.KindAudio, "invalid_audio", "the assistant's audio could not be read"))
		} else {
			audio = &playback.Payload{Data: data, MimeType: mimeType}
		}
	}

	if resp.Text != "" || audio != nil {
		if _, added := o.appendMessage(SpeakerAI, resp.Text, timeOf(resp.Timestamp), audio); !added {
			logger.Debug("ignoring repeated assistant message")
			return
		}
	}

	if resp.Step != "" {
		o.step = resp.Step
	}
	if resp.VisitorInfo != nil {
		o.visitorInfo = resp.VisitorInfo
	}
	if resp.CalendarResult != nil {
		o.calendarResult = resp.CalendarResult
	}
	o.emit(events.NewAssistantResponse(resp.Text, resp.Step, resp.Completed, audio != nil))

	o.present(response{audio: audio, completed: resp.Completed})
}

// present plays or holds an assistant reply depending on whose turn it is.
func (o *Orchestrator) present(r response) {
	playable := r.audio != nil && o.session.player != nil

	switch st := o.state.(type) {
	case GreetingState:
		st.Final = st.Final || r.completed
		o.setState(st)
		if playable {
			o.play(*r.audio, false)
			return
		}
		if !st.Playing {
			o.leaveGreeting()
		}

	case ActiveState:
		st.Finishing = st.Finishing || r.completed
		o.setState(st)
		if st.Turn == TurnRecording {
			// Never talk over the visitor; the latest reply waits.
			o.pending = &r
			return
		}
		switch {
		case playable:
			o.play(*r.audio, false)
		case st.Turn == TurnPlaying:
		case st.Finishing:
			o.complete()
		default:
			o.backToListening()
		}

	default:
		logger.Debug("ignoring assistant reply outside of a conversation", "phase", o.state.Phase())
	}
}

func (o *Orchestrator) play(payload playback.Payload, replay bool) {
	sess := o.session
	o.playSeq++
	seq := o.playSeq

	switch st := o.state.(type) {
	case GreetingState:
		st.Playing = true
		o.setState(st)
	case ActiveState:
		st.Turn = TurnPlaying
		o.setState(st)
	}
	o.emit(events.NewPlaybackStarted(replay))

	go func() {
		err := sess.player.Play(sess.ctx, payload)
		o.post(sess, playbackFinished{seq: seq, replay: replay, err: err})
	}()
}

// stopPlayback interrupts whatever is playing. The interrupted clip's
// completion is ignored.
func (o *Orchestrator) stopPlayback() {
	if o.session == nil || o.session.player == nil {
		return
	}
	o.playSeq++
	o.session.player.Stop()

	switch st := o.state.(type) {
	case GreetingState:
		if st.Playing {
			st.Playing = false
			o.setState(st)
			o.emit(events.NewPlaybackEnded(playback.ErrInterrupted))
		}
	case ActiveState:
		if st.Turn == TurnPlaying {
			st.Turn = TurnListening
			o.setState(st)
			o.emit(events.NewPlaybackEnded(playback.ErrInterrupted))
		}
	}
}

func (o *Orchestrator) onPlaybackFinished(msg playbackFinished) {
	if msg.seq != o.playSeq {
		return
	}
	o.emit(events.NewPlaybackEnded(msg.err))

	switch {
	case msg.err == nil:
		o.audioFailures = 0
	case errors.Is(msg.err, playback.ErrInterrupted), errors.Is(msg.err, context.Canceled):
		return
	default:
		o.raise(msg.err)
	}

	switch st := o.state.(type) {
	case GreetingState:
		st.Playing = false
		o.setState(st)
		o.leaveGreeting()
	case ActiveState:
		if st.Turn != TurnPlaying {
			return
		}
		if st.Finishing {
			st.Turn = TurnListening
			o.setState(st)
			o.complete()
			return
		}
		o.backToListening()
	}
}

func (o *Orchestrator) leaveGreeting() {
	st := o.state.(GreetingState)
	if st.Final {
		o.complete()
		return
	}

	o.setState(ActiveState{Mode: InputVoice, Turn: TurnListening, Conn: st.Conn})
	o.arm()
	o.presentPending()
}

func (o *Orchestrator) onConversationCompleted() {
	switch st := o.state.(type) {
	case GreetingState:
		st.Final = true
		o.setState(st)
		if !st.Playing {
			o.complete()
		}
	case ActiveState:
		st.Finishing = true
		o.setState(st)
		switch st.Turn {
		case TurnPlaying:
		case TurnRecording:
			o.discardRecording()
			o.complete()
		default:
			o.complete()
		}
	}
}

// complete ends the conversation and schedules the reset for the next
// visitor.
func (o *Orchestrator) complete() {
	o.discardRecording()
	o.disarm()
	o.stopPlayback()
	o.pending = nil

	o.setState(CompletedState{Conn: o.connection()})
	o.resetAt = time.Now().Add(o.completionResetDelay)

	sess := o.session
	o.stopReset = o.afterFunc(o.completionResetDelay, func() {
		o.post(sess, completionElapsed{})
	})
}

func (o *Orchestrator) onCompletionElapsed() {
	if _, ok := o.state.(CompletedState); ok {
		o.endSession()
	}
}

func (o *Orchestrator) appendMessage(speaker Speaker, content string, at time.Time, audio *playback.Payload) (Message, bool) {
	msg, added := o.log.Append(speaker, content, at, audio)
	if !added {
		return msg, false
	}
	o.messages = o.log.Snapshot()
	o.emit(events.NewMessageAppended(msg.ID, string(msg.Speaker), msg.Content, msg.Timestamp, msg.Audio != nil))
	return msg, true
}

func timeOf(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return *ts
}
