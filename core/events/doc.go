// Package events defines the typed notifications the orchestrator emits to
// the kiosk UI.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - conversation.*
//   - connection.*
//   - user_input.*
//   - assistant_response.*
//   - assistant_playback.*
//   - message_log.*
//   - voice_error.*
//
// conversation events
//
//   - SessionStarted (conversation.session_started): a session token was
//     issued and the socket is being opened.
//   - PhaseChanged (conversation.phase_changed): the conversation moved to a
//     new phase.
//   - SessionEnded (conversation.session_ended): every session resource was
//     released.
//
// connection events
//
//   - ConnectionChanged (connection.changed): the socket changed state;
//     includes the reconnection attempt, if any.
//
// user_input events
//
//   - VADLevel (user_input.vad_level): continuous voice activity telemetry.
//   - UserSpeechStarted (user_input.speech_started): local voice activity
//     began.
//   - UserSpeechEnded (user_input.speech_ended): local voice activity ended.
//   - RecordingStarted (user_input.recording_started): the microphone is
//     recording an utterance.
//   - RecordingStopped (user_input.recording_stopped): the utterance was
//     closed; includes its size and duration.
//   - UserTextSubmitted (user_input.text_submitted): typed input was sent.
//   - UserTranscript (user_input.transcript): the backend transcribed the
//     visitor.
//
// assistant_response events
//
//   - AssistantResponse (assistant_response.received): an AI turn arrived.
//
// assistant_playback events
//
//   - PlaybackStarted (assistant_playback.started): response audio started.
//   - PlaybackEnded (assistant_playback.ended): response audio finished or
//     was interrupted.
//
// message_log events
//
//   - MessageAppended (message_log.appended): a message was added to the log.
//
// voice_error events
//
//   - ErrorRaised (voice_error.raised): the latest error of a class changed.
//   - ErrorCleared (voice_error.cleared): an error class was reset.
package events
