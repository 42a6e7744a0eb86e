// Package protocol defines the kiosk voice socket wire format.
//
// Every text frame is a JSON object tagged by "type". Inbound messages are
// decoded into typed values implementing [Inbound]; outbound commands
// implement [Command]. Utterance audio travels as a single binary frame that
// follows an [EndSpeechWithAudio] command.
package protocol

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// MessageType tags inbound messages.
type MessageType string

const (
	TypeVoiceResponse         MessageType = "voice_response"
	TypeTranscription         MessageType = "transcription"
	TypeVADStatus             MessageType = "vad_status"
	TypeProcessing            MessageType = "processing"
	TypeReady                 MessageType = "ready"
	TypeError                 MessageType = "error"
	TypeConversationCompleted MessageType = "conversation_completed"
	TypePong                  MessageType = "pong"
)

// InboundTypes lists every message type the kiosk understands.
var InboundTypes = []MessageType{
	TypeVoiceResponse,
	TypeTranscription,
	TypeVADStatus,
	TypeProcessing,
	TypeReady,
	TypeError,
	TypeConversationCompleted,
	TypePong,
}

// Inbound is a decoded server message.
type Inbound interface {
	Type() MessageType
}

// VoiceResponse carries one AI turn.
type VoiceResponse struct {
	Text           string         `json:"text" jsonschema:"description=Text of the AI response"`
	Audio          string         `json:"audio,omitempty" jsonschema:"description=Base64 encoded response audio, optionally as a data URL"`
	AudioFormat    string         `json:"audio_format,omitempty" jsonschema:"description=MIME type of the audio when it is not a data URL"`
	Step           string         `json:"step,omitempty" jsonschema:"description=Conversation step reached by the backend"`
	VisitorInfo    map[string]any `json:"visitor_info,omitempty"`
	CalendarResult map[string]any `json:"calendar_result,omitempty"`
	Completed      bool           `json:"completed" jsonschema:"description=True when this is the final response of the conversation"`
	Timestamp      *time.Time     `json:"timestamp,omitempty"`
}

func (VoiceResponse) Type() MessageType { return TypeVoiceResponse }

// HasAudio reports whether the response carries an audio payload.
func (r VoiceResponse) HasAudio() bool { return strings.TrimSpace(r.Audio) != "" }

// DecodeAudio decodes the base64 audio payload and its MIME type. Data URLs
// ("data:audio/mpeg;base64,...") take their MIME type from the prefix.
func (r VoiceResponse) DecodeAudio() ([]byte, string, error) {
	encoded := strings.TrimSpace(r.Audio)
	mimeType := r.AudioFormat
	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		header, data, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("malformed data url")
		}
		mediaType, _, _ := strings.Cut(header, ";")
		if mediaType != "" {
			mimeType = mediaType
		}
		encoded = data
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode response audio: %w", err)
	}
	return decoded, mimeType, nil
}

// Transcription is the backend's transcript of the visitor's utterance.
type Transcription struct {
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (Transcription) Type() MessageType { return TypeTranscription }

// VADStatus is server-side voice activity telemetry.
type VADStatus struct {
	IsSpeech    bool    `json:"is_speech"`
	EnergyLevel float64 `json:"energy_level"`
	Confidence  float64 `json:"confidence"`
}

func (VADStatus) Type() MessageType { return TypeVADStatus }

type Processing struct{}

func (Processing) Type() MessageType { return TypeProcessing }

type Ready struct{}

func (Ready) Type() MessageType { return TypeReady }

// ErrorMessage is a backend-reported failure. Older backends fill Message
// instead of Error.
type ErrorMessage struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (ErrorMessage) Type() MessageType { return TypeError }

// Text returns whichever description the backend provided.
func (m ErrorMessage) Text() string {
	if m.Error != "" {
		return m.Error
	}
	if m.Message != "" {
		return m.Message
	}
	return "unknown backend error"
}

type ConversationCompleted struct{}

func (ConversationCompleted) Type() MessageType { return TypeConversationCompleted }

type Pong struct{}

func (Pong) Type() MessageType { return TypePong }

// Unknown holds a message whose type the kiosk does not understand.
type Unknown struct {
	Kind MessageType
	Raw  []byte
}

func (u Unknown) Type() MessageType { return u.Kind }
