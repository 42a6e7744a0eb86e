package protocol

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestDecodeVoiceResponse(t *testing.T) {
	payload := []byte(`{"type":"voice_response","text":"Welcome!","audio":"` +
		base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) +
		`","step":"greeting","completed":false,"visitor_info":{"name":"Ana"}}`)

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, ok := msg.(VoiceResponse)
	if !ok {
		t.Fatalf("expected VoiceResponse, got %T", msg)
	}
	if resp.Text != "Welcome!" || resp.Step != "greeting" {
		t.Fatalf("unexpected response fields: %+v", resp)
	}
	if resp.VisitorInfo["name"] != "Ana" {
		t.Fatalf("expected visitor info to be decoded, got %v", resp.VisitorInfo)
	}

	audio, _, err := resp.DecodeAudio()
	if err != nil {
		t.Fatalf("unexpected audio error: %v", err)
	}
	if !bytes.Equal(audio, []byte{1, 2, 3}) {
		t.Fatalf("expected decoded audio [1 2 3], got %v", audio)
	}
}

func TestDecodeAudioDataURL(t *testing.T) {
	resp := VoiceResponse{Audio: "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString([]byte("mp3"))}

	audio, mimeType, err := resp.DecodeAudio()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mimeType != "audio/mpeg" {
		t.Fatalf("expected mime type audio/mpeg, got %q", mimeType)
	}
	if string(audio) != "mp3" {
		t.Fatalf("expected payload mp3, got %q", audio)
	}
}

func TestDecodeErrorFallsBackToMessage(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"error","message":"backend overloaded"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	errMsg, ok := msg.(ErrorMessage)
	if !ok {
		t.Fatalf("expected ErrorMessage, got %T", msg)
	}
	if errMsg.Text() != "backend overloaded" {
		t.Fatalf("expected message fallback, got %q", errMsg.Text())
	}
}

func TestDecodeUnknownType(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"telemetry","cpu":3}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unknown, ok := msg.(Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %T", msg)
	}
	if unknown.Type() != "telemetry" {
		t.Fatalf("expected type telemetry, got %q", unknown.Type())
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	for _, frame := range []string{`not json`, `{"text":"no type"}`} {
		if _, err := Decode([]byte(frame)); err == nil {
			t.Fatalf("expected error decoding %q", frame)
		}
	}
}

func TestEncodeFlattensCommand(t *testing.T) {
	data, err := Encode(EndSpeechWithAudio{AudioSize: 320, MimeType: "audio/wav"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var fields map[string]any
	if err := sonic.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if fields["type"] != "end_speech_with_audio" {
		t.Fatalf("expected type end_speech_with_audio, got %v", fields["type"])
	}
	if fields["audio_size"] != float64(320) || fields["mime_type"] != "audio/wav" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestEncodeEmptyCommand(t *testing.T) {
	data, err := Encode(EndSpeech{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"type":"end_speech"`) {
		t.Fatalf("expected end_speech type, got %s", data)
	}
}

func TestSchemaCoversAllMessages(t *testing.T) {
	schemas := Schema()
	for _, kind := range InboundTypes {
		if _, ok := schemas["inbound."+string(kind)]; !ok {
			t.Fatalf("expected schema for inbound %s", kind)
		}
	}
	if _, ok := schemas["outbound.text_input"]; !ok {
		t.Fatal("expected schema for outbound text_input")
	}
}
