package protocol

import (
	"github.com/invopop/jsonschema"
)

// Schema describes every inbound message and outbound command, keyed by its
// wire type.
func Schema() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}

	schemas := map[string]*jsonschema.Schema{}
	for _, msg := range []Inbound{
		VoiceResponse{}, Transcription{}, VADStatus{}, Processing{}, Ready{},
		ErrorMessage{}, ConversationCompleted{}, Pong{},
	} {
		schema := reflector.Reflect(msg)
		schema.Title = string(msg.Type())
		schemas["inbound."+string(msg.Type())] = schema
	}
	for _, cmd := range []Command{EndSpeech{}, EndSpeechWithAudio{}, TextInput{}, Ping{}} {
		schema := reflector.Reflect(cmd)
		schema.Title = string(cmd.Name())
		schemas["outbound."+string(cmd.Name())] = schema
	}
	return schemas
}
