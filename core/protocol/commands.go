package protocol

// CommandName tags outbound commands.
type CommandName string

const (
	CommandEndSpeech          CommandName = "end_speech"
	CommandEndSpeechWithAudio CommandName = "end_speech_with_audio"
	CommandTextInput          CommandName = "text_input"
	CommandPing               CommandName = "ping"
)

// Command is an outbound control message.
type Command interface {
	Name() CommandName
}

// EndSpeech asks the backend to finalize the current utterance.
type EndSpeech struct{}

func (EndSpeech) Name() CommandName { return CommandEndSpeech }

// EndSpeechWithAudio announces the binary frame that immediately follows it.
type EndSpeechWithAudio struct {
	AudioSize int    `json:"audio_size" jsonschema:"description=Size in bytes of the following binary frame"`
	MimeType  string `json:"mime_type" jsonschema:"description=MIME type of the following binary frame"`
}

func (EndSpeechWithAudio) Name() CommandName { return CommandEndSpeechWithAudio }

// TextInput submits typed visitor input.
type TextInput struct {
	Text string `json:"text"`
}

func (TextInput) Name() CommandName { return CommandTextInput }

// Ping is the heartbeat command.
type Ping struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

func (Ping) Name() CommandName { return CommandPing }
