package events

const (
	KindAssistantResponse Kind = "assistant_response.received"
	KindPlaybackStarted   Kind = "assistant_playback.started"
	KindPlaybackEnded     Kind = "assistant_playback.ended"
)

type AssistantResponse struct {
	Base
	Text      string
	Step      string
	Completed bool
	HasAudio  bool
}

func NewAssistantResponse(text, step string, completed, hasAudio bool) AssistantResponse {
	return AssistantResponse{
		Base:      NewBase(KindAssistantResponse),
		Text:      text,
		Step:      step,
		Completed: completed,
		HasAudio:  hasAudio,
	}
}

type PlaybackStarted struct {
	Base
	Replay bool
}

func NewPlaybackStarted(replay bool) PlaybackStarted {
	return PlaybackStarted{Base: NewBase(KindPlaybackStarted), Replay: replay}
}

// PlaybackEnded is emitted for every started clip. Err is set when the clip
// did not play to completion.
type PlaybackEnded struct {
	Base
	Err error
}

func NewPlaybackEnded(err error) PlaybackEnded {
	return PlaybackEnded{Base: NewBase(KindPlaybackEnded), Err: err}
}
