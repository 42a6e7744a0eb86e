package events

import "time"

const KindMessageAppended Kind = "message_log.appended"

type MessageAppended struct {
	Base
	ID       string
	Speaker  string
	Content  string
	Sent     time.Time
	HasAudio bool
}

func NewMessageAppended(id, speaker, content string, sent time.Time, hasAudio bool) MessageAppended {
	return MessageAppended{
		Base:     NewBase(KindMessageAppended),
		ID:       id,
		Speaker:  speaker,
		Content:  content,
		Sent:     sent,
		HasAudio: hasAudio,
	}
}
