package orchestration

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-kiosk/core/playback"
)

type Speaker string

const (
	SpeakerVisitor Speaker = "visitor"
	SpeakerAI      Speaker = "ai"
)

// Message is one entry of the on-screen conversation.
type Message struct {
	ID        string
	Speaker   Speaker
	Content   string
	Timestamp time.Time
	// Audio is the playable clip that came with an AI message, if any.
	Audio *playback.Payload
}

type messageKey struct {
	speaker   Speaker
	content   string
	timestamp int64
}

// conversationLog is the append-only message history of one session. The
// backend may repeat a message after a reconnect; those are dropped by
// speaker, content and timestamp.
type conversationLog struct {
	mu sync.RWMutex

	messages []Message
	seen     map[messageKey]struct{}
}

func newConversationLog() *conversationLog {
	return &conversationLog{seen: map[messageKey]struct{}{}}
}

// Append adds a message and reports whether it was new. A zero timestamp is
// replaced with the current time, which also disables deduplication for
// messages the backend did not timestamp.
func (l *conversationLog) Append(speaker Speaker, content string, timestamp time.Time, audio *playback.Payload) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	key := messageKey{speaker: speaker, content: content, timestamp: timestamp.UnixNano()}
	if _, ok := l.seen[key]; ok {
		return Message{}, false
	}
	l.seen[key] = struct{}{}

	msg := Message{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Content:   content,
		Timestamp: timestamp,
		Audio:     audio,
	}
	l.messages = append(l.messages, msg)
	return msg, true
}

func (l *conversationLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Snapshot returns a deep copy of the history; callers may keep or modify it
// freely.
func (l *conversationLog) Snapshot() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyMessages(l.messages)
}

func copyMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}

	copied := []Message{}
	if err := copier.Copy(&copied, &messages); err != nil || len(copied) != len(messages) {
		logger.Warn("failed to copy conversation history", "error", err)
		copied = make([]Message, len(messages))
		copy(copied, messages)
	}
	for i := range copied {
		if audio := copied[i].Audio; audio != nil {
			copied[i].Audio = &playback.Payload{
				Data:     append([]byte(nil), audio.Data...),
				MimeType: audio.MimeType,
			}
		}
	}
	return copied
}

func (l *conversationLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = nil
	l.seen = map[messageKey]struct{}{}
}
