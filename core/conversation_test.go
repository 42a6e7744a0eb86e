package orchestration

import (
	"testing"
	"time"

	"github.com/koscakluka/ema-kiosk/core/playback"
)

func TestConversationLogDropsRepeats(t *testing.T) {
	log := newConversationLog()
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	first, added := log.Append(SpeakerAI, "Welcome", at, nil)
	if !added || first.ID == "" {
		t.Fatalf("expected first message to be added with an id")
	}
	if _, added := log.Append(SpeakerAI, "Welcome", at, nil); added {
		t.Fatalf("expected repeated message to be dropped")
	}
	if _, added := log.Append(SpeakerVisitor, "Welcome", at, nil); !added {
		t.Fatalf("expected the same text from another speaker to be kept")
	}
	if _, added := log.Append(SpeakerAI, "Welcome", at.Add(time.Second), nil); !added {
		t.Fatalf("expected a later repeat to be kept")
	}
	if got := log.Len(); got != 3 {
		t.Fatalf("expected 3 messages, got %d", got)
	}
}

func TestConversationLogStampsUntimedMessages(t *testing.T) {
	log := newConversationLog()

	msg, _ := log.Append(SpeakerVisitor, "hello", time.Time{}, nil)
	if msg.Timestamp.IsZero() {
		t.Fatalf("expected a timestamp")
	}
}

func TestConversationLogSnapshotIsACopy(t *testing.T) {
	log := newConversationLog()
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	log.Append(SpeakerAI, "Welcome", at, &playback.Payload{Data: []byte{1, 2, 3}, MimeType: "audio/l16"})

	snapshot := log.Snapshot()
	snapshot[0].Content = "changed"
	snapshot[0].Audio.Data[0] = 9

	again := log.Snapshot()
	if again[0].Content != "Welcome" || again[0].Audio.Data[0] != 1 {
		t.Fatalf("expected history to be unaffected by snapshot edits, got %+v", again[0])
	}
	if !again[0].Timestamp.Equal(at) {
		t.Fatalf("expected timestamp to survive copying, got %s", again[0].Timestamp)
	}
}

func TestConversationLogReset(t *testing.T) {
	log := newConversationLog()
	at := time.Now()
	log.Append(SpeakerAI, "Welcome", at, nil)
	log.Reset()

	if log.Len() != 0 {
		t.Fatalf("expected empty log")
	}
	if _, added := log.Append(SpeakerAI, "Welcome", at, nil); !added {
		t.Fatalf("expected reset to forget seen messages")
	}
}
