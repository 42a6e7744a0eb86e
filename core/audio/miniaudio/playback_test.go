package miniaudio

import (
	"sync"
	"testing"
	"time"
)

func TestMarksFireOnceAudioBeforeThemIsPlayed(t *testing.T) {
	client := &playbackClient{}
	client.leftoverAudio = make([]byte, 300)

	var mu sync.Mutex
	var fired []string
	record := func(name string) {
		mu.Lock()
		fired = append(fired, name)
		mu.Unlock()
	}
	if err := client.Mark("first", record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	process := client.processAudio(2)
	out := make([]byte, 200)
	process(out, nil, 100)

	mu.Lock()
	if len(fired) != 0 {
		mu.Unlock()
		t.Fatalf("expected mark to wait for remaining audio, fired %v", fired)
	}
	mu.Unlock()

	process(out, nil, 100)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1 && fired[0] == "first"
	})
}

func TestClearBufferDropsAudioAndMarks(t *testing.T) {
	client := &playbackClient{}
	client.leftoverAudio = []byte{1, 2, 3, 4}
	client.Mark("never", func(string) { t.Error("cleared mark must not fire") })

	client.ClearBuffer()

	out := []byte{9, 9, 9, 9}
	client.processAudio(2)(out, nil, 2)
	for _, b := range out {
		if b != 0 {
			t.Fatalf("expected silence after clear, got %v", out)
		}
	}
	time.Sleep(20 * time.Millisecond)
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
