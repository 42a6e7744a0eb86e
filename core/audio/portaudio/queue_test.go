package portaudio

import "testing"

func TestClearDropsQueuedItemsAndMarksGeneration(t *testing.T) {
	q := newPlayQueue()
	q.push(queued{audio: []byte{1, 2}})
	q.push(queued{mark: "end", callback: func(string) {}})

	first, ok := q.pop()
	if !ok {
		t.Fatal("expected an item")
	}
	q.clear()

	if !q.cleared(first.generation) {
		t.Fatal("expected in-flight audio to observe the clear")
	}

	q.push(queued{audio: []byte{3}})
	next, _ := q.pop()
	if next.audio[0] != 3 {
		t.Fatalf("expected queued mark to be dropped, got %+v", next)
	}
	if q.cleared(next.generation) {
		t.Fatal("expected new audio to belong to the current generation")
	}
}

func TestClosedQueueRejectsPushAndUnblocksPop(t *testing.T) {
	q := newPlayQueue()
	q.close()

	if q.push(queued{audio: []byte{1}}) {
		t.Fatal("expected push to fail after close")
	}
	if _, ok := q.pop(); ok {
		t.Fatal("expected pop to report closed queue")
	}
}
