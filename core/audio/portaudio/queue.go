package portaudio

import "sync"

type queued struct {
	audio      []byte
	mark       string
	callback   func(string)
	generation int
}

// playQueue feeds the write loop. Clearing bumps the generation so audio
// that is already being written stops at the next buffer.
type playQueue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	items      []queued
	generation int
	closed     bool
}

func newPlayQueue() *playQueue {
	q := &playQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *playQueue) push(item queued) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	item.generation = q.generation
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

func (q *playQueue) pop() (queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return queued{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *playQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.generation++
}

func (q *playQueue) cleared(generation int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return generation != q.generation
}

func (q *playQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
