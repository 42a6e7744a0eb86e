package orchestration

import (
	"errors"

	"github.com/koscakluka/ema-kiosk/core/protocol"
	"github.com/koscakluka/ema-kiosk/core/vad"
	"github.com/koscakluka/ema-kiosk/core/voicesocket"
)

const runtimeQueueCapacity = 64

var ErrClosed = errors.New("orchestrator is closed")

// runtimeMessage is anything the runtime goroutine reacts to. Every
// transition of the conversation state happens while handling one.
type runtimeMessage interface {
	isRuntimeMessage()
}

type queueItem struct {
	session *session
	message runtimeMessage
}

type call struct {
	run   func() error
	reply chan error
}

type connectionChanged struct{ change voicesocket.StateChange }

type inboundMessage struct{ msg protocol.Inbound }

type vadReading struct{ reading vad.Reading }

type playbackFinished struct {
	seq    int
	replay bool
	err    error
}

type utteranceLimitReached struct{}

type completionElapsed struct{}

func (call) isRuntimeMessage()                  {}
func (connectionChanged) isRuntimeMessage()     {}
func (inboundMessage) isRuntimeMessage()        {}
func (vadReading) isRuntimeMessage()            {}
func (playbackFinished) isRuntimeMessage()      {}
func (utteranceLimitReached) isRuntimeMessage() {}
func (completionElapsed) isRuntimeMessage()     {}

func (o *Orchestrator) run() {
	defer close(o.done)

	for {
		select {
		case <-o.closeCh:
			return
		case item := <-o.queue:
			if o.isClosed() {
				if c, ok := item.message.(call); ok {
					c.reply <- ErrClosed
				}
				return
			}
			o.process(item)
		}
	}
}

func (o *Orchestrator) process(item queueItem) {
	if c, ok := item.message.(call); ok {
		err := o.safeCall(c.run)
		o.publish()
		c.reply <- err
		return
	}
	defer o.publish()

	// Messages from a session that has been replaced or torn down are stale.
	if item.session == nil || item.session != o.session {
		return
	}

	switch msg := item.message.(type) {
	case connectionChanged:
		o.onConnectionChanged(msg.change)
	case inboundMessage:
		o.onInbound(msg.msg)
	case vadReading:
		o.onReading(msg.reading)
	case playbackFinished:
		o.onPlaybackFinished(msg)
	case utteranceLimitReached:
		o.onUtteranceLimit()
	case completionElapsed:
		o.onCompletionElapsed()
	}
}

func (o *Orchestrator) safeCall(run func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("orchestrator call panicked", "panic", recovered)
			err = errors.New("orchestrator call panicked")
		}
	}()
	return run()
}

// call runs fn on the runtime goroutine and waits for its result. It must
// never be used from the runtime goroutine itself.
func (o *Orchestrator) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case o.queue <- queueItem{message: call{run: fn, reply: reply}}:
	case <-o.closeCh:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-o.done:
		return ErrClosed
	}
}

// post queues a session message, giving up once the session or the
// orchestrator is gone.
func (o *Orchestrator) post(sess *session, msg runtimeMessage) {
	o.postUntil(sess, nil, msg)
}

// postUntil is post that also gives up once cancel is closed.
func (o *Orchestrator) postUntil(sess *session, cancel <-chan struct{}, msg runtimeMessage) {
	select {
	case o.queue <- queueItem{session: sess, message: msg}:
	case <-sess.done:
	case <-o.closeCh:
	case <-cancel:
	}
}

// tryPost queues a session message only if there is room for it.
func (o *Orchestrator) tryPost(sess *session, msg runtimeMessage) {
	select {
	case o.queue <- queueItem{session: sess, message: msg}:
	default:
	}
}

func (o *Orchestrator) isClosed() bool {
	select {
	case <-o.closeCh:
		return true
	default:
		return false
	}
}
