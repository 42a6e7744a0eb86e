package orchestration

import (
	"context"
	"errors"
	"sync"

	"github.com/koscakluka/ema-kiosk/core/capture"
	"github.com/koscakluka/ema-kiosk/core/playback"
	"github.com/koscakluka/ema-kiosk/core/protocol"
	"github.com/koscakluka/ema-kiosk/core/vad"
	"github.com/koscakluka/ema-kiosk/core/voicesocket"
)

// session owns the resources of one visitor conversation. capture, detector
// and player are nil when the kiosk has no microphone or speaker.
type session struct {
	id string

	socket   Socket
	capture  *capture.Pipeline
	detector *vad.Detector
	player   *playback.Engine

	ctx    context.Context
	cancel context.CancelFunc

	// done is closed when teardown starts so callbacks blocked on the
	// runtime queue give up instead of holding device threads.
	done      chan struct{}
	closeOnce sync.Once

	armed bool
	// disarmed is closed when voice detection stops, so speech edges blocked
	// on the queue let go of the device thread before the microphone closes.
	armMu    sync.Mutex
	disarmed chan struct{}
}

func (o *Orchestrator) newSession(sessionID string) (*session, error) {
	sess := &session{id: sessionID, done: make(chan struct{})}
	sess.ctx, sess.cancel = context.WithCancel(context.Background())

	sess.socket = o.newSocket(sessionID, func(change voicesocket.StateChange) {
		o.post(sess, connectionChanged{change: change})
	})
	sess.socket.HandleAny(func(msg protocol.Inbound) {
		o.post(sess, inboundMessage{msg: msg})
	})

	if o.captureDevice != nil {
		sess.capture = capture.NewPipeline(o.captureDevice,
			capture.WithMaxUtterance(o.maxUtterance),
			capture.WithLimitHandler(func() { o.post(sess, utteranceLimitReached{}) }),
		)

		detector, err := vad.New(o.vadConfig, o.readingForwarder(sess))
		if err != nil {
			sess.cancel()
			return nil, err
		}
		if err := detector.Initialize(sess.capture); err != nil {
			sess.cancel()
			return nil, err
		}
		sess.detector = detector
	}

	if o.sink != nil {
		sess.player = playback.New(o.sink)
	}

	return sess, nil
}

// readingForwarder queues speech edges unconditionally and drops level-only
// readings when the runtime is busy.
func (o *Orchestrator) readingForwarder(sess *session) func(vad.Reading) {
	var lastActive bool
	return func(reading vad.Reading) {
		if reading.IsActive != lastActive {
			lastActive = reading.IsActive
			o.postUntil(sess, sess.disarmedCh(), vadReading{reading: reading})
			return
		}
		o.tryPost(sess, vadReading{reading: reading})
	}
}

func (s *session) beginArm() {
	s.armMu.Lock()
	defer s.armMu.Unlock()
	s.disarmed = make(chan struct{})
}

func (s *session) endArm() {
	s.armMu.Lock()
	defer s.armMu.Unlock()
	if s.disarmed != nil {
		close(s.disarmed)
		s.disarmed = nil
	}
}

func (s *session) disarmedCh() <-chan struct{} {
	s.armMu.Lock()
	defer s.armMu.Unlock()
	return s.disarmed
}

func (s *session) voiceCapable() bool {
	return s != nil && s.capture != nil && s.detector != nil
}

// teardown releases everything the session holds: the reconnect loop and
// socket first, then playback, capture and finally voice activity detection.
// Every release runs even if an earlier one fails or panics.
func (s *session) teardown() error {
	if s == nil {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()

		err = errors.Join(
			panicSafeRelease("socket", func() error {
				s.socket.Disconnect()
				return nil
			}),
			panicSafeRelease("playback", func() error {
				if s.player != nil {
					s.player.Stop()
				}
				return nil
			}),
			panicSafeRelease("capture", func() error {
				if s.capture == nil {
					return nil
				}
				return s.capture.Destroy()
			}),
			panicSafeRelease("vad", func() error {
				if s.detector != nil {
					s.detector.Stop()
				}
				return nil
			}),
		)
	})
	return err
}
