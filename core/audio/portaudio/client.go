// Package portaudio is the PortAudio alternative to the miniaudio backend.
// Playback is written from a single goroutine so marks fire strictly after
// the audio queued before them.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/capture"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-kiosk/core/audio/portaudio"

var logger = otelslog.NewLogger(scopeName)

const DefaultFramesPerBuffer = 320

const (
	readRetryInitial = 10 * time.Millisecond
	readRetryMax     = 500 * time.Millisecond
	maxReadFailures  = 20
)

// readRetryDelay is how long to wait after the n-th consecutive failed read.
// Reading stops once maxReadFailures is reached.
func readRetryDelay(n int) (time.Duration, bool) {
	if n >= maxReadFailures {
		return 0, false
	}
	delay := readRetryInitial
	for i := 1; i < n && delay < readRetryMax; i++ {
		delay *= 2
	}
	return min(delay, readRetryMax), true
}

type Client struct {
	framesPerBuffer int
	encoding        audio.EncodingInfo

	output *portaudio.Stream
	out    []int16
	queue  *playQueue
	done   chan struct{}

	inMu   sync.Mutex
	input  *portaudio.Stream
	in     []int16
	inStop chan struct{}
	inDone chan struct{}
}

func NewClient(framesPerBuffer int) (*Client, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	c := &Client{
		framesPerBuffer: framesPerBuffer,
		encoding:        audio.GetDefaultEncodingInfo(),
		out:             make([]int16, framesPerBuffer),
		queue:           newPlayQueue(),
		done:            make(chan struct{}),
	}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(c.encoding.SampleRate), framesPerBuffer, c.out)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open PortAudio output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start PortAudio output stream: %w", err)
	}
	c.output = stream

	go c.writeLoop()
	return c, nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}

func (c *Client) Probe(_ context.Context) error {
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return fmt.Errorf("no default input device (%v): %w", err, capture.ErrUnsupported)
	}
	return nil
}

// Devices lists the names of devices with input channels.
func (c *Client) Devices() ([]string, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	var names []string
	for _, device := range devices {
		if device.MaxInputChannels > 0 {
			names = append(names, device.Name)
		}
	}
	return names, nil
}

// Open starts reading the default input device.
func (c *Client) Open(onFrame func([]byte)) error {
	c.inMu.Lock()
	defer c.inMu.Unlock()
	if c.input != nil {
		return capture.ErrDeviceBusy
	}

	in := make([]int16, c.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(c.encoding.SampleRate), c.framesPerBuffer, in)
	if err != nil {
		return fmt.Errorf("failed to open PortAudio input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start PortAudio input stream: %w", err)
	}

	c.input, c.in = stream, in
	c.inStop, c.inDone = make(chan struct{}), make(chan struct{})
	go c.readLoop(stream, in, onFrame, c.inStop, c.inDone)
	return nil
}

func (c *Client) readLoop(stream *portaudio.Stream, in []int16, onFrame func([]byte), stop, done chan struct{}) {
	defer close(done)
	failures := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			failures++
			delay, ok := readRetryDelay(failures)
			if !ok {
				logger.Error("giving up on PortAudio input stream", "error", err, "failures", failures)
				return
			}
			if failures == 1 {
				logger.Warn("failed to read from PortAudio stream", "error", err)
			}
			select {
			case <-stop:
				return
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		onFrame(audio.PCM(in))
	}
}

// CloseCapture stops reading the input device and releases it.
func (c *Client) CloseCapture() error {
	c.inMu.Lock()
	defer c.inMu.Unlock()
	if c.input == nil {
		return nil
	}

	close(c.inStop)
	<-c.inDone

	err := errors.Join(c.input.Stop(), c.input.Close())
	c.input = nil
	return err
}

// Microphone is the client's capture side as a capture.Device, whose Close
// releases only the input stream.
func (c *Client) Microphone() capture.Device {
	return microphone{c}
}

type microphone struct{ *Client }

func (m microphone) Close() error { return m.Client.CloseCapture() }

func (c *Client) Close() error {
	captureErr := c.CloseCapture()

	c.queue.close()
	<-c.done

	err := errors.Join(captureErr, c.output.Stop(), c.output.Close(), portaudio.Terminate())
	return err
}

func (c *Client) SendAudio(data []byte) error {
	if !c.queue.push(queued{audio: data}) {
		return fmt.Errorf("playback stream closed")
	}
	return nil
}

// ClearBuffer drops queued audio. Pending marks are dropped without being
// called.
func (c *Client) ClearBuffer() {
	c.queue.clear()
}

func (c *Client) Mark(mark string, callback func(string)) error {
	if !c.queue.push(queued{mark: mark, callback: callback}) {
		return fmt.Errorf("playback stream closed")
	}
	return nil
}

func (c *Client) writeLoop() {
	defer close(c.done)

	bufferBytes := c.framesPerBuffer * 2
	for {
		item, ok := c.queue.pop()
		if !ok {
			return
		}
		if item.callback != nil {
			go item.callback(item.mark)
			continue
		}

		for offset := 0; offset < len(item.audio); offset += bufferBytes {
			if c.queue.cleared(item.generation) {
				break
			}
			end := min(offset+bufferBytes, len(item.audio))
			samples := audio.Samples(item.audio[offset:end])
			n := copy(c.out, samples)
			clear(c.out[n:])
			if err := c.output.Write(); err != nil {
				logger.Warn("failed to write to PortAudio stream", "error", err)
			}
		}
	}
}
