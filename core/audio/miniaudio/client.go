// Package miniaudio drives the kiosk microphone and speaker through malgo.
//
// The speaker is opened for the lifetime of the client. The microphone is
// only initialised between Open and Close so the hardware indicator is off
// whenever nothing holds the capture device.
package miniaudio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/capture"
)

type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	encoding     audio.EncodingInfo

	playback *playbackClient
	capture  *captureClient
}

type ClientOption func(*Client)

func WithSampleRate(sampleRate int) ClientOption {
	return func(c *Client) {
		if sampleRate > 0 {
			c.encoding.SampleRate = sampleRate
		}
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo InitContext failed: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
		encoding:     audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&client)
	}
	client.playback = &playbackClient{}
	client.capture = &captureClient{}

	if err := client.playback.Init(audioCtx, client.encoding); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}
	if err := client.playback.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	return &client, nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}

// Probe checks that a capture device exists.
func (c *Client) Probe(_ context.Context) error {
	devices, err := c.Devices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return fmt.Errorf("no capture device found: %w", capture.ErrUnsupported)
	}
	return nil
}

// Devices lists the names of the available capture devices.
func (c *Client) Devices() ([]string, error) {
	infos, err := c.audioContext.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	names := make([]string, 0, len(infos))
	for i := range infos {
		name := infos[i].Name()
		if infos[i].IsDefault != 0 {
			name += " (default)"
		}
		names = append(names, name)
	}
	return names, nil
}

func (c *Client) Open(onFrame func([]byte)) error {
	return c.capture.Open(c.audioContext, c.encoding, onFrame)
}

func (c *Client) Close() error {
	var errs []error
	if c.capture != nil {
		errs = append(errs, c.capture.Close())
	}
	if c.playback != nil {
		errs = append(errs, c.playback.Uninit())
	}
	if c.audioContext != nil {
		errs = append(errs, c.audioContext.Uninit())
		c.audioContext.Free()
		c.audioContext = nil
	}
	return errors.Join(errs...)
}

// CloseCapture releases the microphone and keeps the speaker open.
func (c *Client) CloseCapture() error {
	return c.capture.Close()
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playback.SendAudio(audio)
}

func (c *Client) ClearBuffer() {
	c.playback.ClearBuffer()
}

func (c *Client) Mark(mark string, callback func(string)) error {
	return c.playback.Mark(mark, callback)
}

// Microphone is the client's capture side as a capture.Device, whose Close
// releases only the microphone.
func (c *Client) Microphone() capture.Device {
	return microphone{c}
}

type microphone struct{ *Client }

func (m microphone) Close() error { return m.Client.CloseCapture() }
