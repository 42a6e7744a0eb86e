package main

import (
	"fmt"

	"github.com/koscakluka/ema-kiosk/core/audio/miniaudio"
	"github.com/koscakluka/ema-kiosk/core/audio/portaudio"
	"github.com/koscakluka/ema-kiosk/core/capture"
	"github.com/koscakluka/ema-kiosk/core/playback"
	"github.com/koscakluka/ema-kiosk/internal/config"
)

// audioBackend is the speaker and microphone of one audio library.
type audioBackend interface {
	playback.Sink
	Microphone() capture.Device
	Devices() ([]string, error)
	Close() error
}

func openBackend(cfg config.AudioConfig) (audioBackend, error) {
	switch cfg.Backend {
	case config.BackendPortaudio:
		client, err := portaudio.NewClient(cfg.FramesPerBuffer)
		if err != nil {
			return nil, fmt.Errorf("open portaudio: %w", err)
		}
		return client, nil
	default:
		client, err := miniaudio.NewClient(miniaudio.WithSampleRate(cfg.SampleRate))
		if err != nil {
			return nil, fmt.Errorf("open miniaudio: %w", err)
		}
		return client, nil
	}
}
