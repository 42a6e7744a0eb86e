package capture

import (
	"context"
	"errors"

	"github.com/koscakluka/ema-kiosk/core/audio"
)

var (
	// ErrDeviceBusy is returned when the device is already open or is in the
	// middle of being opened or released.
	ErrDeviceBusy = errors.New("capture device is busy")
	// ErrPermissionDenied is returned by Probe when microphone access was
	// refused.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrUnsupported is returned by Probe when the environment cannot capture
	// audio at all.
	ErrUnsupported = errors.New("audio capture is not supported")
	ErrDestroyed   = errors.New("capture pipeline destroyed")
)

// Device is a microphone. Open starts delivering frames to onFrame from a
// device goroutine until Close returns.
type Device interface {
	EncodingInfo() audio.EncodingInfo
	Probe(ctx context.Context) error
	Open(onFrame func([]byte)) error
	Close() error
}
