package capture

import (
	"fmt"
	"time"

	"github.com/koscakluka/ema-kiosk/core/audio"
)

const WAVMimeType = "audio/wav"

// Recording is one utterance materialised for transmission.
type Recording struct {
	Data     []byte
	Encoding audio.EncodingInfo
	Duration time.Duration
}

// WAV wraps the recording in a WAV container.
func (r *Recording) WAV() ([]byte, error) {
	if r.Encoding.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("cannot wrap %s audio in wav", r.Encoding.Format.Name())
	}
	return audio.EncodeWAV(r.Data, r.Encoding.SampleRate), nil
}

// Chunk is a slice of the recording delivered while it is in progress.
type Chunk struct {
	Data     []byte
	Offset   time.Duration
	Duration time.Duration
}
