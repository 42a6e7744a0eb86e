package playback

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/zaf/g711"
)

const (
	wavFormatPCM   = 1
	wavFormatALaw  = 6
	wavFormatMulaw = 7

	g711SampleRate = 8000
)

// Payload is an encoded audio clip as received from the backend.
type Payload struct {
	Data     []byte
	MimeType string
}

// pcm is decoded mono 16-bit audio.
type pcm struct {
	samples    []int16
	sampleRate int
}

// Decode converts payload into the sink's encoding. The container is taken
// from the MIME type and, when that is missing or generic, sniffed from the
// data.
func Decode(payload Payload, target audio.EncodingInfo) ([]byte, error) {
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}

	decoded, err := decodePCM(payload, target.SampleRate)
	if err != nil {
		return nil, err
	}

	samples := audio.Resample(decoded.samples, decoded.sampleRate, target.SampleRate)
	linear := audio.PCM(samples)

	switch target.Format {
	case audio.EncodingLinear16:
		return linear, nil
	case audio.EncodingMulaw:
		return g711.EncodeUlaw(linear), nil
	case audio.EncodingALaw:
		return g711.EncodeAlaw(linear), nil
	default:
		return nil, fmt.Errorf("unsupported sink encoding %q", target.Format.Name())
	}
}

func decodePCM(payload Payload, defaultRate int) (pcm, error) {
	mediaType, params, _ := mime.ParseMediaType(payload.MimeType)
	mediaType = strings.ToLower(mediaType)

	switch {
	case audio.IsWAV(payload.Data):
		return decodeWAV(payload.Data)
	case isMP3(mediaType, payload.Data):
		return decodeMP3(payload.Data)
	}

	switch mediaType {
	case "audio/basic", "audio/pcmu", "audio/x-mulaw", "audio/mulaw":
		return pcm{samples: audio.Samples(g711.DecodeUlaw(payload.Data)), sampleRate: rateParam(params, g711SampleRate)}, nil
	case "audio/pcma", "audio/x-alaw", "audio/alaw":
		return pcm{samples: audio.Samples(g711.DecodeAlaw(payload.Data)), sampleRate: rateParam(params, g711SampleRate)}, nil
	case "audio/l16", "audio/pcm", "audio/raw", "":
		return pcm{samples: audio.Samples(payload.Data), sampleRate: rateParam(params, defaultRate)}, nil
	case "audio/wav", "audio/x-wav", "audio/wave":
		return pcm{}, fmt.Errorf("malformed wav payload: %w", audio.ErrNotWAV)
	default:
		return pcm{}, fmt.Errorf("unsupported audio type %q", payload.MimeType)
	}
}

func rateParam(params map[string]string, fallback int) int {
	if rate, err := strconv.Atoi(params["rate"]); err == nil && rate > 0 {
		return rate
	}
	return fallback
}

func decodeWAV(data []byte) (pcm, error) {
	info, body, err := audio.DecodeWAV(data)
	if err != nil {
		return pcm{}, fmt.Errorf("failed to decode wav: %w", err)
	}

	var linear []byte
	switch {
	case info.AudioFormat == wavFormatPCM && info.BitsPerSample == 16:
		linear = body
	case info.AudioFormat == wavFormatMulaw:
		linear = g711.DecodeUlaw(body)
	case info.AudioFormat == wavFormatALaw:
		linear = g711.DecodeAlaw(body)
	default:
		return pcm{}, fmt.Errorf("unsupported wav format %d with %d bits per sample", info.AudioFormat, info.BitsPerSample)
	}

	return pcm{
		samples:    audio.Downmix(audio.Samples(linear), info.Channels),
		sampleRate: info.SampleRate,
	}, nil
}

func isMP3(mediaType string, data []byte) bool {
	switch mediaType {
	case "audio/mpeg", "audio/mp3", "audio/mpeg3":
		return true
	}
	return bytes.HasPrefix(data, []byte("ID3"))
}

func decodeMP3(data []byte) (pcm, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return pcm{}, fmt.Errorf("failed to decode mp3: %w", err)
	}

	// go-mp3 always produces interleaved 16-bit stereo.
	raw, err := io.ReadAll(decoder)
	if err != nil {
		return pcm{}, fmt.Errorf("failed to read mp3 frames: %w", err)
	}

	return pcm{
		samples:    audio.Downmix(audio.Samples(raw), 2),
		sampleRate: decoder.SampleRate(),
	}, nil
}
