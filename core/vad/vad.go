// Package vad classifies a live audio stream into speech and silence.
//
// The detector only reports its current, debounced state on every frame.
// Speech start and end are edges between consecutive readings; [Edge]
// computes them for callers.
package vad

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
	"github.com/koscakluka/ema-kiosk/internal/utils"
)

var (
	ErrNotInitialized = errors.New("vad has no audio source")
	ErrRunning        = errors.New("vad is already running")
)

// Config is fixed for the lifetime of a detector.
type Config struct {
	// EnergyThreshold is the frame energy, on a 0-255 scale, at or above
	// which a frame counts as speech.
	EnergyThreshold float64
	// SilenceDuration is how long energy has to stay under the threshold
	// before speech is declared over.
	SilenceDuration time.Duration
	// MinSpeechDuration rejects blips shorter than this.
	MinSpeechDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		EnergyThreshold:   30,
		SilenceDuration:   1500 * time.Millisecond,
		MinSpeechDuration: 100 * time.Millisecond,
	}
}

func (c Config) validate() error {
	if c.EnergyThreshold <= 0 || c.EnergyThreshold > 255 {
		return fmt.Errorf("energy threshold %v outside (0, 255]", c.EnergyThreshold)
	}
	if c.SilenceDuration < 0 || c.MinSpeechDuration < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// Reading is the analysis of one frame. Energy is on a 0-255 scale, Volume
// and Confidence are in [0, 1]. At is the stream position at the end of
// the frame.
type Reading struct {
	IsActive   bool
	Energy     float64
	Volume     float64
	Confidence float64
	At         time.Duration
}

type Transition int

const (
	TransitionNone Transition = iota
	TransitionSpeechStart
	TransitionSpeechEnd
)

func (t Transition) String() string {
	switch t {
	case TransitionSpeechStart:
		return "speech_start"
	case TransitionSpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// Edge compares two consecutive readings.
func Edge(prev, next Reading) Transition {
	switch {
	case !prev.IsActive && next.IsActive:
		return TransitionSpeechStart
	case prev.IsActive && !next.IsActive:
		return TransitionSpeechEnd
	default:
		return TransitionNone
	}
}

type State int

const (
	StateInactive State = iota
	StateListening
	StateSpeechDetected
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateSpeechDetected:
		return "speech_detected"
	default:
		return "inactive"
	}
}

// Source is a live audio stream the detector can observe without owning.
type Source interface {
	EncodingInfo() audio.EncodingInfo
	Tap(func([]byte)) (untap func())
}

type Detector struct {
	cfg       Config
	onReading func(Reading)

	mu       sync.Mutex
	source   Source
	encoding audio.EncodingInfo
	untap    func()
	running  bool

	active     bool
	speechRun  time.Duration
	silenceRun time.Duration
	elapsed    time.Duration
}

// New creates a detector that reports every analysed frame to onReading.
func New(cfg Config, onReading func(Reading)) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, voiceerrors.Wrap(err, voiceerrors.KindValidation, "invalid_vad_config", "invalid voice detection settings")
	}
	return &Detector{cfg: cfg, onReading: onReading, encoding: audio.GetDefaultEncodingInfo()}, nil
}

func (d *Detector) Config() Config { return d.cfg }

// Initialize binds the detector to source.
func (d *Detector) Initialize(source Source) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}

	encoding := source.EncodingInfo()
	if _, err := encoding.ToLinear16(nil); err != nil {
		return voiceerrors.Wrap(err, voiceerrors.KindValidation, "unsupported_encoding", "voice detection cannot read this audio")
	}
	d.source = source
	d.encoding = encoding
	return nil
}

// Start begins observing the source. Starting a running detector is a
// no-op.
func (d *Detector) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	if d.source == nil {
		d.mu.Unlock()
		return ErrNotInitialized
	}
	source := d.source
	d.running = true
	d.resetLocked()
	d.mu.Unlock()

	untap := source.Tap(d.handleFrame)

	d.mu.Lock()
	d.untap = untap
	d.mu.Unlock()
	return nil
}

// Stop detaches from the source and forgets any speech in progress. It never
// stops the source itself.
func (d *Detector) Stop() {
	d.mu.Lock()
	untap := d.untap
	d.untap = nil
	d.running = false
	d.resetLocked()
	d.mu.Unlock()

	if untap != nil {
		untap()
	}
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case !d.running:
		return StateInactive
	case d.active:
		return StateSpeechDetected
	default:
		return StateListening
	}
}

func (d *Detector) handleFrame(frame []byte) {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return
	}

	reading := d.Process(frame)
	if d.onReading != nil {
		d.onReading(reading)
	}
}

// Process analyses one frame and advances the speech state. Time is derived
// from the amount of audio seen, not the wall clock.
func (d *Detector) Process(frame []byte) Reading {
	d.mu.Lock()
	defer d.mu.Unlock()

	pcm, err := d.encoding.ToLinear16(frame)
	if err != nil {
		pcm = nil
	}
	samples := audio.Samples(pcm)
	frameDuration := d.encoding.Duration(len(frame))
	d.elapsed += frameDuration

	energy := audio.MeanAbs(samples) * 255
	loud := energy >= d.cfg.EnergyThreshold

	if !d.active {
		if loud {
			d.speechRun += frameDuration
			if d.speechRun >= d.cfg.MinSpeechDuration {
				d.active = true
				d.silenceRun = 0
			}
		} else {
			d.speechRun = 0
		}
	} else {
		if loud {
			d.silenceRun = 0
		} else {
			d.silenceRun += frameDuration
			if d.silenceRun >= d.cfg.SilenceDuration {
				d.active = false
				d.speechRun = 0
			}
		}
	}

	return Reading{
		IsActive:   d.active,
		Energy:     energy,
		Volume:     utils.Clamp01(audio.RMS(samples)),
		Confidence: utils.Clamp01(energy / (2 * d.cfg.EnergyThreshold)),
		At:         d.elapsed,
	}
}

func (d *Detector) resetLocked() {
	d.active = false
	d.speechRun = 0
	d.silenceRun = 0
	d.elapsed = 0
}
