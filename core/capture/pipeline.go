// Package capture owns the microphone for a kiosk session.
//
// The device is reference counted between two holders: the monitor, which
// keeps frames flowing to analysis taps such as voice activity detection,
// and the recording. The device is opened when the first holder arrives and
// released when the last one leaves. While it is being opened or released
// every other acquisition fails fast with [ErrDeviceBusy].
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultChunkDuration = 100 * time.Millisecond
	DefaultMaxUtterance  = 30 * time.Second
)

type RecordingState int

const (
	StateIdle RecordingState = iota
	StateRecording
)

func (s RecordingState) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

type holder int

const (
	holderMonitor holder = iota
	holderRecording
)

type permission int

const (
	permissionUnknown permission = iota
	permissionGranted
	permissionDenied
)

type Pipeline struct {
	device        Device
	encoding      audio.EncodingInfo
	chunkDuration time.Duration
	maxUtterance  time.Duration
	onChunk       func(Chunk)
	onLimit       func()

	mu         sync.Mutex
	permission permission
	permErr    error
	holders    map[holder]bool
	open       bool
	transition bool
	destroyed  bool

	recording    bool
	limitReached bool
	buffer       []byte
	pending      []byte
	chunkOffset  time.Duration

	taps    map[int]func([]byte)
	nextTap int
}

type Option func(*Pipeline)

// WithChunkHandler receives the recording in chunks while it is in progress.
func WithChunkHandler(handler func(Chunk)) Option {
	return func(p *Pipeline) {
		p.onChunk = handler
	}
}

func WithChunkDuration(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.chunkDuration = d
		}
	}
}

// WithMaxUtterance caps the length of a recording. Audio past the cap is
// dropped and the limit handler is called once.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.maxUtterance = d
		}
	}
}

func WithLimitHandler(handler func()) Option {
	return func(p *Pipeline) {
		p.onLimit = handler
	}
}

func NewPipeline(device Device, opts ...Option) *Pipeline {
	p := &Pipeline{
		device:        device,
		encoding:      device.EncodingInfo(),
		chunkDuration: DefaultChunkDuration,
		maxUtterance:  DefaultMaxUtterance,
		holders:       map[holder]bool{},
		taps:          map[int]func([]byte){},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) EncodingInfo() audio.EncodingInfo { return p.encoding }

func (p *Pipeline) State() RecordingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recording {
		return StateRecording
	}
	return StateIdle
}

// DeviceOpen reports whether the microphone is currently held.
func (p *Pipeline) DeviceOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// RequestPermission probes the device once and caches the outcome. A denial
// is reported as a permission error, an environment without capture support
// as a validation error. Other probe failures are not cached.
func (p *Pipeline) RequestPermission(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.permission != permissionUnknown {
		granted, err := p.permission == permissionGranted, p.permErr
		p.mu.Unlock()
		return granted, err
	}
	p.mu.Unlock()

	probeErr := p.device.Probe(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case probeErr == nil:
		p.permission, p.permErr = permissionGranted, nil
	case errors.Is(probeErr, ErrPermissionDenied):
		p.permission = permissionDenied
		p.permErr = voiceerrors.Wrap(probeErr, voiceerrors.KindPermission, "permission_denied",
			"microphone access was denied, allow it in the system settings")
	case errors.Is(probeErr, ErrUnsupported):
		p.permission = permissionDenied
		p.permErr = voiceerrors.Wrap(probeErr, voiceerrors.KindValidation, "unsupported",
			"this environment cannot capture audio")
	default:
		return false, voiceerrors.Wrap(probeErr, voiceerrors.KindAudio, "probe_failed",
			"could not access the microphone")
	}
	return p.permission == permissionGranted, p.permErr
}

func (p *Pipeline) ensurePermission(ctx context.Context) error {
	granted, err := p.RequestPermission(ctx)
	if err != nil {
		return err
	}
	if !granted {
		return voiceerrors.New(voiceerrors.KindPermission, "permission_denied", "microphone access was denied")
	}
	return nil
}

// Start begins a recording. Starting while already recording succeeds
// without touching the device.
func (p *Pipeline) Start(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "start capture")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to start capture")
		}
	}()

	if p.State() == StateRecording {
		return nil
	}
	if err := p.ensurePermission(ctx); err != nil {
		return err
	}
	if err := p.acquire(holderRecording); err != nil {
		return err
	}

	p.mu.Lock()
	p.recording = true
	p.limitReached = false
	p.buffer = p.buffer[:0]
	p.pending = p.pending[:0]
	p.chunkOffset = 0
	p.mu.Unlock()

	logger.Debug("capture started")
	return nil
}

// Stop ends the recording and releases its hold on the device. It returns
// nil when nothing was captured.
func (p *Pipeline) Stop(ctx context.Context) (rec *Recording, err error) {
	_, span := tracer.Start(ctx, "stop capture")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to stop capture")
		}
	}()

	p.mu.Lock()
	if !p.recording {
		p.mu.Unlock()
		return nil, nil
	}
	p.recording = false
	data := append([]byte(nil), p.buffer...)
	tail := p.flushLocked()
	p.mu.Unlock()

	if tail != nil {
		p.deliverChunk(*tail)
	}

	if err := p.release(holderRecording); err != nil {
		return nil, err
	}

	logger.Debug("capture stopped", "bytes", len(data))
	if len(data) == 0 {
		return nil, nil
	}
	return &Recording{Data: data, Encoding: p.encoding, Duration: p.encoding.Duration(len(data))}, nil
}

// Monitor keeps the device open for analysis taps without recording.
func (p *Pipeline) Monitor(ctx context.Context) error {
	if err := p.ensurePermission(ctx); err != nil {
		return err
	}
	return p.acquire(holderMonitor)
}

func (p *Pipeline) Unmonitor() error {
	return p.release(holderMonitor)
}

// Tap registers a read-only observer of every device frame, recording or
// not. The returned function removes it.
func (p *Pipeline) Tap(observer func([]byte)) (untap func()) {
	p.mu.Lock()
	id := p.nextTap
	p.nextTap++
	p.taps[id] = observer
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.taps, id)
			p.mu.Unlock()
		})
	}
}

// Destroy stops any recording and releases the device. The pipeline cannot
// be used afterwards.
func (p *Pipeline) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.recording = false
	p.buffer = nil
	p.pending = nil
	p.taps = map[int]func([]byte){}
	p.holders = map[holder]bool{}
	wasOpen := p.open
	p.open = false
	p.destroyed = true
	p.mu.Unlock()

	if wasOpen {
		if err := p.device.Close(); err != nil {
			return voiceerrors.Wrap(err, voiceerrors.KindAudio, "release_failed", "could not release the microphone")
		}
	}
	return nil
}

func (p *Pipeline) acquire(h holder) error {
	p.mu.Lock()
	switch {
	case p.destroyed:
		p.mu.Unlock()
		return ErrDestroyed
	case p.holders[h]:
		p.mu.Unlock()
		return nil
	case p.transition:
		p.mu.Unlock()
		return voiceerrors.Wrap(ErrDeviceBusy, voiceerrors.KindAudio, "device_busy", "the microphone is busy")
	case p.open:
		p.holders[h] = true
		p.mu.Unlock()
		return nil
	}
	p.transition = true
	p.mu.Unlock()

	err := p.device.Open(p.onFrame)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.transition = false
	if err != nil {
		return voiceerrors.Wrap(fmt.Errorf("open capture device: %w", err),
			voiceerrors.KindAudio, "acquire_failed", "could not open the microphone")
	}
	if p.destroyed {
		go p.device.Close()
		return ErrDestroyed
	}
	p.open = true
	p.holders[h] = true
	return nil
}

func (p *Pipeline) release(h holder) error {
	p.mu.Lock()
	if !p.holders[h] {
		p.mu.Unlock()
		return nil
	}
	delete(p.holders, h)
	if len(p.holders) > 0 || !p.open {
		p.mu.Unlock()
		return nil
	}
	p.transition = true
	p.mu.Unlock()

	err := p.device.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.transition = false
	p.open = false
	if err != nil {
		return voiceerrors.Wrap(fmt.Errorf("close capture device: %w", err),
			voiceerrors.KindAudio, "release_failed", "could not release the microphone")
	}
	return nil
}

func (p *Pipeline) onFrame(frame []byte) {
	if len(frame) == 0 {
		return
	}
	data := append([]byte(nil), frame...)

	p.mu.Lock()
	taps := make([]func([]byte), 0, len(p.taps))
	for _, tap := range p.taps {
		taps = append(taps, tap)
	}
	chunks, limitHit := p.recordLocked(data)
	p.mu.Unlock()

	for _, tap := range taps {
		tap(data)
	}
	for _, chunk := range chunks {
		p.deliverChunk(chunk)
	}
	if limitHit {
		logger.Info("capture reached the utterance limit", "limit", p.maxUtterance)
		if p.onLimit != nil {
			go p.onLimit()
		}
	}
}

func (p *Pipeline) recordLocked(data []byte) (chunks []Chunk, limitHit bool) {
	if !p.recording || p.limitReached {
		return nil, false
	}

	if maxBytes := p.encoding.Bytes(p.maxUtterance); len(p.buffer)+len(data) >= maxBytes {
		data = data[:maxBytes-len(p.buffer)]
		p.limitReached = true
		limitHit = true
	}
	p.buffer = append(p.buffer, data...)

	if p.onChunk == nil {
		return nil, limitHit
	}
	p.pending = append(p.pending, data...)
	chunkSize := p.encoding.Bytes(p.chunkDuration)
	for chunkSize > 0 && len(p.pending) >= chunkSize {
		chunks = append(chunks, p.chunkLocked(p.pending[:chunkSize]))
		p.pending = p.pending[chunkSize:]
	}
	return chunks, limitHit
}

func (p *Pipeline) chunkLocked(data []byte) Chunk {
	chunk := Chunk{
		Data:     append([]byte(nil), data...),
		Offset:   p.chunkOffset,
		Duration: p.encoding.Duration(len(data)),
	}
	p.chunkOffset += chunk.Duration
	return chunk
}

func (p *Pipeline) flushLocked() *Chunk {
	if p.onChunk == nil || len(p.pending) == 0 {
		return nil
	}
	chunk := p.chunkLocked(p.pending)
	p.pending = p.pending[:0]
	return &chunk
}

func (p *Pipeline) deliverChunk(chunk Chunk) {
	if p.onChunk != nil {
		p.onChunk(chunk)
	}
}
