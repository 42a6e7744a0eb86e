package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/voiceerrors"
)

func TestPermissionDenialBlocksStart(t *testing.T) {
	device := &fakeDevice{probeErr: ErrPermissionDenied}
	pipeline := NewPipeline(device)

	granted, err := pipeline.RequestPermission(context.Background())
	if granted {
		t.Fatal("expected permission to be denied")
	}
	if !voiceerrors.IsKind(err, voiceerrors.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}

	err = pipeline.Start(context.Background())
	if !voiceerrors.IsKind(err, voiceerrors.KindPermission) {
		t.Fatalf("expected permission error from start, got %v", err)
	}
	if pipeline.State() != StateIdle {
		t.Fatalf("expected idle, got %v", pipeline.State())
	}
	if device.openCount() != 0 {
		t.Fatalf("expected device to stay closed, got %d opens", device.openCount())
	}
}

func TestUnsupportedEnvironmentIsValidationError(t *testing.T) {
	pipeline := NewPipeline(&fakeDevice{probeErr: ErrUnsupported})

	_, err := pipeline.RequestPermission(context.Background())
	if !voiceerrors.IsKind(err, voiceerrors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPermissionIsCached(t *testing.T) {
	device := &fakeDevice{}
	pipeline := NewPipeline(device)

	for i := 0; i < 3; i++ {
		if granted, err := pipeline.RequestPermission(context.Background()); !granted || err != nil {
			t.Fatalf("expected permission granted, got %v %v", granted, err)
		}
	}
	if device.probes != 1 {
		t.Fatalf("expected a single probe, got %d", device.probes)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	device := &fakeDevice{}
	pipeline := NewPipeline(device)

	for i := 0; i < 2; i++ {
		if err := pipeline.Start(context.Background()); err != nil {
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	if pipeline.State() != StateRecording {
		t.Fatalf("expected recording, got %v", pipeline.State())
	}
	if device.openCount() != 1 {
		t.Fatalf("expected device to be opened once, got %d", device.openCount())
	}
}

func TestStopReturnsCapturedAudioAndReleasesDevice(t *testing.T) {
	device := &fakeDevice{}
	pipeline := NewPipeline(device)

	if err := pipeline.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	device.emit(make([]byte, 1600))
	device.emit(make([]byte, 1600))

	rec, err := pipeline.Stop(context.Background())
	if err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if rec == nil || len(rec.Data) != 3200 {
		t.Fatalf("expected 3200 bytes of audio, got %+v", rec)
	}
	if rec.Duration != 100*time.Millisecond {
		t.Fatalf("expected 100ms recording, got %v", rec.Duration)
	}
	if device.isOpen() {
		t.Fatal("expected device to be released after stop")
	}
	if pipeline.State() != StateIdle {
		t.Fatalf("expected idle, got %v", pipeline.State())
	}

	wav, err := rec.WAV()
	if err != nil || !audio.IsWAV(wav) {
		t.Fatalf("expected wav payload, got err %v", err)
	}
}

func TestStopWithoutAudioReturnsNil(t *testing.T) {
	pipeline := NewPipeline(&fakeDevice{})

	if err := pipeline.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	rec, err := pipeline.Stop(context.Background())
	if err != nil || rec != nil {
		t.Fatalf("expected no recording, got %+v %v", rec, err)
	}
}

func TestMonitorSharesDeviceWithRecording(t *testing.T) {
	device := &fakeDevice{}
	pipeline := NewPipeline(device)

	if err := pipeline.Monitor(context.Background()); err != nil {
		t.Fatalf("unexpected monitor error: %v", err)
	}
	if err := pipeline.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if _, err := pipeline.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if !device.isOpen() {
		t.Fatal("expected monitor to keep the device open")
	}
	if err := pipeline.Unmonitor(); err != nil {
		t.Fatalf("unexpected unmonitor error: %v", err)
	}
	if device.isOpen() {
		t.Fatal("expected device to be released after the last holder left")
	}
	if device.openCount() != 1 {
		t.Fatalf("expected a single acquisition, got %d", device.openCount())
	}
}

func TestTapSeesFramesWithoutRecording(t *testing.T) {
	device := &fakeDevice{}
	pipeline := NewPipeline(device)

	var mu sync.Mutex
	var seen int
	untap := pipeline.Tap(func(frame []byte) {
		mu.Lock()
		seen += len(frame)
		mu.Unlock()
	})

	if err := pipeline.Monitor(context.Background()); err != nil {
		t.Fatalf("unexpected monitor error: %v", err)
	}
	device.emit(make([]byte, 320))
	untap()
	device.emit(make([]byte, 320))

	mu.Lock()
	defer mu.Unlock()
	if seen != 320 {
		t.Fatalf("expected tap to see 320 bytes, got %d", seen)
	}
}

func TestChunksAreDeliveredEveryHundredMilliseconds(t *testing.T) {
	device := &fakeDevice{}
	var chunks []Chunk
	pipeline := NewPipeline(device, WithChunkHandler(func(chunk Chunk) {
		chunks = append(chunks, chunk)
	}))

	if err := pipeline.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	device.emit(make([]byte, 5000))
	if _, err := pipeline.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0].Data) != 3200 || chunks[0].Offset != 0 {
		t.Fatalf("unexpected first chunk: %d bytes at %v", len(chunks[0].Data), chunks[0].Offset)
	}
	if len(chunks[1].Data) != 1800 || chunks[1].Offset != 100*time.Millisecond {
		t.Fatalf("unexpected tail chunk: %d bytes at %v", len(chunks[1].Data), chunks[1].Offset)
	}
}

func TestMaxUtteranceCapsRecording(t *testing.T) {
	device := &fakeDevice{}
	limited := make(chan struct{}, 1)
	pipeline := NewPipeline(device,
		WithMaxUtterance(100*time.Millisecond),
		WithLimitHandler(func() { limited <- struct{}{} }))

	if err := pipeline.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	device.emit(make([]byte, 3000))
	device.emit(make([]byte, 3000))

	select {
	case <-limited:
	case <-time.After(time.Second):
		t.Fatal("expected limit handler to be called")
	}

	rec, err := pipeline.Stop(context.Background())
	if err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if len(rec.Data) != 3200 {
		t.Fatalf("expected recording capped at 3200 bytes, got %d", len(rec.Data))
	}
}

func TestStartDuringReleaseFailsFast(t *testing.T) {
	device := &fakeDevice{closeGate: make(chan struct{})}
	pipeline := NewPipeline(device)

	if err := pipeline.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		pipeline.Stop(context.Background())
	}()
	waitForCondition(t, time.Second, "device close to begin", device.closing)

	err := pipeline.Start(context.Background())
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}

	close(device.closeGate)
	<-stopped

	if err := pipeline.Start(context.Background()); err != nil {
		t.Fatalf("expected start after release to succeed, got %v", err)
	}
}

func TestDestroyReleasesDevice(t *testing.T) {
	device := &fakeDevice{}
	pipeline := NewPipeline(device)

	if err := pipeline.Monitor(context.Background()); err != nil {
		t.Fatalf("unexpected monitor error: %v", err)
	}
	if err := pipeline.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := pipeline.Destroy(); err != nil {
		t.Fatalf("unexpected destroy error: %v", err)
	}
	if device.isOpen() {
		t.Fatal("expected device to be released")
	}
	if err := pipeline.Start(context.Background()); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
}

type fakeDevice struct {
	probeErr  error
	closeGate chan struct{}

	mu      sync.Mutex
	probes  int
	opens   int
	open    bool
	inClose bool
	onFrame func([]byte)
}

func (d *fakeDevice) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (d *fakeDevice) Probe(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probes++
	return d.probeErr
}

func (d *fakeDevice) Open(onFrame func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return ErrDeviceBusy
	}
	d.opens++
	d.open = true
	d.onFrame = onFrame
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.inClose = true
	gate := d.closeGate
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.inClose = false
	d.open = false
	d.onFrame = nil
	return nil
}

func (d *fakeDevice) emit(frame []byte) {
	d.mu.Lock()
	onFrame := d.onFrame
	d.mu.Unlock()
	if onFrame != nil {
		onFrame(frame)
	}
}

func (d *fakeDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *fakeDevice) isOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *fakeDevice) closing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inClose
}

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}
