package voice

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/ErDashrath/EchoLearn-sub001/internal/audio"
)

// The mock engines back the "mock" audio driver: a full pipeline with no
// microphone, no model files and no sound card, so the HTTP surface can be
// exercised on machines without audio hardware.

// MockDevice fabricates capture audio: a low sine tone pushed at the
// requested chunk cadence. Acquisition is exclusive like the real device.
type MockDevice struct {
	mu   sync.Mutex
	open bool
}

func NewMockDevice() *MockDevice { return &MockDevice{} }

func (d *MockDevice) Acquire(ctx context.Context, params CaptureParams, onChunk func([]byte)) (DeviceStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, errors.New("device busy: capture already open")
	}
	rate := params.SampleRate
	if rate <= 0 {
		rate = audio.CanonicalRate
	}
	period := params.ChunkPeriod
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	d.open = true

	s := &mockStream{device: d, rate: rate, stop: make(chan struct{})}
	go s.run(period, onChunk)
	return s, nil
}

type mockStream struct {
	device *MockDevice
	rate   int
	stop   chan struct{}
	once   sync.Once
}

func (s *mockStream) SampleRate() int { return s.rate }

func (s *mockStream) Release() {
	s.once.Do(func() {
		close(s.stop)
		s.device.mu.Lock()
		s.device.open = false
		s.device.mu.Unlock()
	})
}

func (s *mockStream) run(period time.Duration, onChunk func([]byte)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	samplesPerChunk := int(float64(s.rate) * period.Seconds())
	phase := 0.0
	step := 2 * math.Pi * 220 / float64(s.rate)
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			chunk := make([]float32, samplesPerChunk)
			for i := range chunk {
				chunk[i] = float32(0.2 * math.Sin(phase))
				phase += step
			}
			onChunk(audio.Float32ToPCM16LE(chunk))
		}
	}
}

// MockRecognizer loads instantly and returns a canned transcript.
type MockRecognizer struct {
	mu     sync.Mutex
	loaded bool
}

func NewMockRecognizer() *MockRecognizer { return &MockRecognizer{} }

func (r *MockRecognizer) Load(ctx context.Context, onProgress func(int)) error {
	if onProgress != nil {
		onProgress(100)
	}
	r.mu.Lock()
	r.loaded = true
	r.mu.Unlock()
	return nil
}

func (r *MockRecognizer) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

func (r *MockRecognizer) Transcribe(ctx context.Context, samples []float32) (string, error) {
	r.mu.Lock()
	loaded := r.loaded
	r.mu.Unlock()
	if !loaded {
		return "", errors.New("recognizer not loaded")
	}
	if len(samples) == 0 {
		return "", nil
	}
	return "mock transcript", nil
}

func (r *MockRecognizer) Close() error {
	r.mu.Lock()
	r.loaded = false
	r.mu.Unlock()
	return nil
}

// MockSynthesizer emits a short silent WAV for any text.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (s *MockSynthesizer) Warmup(ctx context.Context, profile Profile) error { return nil }

func (s *MockSynthesizer) Synthesize(ctx context.Context, text string, profile Profile) (Asset, error) {
	blob, err := audio.EncodeWAV(make([]float32, audio.CanonicalRate/4), audio.CanonicalRate)
	if err != nil {
		return Asset{}, err
	}
	return Asset{Audio: blob, Format: "wav", Text: text, Profile: profile}, nil
}

// MockPlayer pretends to play the asset: it sleeps roughly the asset's
// duration divided by speed, then reports completion. Cancel suppresses the
// callback.
type MockPlayer struct{}

func NewMockPlayer() *MockPlayer { return &MockPlayer{} }

func (p *MockPlayer) Play(asset Asset, speed, volume float64, done func(error)) (Playback, error) {
	if speed <= 0 {
		speed = 1
	}
	d := time.Duration(float64(mockAssetDuration(asset)) / speed)
	h := &mockPlayback{cancel: make(chan struct{})}
	go func() {
		select {
		case <-time.After(d):
			if done != nil {
				done(nil)
			}
		case <-h.cancel:
		}
	}()
	return h, nil
}

type mockPlayback struct {
	cancel chan struct{}
	once   sync.Once
}

func (h *mockPlayback) Cancel() {
	h.once.Do(func() { close(h.cancel) })
}

// mockAssetDuration guesses a playable duration from the payload size,
// assuming mono PCM16 at the canonical rate. Good enough for the mock path.
func mockAssetDuration(asset Asset) time.Duration {
	bytesPerSecond := audio.CanonicalRate * 2
	if bytesPerSecond <= 0 || len(asset.Audio) == 0 {
		return 100 * time.Millisecond
	}
	ms := len(asset.Audio) * 1000 / bytesPerSecond
	if ms < 50 {
		ms = 50
	}
	if ms > 3000 {
		ms = 3000
	}
	return time.Duration(ms) * time.Millisecond
}
