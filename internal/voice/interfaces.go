package voice

import (
	"context"
	"time"
)

// CaptureParams describes how the microphone should be opened.
type CaptureParams struct {
	SampleRate    int           // preferred rate; devices may substitute their own
	Channels      int           // 1 = mono
	ChunkPeriod   time.Duration // push-callback cadence, ~100ms
	EchoCancel    bool
	NoiseSuppress bool
}

// DefaultCaptureParams returns the capture configuration the recognizer
// prefers: mono 16 kHz with platform echo cancellation and noise
// suppression where available.
func DefaultCaptureParams() CaptureParams {
	return CaptureParams{
		SampleRate:    16000,
		Channels:      1,
		ChunkPeriod:   100 * time.Millisecond,
		EchoCancel:    true,
		NoiseSuppress: true,
	}
}

// CaptureDevice acquires an exclusive microphone stream. Chunks of raw
// PCM16LE audio are pushed to onChunk until the stream is released. A second
// acquisition while one stream is open must fail with a device-busy error.
type CaptureDevice interface {
	Acquire(ctx context.Context, params CaptureParams, onChunk func(chunk []byte)) (DeviceStream, error)
}

// DeviceStream is one open microphone stream.
type DeviceStream interface {
	// SampleRate reports the rate the device actually opened at.
	SampleRate() int
	// Release stops the underlying tracks. Safe to call more than once and
	// after a partially failed acquisition.
	Release()
}

// Recognizer is the lazily loaded speech-to-text engine.
type Recognizer interface {
	// Load downloads/instantiates the model once, reporting progress in
	// [0,100]. Repeated calls after success return immediately.
	Load(ctx context.Context, onProgress func(pct int)) error
	Loaded() bool
	// Transcribe runs inference over one full utterance of mono 16 kHz
	// samples. Empty text is a valid result, not an error.
	Transcribe(ctx context.Context, samples []float32) (string, error)
	Close() error
}

// Asset is one synthesized utterance ready for playback.
type Asset struct {
	Audio   []byte
	Format  string // "wav", "mp3" or "ogg"
	Text    string
	Profile Profile
}

// Synthesizer is the text-to-speech engine.
type Synthesizer interface {
	// Warmup resolves the profile's voice model resources and performs a
	// throwaway synthesis to absorb first-call latency. A failed throwaway
	// call is non-fatal; only missing model resources are.
	Warmup(ctx context.Context, profile Profile) error
	Synthesize(ctx context.Context, text string, profile Profile) (Asset, error)
}

// Player starts playback of a synthesized asset. done is invoked exactly
// once with nil on natural completion or an error on playback failure;
// cancelling the returned handle suppresses it.
type Player interface {
	Play(asset Asset, speed, volume float64, done func(error)) (Playback, error)
}

// Playback is an in-flight play call.
type Playback interface {
	Cancel()
}
