package voice

import (
	"errors"
	"fmt"
)

// ErrCancelled reports that a speak call was superseded or stopped before
// its audio finished. Callbacks receiving it must not treat the utterance
// as delivered.
var ErrCancelled = errors.New("speech cancelled")

// ErrDisposed reports that the controller has been disposed; public methods
// no-op after that.
var ErrDisposed = errors.New("voice session disposed")

// ModelLoadError: an engine failed to initialize. Fatal to that engine's
// operations until the controller is re-initialized.
type ModelLoadError struct {
	Engine string // "stt" or "tts"
	Err    error
}

func (e *ModelLoadError) Error() string { return fmt.Sprintf("%s model load: %v", e.Engine, e.Err) }
func (e *ModelLoadError) Unwrap() error { return e.Err }

// DeviceAccessError: microphone permission denied or device unavailable.
// Fatal to the startListening call, non-fatal to the session.
type DeviceAccessError struct {
	Err error
}

func (e *DeviceAccessError) Error() string { return fmt.Sprintf("audio device access: %v", e.Err) }
func (e *DeviceAccessError) Unwrap() error { return e.Err }

// TranscriptionError: decode or inference failed for one captured
// utterance. Recoverable; the utterance resolves to an empty transcript.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string { return fmt.Sprintf("transcription: %v", e.Err) }
func (e *TranscriptionError) Unwrap() error { return e.Err }

// SynthesisError: the TTS engine failed to produce an asset. Recoverable.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("synthesis: %v", e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }

// PlaybackError: a synthesized asset could not be played. Recoverable.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string { return fmt.Sprintf("playback: %v", e.Err) }
func (e *PlaybackError) Unwrap() error { return e.Err }
