package voice

// Status is the session controller's coarse lifecycle phase.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusLoadingSTT   Status = "loading-stt"
	StatusLoadingTTS   Status = "loading-tts"
	StatusReady        Status = "ready"
	StatusListening    Status = "listening"
	StatusTranscribing Status = "transcribing"
	StatusSpeaking     Status = "speaking"
	StatusError        Status = "error"
)

// State is the single authoritative pipeline record. It is mutated only by
// the Controller; subscribers and HTTP handlers receive value snapshots.
type State struct {
	Status       Status `json:"status"`
	Listening    bool   `json:"is_listening"`
	Speaking     bool   `json:"is_speaking"`
	Transcribing bool   `json:"is_transcribing"`
	STTLoaded    bool   `json:"stt_loaded"`
	TTSLoaded    bool   `json:"tts_loaded"`
	LoadProgress int    `json:"load_progress"`
	Err          string `json:"error,omitempty"`
	Transcript   string `json:"current_transcript"`
}

// Config holds the mutable session playback preference. It is owned by the
// Controller; GetConfig returns a copy so callers cannot desynchronize it.
type Config struct {
	Voice  Profile `json:"voice"`
	Speed  float64 `json:"speed"`  // 0.5 .. 2.0
	Volume float64 `json:"volume"` // 0 .. 1
}

func (c Config) clamped() Config {
	if c.Speed < 0.5 {
		c.Speed = 0.5
	} else if c.Speed > 2.0 {
		c.Speed = 2.0
	}
	if c.Volume < 0 {
		c.Volume = 0
	} else if c.Volume > 1 {
		c.Volume = 1
	}
	return c
}
