package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice pipeline service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// AudioDriver selects the capture/engine wiring: "auto", "native" or
	// "mock". Auto behaves like native and falls back to mock when the
	// whisper model path is unset.
	AudioDriver string

	CaptureSampleRate  int
	CaptureChunkPeriod time.Duration
	MinUtteranceBytes  int

	WhisperModelPath    string
	WhisperModelBaseURL string
	WhisperLanguage     string
	WhisperThreads      int
	WhisperBeamSize     int

	TTSBaseURL      string
	TTSModelBaseURL string
	TTSTimeout      time.Duration

	DefaultVoiceID string
	DefaultSpeed   float64
	DefaultVolume  float64
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "echolearn"),
		ShutdownTimeout:  15 * time.Second,
		AllowAnyOrigin:   false,

		AudioDriver:        strings.ToLower(envOrDefault("AUDIO_DRIVER", "auto")),
		CaptureSampleRate:  16000,
		CaptureChunkPeriod: 100 * time.Millisecond,
		// ~250ms of mono PCM16 at 16kHz; shorter captures skip inference.
		MinUtteranceBytes: 8000,

		WhisperModelPath:    stringsTrimSpace("WHISPER_MODEL_PATH"),
		WhisperModelBaseURL: envOrDefault("WHISPER_MODEL_BASE_URL", "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"),
		WhisperLanguage:     envOrDefault("WHISPER_LANGUAGE", "en"),
		WhisperThreads:      0,
		WhisperBeamSize:     1,

		TTSBaseURL:      envOrDefault("TTS_BASE_URL", "http://127.0.0.1:5000"),
		TTSModelBaseURL: stringsTrimSpace("TTS_MODEL_BASE_URL"),
		TTSTimeout:      30 * time.Second,

		DefaultVoiceID: envOrDefault("DEFAULT_VOICE_ID", ""),
		DefaultSpeed:   1.0,
		DefaultVolume:  1.0,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureSampleRate, err = intFromEnv("CAPTURE_SAMPLE_RATE", cfg.CaptureSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureChunkPeriod, err = durationFromEnv("CAPTURE_CHUNK_PERIOD", cfg.CaptureChunkPeriod)
	if err != nil {
		return Config{}, err
	}
	cfg.MinUtteranceBytes, err = intFromEnv("MIN_UTTERANCE_BYTES", cfg.MinUtteranceBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.WhisperThreads, err = intFromEnv("WHISPER_THREADS", cfg.WhisperThreads)
	if err != nil {
		return Config{}, err
	}
	cfg.WhisperBeamSize, err = intFromEnv("WHISPER_BEAM_SIZE", cfg.WhisperBeamSize)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSTimeout, err = durationFromEnv("TTS_TIMEOUT", cfg.TTSTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultSpeed, err = floatFromEnv("DEFAULT_SPEED", cfg.DefaultSpeed)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultVolume, err = floatFromEnv("DEFAULT_VOLUME", cfg.DefaultVolume)
	if err != nil {
		return Config{}, err
	}

	switch cfg.AudioDriver {
	case "auto", "native", "mock":
	default:
		return Config{}, fmt.Errorf("AUDIO_DRIVER must be auto, native or mock")
	}
	if cfg.CaptureSampleRate <= 0 {
		return Config{}, fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive")
	}
	if cfg.CaptureChunkPeriod < 10*time.Millisecond {
		return Config{}, fmt.Errorf("CAPTURE_CHUNK_PERIOD must be at least 10ms")
	}
	if cfg.MinUtteranceBytes < 0 {
		return Config{}, fmt.Errorf("MIN_UTTERANCE_BYTES must be >= 0")
	}
	if cfg.WhisperThreads < 0 {
		return Config{}, fmt.Errorf("WHISPER_THREADS must be >= 0")
	}
	if cfg.WhisperBeamSize <= 0 {
		return Config{}, fmt.Errorf("WHISPER_BEAM_SIZE must be positive")
	}
	if cfg.DefaultSpeed < 0.5 || cfg.DefaultSpeed > 2.0 {
		return Config{}, fmt.Errorf("DEFAULT_SPEED must be within [0.5, 2.0]")
	}
	if cfg.DefaultVolume < 0 || cfg.DefaultVolume > 1 {
		return Config{}, fmt.Errorf("DEFAULT_VOLUME must be within [0, 1]")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
