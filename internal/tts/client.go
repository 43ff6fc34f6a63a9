package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ErDashrath/EchoLearn-sub001/internal/voice"
)

const (
	defaultTimeout = 30 * time.Second

	// warmupText is synthesized and discarded once per voice so the first
	// real utterance does not absorb model spin-up latency.
	warmupText = "Hi"

	// maxAssetBytes caps a synthesized payload; anything larger indicates a
	// misbehaving server.
	maxAssetBytes = 32 << 20
)

// Config points the synthesizer at a speech server and the voice model
// repository it serves models from.
type Config struct {
	BaseURL      string // synthesis endpoint root, e.g. http://127.0.0.1:5000
	ModelBaseURL string // voice model repository root for config lookups
	Timeout      time.Duration
}

// voiceConfig is the companion JSON published next to each voice model.
type voiceConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
	NumSpeakers int `json:"num_speakers"`
}

// Client synthesizes speech over HTTP. Voice model configs are fetched once
// per profile and cached; a warm-up utterance is synthesized and discarded
// the first time each voice is used.
type Client struct {
	cfg    Config
	client *http.Client

	mu      sync.Mutex
	configs map[string]voiceConfig // keyed by profile ModelPath
	warmed  map[string]bool
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("tts: base URL required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.ModelBaseURL = strings.TrimRight(cfg.ModelBaseURL, "/")
	if cfg.ModelBaseURL == "" {
		cfg.ModelBaseURL = cfg.BaseURL + "/models"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		configs: make(map[string]voiceConfig),
		warmed:  make(map[string]bool),
	}, nil
}

// Warmup resolves the profile's model config and performs one throwaway
// synthesis. A missing config is fatal; a failed throwaway call is not,
// since the voice may still synthesize fine under real use.
func (c *Client) Warmup(ctx context.Context, profile voice.Profile) error {
	if _, err := c.voiceConfig(ctx, profile); err != nil {
		return err
	}

	c.mu.Lock()
	warmed := c.warmed[profile.ModelPath]
	c.mu.Unlock()
	if warmed {
		return nil
	}

	if _, err := c.Synthesize(ctx, warmupText, profile); err == nil {
		c.mu.Lock()
		c.warmed[profile.ModelPath] = true
		c.mu.Unlock()
	}
	return nil
}

// Synthesize renders text with the profile's voice and returns the encoded
// asset. The response Content-Type decides the container format.
func (c *Client) Synthesize(ctx context.Context, text string, profile voice.Profile) (voice.Asset, error) {
	if strings.TrimSpace(text) == "" {
		return voice.Asset{}, errors.New("tts: empty text")
	}
	if profile.ModelPath == "" {
		return voice.Asset{}, errors.New("tts: profile has no model path")
	}

	payload, err := json.Marshal(map[string]any{
		"text":  text,
		"voice": profile.ModelPath,
	})
	if err != nil {
		return voice.Asset{}, fmt.Errorf("tts: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/tts", bytes.NewReader(payload))
	if err != nil {
		return voice.Asset{}, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Request ids make synthesis calls traceable in the speech server logs.
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return voice.Asset{}, fmt.Errorf("tts: synthesize: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return voice.Asset{}, fmt.Errorf("tts: synthesize: HTTP %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return voice.Asset{}, fmt.Errorf("tts: read audio: %w", err)
	}
	if len(audio) == 0 {
		return voice.Asset{}, errors.New("tts: empty audio payload")
	}
	if len(audio) > maxAssetBytes {
		return voice.Asset{}, errors.New("tts: audio payload too large")
	}

	return voice.Asset{
		Audio:   audio,
		Format:  formatFromContentType(resp.Header.Get("Content-Type")),
		Text:    text,
		Profile: profile,
	}, nil
}

// voiceConfig fetches (once) the JSON config published next to the voice
// model, e.g. <repo>/<model-path>.onnx.json.
func (c *Client) voiceConfig(ctx context.Context, profile voice.Profile) (voiceConfig, error) {
	if profile.ModelPath == "" {
		return voiceConfig{}, errors.New("tts: profile has no model path")
	}
	c.mu.Lock()
	if vc, ok := c.configs[profile.ModelPath]; ok {
		c.mu.Unlock()
		return vc, nil
	}
	c.mu.Unlock()

	url := c.cfg.ModelBaseURL + "/" + profile.ModelPath + ".onnx.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return voiceConfig{}, fmt.Errorf("tts: build config request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return voiceConfig{}, fmt.Errorf("tts: fetch voice config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return voiceConfig{}, fmt.Errorf("tts: fetch voice config: HTTP %d from %s", resp.StatusCode, url)
	}

	var vc voiceConfig
	if err := json.NewDecoder(resp.Body).Decode(&vc); err != nil {
		return voiceConfig{}, fmt.Errorf("tts: parse voice config: %w", err)
	}

	c.mu.Lock()
	c.configs[profile.ModelPath] = vc
	c.mu.Unlock()
	return vc, nil
}

func formatFromContentType(ct string) string {
	ct = strings.ToLower(ct)
	switch {
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "mp3"
	case strings.Contains(ct, "ogg"):
		return "ogg"
	default:
		return "wav"
	}
}
