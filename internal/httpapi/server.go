package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ErDashrath/EchoLearn-sub001/internal/config"
	"github.com/ErDashrath/EchoLearn-sub001/internal/observability"
	"github.com/ErDashrath/EchoLearn-sub001/internal/voice"
)

// Controller is the narrow slice of the session controller the HTTP surface
// drives.
type Controller interface {
	Initialize(ctx context.Context) bool
	StartListening(ctx context.Context) bool
	StopListening(ctx context.Context) (string, error)
	Speak(ctx context.Context, opts voice.SpeakOptions) error
	StopSpeaking()
	Reset()
	Snapshot() voice.State
	Subscribe(fn func(voice.State)) func()
	GetConfig() voice.Config
	SetConfig(cfg voice.Config)
	FrequencyData() []byte
	WaveformData() []byte
}

type Server struct {
	cfg      config.Config
	ctrl     Controller
	synth    voice.Synthesizer
	metrics  *observability.Metrics
	stages   *observability.StageWindow
	upgrader websocket.Upgrader
}

func New(cfg config.Config, ctrl Controller, synth voice.Synthesizer, metrics *observability.Metrics, stages *observability.StageWindow) *Server {
	return &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		synth:   synth,
		metrics: metrics,
		stages:  stages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the mic session unless
				// explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/voice/state", s.handleState)
	r.Get("/v1/voice/state/ws", s.handleStateWS)
	r.Post("/v1/voice/initialize", s.handleInitialize)
	r.Post("/v1/voice/listen/start", s.handleStartListening)
	r.Post("/v1/voice/listen/stop", s.handleStopListening)
	r.Post("/v1/voice/speak", s.handleSpeak)
	r.Post("/v1/voice/stop", s.handleStopSpeaking)
	r.Post("/v1/voice/reset", s.handleReset)
	r.Get("/v1/voice/config", s.handleGetConfig)
	r.Put("/v1/voice/config", s.handlePutConfig)
	r.Get("/v1/voice/voices", s.handleListVoices)
	r.Get("/v1/voice/viz", s.handleViz)
	r.Post("/v1/voice/tts/preview", s.handlePreviewTTS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := s.ctrl.Snapshot()
	status := http.StatusOK
	if !state.STTLoaded || !state.TTSLoaded {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{
		"status":     string(state.Status),
		"stt_loaded": state.STTLoaded,
		"tts_loaded": state.TTSLoaded,
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	ok := s.ctrl.Initialize(r.Context())
	state := s.ctrl.Snapshot()
	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, map[string]any{"ok": ok, "state": state})
}

func (s *Server) handleStartListening(w http.ResponseWriter, r *http.Request) {
	ok := s.ctrl.StartListening(r.Context())
	state := s.ctrl.Snapshot()
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	respondJSON(w, status, map[string]any{"ok": ok, "state": state})
}

func (s *Server) handleStopListening(w http.ResponseWriter, r *http.Request) {
	text, err := s.ctrl.StopListening(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "transcription_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"transcript": text, "state": s.ctrl.Snapshot()})
}

type speakRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "skipped": true})
		return
	}
	// Speak returns once playback has started; completion is pushed over
	// the state websocket.
	if err := s.ctrl.Speak(r.Context(), voice.SpeakOptions{Text: req.Text}); err != nil {
		if errors.Is(err, voice.ErrCancelled) {
			respondJSON(w, http.StatusOK, map[string]any{"ok": false, "cancelled": true})
			return
		}
		respondError(w, http.StatusBadGateway, "speak_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "state": s.ctrl.Snapshot()})
}

func (s *Server) handleStopSpeaking(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.StopSpeaking()
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "state": s.ctrl.Snapshot()})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Reset()
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "state": s.ctrl.Snapshot()})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.GetConfig())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg voice.Config
	if err := decodeJSON(r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.ctrl.SetConfig(cfg)
	respondJSON(w, http.StatusOK, s.ctrl.GetConfig())
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"voices": voice.Voices()})
}

func (s *Server) handleViz(w http.ResponseWriter, _ *http.Request) {
	freq := s.ctrl.FrequencyData()
	wave := s.ctrl.WaveformData()
	if freq == nil && wave == nil {
		respondJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"active":           true,
		"frequency_base64": base64.StdEncoding.EncodeToString(freq),
		"waveform_base64":  base64.StdEncoding.EncodeToString(wave),
	})
}

type previewRequest struct {
	VoiceID string `json:"voice_id"`
	Text    string `json:"text"`
}

func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	if s.synth == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "synthesizer not configured")
		return
	}
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		req.Text = "Hello, this is how I sound."
	}
	profile, ok := voice.ProfileByID(req.VoiceID)
	if !ok {
		profile = voice.DefaultProfile()
	}

	asset, err := s.synth.Synthesize(r.Context(), req.Text, profile)
	if err != nil {
		respondError(w, http.StatusBadGateway, "synthesis_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(asset.Format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(asset.Audio)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.stages == nil {
		respondJSON(w, http.StatusOK, observability.StageSnapshot{GeneratedAt: time.Now().UTC()})
		return
	}
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func contentTypeFor(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	default:
		return "audio/wav"
	}
}
